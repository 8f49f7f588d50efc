package subscription

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/gateway"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/metrics"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/storage"
)

var (
	ErrUnknownPlan     = errors.New("unknown plan")
	ErrPaymentNotFound = errors.New("payment not found")
	ErrPaymentPending  = errors.New("payment not settled yet")
	ErrPaymentFailed   = errors.New("payment failed")
)

// ChannelManager grants and revokes premium channel access
type ChannelManager interface {
	CreateInviteLink(ctx context.Context, userID int64) string
	RemoveMember(ctx context.Context, userID int64) bool
	UnbanIfBanned(ctx context.Context, userID int64) bool
}

// Notifier pushes subscription lifecycle messages to a user
type Notifier interface {
	NotifyActivated(ctx context.Context, userID int64, act *Activation)
	NotifyReminder(ctx context.Context, userID int64, daysLeft int)
	NotifyExpired(ctx context.Context, userID int64)
}

// Checkout is a payment the user has been sent off to complete
type Checkout struct {
	Reference   string
	CheckoutURL string
	Plan        config.Plan
}

// Activation describes an opened (or already open) subscription window
type Activation struct {
	Plan          config.Plan
	Start         time.Time
	End           time.Time
	Renewal       bool
	InviteLink    string
	AlreadyActive bool
}

// State of a user's subscription
type State int

const (
	StateFree State = iota
	StateActive
)

// Status is a point-in-time view of a user's subscription
type Status struct {
	State      State
	Plan       config.Plan
	End        time.Time
	DaysLeft   int
	HoursLeft  int
	InviteLink string
}

// Service drives the subscription lifecycle: checkout creation, payment
// verification, activation and status reads. All verification goes
// through the gateway's API; webhook payloads only ever trigger a
// verification, they are never trusted by themselves.
type Service struct {
	cfg      *config.Config
	store    *storage.Storage
	provider gateway.Provider
	member   ChannelManager
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time
}

// NewService creates the subscription service
func NewService(cfg *config.Config, store *storage.Storage, provider gateway.Provider, member ChannelManager, mets *metrics.Metrics, log *slog.Logger) *Service {
	return &Service{
		cfg:      cfg,
		store:    store,
		provider: provider,
		member:   member,
		metrics:  mets,
		log:      log,
		now:      time.Now,
	}
}

// StartCheckout creates a payment link for a plan and records the pending
// payment under a fresh reference.
func (s *Service) StartCheckout(ctx context.Context, userID int64, planID string) (*Checkout, error) {
	plan, ok := s.cfg.PlanByID(planID)
	if !ok {
		return nil, ErrUnknownPlan
	}

	reference := gateway.NewReference(userID, s.now())
	checkout, err := s.provider.CreateCheckout(ctx, gateway.CheckoutRequest{
		UserID:     userID,
		PlanID:     plan.ID,
		PlanName:   plan.Name,
		AmountKobo: plan.AmountKobo,
		Reference:  reference,
	})
	if err != nil {
		return nil, err
	}

	if err := s.store.CreatePayment(userID, reference, plan.ID, plan.AmountKobo); err != nil {
		return nil, err
	}

	s.metrics.CheckoutsCreated.WithLabelValues(plan.ID, s.provider.Name()).Inc()
	s.log.Info("checkout created", "user_id", userID, "plan", plan.ID, "reference", reference)

	return &Checkout{Reference: reference, CheckoutURL: checkout.CheckoutURL, Plan: plan}, nil
}

// ConfirmPayment verifies a payment with the gateway and activates the
// subscription on success. Re-confirming an already completed reference
// returns the existing entitlement without touching the window: one
// payment buys exactly one activation.
func (s *Service) ConfirmPayment(ctx context.Context, userID int64, reference string) (*Activation, error) {
	payment, err := s.store.GetPayment(reference)
	if errors.Is(err, storage.ErrNotFound) {
		return nil, ErrPaymentNotFound
	}
	if err != nil {
		return nil, err
	}
	// A reference belongs to the user who opened it.
	if payment.UserID != userID {
		return nil, ErrPaymentNotFound
	}
	if payment.Status == storage.PaymentCompleted {
		return s.currentEntitlement(payment)
	}

	result, err := s.provider.Verify(ctx, reference)
	if err != nil {
		return nil, err
	}
	if !result.Terminal {
		return nil, ErrPaymentPending
	}
	if !result.Succeeded {
		if err := s.store.FailPayment(reference); err != nil {
			s.log.Error("mark payment failed", "reference", reference, "error", err)
		}
		s.metrics.PaymentsFailed.WithLabelValues(s.provider.Name()).Inc()
		s.log.Info("payment failed", "user_id", userID, "reference", reference)
		return nil, ErrPaymentFailed
	}

	planID := result.Plan
	if planID == "" {
		planID = payment.Plan
	}
	plan, ok := s.cfg.PlanByID(planID)
	if !ok {
		s.log.Error("verified payment carries unknown plan", "reference", reference, "plan", planID)
		return nil, ErrUnknownPlan
	}
	if result.AmountKobo != payment.AmountKobo {
		s.log.Warn("verified amount differs from checkout amount",
			"reference", reference, "expected", payment.AmountKobo, "got", result.AmountKobo)
	}

	return s.activate(ctx, userID, reference, plan, result.GatewayID)
}

// ConfirmFromWebhook resolves the owner of a reference and runs the same
// verification path the button press uses.
func (s *Service) ConfirmFromWebhook(ctx context.Context, reference string) (int64, *Activation, error) {
	payment, err := s.store.GetPayment(reference)
	if errors.Is(err, storage.ErrNotFound) {
		return 0, nil, ErrPaymentNotFound
	}
	if err != nil {
		return 0, nil, err
	}

	act, err := s.ConfirmPayment(ctx, payment.UserID, reference)
	return payment.UserID, act, err
}

// Status reports the user's current subscription. A window that has
// closed but not yet been swept reads as free; the sweep owns the
// database transition.
func (s *Service) Status(userID int64) (*Status, error) {
	user, err := s.store.GetUser(userID)
	if err != nil {
		return nil, err
	}

	now := s.now()
	if !user.IsPremium || user.SubscriptionEnd == nil || !user.SubscriptionEnd.After(now) {
		return &Status{State: StateFree}, nil
	}

	remaining := user.SubscriptionEnd.Sub(now)
	status := &Status{
		State:      StateActive,
		End:        *user.SubscriptionEnd,
		DaysLeft:   int(remaining.Hours()) / 24,
		HoursLeft:  int(remaining.Hours()) % 24,
		InviteLink: user.InviteLink,
	}
	if plan, ok := s.cfg.PlanByID(user.Plan); ok {
		status.Plan = plan
	} else {
		status.Plan = config.Plan{ID: user.Plan, Name: user.Plan}
	}
	return status, nil
}

// activate opens or extends the subscription window for a verified
// payment. The completed transition on the payment row decides the
// winner when the verify button and the webhook race.
func (s *Service) activate(ctx context.Context, userID int64, reference string, plan config.Plan, gatewayID string) (*Activation, error) {
	now := s.now()

	won, err := s.store.CompletePayment(reference, gatewayID, now)
	if err != nil {
		return nil, err
	}
	if !won {
		payment, err := s.store.GetPayment(reference)
		if err != nil {
			return nil, err
		}
		return s.currentEntitlement(payment)
	}
	s.metrics.PaymentsCompleted.WithLabelValues(s.provider.Name()).Inc()

	start := now
	renewal := false
	user, err := s.store.GetUser(userID)
	switch {
	case err == nil:
		if user.IsPremium && user.SubscriptionEnd != nil && user.SubscriptionEnd.After(now) {
			// Early renewal: the new window starts where the current one
			// ends, so no paid time is lost.
			start = *user.SubscriptionEnd
			renewal = true
		}
	case errors.Is(err, storage.ErrNotFound):
		if err := s.store.UpsertUser(userID, "", ""); err != nil {
			return nil, err
		}
	default:
		return nil, err
	}

	end := start.Add(time.Duration(plan.DurationDays) * 24 * time.Hour)
	if err := s.store.SetSubscription(userID, plan.ID, start, end, plan.AmountKobo, renewal); err != nil {
		return nil, err
	}

	kind := "new"
	if renewal {
		kind = "renewal"
	}
	s.metrics.Activations.WithLabelValues(plan.ID, kind).Inc()

	s.member.UnbanIfBanned(ctx, userID)
	link := s.member.CreateInviteLink(ctx, userID)
	if link != "" {
		if err := s.store.SetInviteLink(userID, link); err != nil {
			s.log.Error("store invite link", "user_id", userID, "error", err)
		}
	}

	s.log.Info("subscription activated",
		"user_id", userID, "plan", plan.ID, "renewal", renewal, "until", end)

	return &Activation{
		Plan:       plan,
		Start:      start,
		End:        end,
		Renewal:    renewal,
		InviteLink: link,
	}, nil
}

// currentEntitlement builds the already-active view for a completed
// reference from whatever window the user holds now.
func (s *Service) currentEntitlement(payment *storage.Payment) (*Activation, error) {
	act := &Activation{AlreadyActive: true}
	if plan, ok := s.cfg.PlanByID(payment.Plan); ok {
		act.Plan = plan
	}

	user, err := s.store.GetUser(payment.UserID)
	if errors.Is(err, storage.ErrNotFound) {
		return act, nil
	}
	if err != nil {
		return nil, err
	}

	if user.SubscriptionStart != nil {
		act.Start = *user.SubscriptionStart
	}
	if user.SubscriptionEnd != nil {
		act.End = *user.SubscriptionEnd
	}
	act.InviteLink = user.InviteLink
	return act, nil
}
