package subscription

import (
	"context"
	"log/slog"
	"time"

	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/metrics"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/storage"
)

const sweepStartupDelay = 10 * time.Second

// Sweeper periodically closes expired subscription windows and sends
// expiry reminders. The database transition always happens first and is
// authoritative; channel removal and user notification run afterwards on
// a single worker goroutine so one slow Telegram call cannot fan out
// into hundreds of goroutines.
type Sweeper struct {
	cfg      *config.Config
	store    *storage.Storage
	member   ChannelManager
	notifier Notifier
	metrics  *metrics.Metrics
	log      *slog.Logger
	now      func() time.Time

	tasks chan func(context.Context)
	done  chan struct{}
}

// NewSweeper creates the expiry sweeper
func NewSweeper(cfg *config.Config, store *storage.Storage, member ChannelManager, notifier Notifier, mets *metrics.Metrics, log *slog.Logger) *Sweeper {
	return &Sweeper{
		cfg:      cfg,
		store:    store,
		member:   member,
		notifier: notifier,
		metrics:  mets,
		log:      log,
		now:      time.Now,
		tasks:    make(chan func(context.Context), 16),
		done:     make(chan struct{}),
	}
}

// Start runs the sweep loop until ctx is cancelled. A failed pass is
// logged and retried after the shorter retry delay; the loop itself
// never dies.
func (sw *Sweeper) Start(ctx context.Context) {
	defer close(sw.done)

	workerDone := make(chan struct{})
	go func() {
		defer close(workerDone)
		sw.worker(ctx)
	}()
	defer func() { <-workerDone }()

	sw.log.Info("expiry sweep started", "interval", sw.cfg.SweepInterval)

	timer := time.NewTimer(sweepStartupDelay)
	defer timer.Stop()

	for {
		select {
		case <-ctx.Done():
			return
		case <-timer.C:
		}

		if err := sw.runPass(ctx); err != nil {
			sw.log.Error("sweep pass failed", "error", err)
			sw.metrics.SweepErrors.Inc()
			timer.Reset(sw.cfg.SweepRetryDelay)
		} else {
			timer.Reset(sw.cfg.SweepInterval)
		}
	}
}

// Done is closed once the sweep loop and its worker have fully stopped
func (sw *Sweeper) Done() <-chan struct{} {
	return sw.done
}

func (sw *Sweeper) runPass(ctx context.Context) error {
	started := time.Now()
	now := sw.now()

	expired, err := sw.store.ListExpired(now)
	if err != nil {
		return err
	}
	for _, user := range expired {
		if err := sw.store.RevokeSubscription(user.ID); err != nil {
			sw.log.Error("revoke subscription", "user_id", user.ID, "error", err)
			continue
		}
		sw.metrics.Expiries.Inc()
		sw.log.Info("subscription expired", "user_id", user.ID, "plan", user.Plan)

		userID := user.ID
		sw.submit(ctx, func(taskCtx context.Context) {
			sw.member.RemoveMember(taskCtx, userID)
			sw.notifier.NotifyExpired(taskCtx, userID)
		})
	}

	candidates, err := sw.store.ListNeedingReminder(now, sw.cfg.ReminderDays)
	if err != nil {
		return err
	}
	for _, candidate := range candidates {
		// Stamp before sending: a crashed send costs one reminder, a
		// crashed stamp would repeat it every pass.
		if err := sw.store.MarkReminded(candidate.User.ID, now); err != nil {
			sw.log.Error("mark reminded", "user_id", candidate.User.ID, "error", err)
			continue
		}
		sw.metrics.Reminders.Inc()

		userID, days := candidate.User.ID, candidate.DaysLeft
		sw.submit(ctx, func(taskCtx context.Context) {
			sw.notifier.NotifyReminder(taskCtx, userID, days)
		})
	}

	if count, err := sw.store.CountPremium(); err == nil {
		sw.metrics.PremiumUsers.Set(float64(count))
	}

	sw.metrics.SweepDuration.Observe(time.Since(started).Seconds())
	return nil
}

func (sw *Sweeper) submit(ctx context.Context, task func(context.Context)) {
	select {
	case sw.tasks <- task:
	case <-ctx.Done():
	}
}

func (sw *Sweeper) worker(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case task := <-sw.tasks:
			task(ctx)
		}
	}
}
