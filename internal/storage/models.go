package storage

import "time"

// Payment statuses. Transitions are one-way: pending payments may become
// completed or failed, completed payments never change again.
const (
	PaymentPending   = "pending"
	PaymentCompleted = "completed"
	PaymentFailed    = "failed"
)

// User represents a bot user and their current subscription window
type User struct {
	ID                int64
	Username          string
	FirstName         string
	Plan              string // plan ID, empty when not subscribed
	SubscriptionStart *time.Time
	SubscriptionEnd   *time.Time
	IsPremium         bool
	LastReminderAt    *time.Time
	InviteLink        string
	Interactions      int64
	CreatedAt         time.Time
	UpdatedAt         time.Time
}

// Payment represents one checkout attempt at the payment gateway
type Payment struct {
	ID          int64
	UserID      int64
	Reference   string
	AmountKobo  int64
	Plan        string
	Status      string
	GatewayID   string
	CreatedAt   time.Time
	CompletedAt *time.Time
}

// SubscriptionEvent is one row of the append-only activation history
type SubscriptionEvent struct {
	ID         int64
	UserID     int64
	Plan       string
	StartAt    time.Time
	EndAt      time.Time
	AmountKobo int64
	IsRenewal  bool
	CreatedAt  time.Time
}

// ReminderCandidate pairs a user with the reminder threshold they hit
type ReminderCandidate struct {
	User     User
	DaysLeft int
}

// Stats aggregates the numbers shown to admins
type Stats struct {
	TotalUsers   int
	PremiumUsers int
	RevenueKobo  int64
	Payments24h  int
}
