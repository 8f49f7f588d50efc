package storage

import (
	"database/sql"
	"errors"
	"strings"
	"sync"
	"time"

	_ "github.com/mattn/go-sqlite3"
)

var ErrNotFound = errors.New("not found")

// StorageError wraps a failed database operation with its name so callers
// can log what was being attempted without inspecting SQL errors.
type StorageError struct {
	Op  string
	Err error
}

func (e *StorageError) Error() string {
	return "storage " + e.Op + ": " + e.Err.Error()
}

func (e *StorageError) Unwrap() error {
	return e.Err
}

func opErr(op string, err error) error {
	if err == nil {
		return nil
	}
	return &StorageError{Op: op, Err: err}
}

// Storage handles all database operations. A single process-wide mutex
// serializes every operation: the bot handlers, the webhook dispatcher and
// the expiry sweep all share this store, and read-modify-write sequences
// like payment completion must not interleave.
type Storage struct {
	mu sync.Mutex
	db *sql.DB
}

// New creates a new Storage instance and initializes the database
func New(dbPath string) (*Storage, error) {
	db, err := sql.Open("sqlite3", dbPath+"?_journal_mode=WAL&_busy_timeout=5000")
	if err != nil {
		return nil, opErr("open", err)
	}

	s := &Storage{db: db}
	if err := s.init(); err != nil {
		db.Close()
		return nil, opErr("init", err)
	}

	return s, nil
}

// Close closes the database connection
func (s *Storage) Close() error {
	return s.db.Close()
}

func (s *Storage) init() error {
	queries := []string{
		`CREATE TABLE IF NOT EXISTS users (
			user_id INTEGER PRIMARY KEY,
			username TEXT,
			first_name TEXT,
			subscription_plan TEXT,
			subscription_start INTEGER,
			subscription_end INTEGER,
			is_premium INTEGER NOT NULL DEFAULT 0,
			last_reminder_at INTEGER,
			invite_link TEXT,
			interactions INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL,
			updated_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_users_is_premium ON users(is_premium)`,
		`CREATE INDEX IF NOT EXISTS idx_users_subscription_end ON users(subscription_end)`,

		`CREATE TABLE IF NOT EXISTS payments (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			reference TEXT NOT NULL UNIQUE,
			amount INTEGER NOT NULL,
			plan TEXT NOT NULL,
			status TEXT NOT NULL DEFAULT 'pending',
			gateway_id TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_user_id ON payments(user_id)`,
		`CREATE INDEX IF NOT EXISTS idx_payments_status ON payments(status)`,

		`CREATE TABLE IF NOT EXISTS subscription_events (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			user_id INTEGER NOT NULL,
			plan TEXT NOT NULL,
			start_at INTEGER NOT NULL,
			end_at INTEGER NOT NULL,
			amount INTEGER NOT NULL,
			is_renewal INTEGER NOT NULL DEFAULT 0,
			created_at INTEGER NOT NULL
		)`,
		`CREATE INDEX IF NOT EXISTS idx_subscription_events_user_id ON subscription_events(user_id)`,
	}

	for _, q := range queries {
		if _, err := s.db.Exec(q); err != nil {
			return err
		}
	}

	return nil
}

// --- Users ---

// UpsertUser records a user interaction, creating the user on first contact
func (s *Storage) UpsertUser(userID int64, username, firstName string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	_, err := s.db.Exec(
		`INSERT INTO users (user_id, username, first_name, interactions, created_at, updated_at)
		 VALUES (?, ?, ?, 1, ?, ?)
		 ON CONFLICT(user_id) DO UPDATE SET
			username = excluded.username,
			first_name = excluded.first_name,
			interactions = users.interactions + 1,
			updated_at = excluded.updated_at`,
		userID, sanitize(username), sanitize(firstName), now, now,
	)
	return opErr("upsert user", err)
}

// GetUser returns a user by Telegram ID
func (s *Storage) GetUser(userID int64) (*User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	row := s.db.QueryRow(
		`SELECT user_id, username, first_name, subscription_plan, subscription_start,
			subscription_end, is_premium, last_reminder_at, invite_link, interactions,
			created_at, updated_at
		 FROM users WHERE user_id = ?`,
		userID,
	)

	u, err := scanUser(row)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opErr("get user", err)
	}
	return u, nil
}

// SetSubscription activates or extends a subscription window and appends
// one row to the activation history in the same exclusive section
func (s *Storage) SetSubscription(userID int64, plan string, start, end time.Time, amountKobo int64, isRenewal bool) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	now := time.Now().Unix()
	result, err := s.db.Exec(
		`UPDATE users SET
			subscription_plan = ?,
			subscription_start = ?,
			subscription_end = ?,
			is_premium = 1,
			last_reminder_at = NULL,
			updated_at = ?
		 WHERE user_id = ?`,
		plan, start.Unix(), end.Unix(), now, userID,
	)
	if err != nil {
		return opErr("set subscription", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}

	renewal := 0
	if isRenewal {
		renewal = 1
	}
	_, err = s.db.Exec(
		`INSERT INTO subscription_events (user_id, plan, start_at, end_at, amount, is_renewal, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)`,
		userID, plan, start.Unix(), end.Unix(), amountKobo, renewal, now,
	)
	return opErr("record subscription event", err)
}

// RevokeSubscription drops the premium flag and clears the plan and invite
// link. The subscription window columns are kept for the record.
func (s *Storage) RevokeSubscription(userID int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE users SET
			is_premium = 0,
			subscription_plan = NULL,
			invite_link = NULL,
			updated_at = ?
		 WHERE user_id = ?`,
		time.Now().Unix(), userID,
	)
	if err != nil {
		return opErr("revoke subscription", err)
	}

	rows, _ := result.RowsAffected()
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

// SetInviteLink stores the single-use channel invite issued to a user
func (s *Storage) SetInviteLink(userID int64, link string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE users SET invite_link = ?, updated_at = ? WHERE user_id = ?",
		link, time.Now().Unix(), userID,
	)
	return opErr("set invite link", err)
}

// MarkReminded stamps the last reminder time for a user
func (s *Storage) MarkReminded(userID int64, when time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE users SET last_reminder_at = ?, updated_at = ? WHERE user_id = ?",
		when.Unix(), time.Now().Unix(), userID,
	)
	return opErr("mark reminded", err)
}

// ListExpired returns premium users whose subscription window has closed
func (s *Storage) ListExpired(now time.Time) ([]User, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	rows, err := s.db.Query(
		`SELECT user_id, username, first_name, subscription_plan, subscription_start,
			subscription_end, is_premium, last_reminder_at, invite_link, interactions,
			created_at, updated_at
		 FROM users
		 WHERE is_premium = 1 AND subscription_end IS NOT NULL AND subscription_end <= ?
		 ORDER BY user_id`,
		now.Unix(),
	)
	if err != nil {
		return nil, opErr("list expired", err)
	}
	defer rows.Close()

	var users []User
	for rows.Next() {
		u, err := scanUser(rows)
		if err != nil {
			return nil, opErr("list expired", err)
		}
		users = append(users, *u)
	}
	return users, opErr("list expired", rows.Err())
}

// ListNeedingReminder returns premium users currently inside one of the
// reminder windows. For threshold d the window is the 24h slice starting
// d days before expiry; a user is skipped when a reminder was already
// stamped at or after that window opened.
func (s *Storage) ListNeedingReminder(now time.Time, thresholds []int) ([]ReminderCandidate, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var candidates []ReminderCandidate
	seen := make(map[int64]bool)

	for _, days := range thresholds {
		windowSpan := int64(days) * 86400
		rows, err := s.db.Query(
			`SELECT user_id, username, first_name, subscription_plan, subscription_start,
				subscription_end, is_premium, last_reminder_at, invite_link, interactions,
				created_at, updated_at
			 FROM users
			 WHERE is_premium = 1
			   AND subscription_end IS NOT NULL
			   AND subscription_end > ?
			   AND subscription_end <= ?
			   AND (last_reminder_at IS NULL OR last_reminder_at < subscription_end - ?)
			 ORDER BY user_id`,
			now.Unix()+(windowSpan-86400), now.Unix()+windowSpan, windowSpan,
		)
		if err != nil {
			return nil, opErr("list needing reminder", err)
		}

		for rows.Next() {
			u, err := scanUser(rows)
			if err != nil {
				rows.Close()
				return nil, opErr("list needing reminder", err)
			}
			if seen[u.ID] {
				continue
			}
			seen[u.ID] = true
			candidates = append(candidates, ReminderCandidate{User: *u, DaysLeft: days})
		}
		if err := rows.Err(); err != nil {
			rows.Close()
			return nil, opErr("list needing reminder", err)
		}
		rows.Close()
	}

	return candidates, nil
}

// CountPremium returns the number of users currently flagged premium
func (s *Storage) CountPremium() (int, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var count int
	err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE is_premium = 1").Scan(&count)
	if err != nil {
		return 0, opErr("count premium", err)
	}
	return count, nil
}

// --- Payments ---

// CreatePayment records a new pending checkout
func (s *Storage) CreatePayment(userID int64, reference, plan string, amountKobo int64) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		`INSERT INTO payments (user_id, reference, amount, plan, status, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)`,
		userID, reference, amountKobo, plan, PaymentPending, time.Now().Unix(),
	)
	return opErr("create payment", err)
}

// GetPayment returns a payment by its gateway reference
func (s *Storage) GetPayment(reference string) (*Payment, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var p Payment
	var gatewayID sql.NullString
	var createdAt int64
	var completedAt sql.NullInt64

	err := s.db.QueryRow(
		`SELECT id, user_id, reference, amount, plan, status, gateway_id, created_at, completed_at
		 FROM payments WHERE reference = ?`,
		reference,
	).Scan(&p.ID, &p.UserID, &p.Reference, &p.AmountKobo, &p.Plan, &p.Status, &gatewayID, &createdAt, &completedAt)

	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, opErr("get payment", err)
	}

	p.GatewayID = gatewayID.String
	p.CreatedAt = time.Unix(createdAt, 0)
	if completedAt.Valid {
		t := time.Unix(completedAt.Int64, 0)
		p.CompletedAt = &t
	}
	return &p, nil
}

// CompletePayment marks a payment completed, returns true if this call won
// the transition. A payment completes at most once no matter how many
// verification paths race for it.
func (s *Storage) CompletePayment(reference, gatewayID string, when time.Time) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	result, err := s.db.Exec(
		`UPDATE payments SET status = ?, gateway_id = ?, completed_at = ?
		 WHERE reference = ? AND status != ?`,
		PaymentCompleted, gatewayID, when.Unix(), reference, PaymentCompleted,
	)
	if err != nil {
		return false, opErr("complete payment", err)
	}

	rows, _ := result.RowsAffected()
	return rows > 0, nil
}

// FailPayment marks a pending payment failed. Completed payments are left
// untouched.
func (s *Storage) FailPayment(reference string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	_, err := s.db.Exec(
		"UPDATE payments SET status = ? WHERE reference = ? AND status = ?",
		PaymentFailed, reference, PaymentPending,
	)
	return opErr("fail payment", err)
}

// --- Stats ---

// GetStats returns the aggregate numbers for the admin dashboard
func (s *Storage) GetStats(now time.Time) (*Stats, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	var stats Stats

	if err := s.db.QueryRow("SELECT COUNT(*) FROM users").Scan(&stats.TotalUsers); err != nil {
		return nil, opErr("stats total users", err)
	}
	if err := s.db.QueryRow("SELECT COUNT(*) FROM users WHERE is_premium = 1").Scan(&stats.PremiumUsers); err != nil {
		return nil, opErr("stats premium users", err)
	}
	if err := s.db.QueryRow(
		"SELECT COALESCE(SUM(amount), 0) FROM payments WHERE status = ?",
		PaymentCompleted,
	).Scan(&stats.RevenueKobo); err != nil {
		return nil, opErr("stats revenue", err)
	}
	if err := s.db.QueryRow(
		"SELECT COUNT(*) FROM payments WHERE status = ? AND created_at > ?",
		PaymentCompleted, now.Add(-24*time.Hour).Unix(),
	).Scan(&stats.Payments24h); err != nil {
		return nil, opErr("stats recent payments", err)
	}

	return &stats, nil
}

// --- Scanning ---

type rowScanner interface {
	Scan(dest ...any) error
}

func scanUser(row rowScanner) (*User, error) {
	var u User
	var username, firstName, plan, inviteLink sql.NullString
	var start, end, lastReminder sql.NullInt64
	var isPremium int
	var createdAt, updatedAt int64

	err := row.Scan(&u.ID, &username, &firstName, &plan, &start, &end,
		&isPremium, &lastReminder, &inviteLink, &u.Interactions, &createdAt, &updatedAt)
	if err != nil {
		return nil, err
	}

	u.Username = username.String
	u.FirstName = firstName.String
	u.Plan = plan.String
	u.InviteLink = inviteLink.String
	u.IsPremium = isPremium != 0
	if start.Valid {
		t := time.Unix(start.Int64, 0)
		u.SubscriptionStart = &t
	}
	if end.Valid {
		t := time.Unix(end.Int64, 0)
		u.SubscriptionEnd = &t
	}
	if lastReminder.Valid {
		t := time.Unix(lastReminder.Int64, 0)
		u.LastReminderAt = &t
	}
	u.CreatedAt = time.Unix(createdAt, 0)
	u.UpdatedAt = time.Unix(updatedAt, 0)
	return &u, nil
}

func sanitize(s string) string {
	s = strings.TrimSpace(s)
	if len(s) > 100 {
		s = s[:100]
	}
	return s
}
