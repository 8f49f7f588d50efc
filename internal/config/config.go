package config

import (
	"fmt"
	"os"
	"strconv"
	"strings"
	"time"
)

// Plan is a purchasable subscription tier. Amounts are in kobo,
// the minor unit of the Nigerian naira (100 kobo = ₦1).
type Plan struct {
	ID           string
	Name         string
	AmountKobo   int64
	DurationDays int
}

const defaultPlansSpec = "daily:100:1,weekly:500:7,monthly:1500:30,yearly:15000:365"

type Config struct {
	// Telegram
	BotToken           string
	PremiumChannelID   string
	PremiumChannelLink string

	// Payments
	PaymentProvider        string
	FlutterwaveBaseURL     string
	FlutterwaveSecretKey   string
	FlutterwavePublicKey   string
	FlutterwaveWebhookHash string
	PaystackBaseURL        string
	PaystackSecretKey      string
	RedirectURL            string

	// Subscriptions
	Plans           []Plan
	ReminderDays    []int
	InviteTTL       time.Duration
	SweepInterval   time.Duration
	SweepRetryDelay time.Duration

	// HTTP
	Port int

	// Admin
	AdminIDs map[int64]bool

	// Database
	DBPath string

	// Limits
	CheckoutLimit  int
	CheckoutWindow time.Duration
}

func Load() *Config {
	cfg := &Config{
		// Telegram
		BotToken:           getEnv("BOT_TOKEN", ""),
		PremiumChannelID:   getEnv("PREMIUM_CHANNEL_ID", ""),
		PremiumChannelLink: getEnv("PREMIUM_CHANNEL_LINK", ""),

		// Payments
		PaymentProvider:        strings.ToLower(getEnv("PAYMENT_PROVIDER", "flutterwave")),
		FlutterwaveBaseURL:     strings.TrimSuffix(getEnv("FLUTTERWAVE_BASE_URL", "https://api.flutterwave.com/v3"), "/"),
		FlutterwaveSecretKey:   getEnv("FLUTTERWAVE_SECRET_KEY", ""),
		FlutterwavePublicKey:   getEnv("FLUTTERWAVE_PUBLIC_KEY", ""),
		FlutterwaveWebhookHash: getEnv("FLUTTERWAVE_WEBHOOK_HASH", ""),
		PaystackBaseURL:        strings.TrimSuffix(getEnv("PAYSTACK_BASE_URL", "https://api.paystack.co"), "/"),
		PaystackSecretKey:      getEnv("PAYSTACK_SECRET_KEY", ""),
		RedirectURL:            getEnv("REDIRECT_URL", "https://t.me"),

		// Subscriptions
		InviteTTL:       time.Duration(getEnvInt("INVITE_TTL_HOURS", 24)) * time.Hour,
		SweepInterval:   time.Duration(getEnvInt("SWEEP_INTERVAL_SECONDS", 3600)) * time.Second,
		SweepRetryDelay: time.Duration(getEnvInt("SWEEP_RETRY_SECONDS", 300)) * time.Second,

		// HTTP
		Port: getEnvInt("PORT", 8080),

		// Database
		DBPath: getEnv("DATABASE_PATH", "./premium_bot.db"),

		// Limits
		CheckoutLimit:  getEnvInt("CHECKOUT_RATE_LIMIT", 5),
		CheckoutWindow: time.Duration(getEnvInt("CHECKOUT_RATE_WINDOW_SECONDS", 60)) * time.Second,
	}

	// Parse subscription plans: id:amount_kobo:duration_days, comma separated
	plansSpec := getEnv("SUBSCRIPTION_PLANS", defaultPlansSpec)
	for _, entry := range strings.Split(plansSpec, ",") {
		parts := strings.Split(strings.TrimSpace(entry), ":")
		if len(parts) != 3 {
			continue
		}
		amount, amountErr := strconv.ParseInt(parts[1], 10, 64)
		days, daysErr := strconv.Atoi(parts[2])
		if parts[0] == "" || amountErr != nil || daysErr != nil || amount <= 0 || days <= 0 {
			continue
		}
		cfg.Plans = append(cfg.Plans, Plan{
			ID:           parts[0],
			Name:         planName(parts[0]),
			AmountKobo:   amount,
			DurationDays: days,
		})
	}

	// Parse reminder thresholds (days before expiry)
	reminderSpec := getEnv("REMINDER_DAYS", "7,3,1")
	for _, dayStr := range strings.Split(reminderSpec, ",") {
		dayStr = strings.TrimSpace(dayStr)
		if d, err := strconv.Atoi(dayStr); err == nil && d > 0 {
			cfg.ReminderDays = append(cfg.ReminderDays, d)
		}
	}

	// Parse admin user IDs
	cfg.AdminIDs = make(map[int64]bool)
	adminIDs := getEnv("ADMIN_USER_IDS", "")
	for _, idStr := range strings.Split(adminIDs, ",") {
		idStr = strings.TrimSpace(idStr)
		if id, err := strconv.ParseInt(idStr, 10, 64); err == nil {
			cfg.AdminIDs[id] = true
		}
	}

	return cfg
}

// Validate reports every missing required setting at once so a broken
// deployment can be fixed in a single pass.
func (c *Config) Validate() error {
	var missing []string
	if c.BotToken == "" {
		missing = append(missing, "BOT_TOKEN")
	}
	if c.PremiumChannelID == "" {
		missing = append(missing, "PREMIUM_CHANNEL_ID")
	}
	if c.PremiumChannelLink == "" {
		missing = append(missing, "PREMIUM_CHANNEL_LINK")
	}
	switch c.PaymentProvider {
	case "flutterwave":
		if c.FlutterwaveSecretKey == "" {
			missing = append(missing, "FLUTTERWAVE_SECRET_KEY")
		}
		if c.FlutterwavePublicKey == "" {
			missing = append(missing, "FLUTTERWAVE_PUBLIC_KEY")
		}
	case "paystack":
		if c.PaystackSecretKey == "" {
			missing = append(missing, "PAYSTACK_SECRET_KEY")
		}
	default:
		return fmt.Errorf("unsupported PAYMENT_PROVIDER %q", c.PaymentProvider)
	}
	if len(c.Plans) == 0 {
		missing = append(missing, "SUBSCRIPTION_PLANS")
	}
	if len(missing) > 0 {
		return fmt.Errorf("missing required environment variables: %s", strings.Join(missing, ", "))
	}
	return nil
}

// PlanByID looks up a plan from the configured catalog.
func (c *Config) PlanByID(id string) (Plan, bool) {
	for _, p := range c.Plans {
		if p.ID == id {
			return p, true
		}
	}
	return Plan{}, false
}

func planName(id string) string {
	if id == "" {
		return "Plan"
	}
	return strings.ToUpper(id[:1]) + id[1:] + " Plan"
}

func getEnv(key, defaultVal string) string {
	if val := os.Getenv(key); val != "" {
		return val
	}
	return defaultVal
}

func getEnvInt(key string, defaultVal int) int {
	if val := os.Getenv(key); val != "" {
		if i, err := strconv.Atoi(val); err == nil {
			return i
		}
	}
	return defaultVal
}
