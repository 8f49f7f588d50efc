package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
)

const (
	connectAttempts   = 5
	maxConnectBackoff = 30 * time.Second
	conflictLimit     = 5
)

// NewClient creates the raw telegram client with retry on startup.
// onConflict is invoked once when another instance keeps polling the
// same token, so the caller can shut down instead of fighting over it.
func NewClient(cfg *config.Config, log *slog.Logger, onConflict func()) (*bot.Bot, error) {
	watcher := &conflictWatcher{
		limit: conflictLimit,
		trip:  onConflict,
		log:   log,
	}

	opts := []bot.Option{
		bot.WithMiddlewares(recoverPanics(log)),
		bot.WithErrorsHandler(watcher.handle),
	}

	var lastErr error
	backoff := time.Second
	for attempt := 1; attempt <= connectAttempts; attempt++ {
		b, err := bot.New(cfg.BotToken, opts...)
		if err == nil {
			return b, nil
		}
		lastErr = err
		log.Warn("telegram connect failed", "attempt", attempt, "error", err)
		time.Sleep(backoff)
		backoff *= 2
		if backoff > maxConnectBackoff {
			backoff = maxConnectBackoff
		}
	}
	return nil, fmt.Errorf("connect telegram: %w", lastErr)
}

// conflictWatcher counts consecutive 409 polling errors. A lone 409 can
// happen during a rolling restart; a streak means a second instance
// owns the token.
type conflictWatcher struct {
	mu      sync.Mutex
	count   int
	tripped bool
	limit   int
	trip    func()
	log     *slog.Logger
}

func (w *conflictWatcher) handle(err error) {
	if err == nil {
		return
	}

	w.mu.Lock()
	defer w.mu.Unlock()

	if !isConflict(err) {
		w.count = 0
		w.log.Error("telegram polling", "error", err)
		return
	}

	w.count++
	w.log.Warn("telegram polling conflict", "count", w.count)
	if w.count >= w.limit && !w.tripped {
		w.tripped = true
		w.log.Error("another bot instance is polling this token, shutting down")
		if w.trip != nil {
			w.trip()
		}
	}
}

func isConflict(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "409") || strings.Contains(strings.ToLower(msg), "conflict")
}

// recoverPanics keeps one bad update from killing the polling loop
func recoverPanics(log *slog.Logger) bot.Middleware {
	return func(next bot.HandlerFunc) bot.HandlerFunc {
		return func(ctx context.Context, b *bot.Bot, update *models.Update) {
			defer func() {
				if r := recover(); r != nil {
					log.Error("handler panic", "panic", r)
					notifyPanic(ctx, b, update)
				}
			}()
			next(ctx, b, update)
		}
	}
}

func notifyPanic(ctx context.Context, b *bot.Bot, update *models.Update) {
	var chatID int64
	switch {
	case update.Message != nil:
		chatID = update.Message.Chat.ID
	case update.CallbackQuery != nil && update.CallbackQuery.Message.Message != nil:
		chatID = update.CallbackQuery.Message.Message.Chat.ID
	default:
		return
	}

	b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: chatID,
		Text:   "❌ Something went wrong. Please try again.",
	})
}
