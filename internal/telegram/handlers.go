package telegram

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/membership"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/storage"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/subscription"
)

// Bot wraps the telegram bot with handlers
type Bot struct {
	bot     *bot.Bot
	cfg     *config.Config
	storage *storage.Storage
	subs    *subscription.Service
	member  *membership.Manager
	limiter *Limiter
	log     *slog.Logger
}

// replySink is where a rendered screen goes: a new message for command
// replies, an edit of the tapped message for callback replies. Screens
// render once and work for both paths.
type replySink func(ctx context.Context, text string, keyboard *models.InlineKeyboardMarkup)

// New wires the command and callback handlers onto an existing client
func New(tgBot *bot.Bot, cfg *config.Config, store *storage.Storage, subs *subscription.Service, member *membership.Manager, log *slog.Logger) *Bot {
	b := &Bot{
		bot:     tgBot,
		cfg:     cfg,
		storage: store,
		subs:    subs,
		member:  member,
		limiter: NewLimiter(cfg.CheckoutLimit, cfg.CheckoutWindow),
		log:     log,
	}

	// Register command handlers
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/start ", bot.MatchTypePrefix, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, b.startHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/subscribe", bot.MatchTypeExact, b.subscribeHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact, b.statusHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/premium", bot.MatchTypeExact, b.premiumHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/support", bot.MatchTypeExact, b.supportHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/stats", bot.MatchTypeExact, b.statsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeMessageText, "/admin", bot.MatchTypeExact, b.statsHandler)
	tgBot.RegisterHandler(bot.HandlerTypeCallbackQueryData, "", bot.MatchTypePrefix, b.callbackHandler)

	return b
}

// Start starts the bot polling
func (b *Bot) Start(ctx context.Context) {
	b.bot.Start(ctx)
}

// --- Command handlers ---

func (b *Bot) startHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.touchUser(update.Message.From)
	b.showWelcome(ctx, displayName(update.Message.From), b.sendTo(update.Message.Chat.ID))
}

func (b *Bot) subscribeHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.touchUser(update.Message.From)
	b.showPlans(ctx, update.Message.From.ID, b.sendTo(update.Message.Chat.ID))
}

func (b *Bot) statusHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.touchUser(update.Message.From)
	b.showStatus(ctx, update.Message.From.ID, b.sendTo(update.Message.Chat.ID))
}

func (b *Bot) premiumHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.touchUser(update.Message.From)
	b.showPremium(ctx, update.Message.From.ID, b.sendTo(update.Message.Chat.ID))
}

func (b *Bot) supportHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	b.touchUser(update.Message.From)
	b.showSupport(ctx, b.sendTo(update.Message.Chat.ID))
}

func (b *Bot) statsHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.Message == nil {
		return
	}

	userID := update.Message.From.ID
	if !b.cfg.AdminIDs[userID] {
		b.sendMessage(ctx, update.Message.Chat.ID, "❌ You don't have permission to use this command.", nil)
		return
	}

	stats, err := b.storage.GetStats(time.Now())
	if err != nil {
		b.log.Error("load stats", "error", err)
		b.sendMessage(ctx, update.Message.Chat.ID, "❌ Error retrieving statistics.", nil)
		return
	}

	text := fmt.Sprintf(
		"📊 <b>Bot Statistics</b>\n\n"+
			"👥 <b>Users</b>: %d total, %d premium\n"+
			"💰 <b>Revenue</b>: ₦%.2f\n"+
			"📈 <b>Completed payments (24h)</b>: %d\n\n"+
			"🕒 Updated: %s",
		stats.TotalUsers, stats.PremiumUsers, float64(stats.RevenueKobo)/100, stats.Payments24h,
		time.Now().UTC().Format("2006-01-02 15:04 UTC"),
	)
	b.sendMessage(ctx, update.Message.Chat.ID, text, nil)
}

// --- Callback handler ---

func (b *Bot) callbackHandler(ctx context.Context, tgBot *bot.Bot, update *models.Update) {
	if update.CallbackQuery == nil {
		return
	}

	cb := update.CallbackQuery
	data := cb.Data

	// Answer callback to remove loading state
	tgBot.AnswerCallbackQuery(ctx, &bot.AnswerCallbackQueryParams{
		CallbackQueryID: cb.ID,
	})

	reply := b.editOf(cb.Message)

	switch {
	case data == "subscribe":
		b.showPlans(ctx, cb.From.ID, reply)
	case strings.HasPrefix(data, "plan_"):
		b.handlePlanSelection(ctx, cb.From.ID, strings.TrimPrefix(data, "plan_"), reply)
	case strings.HasPrefix(data, "verify_"):
		b.handleVerify(ctx, cb.From.ID, strings.TrimPrefix(data, "verify_"), reply)
	case data == "premium":
		b.showPremium(ctx, cb.From.ID, reply)
	case data == "learn_more":
		b.showLearnMore(ctx, reply)
	case data == "support":
		b.showSupport(ctx, reply)
	case data == "back_to_menu":
		b.showWelcome(ctx, displayName(&cb.From), reply)
	default:
		b.log.Warn("unknown callback", "data", data, "user_id", cb.From.ID)
	}
}

// --- Screens ---

func (b *Bot) showWelcome(ctx context.Context, name string, reply replySink) {
	text := fmt.Sprintf(
		"🎮 <b>Welcome to Premium Gaming Bot!</b>\n\n"+
			"Hello %s! 👋\n\n"+
			"I unlock the premium gaming channel for you:\n"+
			"• Advanced strategies and guides\n"+
			"• Early access to new releases\n"+
			"• VIP community and tournaments\n\n"+
			"Ready to upgrade your gaming experience?",
		name,
	)
	reply(ctx, text, WelcomeKeyboard())
}

func (b *Bot) showPlans(ctx context.Context, userID int64, reply replySink) {
	head := "💎 <b>Choose Your Premium Plan</b>\n\n"

	status, err := b.subs.Status(userID)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		b.log.Error("subscription status", "user_id", userID, "error", err)
	}
	if err == nil && status.State == subscription.StateActive {
		head = fmt.Sprintf(
			"✅ Your <b>%s</b> is active until %s.\n\n"+
				"Renewing early keeps your remaining time: the new window starts when the current one ends.\n\n",
			status.Plan.Name, formatTime(status.End),
		)
	}

	reply(ctx, head+
		"All plans include the premium channel, exclusive strategies, priority support and VIP community access.",
		PlansKeyboard(b.cfg.Plans))
}

func (b *Bot) handlePlanSelection(ctx context.Context, userID int64, planID string, reply replySink) {
	if !b.limiter.Allow(userID) {
		reply(ctx, "⏳ Too many payment attempts. Please wait a minute and try again.", BackToPlansKeyboard())
		return
	}

	checkout, err := b.subs.StartCheckout(ctx, userID, planID)
	if err != nil {
		b.log.Error("start checkout", "user_id", userID, "plan", planID, "error", err)
		if errors.Is(err, subscription.ErrUnknownPlan) {
			reply(ctx, "❌ Invalid plan selected.", BackToPlansKeyboard())
			return
		}
		reply(ctx,
			"❌ The payment service is temporarily unavailable.\n\n"+
				"Please try again in a few minutes or contact support.",
			SupportKeyboard())
		return
	}

	text := fmt.Sprintf(
		"💳 <b>Payment Details</b>\n\n"+
			"📦 <b>Plan</b>: %s\n"+
			"💰 <b>Amount</b>: %s\n"+
			"⏱ <b>Duration</b>: %d days\n\n"+
			"Tap <b>Pay Now</b> to complete your payment, then come back and press <b>I've Paid</b> for instant access.",
		checkout.Plan.Name, formatNaira(checkout.Plan.AmountKobo), checkout.Plan.DurationDays,
	)
	reply(ctx, text, PaymentKeyboard(checkout.CheckoutURL, checkout.Reference))
}

func (b *Bot) handleVerify(ctx context.Context, userID int64, reference string, reply replySink) {
	act, err := b.subs.ConfirmPayment(ctx, userID, reference)
	if err != nil {
		b.renderVerifyFailure(ctx, err, reference, reply)
		return
	}

	if act.AlreadyActive {
		text := fmt.Sprintf(
			"✅ <b>This payment has already been processed.</b>\n\n"+
				"Your subscription is active until <b>%s</b>.",
			formatTime(act.End),
		)
		reply(ctx, text, ChannelKeyboard(b.channelLink(act.InviteLink)))
		return
	}

	header := "✅ <b>Payment Successful!</b>\n\n🎉 Welcome to Premium Gaming!"
	if act.Renewal {
		header = "✅ <b>Renewal Successful!</b>\n\n🔁 Your remaining time is kept - the new window starts when the current one ends."
	}
	text := fmt.Sprintf(
		"%s\n\n"+
			"📦 <b>Plan</b>: %s\n"+
			"📅 <b>Valid Until</b>: %s\n\n"+
			"Tap below to join the premium channel. Enjoy! 🚀",
		header, act.Plan.Name, formatTime(act.End),
	)
	reply(ctx, text, ChannelKeyboard(b.channelLink(act.InviteLink)))
}

func (b *Bot) renderVerifyFailure(ctx context.Context, err error, reference string, reply replySink) {
	var storageErr *storage.StorageError

	switch {
	case errors.Is(err, subscription.ErrPaymentNotFound):
		reply(ctx, "❌ Payment record not found. Please contact support.", SupportKeyboard())
	case errors.Is(err, subscription.ErrPaymentPending):
		reply(ctx,
			"⏳ Your payment hasn't been confirmed yet.\n\n"+
				"If you just paid, wait about 30 seconds and try again.",
			VerifyRetryKeyboard(reference))
	case errors.Is(err, subscription.ErrPaymentFailed):
		reply(ctx,
			"❌ The payment was not successful.\n\n"+
				"You have not been charged. Pick a plan to try again.",
			RetryPlansKeyboard())
	case errors.Is(err, subscription.ErrUnknownPlan):
		reply(ctx, fmt.Sprintf(
			"✅ Payment received, but we could not match it to a plan.\n\n"+
				"Contact support with reference <code>%s</code>.", reference),
			SupportKeyboard())
	case errors.As(err, &storageErr):
		b.log.Error("verify payment storage failure", "reference", reference, "error", err)
		reply(ctx, fmt.Sprintf(
			"⚠️ We hit a problem while setting up your access.\n\n"+
				"If you were charged, contact support with reference <code>%s</code>.", reference),
			SupportKeyboard())
	default:
		b.log.Error("verify payment", "reference", reference, "error", err)
		reply(ctx, "❌ Error verifying payment. Please try again in a moment.", VerifyRetryKeyboard(reference))
	}
}

func (b *Bot) showStatus(ctx context.Context, userID int64, reply replySink) {
	status, err := b.subs.Status(userID)
	if errors.Is(err, storage.ErrNotFound) {
		reply(ctx, "Please press /start first so I can set up your account.", nil)
		return
	}
	if err != nil {
		b.log.Error("subscription status", "user_id", userID, "error", err)
		reply(ctx, "❌ Could not load your status. Please try again.", nil)
		return
	}

	if status.State != subscription.StateActive {
		reply(ctx,
			"📋 <b>Free Account</b>\n\n"+
				"You are on the free tier. Upgrade to premium for exclusive gaming content!",
			UpgradeKeyboard())
		return
	}

	text := fmt.Sprintf(
		"✅ <b>Premium Subscription Active</b>\n\n"+
			"📦 <b>Plan</b>: %s\n"+
			"📅 <b>Expires</b>: %s\n"+
			"⏰ <b>Time Left</b>: %d days, %d hours",
		status.Plan.Name, formatTime(status.End), status.DaysLeft, status.HoursLeft,
	)
	reply(ctx, text, ChannelKeyboard(b.channelLink(status.InviteLink)))
}

func (b *Bot) showPremium(ctx context.Context, userID int64, reply replySink) {
	status, err := b.subs.Status(userID)
	if err == nil && status.State == subscription.StateActive {
		if b.member.CheckMembership(ctx, userID) {
			reply(ctx, fmt.Sprintf(
				"💎 <b>Premium Access Active</b>\n\n"+
					"You are in the premium channel. Subscription runs until <b>%s</b>.",
				formatTime(status.End)),
				BackToMenuKeyboard())
			return
		}
		reply(ctx, fmt.Sprintf(
			"💎 <b>Premium Access Active</b>\n\n"+
				"You are not in the channel yet - tap below to join.\n"+
				"Subscription runs until <b>%s</b>.",
			formatTime(status.End)),
			ChannelKeyboard(b.channelLink(status.InviteLink)))
		return
	}

	reply(ctx,
		"💎 <b>Premium Gaming Channel</b>\n\n"+
			"Exclusive strategies, early releases, premium guides and VIP tournaments - all in one channel.",
		UpgradeKeyboard())
}

func (b *Bot) showLearnMore(ctx context.Context, reply replySink) {
	text := "ℹ️ <b>About Premium</b>\n\n" +
		"💎 <b>What you get</b>:\n" +
		"• Advanced gaming strategies\n" +
		"• Early access to new games\n" +
		"• Premium guides and tutorials\n" +
		"• VIP community access\n" +
		"• Special tournaments\n\n" +
		"💳 Payments are processed securely and access is granted right after verification."
	reply(ctx, text, UpgradeKeyboard())
}

func (b *Bot) showSupport(ctx context.Context, reply replySink) {
	text := "📞 <b>Support</b>\n\n" +
		"Having payment trouble? Send us your payment reference and a short description.\n\n" +
		"Your reference looks like <code>premium_bot_...</code> and is shown on the payment screen."
	reply(ctx, text, BackToMenuKeyboard())
}

// --- Notifications ---

// NotifyActivated tells a user their subscription is live. Used when the
// webhook settles a payment and there is no chat message to edit.
func (b *Bot) NotifyActivated(ctx context.Context, userID int64, act *subscription.Activation) {
	header := "✅ <b>Payment Successful!</b>\n\n🎉 Welcome to Premium Gaming!"
	if act.Renewal {
		header = "✅ <b>Renewal Successful!</b>\n\n🔁 Your remaining time is kept - the new window starts when the current one ends."
	}
	text := fmt.Sprintf(
		"%s\n\n"+
			"📦 <b>Plan</b>: %s\n"+
			"📅 <b>Valid Until</b>: %s\n\n"+
			"Tap below to join the premium channel. 🚀",
		header, act.Plan.Name, formatTime(act.End),
	)
	if err := b.SendNotification(ctx, userID, text, ChannelKeyboard(b.channelLink(act.InviteLink))); err != nil {
		b.log.Error("send activation notice", "user_id", userID, "error", err)
	}
}

// NotifyReminder warns a user their subscription is about to expire
func (b *Bot) NotifyReminder(ctx context.Context, userID int64, daysLeft int) {
	text := fmt.Sprintf(
		"⏰ <b>Subscription Reminder</b>\n\n"+
			"Your premium subscription expires in <b>%d %s</b>.\n\n"+
			"Renew early and keep your access - the new window starts when the current one ends.",
		daysLeft, dayWord(daysLeft),
	)
	if err := b.SendNotification(ctx, userID, text, RenewKeyboard()); err != nil {
		b.log.Error("send reminder", "user_id", userID, "error", err)
	}
}

// NotifyExpired tells a user their subscription has ended
func (b *Bot) NotifyExpired(ctx context.Context, userID int64) {
	text := "⌛ <b>Subscription Expired</b>\n\n" +
		"Your premium subscription has ended and your channel access has been removed.\n\n" +
		"<b>Renew now</b> to keep enjoying premium content!"
	if err := b.SendNotification(ctx, userID, text, RenewKeyboard()); err != nil {
		b.log.Error("send expiry notice", "user_id", userID, "error", err)
	}
}

// --- Helpers ---

func (b *Bot) touchUser(user *models.User) {
	if user == nil {
		return
	}
	if err := b.storage.UpsertUser(user.ID, user.Username, user.FirstName); err != nil {
		b.log.Error("upsert user", "user_id", user.ID, "error", err)
	}
}

// channelLink prefers the personal single-use invite and falls back to
// the public channel link when none was issued.
func (b *Bot) channelLink(invite string) string {
	if invite != "" {
		return invite
	}
	return b.cfg.PremiumChannelLink
}

func (b *Bot) sendTo(chatID int64) replySink {
	return func(ctx context.Context, text string, keyboard *models.InlineKeyboardMarkup) {
		b.sendMessage(ctx, chatID, text, keyboard)
	}
}

func (b *Bot) editOf(msg models.MaybeInaccessibleMessage) replySink {
	return func(ctx context.Context, text string, keyboard *models.InlineKeyboardMarkup) {
		b.editMessage(ctx, msg, text, keyboard)
	}
}

func (b *Bot) sendMessage(ctx context.Context, chatID int64, text string, keyboard *models.InlineKeyboardMarkup) {
	params := &bot.SendMessageParams{
		ChatID:    chatID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	if err != nil {
		b.log.Error("send message", "error", err)
	}
}

func (b *Bot) editMessage(ctx context.Context, msg models.MaybeInaccessibleMessage, text string, keyboard *models.InlineKeyboardMarkup) {
	if msg.Message == nil {
		return
	}

	params := &bot.EditMessageTextParams{
		ChatID:    msg.Message.Chat.ID,
		MessageID: msg.Message.ID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.EditMessageText(ctx, params)
	if err != nil {
		b.log.Error("edit message", "error", err)
	}
}

// SendNotification sends a notification message to a user
func (b *Bot) SendNotification(ctx context.Context, userID int64, text string, keyboard *models.InlineKeyboardMarkup) error {
	disablePreview := true
	params := &bot.SendMessageParams{
		ChatID:    userID,
		Text:      text,
		ParseMode: models.ParseModeHTML,
		LinkPreviewOptions: &models.LinkPreviewOptions{
			IsDisabled: &disablePreview,
		},
	}
	if keyboard != nil {
		params.ReplyMarkup = keyboard
	}

	_, err := b.bot.SendMessage(ctx, params)
	return err
}

func displayName(user *models.User) string {
	if user == nil {
		return "Gamer"
	}
	if user.FirstName != "" {
		return user.FirstName
	}
	if user.Username != "" {
		return user.Username
	}
	return "Gamer"
}

func formatTime(t time.Time) string {
	return t.UTC().Format("January 02, 2006 at 15:04 UTC")
}

func formatNaira(kobo int64) string {
	if kobo%100 == 0 {
		return fmt.Sprintf("₦%d", kobo/100)
	}
	return fmt.Sprintf("₦%.2f", float64(kobo)/100)
}

func dayWord(n int) string {
	if n == 1 {
		return "day"
	}
	return "days"
}
