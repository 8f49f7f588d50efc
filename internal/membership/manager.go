package membership

import (
	"context"
	"fmt"
	"log/slog"
	"strconv"
	"time"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
)

// Manager grants and revokes access to the premium channel. Every method
// is best effort: Telegram being unreachable must never fail a payment or
// a database transition, so failures are logged and reported as zero
// values instead of errors.
type Manager struct {
	bot       *bot.Bot
	chatID    any
	inviteTTL time.Duration
	log       *slog.Logger
}

// NewManager creates a channel access manager. channelID is either the
// numeric chat ID or an @username.
func NewManager(b *bot.Bot, channelID string, inviteTTL time.Duration, log *slog.Logger) *Manager {
	return &Manager{
		bot:       b,
		chatID:    parseChatID(channelID),
		inviteTTL: inviteTTL,
		log:       log,
	}
}

func parseChatID(raw string) any {
	if id, err := strconv.ParseInt(raw, 10, 64); err == nil {
		return id
	}
	return raw
}

// CreateInviteLink issues a fresh single-use invite to the premium channel.
// Returns an empty string if Telegram refuses.
func (m *Manager) CreateInviteLink(ctx context.Context, userID int64) string {
	link, err := m.bot.CreateChatInviteLink(ctx, &bot.CreateChatInviteLinkParams{
		ChatID:      m.chatID,
		Name:        fmt.Sprintf("sub-%d", userID),
		ExpireDate:  int(time.Now().Add(m.inviteTTL).Unix()),
		MemberLimit: 1,
	})
	if err != nil {
		m.log.Warn("create invite link failed", "user_id", userID, "error", err)
		return ""
	}
	return link.InviteLink
}

// CheckMembership reports whether the user is currently inside the channel
func (m *Manager) CheckMembership(ctx context.Context, userID int64) bool {
	member, err := m.bot.GetChatMember(ctx, &bot.GetChatMemberParams{
		ChatID: m.chatID,
		UserID: userID,
	})
	if err != nil {
		m.log.Warn("get chat member failed", "user_id", userID, "error", err)
		return false
	}

	switch member.Type {
	case models.ChatMemberTypeOwner, models.ChatMemberTypeAdministrator, models.ChatMemberTypeMember:
		return true
	case models.ChatMemberTypeRestricted:
		return member.Restricted != nil && member.Restricted.IsMember
	}
	return false
}

// RemoveMember kicks the user out of the channel. The immediate unban
// turns the permanent ban into a kick, so the user can rejoin with a new
// invite after renewing.
func (m *Manager) RemoveMember(ctx context.Context, userID int64) bool {
	ok, err := m.bot.BanChatMember(ctx, &bot.BanChatMemberParams{
		ChatID: m.chatID,
		UserID: userID,
	})
	if err != nil || !ok {
		m.log.Warn("remove member failed", "user_id", userID, "error", err)
		return false
	}

	if _, err := m.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       m.chatID,
		UserID:       userID,
		OnlyIfBanned: true,
	}); err != nil {
		m.log.Warn("unban after kick failed", "user_id", userID, "error", err)
	}
	return true
}

// UnbanIfBanned lifts a leftover ban so a returning subscriber can use
// their invite link. Needed when a previous kick's unban step was lost.
func (m *Manager) UnbanIfBanned(ctx context.Context, userID int64) bool {
	_, err := m.bot.UnbanChatMember(ctx, &bot.UnbanChatMemberParams{
		ChatID:       m.chatID,
		UserID:       userID,
		OnlyIfBanned: true,
	})
	if err != nil {
		m.log.Warn("unban failed", "user_id", userID, "error", err)
		return false
	}
	return true
}
