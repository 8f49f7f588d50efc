package telegram

import (
	"github.com/go-telegram/bot/models"
	"github.com/nwaoma2005/telegram-gaming-bot/internal/config"
)

// WelcomeKeyboard returns the main menu keyboard
func WelcomeKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🚀 Upgrade to Premium", CallbackData: "subscribe"},
			},
			{
				{Text: "ℹ️ Learn More", CallbackData: "learn_more"},
				{Text: "📞 Support", CallbackData: "support"},
			},
		},
	}
}

// PlansKeyboard returns one button per purchasable plan
func PlansKeyboard(plans []config.Plan) *models.InlineKeyboardMarkup {
	var rows [][]models.InlineKeyboardButton

	for _, p := range plans {
		rows = append(rows, []models.InlineKeyboardButton{
			{Text: p.Name + " - " + formatNaira(p.AmountKobo), CallbackData: "plan_" + p.ID},
		})
	}

	rows = append(rows, []models.InlineKeyboardButton{
		{Text: "⬅️ Back", CallbackData: "back_to_menu"},
	})

	return &models.InlineKeyboardMarkup{InlineKeyboard: rows}
}

// PaymentKeyboard returns the payment link plus verification button
func PaymentKeyboard(payURL, reference string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💳 Pay Now", URL: payURL},
			},
			{
				{Text: "✅ I've Paid - Verify", CallbackData: "verify_" + reference},
			},
			{
				{Text: "⬅️ Back to Plans", CallbackData: "subscribe"},
			},
		},
	}
}

// VerifyRetryKeyboard re-offers verification for an unsettled payment
func VerifyRetryKeyboard(reference string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🔄 Try Again", CallbackData: "verify_" + reference},
			},
			{
				{Text: "📞 Support", CallbackData: "support"},
			},
		},
	}
}

// RetryPlansKeyboard returns to plan selection after a failed payment
func RetryPlansKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "💎 Choose a Plan", CallbackData: "subscribe"},
			},
			{
				{Text: "📞 Support", CallbackData: "support"},
			},
		},
	}
}

// ChannelKeyboard links into the premium channel
func ChannelKeyboard(link string) *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🎮 Join Premium Channel", URL: link},
			},
		},
	}
}

// UpgradeKeyboard nudges a free user towards the plans
func UpgradeKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🚀 Upgrade Now", CallbackData: "subscribe"},
			},
			{
				{Text: "⬅️ Back", CallbackData: "back_to_menu"},
			},
		},
	}
}

// RenewKeyboard is sent with reminders and expiry notices
func RenewKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "🚀 Renew Subscription", CallbackData: "subscribe"},
			},
		},
	}
}

// SupportKeyboard offers the support screen
func SupportKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "📞 Contact Support", CallbackData: "support"},
			},
			{
				{Text: "⬅️ Back to Menu", CallbackData: "back_to_menu"},
			},
		},
	}
}

// BackToMenuKeyboard returns a single back button
func BackToMenuKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Back to Menu", CallbackData: "back_to_menu"},
			},
		},
	}
}

// BackToPlansKeyboard returns to plan selection
func BackToPlansKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{
				{Text: "⬅️ Back to Plans", CallbackData: "subscribe"},
			},
		},
	}
}
