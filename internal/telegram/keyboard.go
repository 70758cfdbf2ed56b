package telegram

import "github.com/go-telegram/bot/models"

const CallbackNewConsultation = "new_consultation"

func inlineButton(text, callbackData string) models.InlineKeyboardButton {
	return models.InlineKeyboardButton{Text: text, CallbackData: callbackData}
}

// NewConsultationKeyboard offers to drop the current session and start over.
func NewConsultationKeyboard() *models.InlineKeyboardMarkup {
	return &models.InlineKeyboardMarkup{
		InlineKeyboard: [][]models.InlineKeyboardButton{
			{inlineButton("🆕 استشارة جديدة", CallbackNewConsultation)},
		},
	}
}
