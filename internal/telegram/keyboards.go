package telegram

import (
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpnshare/internal/core"
)

// Reply keyboard labels. Each one is also accepted as typed text.
const (
	btnInfo     = "ℹ️ Info"
	btnStatus   = "💰 My status"
	btnHelp     = "🆘 Help"
	btnRemind   = "📢 Remind all"
	btnPick     = "👥 Remind member"
	btnStats    = "📊 Statistics"
	btnManage   = "ℹ️ Manage"
	btnMembers  = "🗂 Members"
	contactText = "Contact the administrator"
)

func memberKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnInfo)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnStatus)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnHelp)),
	)
}

func adminKeyboard() tgbotapi.ReplyKeyboardMarkup {
	return tgbotapi.NewReplyKeyboard(
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnRemind)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnPick)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnStats)),
		tgbotapi.NewKeyboardButtonRow(tgbotapi.NewKeyboardButton(btnManage), tgbotapi.NewKeyboardButton(btnMembers)),
	)
}

// userLink opens a private chat with id.
func userLink(id core.UserID) string {
	return fmt.Sprintf("tg://user?id=%d", id)
}

// pickerButtons lists users with one action button each.
func pickerButtons(users map[core.UserID]core.User, ids []core.UserID, action, prefix string) [][]core.Button {
	rows := make([][]core.Button, 0, len(ids))
	for _, id := range ids {
		rows = append(rows, []core.Button{
			core.CallbackButton(prefix+users[id].DisplayName(id), core.CallbackData(action, id)),
		})
	}
	return rows
}
