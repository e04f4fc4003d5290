package telegram

import (
	"context"
	"fmt"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpnshare/internal/core"
)

// Notifier delivers core messages as HTML-formatted private messages.
type Notifier struct {
	api API
}

func NewNotifier(api API) *Notifier {
	return &Notifier{api: api}
}

func (n *Notifier) Notify(ctx context.Context, to core.UserID, msg core.Message) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if _, err := n.api.Send(newMessage(int64(to), msg)); err != nil {
		return fmt.Errorf("send to %d: %w", to, err)
	}
	return nil
}

func newMessage(chatID int64, msg core.Message) tgbotapi.MessageConfig {
	out := tgbotapi.NewMessage(chatID, msg.Text)
	out.ParseMode = tgbotapi.ModeHTML
	if kb, ok := inlineKeyboard(msg.Buttons); ok {
		out.ReplyMarkup = kb
	}
	return out
}

// inlineKeyboard converts button rows, skipping empty rows. ok is false when
// nothing is left.
func inlineKeyboard(rows [][]core.Button) (tgbotapi.InlineKeyboardMarkup, bool) {
	var out [][]tgbotapi.InlineKeyboardButton
	for _, row := range rows {
		var buttons []tgbotapi.InlineKeyboardButton
		for _, b := range row {
			if b.URL != "" {
				buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonURL(b.Text, b.URL))
				continue
			}
			buttons = append(buttons, tgbotapi.NewInlineKeyboardButtonData(b.Text, b.Data))
		}
		if len(buttons) > 0 {
			out = append(out, buttons)
		}
	}
	if len(out) == 0 {
		return tgbotapi.InlineKeyboardMarkup{}, false
	}
	return tgbotapi.NewInlineKeyboardMarkup(out...), true
}
