package telegram

import (
	"errors"
	"net/http"
	"strings"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"
)

// DeliveryFailureText explains a failed send to the administrator without
// exposing the raw API error.
func DeliveryFailureText(err error) string {
	var apiErr *tgbotapi.Error
	if errors.As(err, &apiErr) {
		msg := strings.ToLower(apiErr.Message)
		switch {
		case apiErr.Code == http.StatusForbidden && strings.Contains(msg, "blocked"):
			return "Delivery failed: the recipient has blocked the bot"
		case apiErr.Code == http.StatusForbidden && strings.Contains(msg, "initiate conversation"),
			apiErr.Code == http.StatusBadRequest && strings.Contains(msg, "chat not found"):
			return "Delivery failed: recipient has not started a conversation with the bot"
		}
	}
	return "Delivery failed, please try again later"
}
