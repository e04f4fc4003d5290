package cycle

import (
	"fmt"
	"html"
	"strings"

	"vpnshare/internal/core"
)

// Texts holds the values interpolated into member-facing messages. Output is
// Telegram HTML.
type Texts struct {
	Price       core.Money
	Currency    string
	PaymentInfo string
	BillingDay  int
}

const (
	PaidButtonText = "Paid ✅"
	PaidConfirmed  = "✅ Thanks, your payment is recorded!"
)

func (t Texts) amount() string {
	return html.EscapeString(t.Price.String() + " " + t.Currency)
}

// Reminder is the monthly payment reminder with its "paid" button.
func (t Texts) Reminder() core.Message {
	return core.Message{
		Text: "👋 <b>VPN payment reminder</b>\n" +
			"Amount: <b>" + t.amount() + "</b>\n" +
			"Transfer to: <b>" + html.EscapeString(t.PaymentInfo) + "</b>\n\n" +
			"Tap the button below once you have paid ↓",
		Buttons: [][]core.Button{{core.CallbackButton(PaidButtonText, core.ActionPaid)}},
	}
}

// Welcome explains the payment terms to a new or returning member.
func (t Texts) Welcome() string {
	return "👋 <b>You are connected to our VPN server</b>\n\n" +
		fmt.Sprintf("• Payment is due <b>every month on day %d</b>\n", t.BillingDay) +
		"• Amount: <b>" + t.amount() + "</b>\n" +
		"• Transfer to: <b>" + html.EscapeString(t.PaymentInfo) + "</b>\n\n" +
		"After paying, tap <b>«" + PaidButtonText + "»</b> in the reminder or send /paid."
}

// PaidNotice tells the administrator that name paid for month.
func PaidNotice(name string, month core.Month) string {
	return fmt.Sprintf("%s paid for VPN for %s", html.EscapeString(name), month)
}

// StatusText describes a member's standing for month.
func StatusText(month core.Month, paid bool) string {
	status := "⏳ Pending"
	if paid {
		status = "✅ Paid"
	}
	return fmt.Sprintf("<b>Status for %s</b>: %s", month, status)
}

// ReportMessage renders r for the administrator, with one ping button per
// debtor.
func ReportMessage(r core.Report) core.Message {
	var b strings.Builder
	fmt.Fprintf(&b, "<b>Payment report for %s</b>\n", r.Month)
	b.WriteString(strings.Repeat("▓", r.Paid))
	b.WriteString(strings.Repeat("░", len(r.Debtors)))
	fmt.Fprintf(&b, "  %d/%d members paid.", r.Paid, r.Total)

	msg := core.Message{Text: b.String()}
	for _, d := range r.Debtors {
		msg.Buttons = append(msg.Buttons, []core.Button{
			core.CallbackButton("Ping 🚀 "+d.Name, core.CallbackData(core.ActionPing, d.ID)),
		})
	}
	return msg
}
