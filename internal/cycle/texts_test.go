package cycle

import (
	"strings"
	"testing"

	"vpnshare/internal/core"
)

func TestTextsEscapeHTML(t *testing.T) {
	tx := Texts{Price: core.Money{Cents: 35050}, Currency: "₽", PaymentInfo: "<Tinkoff> & co", BillingDay: 23}

	rem := tx.Reminder().Text
	if !strings.Contains(rem, "350.50 ₽") || !strings.Contains(rem, "&lt;Tinkoff&gt; &amp; co") {
		t.Fatalf("reminder = %q", rem)
	}
	if w := tx.Welcome(); !strings.Contains(w, "day 23") {
		t.Fatalf("welcome must mention the billing day: %q", w)
	}
	if n := PaidNotice("<Ann>", "2024-05"); n != "&lt;Ann&gt; paid for VPN for 2024-05" {
		t.Fatalf("PaidNotice = %q", n)
	}
}

func TestStatusText(t *testing.T) {
	if got := StatusText("2024-05", true); !strings.Contains(got, "✅ Paid") {
		t.Fatalf("StatusText(paid) = %q", got)
	}
	if got := StatusText("2024-05", false); !strings.Contains(got, "⏳ Pending") {
		t.Fatalf("StatusText(unpaid) = %q", got)
	}
}

func TestReportMessageEmptyLedger(t *testing.T) {
	msg := ReportMessage(core.Report{Month: "2024-05"})
	if !strings.HasSuffix(msg.Text, "  0/0 members paid.") || msg.Buttons != nil {
		t.Fatalf("unexpected %+v", msg)
	}
}
