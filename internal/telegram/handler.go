package telegram

import (
	"context"
	"errors"
	"fmt"
	"html"
	"log/slog"
	"sort"
	"strings"
	"time"

	tgbotapi "github.com/go-telegram-bot-api/telegram-bot-api/v5"

	"vpnshare/internal/cache"
	"vpnshare/internal/core"
	"vpnshare/internal/cycle"
	"vpnshare/internal/services"
)

const (
	genericFailure = "⚠️ Something went wrong, please try again later."
	notRegistered  = "You are not registered yet. Send /start first."
	rateLimited    = "⏳ Too many requests, please slow down."
	adminOnly      = "Only the administrator can do that."
	addUsage       = "Usage: /add &lt;telegram id&gt; &lt;name&gt;"

	adminCommands = "• 📢 Remind all: reminder to everyone who has not paid\n" +
		"• 👥 Remind member: pick anyone to remind\n" +
		"• 📊 Statistics: who has paid and who has not\n" +
		"• 🗂 Members: list and remove members\n" +
		"• /summary, /remind_now, /members: the same actions as text\n" +
		"• /add &lt;id&gt; &lt;name&gt;: add a member past the limit"
)

// Limiter decides whether key may act now.
type Limiter interface {
	Allow(key string) bool
}

// Handler dispatches updates from private chats.
type Handler struct {
	api     API
	members *services.MembershipService
	cycle   *cycle.Cycle
	limiter Limiter

	// Join requests refused for capacity, kept until the administrator
	// approves them or they expire.
	pending *cache.LRU[core.UserID, services.Profile]
}

const (
	pendingTTL  = 7 * 24 * time.Hour
	pendingSize = 64
)

func NewHandler(api API, members *services.MembershipService, c *cycle.Cycle, limiter Limiter) *Handler {
	return &Handler{
		api:     api,
		members: members,
		cycle:   c,
		limiter: limiter,
		pending: cache.NewLRU[core.UserID, services.Profile](pendingSize, pendingTTL),
	}
}

func (h *Handler) HandleUpdate(ctx context.Context, upd tgbotapi.Update) {
	if upd.CallbackQuery != nil {
		h.HandleCallback(ctx, upd.CallbackQuery)
		return
	}

	msg := upd.Message
	if msg == nil || msg.From == nil || msg.Chat == nil {
		return
	}
	// Group chats are ignored.
	if !msg.Chat.IsPrivate() {
		return
	}

	chatID := msg.Chat.ID
	from := core.UserID(msg.From.ID)
	if !h.allow(ctx, from) {
		h.reply(ctx, chatID, rateLimited, nil)
		return
	}

	text := strings.TrimSpace(msg.Text)
	cmd, args := splitCommand(text)

	switch {
	case cmd == "/start":
		h.handleStart(ctx, chatID, msg.From)
		return
	case cmd == "/info" || text == btnInfo:
		h.reply(ctx, chatID, h.cycle.Texts().Welcome(), nil)
		return
	case cmd == "/my_status" || text == btnStatus:
		h.handleStatus(ctx, chatID, from)
		return
	case cmd == "/help" || text == btnHelp:
		h.handleHelp(ctx, chatID)
		return
	case cmd == "/paid":
		text, _ := h.recordPayment(ctx, msg.From)
		h.reply(ctx, chatID, text, nil)
		return
	}

	if !h.members.IsAdmin(from) {
		slog.DebugContext(ctx, "Ignoring unrecognised message", "user_id", from)
		return
	}

	switch {
	case cmd == "/remind_now" || text == btnRemind:
		h.handleRemindAll(ctx, chatID)
	case cmd == "/remind" || text == btnPick:
		h.handlePickMember(ctx, chatID)
	case cmd == "/summary" || text == btnStats:
		h.handleSummary(ctx, chatID)
	case cmd == "/manage" || text == btnManage:
		h.reply(ctx, chatID, "📋 <b>Administrator commands</b>\n"+adminCommands, adminKeyboard())
	case cmd == "/members" || text == btnMembers:
		h.handleMembers(ctx, chatID)
	case cmd == "/add":
		h.handleAdd(ctx, chatID, args)
	default:
		slog.DebugContext(ctx, "Ignoring unrecognised admin message", "user_id", from)
	}
}

func (h *Handler) handleStart(ctx context.Context, chatID int64, u *tgbotapi.User) {
	p := profileOf(u)
	outcome, err := h.members.Join(ctx, p)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to register user", "user_id", p.ID, "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	slog.InfoContext(ctx, "Start handled", "user_id", p.ID, "outcome", outcome)

	switch outcome {
	case services.JoinedAdmin:
		h.reply(ctx, chatID, "👋 Hello, <b>administrator</b>!\n"+adminCommands, adminKeyboard())
	case services.Joined, services.AlreadyMember:
		h.reply(ctx, chatID, h.cycle.Texts().Welcome(), memberKeyboard())
	case services.CapacityReached:
		h.pending.Set(p.ID, p)

		full := core.Message{
			Text: "😔 Sorry, all connection slots are taken.\n" +
				"Tap the button below to contact the administrator.",
			Buttons: [][]core.Button{{core.LinkButton(contactText, userLink(h.members.AdminID()))}},
		}
		h.send(ctx, chatID, full)
		h.notifyAdmin(ctx, core.Message{
			Text: fmt.Sprintf("🙋 <b>%s</b> asked to join, but all %d slots are taken.",
				html.EscapeString(displayProfile(p)), h.members.MaxMembers()),
			Buttons: [][]core.Button{{core.CallbackButton("Approve ✅", core.CallbackData(core.ActionApprove, p.ID))}},
		})
	}
}

func (h *Handler) handleStatus(ctx context.Context, chatID int64, id core.UserID) {
	month, paid, err := h.members.Status(ctx, id)
	if errors.Is(err, core.ErrUnknownUser) {
		h.reply(ctx, chatID, notRegistered, nil)
		return
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to read payment status", "user_id", id, "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	h.reply(ctx, chatID, cycle.StatusText(month, paid), nil)
}

func (h *Handler) handleHelp(ctx context.Context, chatID int64) {
	h.send(ctx, chatID, core.Message{
		Text:    "If you have any questions, message the administrator:",
		Buttons: [][]core.Button{{core.LinkButton("Message the administrator", userLink(h.members.AdminID()))}},
	})
}

// recordPayment marks the sender as paid for the current month and tells the
// administrator. It returns the text to show the sender and whether the mark
// was recorded.
func (h *Handler) recordPayment(ctx context.Context, u *tgbotapi.User) (string, bool) {
	id := core.UserID(u.ID)
	month, err := h.members.MarkPaid(ctx, id, core.ActorSelf)
	if errors.Is(err, core.ErrUnknownUser) {
		return notRegistered, false
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to record payment", "user_id", id, "error", err)
		return genericFailure, false
	}
	slog.InfoContext(ctx, "Payment recorded", "user_id", id, "month", month)

	if !h.members.IsAdmin(id) {
		h.notifyAdmin(ctx, core.Message{Text: cycle.PaidNotice(displayProfile(profileOf(u)), month)})
	}
	return cycle.PaidConfirmed, true
}

func (h *Handler) handleRemindAll(ctx context.Context, chatID int64) {
	res, err := h.cycle.RemindDebtors(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Manual reminder run failed", "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	if res.Attempted == 0 {
		h.reply(ctx, chatID, fmt.Sprintf("🎉 Everyone has paid for %s, nobody to remind.", res.Month), nil)
		return
	}

	text := fmt.Sprintf("✅ Reminders sent: %d of %d.", res.Delivered, res.Attempted)
	if len(res.Failed) > 0 {
		text += fmt.Sprintf("\n⚠️ %d could not be delivered.", len(res.Failed))
	}
	h.reply(ctx, chatID, text, nil)
}

func (h *Handler) handlePickMember(ctx context.Context, chatID int64) {
	members, err := h.members.Members(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list members", "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	if len(members) == 0 {
		h.reply(ctx, chatID, "No members yet.", nil)
		return
	}
	h.send(ctx, chatID, core.Message{
		Text:    "Choose a member to remind:",
		Buttons: pickerButtons(members, sortedIDs(members), core.ActionForcePing, ""),
	})
}

func (h *Handler) handleSummary(ctx context.Context, chatID int64) {
	// The report itself goes to the administrator's chat.
	if _, err := h.cycle.Summarize(ctx); err != nil {
		slog.ErrorContext(ctx, "Manual summary failed", "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
	}
}

func (h *Handler) handleMembers(ctx context.Context, chatID int64) {
	month := h.cycle.CurrentMonth()
	members, err := h.members.Members(ctx)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to list members", "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	report, err := h.cycle.BuildReport(ctx, month)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to build report", "month", month, "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return
	}
	owing := make(map[core.UserID]bool, len(report.Debtors))
	for _, d := range report.Debtors {
		owing[d.ID] = true
	}

	ids := sortedIDs(members)
	var b strings.Builder
	fmt.Fprintf(&b, "🗂 <b>Members (%d/%d)</b>, %s", len(ids), h.members.MaxMembers(), month)
	for _, id := range ids {
		mark := "✅"
		if owing[id] {
			mark = "⏳"
		}
		fmt.Fprintf(&b, "\n%s %s <code>%d</code>", mark, html.EscapeString(members[id].DisplayName(id)), id)
	}
	if len(ids) == 0 {
		b.WriteString("\nNo members yet.")
	}

	h.send(ctx, chatID, core.Message{
		Text:    b.String(),
		Buttons: pickerButtons(members, ids, core.ActionRemove, "❌ Remove "),
	})
}

func (h *Handler) handleAdd(ctx context.Context, chatID int64, args string) {
	idText, name, _ := strings.Cut(args, " ")
	name = strings.TrimSpace(name)
	id, err := core.ParseUserID(idText)
	if err != nil || name == "" {
		h.reply(ctx, chatID, addUsage, nil)
		return
	}
	if h.members.IsAdmin(id) {
		h.reply(ctx, chatID, "That is your own id.", nil)
		return
	}
	h.approve(ctx, chatID, services.Profile{ID: id, Name: name})
}

// approve registers p on the administrator's behalf and welcomes them.
func (h *Handler) approve(ctx context.Context, chatID int64, p services.Profile) string {
	created, err := h.members.AddMember(ctx, p)
	if err != nil {
		slog.ErrorContext(ctx, "Failed to add member", "user_id", p.ID, "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return "Failed"
	}

	h.pending.Delete(p.ID)

	name := html.EscapeString(displayProfile(p))
	if !created {
		h.reply(ctx, chatID, fmt.Sprintf("ℹ️ %s is already registered.", name), nil)
		return "Already registered"
	}
	slog.InfoContext(ctx, "Member added by administrator", "user_id", p.ID)

	welcome := tgbotapi.NewMessage(int64(p.ID), h.cycle.Texts().Welcome())
	welcome.ParseMode = tgbotapi.ModeHTML
	welcome.ReplyMarkup = memberKeyboard()
	if _, err := h.api.Send(welcome); err != nil {
		slog.WarnContext(ctx, "Failed to welcome added member", "user_id", p.ID, "error", err)
		h.reply(ctx, chatID, fmt.Sprintf("✅ %s was added.\n%s", name, DeliveryFailureText(err)), nil)
		return "Added"
	}
	h.reply(ctx, chatID, fmt.Sprintf("✅ %s was added and welcomed.", name), nil)
	return "Added"
}

// HandleCallback handles inline button presses. Every query is answered so
// the client stops its progress indicator.
func (h *Handler) HandleCallback(ctx context.Context, q *tgbotapi.CallbackQuery) {
	if q.From == nil {
		return
	}
	ack := ""
	defer func() { h.answer(ctx, q.ID, ack) }()

	from := core.UserID(q.From.ID)
	if !h.allow(ctx, from) {
		ack = rateLimited
		return
	}

	action, target, err := core.ParseCallback(q.Data)
	if err != nil {
		slog.WarnContext(ctx, "Malformed callback data", "user_id", from, "data", q.Data)
		return
	}

	if action == core.ActionPaid {
		text, ok := h.recordPayment(ctx, q.From)
		if ok && q.Message != nil {
			h.edit(ctx, q.Message, text)
			return
		}
		ack = text
		return
	}

	if !h.members.IsAdmin(from) {
		ack = adminOnly
		return
	}
	chatID := q.From.ID

	switch action {
	case core.ActionPing, core.ActionForcePing:
		if err := h.cycle.RemindOne(ctx, target); err != nil {
			slog.WarnContext(ctx, "Interactive reminder failed", "user_id", target, "error", err)
			h.reply(ctx, chatID, DeliveryFailureText(err), nil)
			ack = "Delivery failed"
			return
		}
		ack = "Reminder sent!"
		if action == core.ActionForcePing {
			ack = "Forced reminder sent!"
		}
	case core.ActionApprove:
		p, ok := h.pending.Get(target)
		if !ok {
			p = services.Profile{ID: target}
		}
		ack = h.approve(ctx, chatID, p)
	case core.ActionRemove:
		ack = h.remove(ctx, chatID, q.Message, target)
	default:
		slog.WarnContext(ctx, "Unknown callback action", "user_id", from, "action", action)
	}
}

func (h *Handler) remove(ctx context.Context, chatID int64, origin *tgbotapi.Message, id core.UserID) string {
	u, removed, err := h.members.Remove(ctx, id)
	if errors.Is(err, services.ErrAdminRemoval) {
		return "The administrator cannot be removed"
	}
	if err != nil {
		slog.ErrorContext(ctx, "Failed to remove member", "user_id", id, "error", err)
		h.reply(ctx, chatID, genericFailure, nil)
		return "Failed"
	}
	if !removed {
		return "Already removed"
	}
	slog.InfoContext(ctx, "Member removed", "user_id", id)

	name := html.EscapeString(u.DisplayName(id))
	if origin != nil {
		h.edit(ctx, origin, fmt.Sprintf("🗑 %s was removed.", name))
	}

	notice := core.Message{Text: "Your access to the shared VPN has been removed by the administrator."}
	if _, err := h.api.Send(newMessage(int64(id), notice)); err != nil {
		slog.WarnContext(ctx, "Failed to send removal notice", "user_id", id, "error", err)
		h.reply(ctx, chatID, DeliveryFailureText(err), nil)
	}
	return "Removed"
}

func (h *Handler) allow(ctx context.Context, id core.UserID) bool {
	if h.limiter == nil || h.limiter.Allow("tg:"+id.String()) {
		return true
	}
	slog.WarnContext(ctx, "Rate limit exceeded", "user_id", id)
	return false
}

// registered reports whether id is the administrator or a known member.
func (h *Handler) notifyAdmin(ctx context.Context, msg core.Message) {
	if _, err := h.api.Send(newMessage(int64(h.members.AdminID()), msg)); err != nil {
		slog.WarnContext(ctx, "Failed to notify administrator", "error", err)
	}
}

func (h *Handler) reply(ctx context.Context, chatID int64, text string, markup interface{}) {
	msg := tgbotapi.NewMessage(chatID, text)
	msg.ParseMode = tgbotapi.ModeHTML
	if markup != nil {
		msg.ReplyMarkup = markup
	}
	if _, err := h.api.Send(msg); err != nil {
		slog.WarnContext(ctx, "Failed to send reply", "chat_id", chatID, "error", err)
	}
}

func (h *Handler) send(ctx context.Context, chatID int64, msg core.Message) {
	if _, err := h.api.Send(newMessage(chatID, msg)); err != nil {
		slog.WarnContext(ctx, "Failed to send message", "chat_id", chatID, "error", err)
	}
}

// edit replaces the text of m and drops its inline keyboard.
func (h *Handler) edit(ctx context.Context, m *tgbotapi.Message, text string) {
	if m.Chat == nil {
		return
	}
	e := tgbotapi.NewEditMessageText(m.Chat.ID, m.MessageID, text)
	e.ParseMode = tgbotapi.ModeHTML
	if _, err := h.api.Send(e); err != nil {
		slog.WarnContext(ctx, "Failed to edit message", "chat_id", m.Chat.ID, "error", err)
	}
}

func (h *Handler) answer(ctx context.Context, queryID, text string) {
	if _, err := h.api.Request(tgbotapi.NewCallback(queryID, text)); err != nil {
		slog.DebugContext(ctx, "Failed to answer callback", "error", err)
	}
}

// splitCommand returns the command of text, without any @botname suffix,
// and its arguments. Text that is not a command yields an empty command.
func splitCommand(text string) (cmd, args string) {
	if !strings.HasPrefix(text, "/") {
		return "", ""
	}
	cmd, args, _ = strings.Cut(text, " ")
	if i := strings.Index(cmd, "@"); i != -1 {
		cmd = cmd[:i]
	}
	return strings.ToLower(cmd), strings.TrimSpace(args)
}

func profileOf(u *tgbotapi.User) services.Profile {
	p := services.Profile{
		ID:   core.UserID(u.ID),
		Name: strings.TrimSpace(u.FirstName + " " + u.LastName),
	}
	if u.UserName != "" {
		handle := u.UserName
		p.Username = &handle
	}
	return p
}

func displayProfile(p services.Profile) string {
	return core.User{Name: p.Name, Username: p.Username}.DisplayName(p.ID)
}

func sortedIDs(users map[core.UserID]core.User) []core.UserID {
	ids := make([]core.UserID, 0, len(users))
	for id := range users {
		ids = append(ids, id)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}
