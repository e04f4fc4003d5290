package core

import "strings"

// Button is an action affordance attached to a message. Exactly one of Data
// (callback payload) or URL is set.
type Button struct {
	Text string
	Data string
	URL  string
}

// Message is a transport-neutral notification.
type Message struct {
	Text    string
	Buttons [][]Button
}

// CallbackButton builds a button that triggers a callback with data.
func CallbackButton(text, data string) Button {
	return Button{Text: text, Data: data}
}

// LinkButton builds a button opening url.
func LinkButton(text, url string) Button {
	return Button{Text: text, URL: url}
}

// Callback actions carried in button data.
const (
	ActionPaid      = "paid"
	ActionPing      = "ping"
	ActionForcePing = "forceping"
	ActionApprove   = "approve"
	ActionRemove    = "remove"
)

// CallbackData encodes an action that targets a user as "<action>:<id>".
func CallbackData(action string, id UserID) string {
	return action + ":" + id.String()
}

// ParseCallback splits button data into its action and optional target.
// Data without a target yields a zero id.
func ParseCallback(data string) (action string, target UserID, err error) {
	action, rest, found := strings.Cut(data, ":")
	if !found {
		return action, 0, nil
	}
	target, err = ParseUserID(rest)
	if err != nil {
		return action, 0, err
	}
	return action, target, nil
}
