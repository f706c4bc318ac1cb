// Package notify is the boundary to the notification fan-out. The
// orchestrator fires and forgets; delivery is someone else's problem.
package notify

import (
	"log/slog"
)

// Kinds of notifications the signup flow emits.
const (
	KindWelcome          = "welcome"
	KindVerificationCode = "verification_code"
	KindPasswordReset    = "password_reset"
)

// Payload carries everything a channel needs to render a message.
type Payload struct {
	Kind    string
	Title   string
	Message string
	Data    map[string]interface{}
}

// Recipient identifies the target without coupling to the user model.
type Recipient struct {
	UserID    string
	Email     string
	Phone     string
	FirstName string
}

// Channels flags which transports to attempt.
type Channels struct {
	Email bool
	SMS   bool
	Push  bool
	InApp bool
}

type Dispatcher interface {
	// Send requests delivery. Implementations must not block the caller
	// on transport latency.
	Send(to Recipient, payload Payload, channels Channels)
}

// LogDispatcher records the request and delivers nowhere. Default until
// a real fan-out service is wired.
type LogDispatcher struct{}

func (LogDispatcher) Send(to Recipient, payload Payload, channels Channels) {
	slog.Info("notification dispatched",
		"kind", payload.Kind,
		"user_id", to.UserID,
		"email_channel", channels.Email,
		"sms_channel", channels.SMS,
	)
}
