package notify

import (
	"MeshHub/logger"
)

// Notifier surfaces user-visible failures (toast layer in the app).
// The realtime client only raises terminal conditions through it:
// retry exhaustion and resend failure.
type Notifier interface {
	Warnf(format string, args ...any)
}

// LogNotifier routes notifications to the process log. The UI shell
// replaces it with a toast-backed implementation.
type LogNotifier struct{}

func (LogNotifier) Warnf(format string, args ...any) {
	logger.Warnf(format, args...)
}
