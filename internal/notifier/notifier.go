// Package notifier
package notifier

// Notifier interface for sending operational alerts (e.g., Telegram).
type Notifier interface {
	Send(msg string) error
	SendWithRetry(msg string) error
}

// NopNotifier drops every message. It is used when no channel is configured.
type NopNotifier struct{}

func (NopNotifier) Send(string) error          { return nil }
func (NopNotifier) SendWithRetry(string) error { return nil }
