package handler

import (
	"log/slog"

	"github.com/rbrewer/listshare/internal/push"
)

// Notifier is the bridge between mutation handlers and the push dispatcher.
// Dispatch runs off the request goroutine: the mutation is already committed
// when Notify is called, so dispatch failures are logged and never affect the
// HTTP response.
type Notifier struct {
	dispatcher *push.Dispatcher
	logger     *slog.Logger
}

// NewNotifier creates a Notifier. A nil dispatcher disables notifications
// (push not configured); Notify becomes a no-op.
func NewNotifier(dispatcher *push.Dispatcher, logger *slog.Logger) *Notifier {
	return &Notifier{dispatcher: dispatcher, logger: logger}
}

// Notify dispatches a notification asynchronously.
func (n *Notifier) Notify(payload push.Payload, meta push.Meta) {
	if n == nil || n.dispatcher == nil {
		return
	}
	go func() {
		if _, err := n.dispatcher.Dispatch(payload, meta); err != nil {
			n.logger.Error("dispatch notification",
				"topic", meta.Topic, "list_id", meta.ListID, "error", err)
		}
	}()
}
