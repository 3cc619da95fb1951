package push

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/rbrewer/listshare/internal/model"
)

// SubscriptionSource resolves recipients and prunes dead registrations.
// *store.PushStore satisfies it.
type SubscriptionSource interface {
	FindEligible(listID int64, topic model.Topic, excludeUserID int64) ([]model.Subscription, error)
	DeleteByEndpoint(endpoint string) error
}

// Meta identifies the mutation a notification is about.
type Meta struct {
	Topic        model.Topic
	ListID       int64
	OriginUserID int64
}

// Result is the outcome of one delivery attempt within a dispatch.
type Result struct {
	Endpoint string
	UserID   int64
	Err      error
	Pruned   bool
}

// Delivered reports whether the message reached the push service.
func (r Result) Delivered() bool {
	return r.Err == nil
}

// Dispatcher fans a notification out to every eligible subscription.
type Dispatcher struct {
	subs   SubscriptionSource
	sender Sender
	logger *slog.Logger
}

func NewDispatcher(subs SubscriptionSource, sender Sender, logger *slog.Logger) *Dispatcher {
	return &Dispatcher{subs: subs, sender: sender, logger: logger}
}

// Dispatch resolves the recipient set for meta and attempts one delivery per
// subscription. Each attempt is independent: a failure prunes that
// subscription (any transport error is treated as permanent invalidation, so
// a transient network error also costs the device its registration) and never
// aborts the remaining attempts. The returned error is non-nil only when
// recipient resolution itself fails; per-subscription outcomes are reported
// in the Result slice.
func (d *Dispatcher) Dispatch(payload Payload, meta Meta) ([]Result, error) {
	subs, err := d.subs.FindEligible(meta.ListID, meta.Topic, meta.OriginUserID)
	if err != nil {
		return nil, fmt.Errorf("resolve recipients: %w", err)
	}

	results := make([]Result, 0, len(subs))
	for i := range subs {
		sub := &subs[i]
		res := Result{Endpoint: sub.Endpoint, UserID: sub.UserID}

		if err := d.sender.Send(sub, payload); err != nil {
			res.Err = err
			if errors.Is(err, ErrExpired) {
				d.logger.Info("pruning expired subscription", "endpoint", sub.Endpoint)
			} else {
				d.logger.Warn("push delivery failed, pruning subscription",
					"endpoint", sub.Endpoint, "error", err)
			}
			if delErr := d.subs.DeleteByEndpoint(sub.Endpoint); delErr != nil {
				d.logger.Error("delete stale subscription", "endpoint", sub.Endpoint, "error", delErr)
			} else {
				res.Pruned = true
			}
		}

		results = append(results, res)
	}

	return results, nil
}
