package push

import (
	"errors"
	"fmt"
	"log/slog"
	"testing"

	"github.com/rbrewer/listshare/internal/model"
)

type fakeSource struct {
	subs    []model.Subscription
	findErr error
	deleted []string
	delErr  error
}

func (f *fakeSource) FindEligible(listID int64, topic model.Topic, excludeUserID int64) ([]model.Subscription, error) {
	if f.findErr != nil {
		return nil, f.findErr
	}
	var eligible []model.Subscription
	for _, sub := range f.subs {
		if sub.UserID != excludeUserID {
			eligible = append(eligible, sub)
		}
	}
	return eligible, nil
}

func (f *fakeSource) DeleteByEndpoint(endpoint string) error {
	if f.delErr != nil {
		return f.delErr
	}
	f.deleted = append(f.deleted, endpoint)
	for i, sub := range f.subs {
		if sub.Endpoint == endpoint {
			f.subs = append(f.subs[:i], f.subs[i+1:]...)
			break
		}
	}
	return nil
}

type fakeSender struct {
	sent    []string
	failing map[string]error
}

func (f *fakeSender) Send(sub *model.Subscription, payload Payload) error {
	f.sent = append(f.sent, sub.Endpoint)
	if err, ok := f.failing[sub.Endpoint]; ok {
		return err
	}
	return nil
}

func discardLogger() *slog.Logger {
	return slog.New(slog.DiscardHandler)
}

func sub(userID int64, endpoint string) model.Subscription {
	return model.Subscription{UserID: userID, Endpoint: endpoint, P256dhKey: "p", AuthKey: "a"}
}

func TestDispatchDeliversToEligible(t *testing.T) {
	src := &fakeSource{subs: []model.Subscription{
		sub(1, "https://push.example.com/alice"),
		sub(2, "https://push.example.com/bob"),
	}}
	sender := &fakeSender{}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(
		Payload{Title: "Groceries - New Task", Description: "alice added Milk", URL: "/abc"},
		Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1},
	)
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	// User 1 is the origin and is excluded by resolution.
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if !results[0].Delivered() || results[0].UserID != 2 {
		t.Errorf("result = %+v, want delivery to user 2", results[0])
	}
	if len(src.deleted) != 0 {
		t.Errorf("deleted = %v, want none", src.deleted)
	}
}

func TestDispatchEmptyRecipientSet(t *testing.T) {
	src := &fakeSource{}
	sender := &fakeSender{}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none", results)
	}
	if len(sender.sent) != 0 {
		t.Errorf("sent = %v, want none", sender.sent)
	}
}

func TestDispatchResolutionFailurePropagates(t *testing.T) {
	src := &fakeSource{findErr: errors.New("db locked")}
	d := NewDispatcher(src, &fakeSender{}, discardLogger())

	_, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err == nil {
		t.Fatal("expected resolution error to propagate")
	}
}

func TestDispatchPrunesFailedSubscription(t *testing.T) {
	src := &fakeSource{subs: []model.Subscription{
		sub(2, "https://push.example.com/stale"),
	}}
	sender := &fakeSender{failing: map[string]error{
		"https://push.example.com/stale": ErrExpired,
	}}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err != nil {
		t.Fatalf("dispatch must not fail for delivery errors: %v", err)
	}
	if len(results) != 1 {
		t.Fatalf("results = %d, want 1", len(results))
	}
	if results[0].Delivered() || !results[0].Pruned {
		t.Errorf("result = %+v, want failed and pruned", results[0])
	}
	if len(src.deleted) != 1 || src.deleted[0] != "https://push.example.com/stale" {
		t.Errorf("deleted = %v, want exactly the stale endpoint", src.deleted)
	}
}

func TestDispatchPrunesOnAnyTransportError(t *testing.T) {
	// A transient network error is not distinguished from permanent
	// invalidation: the subscription is pruned either way.
	src := &fakeSource{subs: []model.Subscription{
		sub(2, "https://push.example.com/flaky"),
	}}
	sender := &fakeSender{failing: map[string]error{
		"https://push.example.com/flaky": fmt.Errorf("send push: connection reset"),
	}}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if !results[0].Pruned {
		t.Errorf("result = %+v, want pruned", results[0])
	}
}

func TestDispatchFailureIsolation(t *testing.T) {
	src := &fakeSource{subs: []model.Subscription{
		sub(2, "https://push.example.com/stale"),
		sub(3, "https://push.example.com/ok"),
		sub(4, "https://push.example.com/also-ok"),
	}}
	sender := &fakeSender{failing: map[string]error{
		"https://push.example.com/stale": ErrExpired,
	}}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}

	if len(sender.sent) != 3 {
		t.Fatalf("sent = %v, want all three attempted", sender.sent)
	}
	var delivered, failed int
	for _, r := range results {
		if r.Delivered() {
			delivered++
		} else {
			failed++
		}
	}
	if delivered != 2 || failed != 1 {
		t.Errorf("delivered = %d, failed = %d, want 2/1", delivered, failed)
	}
	if len(src.deleted) != 1 {
		t.Errorf("deleted = %v, want only the stale endpoint", src.deleted)
	}
}

func TestDispatchPruneFailureDoesNotPropagate(t *testing.T) {
	src := &fakeSource{
		subs:   []model.Subscription{sub(2, "https://push.example.com/stale")},
		delErr: errors.New("db locked"),
	}
	sender := &fakeSender{failing: map[string]error{
		"https://push.example.com/stale": ErrExpired,
	}}
	d := NewDispatcher(src, sender, discardLogger())

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1})
	if err != nil {
		t.Fatalf("dispatch: %v", err)
	}
	if results[0].Pruned {
		t.Errorf("result = %+v, want Pruned=false when delete fails", results[0])
	}
}

func TestStaleSubscriptionGoneOnNextDispatch(t *testing.T) {
	// After a failed delivery prunes bob's subscription, a second dispatch
	// resolves an empty set until he resubscribes.
	src := &fakeSource{subs: []model.Subscription{
		sub(2, "https://push.example.com/bob"),
	}}
	sender := &fakeSender{failing: map[string]error{
		"https://push.example.com/bob": ErrExpired,
	}}
	d := NewDispatcher(src, sender, discardLogger())

	meta := Meta{Topic: model.TopicNewItem, ListID: 1, OriginUserID: 1}
	if _, err := d.Dispatch(Payload{Title: "t", Description: "d"}, meta); err != nil {
		t.Fatalf("first dispatch: %v", err)
	}

	results, err := d.Dispatch(Payload{Title: "t", Description: "d"}, meta)
	if err != nil {
		t.Fatalf("second dispatch: %v", err)
	}
	if len(results) != 0 {
		t.Errorf("results = %+v, want none after pruning", results)
	}
}
