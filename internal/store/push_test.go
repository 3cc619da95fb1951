package store

import (
	"database/sql"
	"testing"

	"github.com/rbrewer/listshare/internal/database"
	"github.com/rbrewer/listshare/internal/model"
)

// pushFixture is a list "Groceries" owned by alice with bob as a member and
// carol as an unrelated user.
type pushFixture struct {
	push  *PushStore
	lists *ListStore
	items *ItemStore
	list  *model.List
	alice int64
	bob   int64
	carol int64
}

func setupPushTest(t *testing.T) *pushFixture {
	t.Helper()
	db := openTestDB(t)

	users := NewUserStore(db)
	lists := NewListStore(db)

	alice, err := users.Create("alice", "x")
	if err != nil {
		t.Fatalf("create alice: %v", err)
	}
	bob, err := users.Create("bob", "x")
	if err != nil {
		t.Fatalf("create bob: %v", err)
	}
	carol, err := users.Create("carol", "x")
	if err != nil {
		t.Fatalf("create carol: %v", err)
	}

	list, err := lists.Create(alice.ID, "Groceries")
	if err != nil {
		t.Fatalf("create list: %v", err)
	}
	if _, err := lists.AddMember(list.ID, bob.ID); err != nil {
		t.Fatalf("add member: %v", err)
	}

	return &pushFixture{
		push:  NewPushStore(db),
		lists: lists,
		items: NewItemStore(db),
		list:  list,
		alice: alice.ID,
		bob:   bob.ID,
		carol: carol.ID,
	}
}

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return db
}

// subscribe registers a device and enables topic + list opt-in for the user.
func (f *pushFixture) subscribe(t *testing.T, userID int64, endpoint string, topic model.Topic) *model.Subscription {
	t.Helper()
	sub, err := f.push.Upsert(userID, endpoint, "p256dh", "auth")
	if err != nil {
		t.Fatalf("upsert subscription: %v", err)
	}
	if err := f.push.SetTopic(userID, topic); err != nil {
		t.Fatalf("set topic: %v", err)
	}
	if err := f.push.SetListOptIn(userID, f.list.ID); err != nil {
		t.Fatalf("set list opt-in: %v", err)
	}
	return sub
}

func TestUpsertCreates(t *testing.T) {
	f := setupPushTest(t)

	sub, err := f.push.Upsert(f.bob, "https://push.example.com/bob", "k1", "a1")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.ID == 0 {
		t.Error("expected non-zero ID")
	}
	if sub.Endpoint != "https://push.example.com/bob" {
		t.Errorf("endpoint = %q", sub.Endpoint)
	}
}

func TestUpsertUpdatesInPlace(t *testing.T) {
	f := setupPushTest(t)

	sub1, _ := f.push.Upsert(f.bob, "https://push.example.com/dev", "k1", "a1")
	sub2, err := f.push.Upsert(f.bob, "https://push.example.com/dev", "k2", "a2")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}

	if sub2.ID != sub1.ID {
		t.Errorf("expected same ID on re-registration, got %d != %d", sub2.ID, sub1.ID)
	}
	if sub2.P256dhKey != "k2" || sub2.AuthKey != "a2" {
		t.Errorf("keys not updated: %+v", sub2)
	}

	subs, _ := f.push.ListByUser(f.bob)
	if len(subs) != 1 {
		t.Errorf("expected 1 subscription after upsert, got %d", len(subs))
	}
}

func TestUpsertAfterUnrelatedInsert(t *testing.T) {
	f := setupPushTest(t)

	first, _ := f.push.Upsert(f.bob, "https://push.example.com/first", "k1", "a1")
	second, _ := f.push.Upsert(f.bob, "https://push.example.com/second", "k1", "a1")

	// An insert into another table moves the connection's last-insert-rowid;
	// the re-registration below must still return its own row.
	if _, err := f.items.Create(f.list.ID, "Milk"); err != nil {
		t.Fatalf("create item: %v", err)
	}

	sub, err := f.push.Upsert(f.bob, "https://push.example.com/second", "k2", "a2")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.ID != second.ID || sub.Endpoint != "https://push.example.com/second" {
		t.Errorf("got id=%d endpoint=%q, want id=%d endpoint=%q",
			sub.ID, sub.Endpoint, second.ID, second.Endpoint)
	}
	if sub.ID == first.ID {
		t.Errorf("re-registration returned another device's row (id %d)", first.ID)
	}
	if sub.P256dhKey != "k2" || sub.AuthKey != "a2" {
		t.Errorf("keys not updated: %+v", sub)
	}
}

func TestUpsertReassignsUser(t *testing.T) {
	f := setupPushTest(t)

	// Bob logs out; carol logs in on the same browser and re-registers.
	f.push.Upsert(f.bob, "https://push.example.com/shared", "k1", "a1")
	sub, err := f.push.Upsert(f.carol, "https://push.example.com/shared", "k2", "a2")
	if err != nil {
		t.Fatalf("upsert: %v", err)
	}
	if sub.UserID != f.carol {
		t.Errorf("user_id = %d, want %d", sub.UserID, f.carol)
	}

	bobSubs, _ := f.push.ListByUser(f.bob)
	if len(bobSubs) != 0 {
		t.Errorf("expected bob to have 0 subscriptions, got %d", len(bobSubs))
	}
}

func TestFindEligibleMember(t *testing.T) {
	f := setupPushTest(t)

	f.subscribe(t, f.bob, "https://push.example.com/bob", model.TopicNewItem)

	subs, err := f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 1 || subs[0].UserID != f.bob {
		t.Fatalf("eligible = %+v, want bob's subscription", subs)
	}
}

func TestFindEligibleOwner(t *testing.T) {
	f := setupPushTest(t)

	// The owner is eligible without appearing in list_members.
	f.subscribe(t, f.alice, "https://push.example.com/alice", model.TopicItemDone)

	subs, err := f.push.FindEligible(f.list.ID, model.TopicItemDone, f.bob)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 1 || subs[0].UserID != f.alice {
		t.Fatalf("eligible = %+v, want alice's subscription", subs)
	}
}

func TestFindEligibleExcludesOrigin(t *testing.T) {
	f := setupPushTest(t)

	f.subscribe(t, f.bob, "https://push.example.com/bob", model.TopicNewItem)

	subs, err := f.push.FindEligible(f.list.ID, model.TopicNewItem, f.bob)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("origin user must never receive their own notification, got %+v", subs)
	}
}

func TestFindEligibleExcludesNonMembers(t *testing.T) {
	f := setupPushTest(t)

	// Carol has topic and opt-in but neither owns nor is a member of the list.
	f.subscribe(t, f.carol, "https://push.example.com/carol", model.TopicNewItem)

	subs, err := f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("non-member must not be eligible, got %+v", subs)
	}
}

func TestFindEligibleRequiresTopic(t *testing.T) {
	f := setupPushTest(t)

	f.subscribe(t, f.bob, "https://push.example.com/bob", model.TopicNewItem)

	// A different topic than the one enabled.
	subs, _ := f.push.FindEligible(f.list.ID, model.TopicItemDeleted, f.alice)
	if len(subs) != 0 {
		t.Errorf("expected no eligible subscriptions for disabled topic, got %+v", subs)
	}

	// Toggling the topic off removes eligibility for it.
	if err := f.push.ClearTopic(f.bob, model.TopicNewItem); err != nil {
		t.Fatalf("clear topic: %v", err)
	}
	subs, _ = f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if len(subs) != 0 {
		t.Errorf("expected no eligible subscriptions after clearing topic, got %+v", subs)
	}
}

func TestFindEligibleRequiresListOptIn(t *testing.T) {
	f := setupPushTest(t)

	// Topic enabled globally, but no opt-in for this list.
	f.push.Upsert(f.bob, "https://push.example.com/bob", "k", "a")
	f.push.SetTopic(f.bob, model.TopicNewItem)

	subs, err := f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 0 {
		t.Errorf("expected empty set without list opt-in, got %+v", subs)
	}

	// Opting in makes the user eligible; clearing it mutes the list again.
	f.push.SetListOptIn(f.bob, f.list.ID)
	subs, _ = f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if len(subs) != 1 {
		t.Fatalf("expected 1 eligible subscription after opt-in, got %d", len(subs))
	}
	f.push.ClearListOptIn(f.bob, f.list.ID)
	subs, _ = f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if len(subs) != 0 {
		t.Errorf("expected empty set after clearing opt-in, got %+v", subs)
	}
}

func TestFindEligibleMultipleDevices(t *testing.T) {
	f := setupPushTest(t)

	f.subscribe(t, f.bob, "https://push.example.com/phone", model.TopicNewItem)
	f.push.Upsert(f.bob, "https://push.example.com/laptop", "k", "a")

	subs, err := f.push.FindEligible(f.list.ID, model.TopicNewItem, f.alice)
	if err != nil {
		t.Fatalf("find eligible: %v", err)
	}
	if len(subs) != 2 {
		t.Errorf("expected both of bob's devices, got %d", len(subs))
	}
}

func TestDeleteByEndpoint(t *testing.T) {
	f := setupPushTest(t)

	f.subscribe(t, f.bob, "https://push.example.com/stale", model.TopicNewItem)
	f.push.Upsert(f.bob, "https://push.example.com/fresh", "k", "a")

	if err := f.push.DeleteByEndpoint("https://push.example.com/stale"); err != nil {
		t.Fatalf("delete by endpoint: %v", err)
	}

	// Exactly the stale subscription is gone; the user's other device remains.
	subs, _ := f.push.ListByUser(f.bob)
	if len(subs) != 1 || subs[0].Endpoint != "https://push.example.com/fresh" {
		t.Errorf("subs = %+v, want only the fresh endpoint", subs)
	}

	// Deleting a non-existent endpoint is not an error.
	if err := f.push.DeleteByEndpoint("https://push.example.com/never-existed"); err != nil {
		t.Errorf("idempotent delete returned error: %v", err)
	}
}

func TestTopicPreferences(t *testing.T) {
	f := setupPushTest(t)

	f.push.SetTopic(f.bob, model.TopicNewItem)
	f.push.SetTopic(f.bob, model.TopicJoinList)
	// Duplicate enable is a no-op.
	if err := f.push.SetTopic(f.bob, model.TopicNewItem); err != nil {
		t.Fatalf("duplicate set topic: %v", err)
	}

	topics, err := f.push.ListTopics(f.bob)
	if err != nil {
		t.Fatalf("list topics: %v", err)
	}
	if len(topics) != 2 {
		t.Fatalf("topics = %v, want 2 entries", topics)
	}

	if err := f.push.ClearAllTopics(f.bob); err != nil {
		t.Fatalf("clear all topics: %v", err)
	}
	topics, _ = f.push.ListTopics(f.bob)
	if len(topics) != 0 {
		t.Errorf("topics after clear all = %v, want none", topics)
	}
}

func TestHasSubscription(t *testing.T) {
	f := setupPushTest(t)

	has, err := f.push.HasSubscription(f.bob)
	if err != nil {
		t.Fatalf("has subscription: %v", err)
	}
	if has {
		t.Error("expected no subscription yet")
	}

	f.push.Upsert(f.bob, "https://push.example.com/bob", "k", "a")
	has, _ = f.push.HasSubscription(f.bob)
	if !has {
		t.Error("expected subscription after upsert")
	}
}

func TestHasListOptIn(t *testing.T) {
	f := setupPushTest(t)

	has, err := f.push.HasListOptIn(f.bob, f.list.ID)
	if err != nil {
		t.Fatalf("has list opt-in: %v", err)
	}
	if has {
		t.Error("expected no opt-in yet")
	}

	f.push.SetListOptIn(f.bob, f.list.ID)
	has, _ = f.push.HasListOptIn(f.bob, f.list.ID)
	if !has {
		t.Error("expected opt-in after set")
	}
}
