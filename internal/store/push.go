package store

import (
	"database/sql"
	"fmt"

	"github.com/rbrewer/listshare/internal/model"
)

type PushStore struct {
	db *sql.DB
}

func NewPushStore(db *sql.DB) *PushStore {
	return &PushStore{db: db}
}

func scanSubscription(scanner interface{ Scan(...any) error }) (*model.Subscription, error) {
	var sub model.Subscription
	err := scanner.Scan(&sub.ID, &sub.UserID, &sub.Endpoint, &sub.P256dhKey, &sub.AuthKey, &sub.CreatedAt)
	if err != nil {
		return nil, err
	}
	return &sub, nil
}

const subscriptionCols = `id, user_id, endpoint, p256dh_key, auth_key, created_at`

// Upsert saves a device registration. If a subscription with this endpoint
// already exists its keys and owning user are overwritten, so a browser that
// re-registers, or is claimed by a different logged-in user, keeps a single row.
func (s *PushStore) Upsert(userID int64, endpoint, p256dh, auth string) (*model.Subscription, error) {
	_, err := s.db.Exec(
		`INSERT INTO push_subscriptions (user_id, endpoint, p256dh_key, auth_key)
		 VALUES (?, ?, ?, ?)
		 ON CONFLICT(endpoint) DO UPDATE SET p256dh_key = excluded.p256dh_key, auth_key = excluded.auth_key, user_id = excluded.user_id`,
		userID, endpoint, p256dh, auth,
	)
	if err != nil {
		return nil, fmt.Errorf("upsert push subscription: %w", err)
	}

	// On the update path last-insert-rowid still holds whatever row some
	// earlier INSERT created, so it cannot identify the upserted row. The
	// endpoint is unique and always can.
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err != nil {
		return nil, fmt.Errorf("get push subscription: %w", err)
	}
	return sub, nil
}

func (s *PushStore) GetByEndpoint(endpoint string) (*model.Subscription, error) {
	row := s.db.QueryRow(`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	sub, err := scanSubscription(row)
	if err == sql.ErrNoRows {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("get push subscription by endpoint: %w", err)
	}
	return sub, nil
}

func (s *PushStore) ListByUser(userID int64) ([]model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT `+subscriptionCols+` FROM push_subscriptions WHERE user_id = ? ORDER BY created_at DESC`,
		userID,
	)
	if err != nil {
		return nil, fmt.Errorf("list push subscriptions by user: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// HasSubscription reports whether the user has at least one registered device.
func (s *PushStore) HasSubscription(userID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(`SELECT COUNT(*) FROM push_subscriptions WHERE user_id = ?`, userID).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("count push subscriptions: %w", err)
	}
	return count > 0, nil
}

// DeleteByEndpoint removes a subscription by its unique endpoint. Deleting an
// endpoint that does not exist is not an error.
func (s *PushStore) DeleteByEndpoint(endpoint string) error {
	_, err := s.db.Exec(`DELETE FROM push_subscriptions WHERE endpoint = ?`, endpoint)
	if err != nil {
		return fmt.Errorf("delete push subscription by endpoint: %w", err)
	}
	return nil
}

// FindEligible returns the subscriptions of every user who should be notified
// about (list, topic) activity originating from excludeUserID. A user is
// eligible only when all four hold: they own or are a member of the list, they
// are not the originating user, the topic is in their global preferences, and
// they opted into notifications for this specific list.
func (s *PushStore) FindEligible(listID int64, topic model.Topic, excludeUserID int64) ([]model.Subscription, error) {
	rows, err := s.db.Query(
		`SELECT s.id, s.user_id, s.endpoint, s.p256dh_key, s.auth_key, s.created_at
		 FROM push_subscriptions s
		 JOIN lists l ON l.id = ?
		 WHERE s.user_id != ?
		   AND (l.owner_id = s.user_id
		        OR EXISTS (SELECT 1 FROM list_members m WHERE m.list_id = l.id AND m.user_id = s.user_id))
		   AND EXISTS (SELECT 1 FROM user_topics t WHERE t.user_id = s.user_id AND t.topic = ?)
		   AND EXISTS (SELECT 1 FROM list_notifications n WHERE n.user_id = s.user_id AND n.list_id = l.id)
		 ORDER BY s.id`,
		listID, excludeUserID, string(topic),
	)
	if err != nil {
		return nil, fmt.Errorf("find eligible subscriptions: %w", err)
	}
	defer rows.Close()
	return scanSubscriptions(rows)
}

// SetTopic enables a global topic preference for the user. Idempotent.
func (s *PushStore) SetTopic(userID int64, topic model.Topic) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO user_topics (user_id, topic) VALUES (?, ?)`,
		userID, string(topic),
	)
	if err != nil {
		return fmt.Errorf("set topic preference: %w", err)
	}
	return nil
}

// ClearTopic disables a global topic preference for the user. Idempotent.
func (s *PushStore) ClearTopic(userID int64, topic model.Topic) error {
	_, err := s.db.Exec(
		`DELETE FROM user_topics WHERE user_id = ? AND topic = ?`,
		userID, string(topic),
	)
	if err != nil {
		return fmt.Errorf("clear topic preference: %w", err)
	}
	return nil
}

// ClearAllTopics removes every global topic preference for the user.
func (s *PushStore) ClearAllTopics(userID int64) error {
	_, err := s.db.Exec(`DELETE FROM user_topics WHERE user_id = ?`, userID)
	if err != nil {
		return fmt.Errorf("clear all topic preferences: %w", err)
	}
	return nil
}

func (s *PushStore) ListTopics(userID int64) ([]model.Topic, error) {
	rows, err := s.db.Query(`SELECT topic FROM user_topics WHERE user_id = ? ORDER BY topic`, userID)
	if err != nil {
		return nil, fmt.Errorf("list topic preferences: %w", err)
	}
	defer rows.Close()

	var topics []model.Topic
	for rows.Next() {
		var t string
		if err := rows.Scan(&t); err != nil {
			return nil, fmt.Errorf("scan topic: %w", err)
		}
		topics = append(topics, model.Topic(t))
	}
	return topics, rows.Err()
}

// SetListOptIn enables notifications for one specific list. Idempotent.
func (s *PushStore) SetListOptIn(userID, listID int64) error {
	_, err := s.db.Exec(
		`INSERT OR IGNORE INTO list_notifications (user_id, list_id) VALUES (?, ?)`,
		userID, listID,
	)
	if err != nil {
		return fmt.Errorf("set list opt-in: %w", err)
	}
	return nil
}

// ClearListOptIn disables notifications for one specific list. Idempotent.
func (s *PushStore) ClearListOptIn(userID, listID int64) error {
	_, err := s.db.Exec(
		`DELETE FROM list_notifications WHERE user_id = ? AND list_id = ?`,
		userID, listID,
	)
	if err != nil {
		return fmt.Errorf("clear list opt-in: %w", err)
	}
	return nil
}

func (s *PushStore) HasListOptIn(userID, listID int64) (bool, error) {
	var count int
	err := s.db.QueryRow(
		`SELECT COUNT(*) FROM list_notifications WHERE user_id = ? AND list_id = ?`,
		userID, listID,
	).Scan(&count)
	if err != nil {
		return false, fmt.Errorf("check list opt-in: %w", err)
	}
	return count > 0, nil
}

func scanSubscriptions(rows *sql.Rows) ([]model.Subscription, error) {
	var subs []model.Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("scan push subscription: %w", err)
		}
		subs = append(subs, *sub)
	}
	return subs, rows.Err()
}
