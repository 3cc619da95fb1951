package model

import "time"

// Topic is a category of list-activity notification a user can enable globally.
type Topic string

const (
	TopicNewItem     Topic = "NEW_ITEM"
	TopicItemUpdated Topic = "ITEM_UPDATED"
	TopicItemDeleted Topic = "ITEM_DELETED"
	TopicItemDone    Topic = "ITEM_DONE"
	TopicItemUndone  Topic = "ITEM_UNDONE"
	TopicJoinList    Topic = "JOIN_LIST"
)

// Topics lists every known topic, in settings-page order.
var Topics = []Topic{
	TopicJoinList,
	TopicNewItem,
	TopicItemDone,
	TopicItemUndone,
	TopicItemUpdated,
	TopicItemDeleted,
}

// ValidTopic reports whether t is one of the known topics.
func ValidTopic(t Topic) bool {
	for _, known := range Topics {
		if t == known {
			return true
		}
	}
	return false
}

// Subscription is one browser/device push registration. The endpoint is
// globally unique and acts as the subscription's identity.
type Subscription struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Endpoint  string    `json:"endpoint"`
	P256dhKey string    `json:"p256dh_key"`
	AuthKey   string    `json:"auth_key"`
	CreatedAt time.Time `json:"created_at"`
}

// UserTopic marks that a user wants global notifications of one kind.
type UserTopic struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	Topic     Topic     `json:"topic"`
	CreatedAt time.Time `json:"created_at"`
}

// ListOptIn gates whether a specific list's events reach the user at all,
// independent of topic preference.
type ListOptIn struct {
	ID        int64     `json:"id"`
	UserID    int64     `json:"user_id"`
	ListID    int64     `json:"list_id"`
	CreatedAt time.Time `json:"created_at"`
}
