package notifications

import "time"

// Kinds of notification records. User notifications are delivered to one
// registered connection; system notifications are broadcast to every live
// connection.
const (
	KindUser   = "user"
	KindSystem = "system"
)

// Notification is a persisted notification record. Delivery over the
// realtime channel is best effort; the persisted record is the source of
// truth for the list endpoints.
type Notification struct {
	ID        string    `gorm:"column:id;primaryKey;size:36" json:"id"`
	Kind      string    `gorm:"column:kind;size:16;not null;index" json:"kind"`
	TargetID  string    `gorm:"column:target_id;size:36;index" json:"targetId,omitempty"`
	Message   string    `gorm:"column:message;size:512;not null" json:"message"`
	Read      bool      `gorm:"column:read;not null;default:false" json:"read"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime" json:"createdAt"`
}

// TableName exposes the table backing notifications.
func (Notification) TableName() string {
	return "notifications"
}
