package boards

import (
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/users"
)

// Board is the persisted board record. DrawingData is an opaque
// last-write-wins blob written only through the explicit save operation; the
// realtime relay never touches it.
type Board struct {
	ID          string    `gorm:"column:id;primaryKey;size:36"`
	Title       string    `gorm:"column:title;size:190;not null"`
	OwnerID     string    `gorm:"column:owner_id;size:36;not null;index"`
	DrawingData string    `gorm:"column:drawing_data"`
	CreatedAt   time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt   time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing boards.
func (Board) TableName() string {
	return "boards"
}

// Collaboration grants a user access to a board they do not own.
type Collaboration struct {
	UserID    string    `gorm:"column:user_id;primaryKey;size:36"`
	BoardID   string    `gorm:"column:board_id;primaryKey;size:36;index"`
	CreatedAt time.Time `gorm:"column:created_at;autoCreateTime"`
}

// TableName exposes the table backing collaborations.
func (Collaboration) TableName() string {
	return "collaborations"
}

// View is a board joined with its owner and collaborator summaries, as
// returned by the read endpoints.
type View struct {
	ID            string          `json:"id"`
	Title         string          `json:"title"`
	OwnerID       string          `json:"ownerId"`
	DrawingData   string          `json:"drawingData,omitempty"`
	CreatedAt     time.Time       `json:"createdAt"`
	UpdatedAt     time.Time       `json:"updatedAt"`
	Owner         users.Summary   `json:"owner"`
	Collaborators []users.Summary `json:"collaborators"`
}
