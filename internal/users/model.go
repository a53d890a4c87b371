package users

import (
	"strings"
	"time"
)

// Account is a registered user record. The password is stored as a bcrypt
// hash; the refresh token column holds the single currently valid refresh
// token for the account (rotated on every issue).
type Account struct {
	ID           string    `gorm:"column:id;primaryKey;size:36"`
	Name         string    `gorm:"column:name;size:190;not null"`
	Email        string    `gorm:"column:email;size:320;uniqueIndex;not null"`
	PasswordHash string    `gorm:"column:password_hash;size:72;not null"`
	RefreshToken string    `gorm:"column:refresh_token;size:512"`
	CreatedAt    time.Time `gorm:"column:created_at;autoCreateTime"`
	UpdatedAt    time.Time `gorm:"column:updated_at;autoUpdateTime"`
}

// TableName exposes the table backing user accounts.
func (Account) TableName() string {
	return "users"
}

// Summary is the public projection of an account embedded in board and
// collaborator responses.
type Summary struct {
	ID    string `json:"id"`
	Name  string `json:"name"`
	Email string `json:"email"`
}

func (a Account) summary() Summary {
	return Summary{ID: a.ID, Name: a.Name, Email: a.Email}
}

func normalizeEmail(value string) string {
	return strings.ToLower(strings.TrimSpace(value))
}
