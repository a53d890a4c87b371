package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"golang.org/x/crypto/bcrypt"
	"gorm.io/gorm"
)

const bcryptCost = 10

var (
	// ErrEmailTaken indicates a registration attempt for an email that
	// already has an account.
	ErrEmailTaken = errors.New("users: email already in use")
	// ErrInvalidCredentials covers both unknown email and wrong password so
	// callers cannot distinguish the two.
	ErrInvalidCredentials = errors.New("users: invalid credentials")
	// ErrNotFound indicates no account matched the lookup.
	ErrNotFound = errors.New("users: account not found")
	// ErrRefreshMismatch indicates the presented refresh token is not the
	// one currently stored for the account.
	ErrRefreshMismatch = errors.New("users: refresh token mismatch")
)

// IDProvider issues identifiers for new accounts.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
}

// Service manages account registration, credential checks and refresh token
// rotation.
type Service struct {
	db  *gorm.DB
	now func() time.Time
	ids IDProvider
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("users: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("users: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, ids: cfg.IDProvider}, nil
}

// Register creates a new account with a bcrypt-hashed password.
func (s *Service) Register(ctx context.Context, name, email, password string) (Account, error) {
	email = normalizeEmail(email)
	if email == "" || strings.TrimSpace(password) == "" {
		return Account{}, ErrInvalidCredentials
	}

	var existing Account
	err := s.db.WithContext(ctx).Where("email = ?", email).Take(&existing).Error
	if err == nil {
		return Account{}, ErrEmailTaken
	}
	if !errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, err
	}

	hash, err := bcrypt.GenerateFromPassword([]byte(password), bcryptCost)
	if err != nil {
		return Account{}, err
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Account{}, err
	}

	account := Account{
		ID:           id,
		Name:         strings.TrimSpace(name),
		Email:        email,
		PasswordHash: string(hash),
		CreatedAt:    s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&account).Error; err != nil {
		return Account{}, err
	}
	return account, nil
}

// Authenticate verifies the email/password pair and returns the account.
func (s *Service) Authenticate(ctx context.Context, email, password string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrInvalidCredentials
	}
	if err != nil {
		return Account{}, err
	}
	if bcrypt.CompareHashAndPassword([]byte(account.PasswordHash), []byte(password)) != nil {
		return Account{}, ErrInvalidCredentials
	}
	return account, nil
}

// StoreRefreshToken records the account's current refresh token, replacing
// any prior one.
func (s *Service) StoreRefreshToken(ctx context.Context, userID, token string) error {
	return s.db.WithContext(ctx).
		Model(&Account{}).
		Where("id = ?", userID).
		Update("refresh_token", token).
		Error
}

// CheckRefreshToken verifies that the presented refresh token is the one
// currently stored for the account.
func (s *Service) CheckRefreshToken(ctx context.Context, userID, token string) error {
	account, err := s.GetByID(ctx, userID)
	if err != nil {
		return err
	}
	if token == "" || account.RefreshToken != token {
		return ErrRefreshMismatch
	}
	return nil
}

// GetByID fetches an account by identifier.
func (s *Service) GetByID(ctx context.Context, userID string) (Account, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Account{}, ErrNotFound
	}
	if err != nil {
		return Account{}, err
	}
	return account, nil
}

// LookupByEmail returns the public summary for the account with the email.
func (s *Service) LookupByEmail(ctx context.Context, email string) (Summary, error) {
	var account Account
	err := s.db.WithContext(ctx).Where("email = ?", normalizeEmail(email)).Take(&account).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Summary{}, ErrNotFound
	}
	if err != nil {
		return Summary{}, err
	}
	return account.summary(), nil
}

// LookupByIDs returns public summaries for the given account identifiers.
// Unknown identifiers are silently omitted.
func (s *Service) LookupByIDs(ctx context.Context, ids []string) ([]Summary, error) {
	if len(ids) == 0 {
		return nil, nil
	}
	var accounts []Account
	if err := s.db.WithContext(ctx).Where("id IN ?", ids).Find(&accounts).Error; err != nil {
		return nil, err
	}
	summaries := make([]Summary, 0, len(accounts))
	for _, account := range accounts {
		summaries = append(summaries, account.summary())
	}
	return summaries, nil
}
