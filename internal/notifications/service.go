package notifications

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/presence"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	// ErrUnknownKind indicates an Add request with an unrecognized kind.
	ErrUnknownKind = errors.New("notifications: unknown kind")
	// ErrNotFound indicates no notification matched the identifier.
	ErrNotFound = errors.New("notifications: not found")
)

// Emitter is the realtime addressing surface notifications are delivered
// through. Satisfied by the presence gateway.
type Emitter interface {
	EmitToUser(userID, event string, data interface{}) error
	Broadcast(event string, data interface{}) error
}

// IDProvider issues identifiers for new notifications.
type IDProvider interface {
	NewID() (string, error)
}

// ServiceConfig describes the dependencies of the notification service.
type ServiceConfig struct {
	Database   *gorm.DB
	Emitter    Emitter
	IDProvider IDProvider
	Clock      func() time.Time
	Logger     *zap.Logger
}

// Service persists notifications and pushes them over the realtime channel.
type Service struct {
	db      *gorm.DB
	emitter Emitter
	ids     IDProvider
	now     func() time.Time
	logger  *zap.Logger
}

// NewService constructs the notification service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("notifications: database connection required")
	}
	if cfg.Emitter == nil {
		return nil, fmt.Errorf("notifications: emitter required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("notifications: id provider required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	logger := cfg.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Service{
		db:      cfg.Database,
		emitter: cfg.Emitter,
		ids:     cfg.IDProvider,
		now:     clock,
		logger:  logger,
	}, nil
}

// AddRequest describes a notification to persist and deliver.
type AddRequest struct {
	Kind     string
	TargetID string
	Message  string
}

// Add persists the notification and delivers it over the realtime channel.
// Delivery failures (no live connection, relay not started) are logged and
// swallowed: the persisted record is what the list endpoints serve.
func (s *Service) Add(ctx context.Context, request AddRequest) (Notification, error) {
	if request.Kind != KindUser && request.Kind != KindSystem {
		return Notification{}, ErrUnknownKind
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Notification{}, err
	}
	notification := Notification{
		ID:        id,
		Kind:      request.Kind,
		TargetID:  request.TargetID,
		Message:   request.Message,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&notification).Error; err != nil {
		return Notification{}, err
	}

	switch notification.Kind {
	case KindUser:
		if notification.TargetID != "" {
			if err := s.emitter.EmitToUser(notification.TargetID, presence.EventNotification, notification); err != nil {
				s.logger.Warn("notification delivery skipped",
					zap.String("notificationId", notification.ID),
					zap.Error(err))
			}
		}
	case KindSystem:
		if err := s.emitter.Broadcast(presence.EventNotification, notification); err != nil {
			s.logger.Warn("notification broadcast skipped",
				zap.String("notificationId", notification.ID),
				zap.Error(err))
		}
	}
	return notification, nil
}

// ListResult is a page of notifications for one user.
type ListResult struct {
	Notifications []Notification `json:"notifications"`
	UnreadCount   int64          `json:"unreadCount"`
	Total         int64          `json:"total"`
}

// ListForUser returns the user's notifications (their own plus system-wide),
// newest first.
func (s *Service) ListForUser(ctx context.Context, userID string, limit, offset int) (ListResult, error) {
	if limit <= 0 {
		limit = 20
	}
	scope := func(tx *gorm.DB) *gorm.DB {
		return tx.Where("(kind = ? AND target_id = ?) OR kind = ?", KindUser, userID, KindSystem)
	}

	var result ListResult
	err := s.db.WithContext(ctx).Model(&Notification{}).Scopes(scope).Count(&result.Total).Error
	if err != nil {
		return ListResult{}, err
	}
	err = s.db.WithContext(ctx).Model(&Notification{}).Scopes(scope).
		Where("read = ?", false).
		Count(&result.UnreadCount).
		Error
	if err != nil {
		return ListResult{}, err
	}
	err = s.db.WithContext(ctx).Scopes(scope).
		Order("created_at DESC").
		Limit(limit).
		Offset(offset).
		Find(&result.Notifications).
		Error
	if err != nil {
		return ListResult{}, err
	}
	if result.Notifications == nil {
		result.Notifications = []Notification{}
	}
	return result, nil
}

// MarkRead flags one notification as read.
func (s *Service) MarkRead(ctx context.Context, notificationID string) (Notification, error) {
	var notification Notification
	err := s.db.WithContext(ctx).Where("id = ?", notificationID).Take(&notification).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Notification{}, ErrNotFound
	}
	if err != nil {
		return Notification{}, err
	}
	if err := s.db.WithContext(ctx).Model(&notification).Update("read", true).Error; err != nil {
		return Notification{}, err
	}
	notification.Read = true
	return notification, nil
}

// MarkAllRead flags every unread notification visible to the user as read
// and returns how many were updated.
func (s *Service) MarkAllRead(ctx context.Context, userID string) (int64, error) {
	result := s.db.WithContext(ctx).Model(&Notification{}).
		Where("(kind = ? AND target_id = ?) OR kind = ?", KindUser, userID, KindSystem).
		Where("read = ?", false).
		Update("read", true)
	return result.RowsAffected, result.Error
}
