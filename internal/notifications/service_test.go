package notifications

import (
	"context"
	"errors"
	"testing"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/presence"
	"github.com/MarcoPoloResearchLab/easel/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"gorm.io/gorm"
)

type fakeEmitter struct {
	emits      []emitRecord
	broadcasts []emitRecord
	err        error
}

type emitRecord struct {
	userID string
	event  string
	data   interface{}
}

func (f *fakeEmitter) EmitToUser(userID, event string, data interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.emits = append(f.emits, emitRecord{userID: userID, event: event, data: data})
	return nil
}

func (f *fakeEmitter) Broadcast(event string, data interface{}) error {
	if f.err != nil {
		return f.err
	}
	f.broadcasts = append(f.broadcasts, emitRecord{event: event, data: data})
	return nil
}

func newTestService(t *testing.T, emitter Emitter) *Service {
	t.Helper()
	db, err := gorm.Open(sqlite.Open("file:"+t.Name()+"?mode=memory&cache=shared"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed to open in-memory database: %v", err)
	}
	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed to access database handle: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	if err := db.AutoMigrate(&Notification{}); err != nil {
		t.Fatalf("failed to migrate schema: %v", err)
	}

	service, err := NewService(ServiceConfig{
		Database:   db,
		Emitter:    emitter,
		IDProvider: users.NewUUIDProvider(),
	})
	if err != nil {
		t.Fatalf("failed to construct service: %v", err)
	}
	return service
}

func TestAddUserNotificationEmitsToTarget(t *testing.T) {
	emitter := &fakeEmitter{}
	service := newTestService(t, emitter)

	notification, err := service.Add(context.Background(), AddRequest{
		Kind:     KindUser,
		TargetID: "user-1",
		Message:  "Welcome!",
	})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if notification.ID == "" {
		t.Fatal("expected a notification identifier")
	}

	if len(emitter.emits) != 1 {
		t.Fatalf("expected one direct emit, got %d", len(emitter.emits))
	}
	emit := emitter.emits[0]
	if emit.userID != "user-1" || emit.event != presence.EventNotification {
		t.Fatalf("unexpected emit: %+v", emit)
	}
	if len(emitter.broadcasts) != 0 {
		t.Fatalf("expected no broadcast for a user notification, got %d", len(emitter.broadcasts))
	}
}

func TestAddSystemNotificationBroadcasts(t *testing.T) {
	emitter := &fakeEmitter{}
	service := newTestService(t, emitter)

	if _, err := service.Add(context.Background(), AddRequest{
		Kind:    KindSystem,
		Message: "Maintenance at midnight",
	}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	if len(emitter.broadcasts) != 1 {
		t.Fatalf("expected one broadcast, got %d", len(emitter.broadcasts))
	}
	if len(emitter.emits) != 0 {
		t.Fatalf("expected no direct emit for a system notification, got %d", len(emitter.emits))
	}
}

func TestAddRejectsUnknownKind(t *testing.T) {
	service := newTestService(t, &fakeEmitter{})
	if _, err := service.Add(context.Background(), AddRequest{Kind: "shop"}); !errors.Is(err, ErrUnknownKind) {
		t.Fatalf("expected ErrUnknownKind, got %v", err)
	}
}

func TestAddSurvivesDeliveryFailure(t *testing.T) {
	emitter := &fakeEmitter{err: presence.ErrNotStarted}
	service := newTestService(t, emitter)

	notification, err := service.Add(context.Background(), AddRequest{
		Kind:     KindUser,
		TargetID: "user-1",
		Message:  "Persisted regardless",
	})
	if err != nil {
		t.Fatalf("expected persistence despite delivery failure, got %v", err)
	}

	result, err := service.ListForUser(context.Background(), "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(result.Notifications) != 1 || result.Notifications[0].ID != notification.ID {
		t.Fatalf("expected the notification to be persisted, got %+v", result.Notifications)
	}
}

func TestListForUserScopesAndCounts(t *testing.T) {
	service := newTestService(t, &fakeEmitter{})
	ctx := context.Background()

	if _, err := service.Add(ctx, AddRequest{Kind: KindUser, TargetID: "user-1", Message: "for user-1"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.Add(ctx, AddRequest{Kind: KindUser, TargetID: "user-2", Message: "for user-2"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.Add(ctx, AddRequest{Kind: KindSystem, Message: "for everyone"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	result, err := service.ListForUser(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if len(result.Notifications) != 2 {
		t.Fatalf("expected own plus system notifications, got %d", len(result.Notifications))
	}
	if result.UnreadCount != 2 || result.Total != 2 {
		t.Fatalf("unexpected counts: %+v", result)
	}
}

func TestMarkReadAndMarkAllRead(t *testing.T) {
	service := newTestService(t, &fakeEmitter{})
	ctx := context.Background()

	first, err := service.Add(ctx, AddRequest{Kind: KindUser, TargetID: "user-1", Message: "one"})
	if err != nil {
		t.Fatalf("add failed: %v", err)
	}
	if _, err := service.Add(ctx, AddRequest{Kind: KindUser, TargetID: "user-1", Message: "two"}); err != nil {
		t.Fatalf("add failed: %v", err)
	}

	updated, err := service.MarkRead(ctx, first.ID)
	if err != nil {
		t.Fatalf("mark read failed: %v", err)
	}
	if !updated.Read {
		t.Fatal("expected notification flagged read")
	}
	if _, err := service.MarkRead(ctx, "missing"); !errors.Is(err, ErrNotFound) {
		t.Fatalf("expected ErrNotFound, got %v", err)
	}

	count, err := service.MarkAllRead(ctx, "user-1")
	if err != nil {
		t.Fatalf("mark all read failed: %v", err)
	}
	if count != 1 {
		t.Fatalf("expected 1 remaining unread marked, got %d", count)
	}

	result, err := service.ListForUser(ctx, "user-1", 10, 0)
	if err != nil {
		t.Fatalf("list failed: %v", err)
	}
	if result.UnreadCount != 0 {
		t.Fatalf("expected no unread notifications, got %d", result.UnreadCount)
	}
}
