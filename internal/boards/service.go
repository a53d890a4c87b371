package boards

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/easel/backend/internal/users"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

var (
	// ErrNotFound indicates no board matched the identifier.
	ErrNotFound = errors.New("boards: board not found")
	// ErrAccessDenied indicates the caller is neither owner nor collaborator.
	ErrAccessDenied = errors.New("boards: access denied")
	// ErrOwnerOnly indicates an operation reserved for the board owner.
	ErrOwnerOnly = errors.New("boards: owner only")
	// ErrTitleRequired indicates a create request without a usable title.
	ErrTitleRequired = errors.New("boards: title is required")
	// ErrSelfCollaboration indicates an owner inviting themselves.
	ErrSelfCollaboration = errors.New("boards: owner cannot be a collaborator")
)

// IDProvider issues identifiers for new boards.
type IDProvider interface {
	NewID() (string, error)
}

// Directory resolves account summaries for board responses and collaborator
// invitations. Satisfied by the users service.
type Directory interface {
	LookupByEmail(ctx context.Context, email string) (users.Summary, error)
	LookupByIDs(ctx context.Context, ids []string) ([]users.Summary, error)
}

// ServiceConfig describes the dependencies of the board service.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider IDProvider
	Directory  Directory
}

// Service owns board records, access checks and collaborator management.
type Service struct {
	db        *gorm.DB
	now       func() time.Time
	ids       IDProvider
	directory Directory
}

// NewService constructs the board service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, fmt.Errorf("boards: database connection required")
	}
	if cfg.IDProvider == nil {
		return nil, fmt.Errorf("boards: id provider required")
	}
	if cfg.Directory == nil {
		return nil, fmt.Errorf("boards: user directory required")
	}
	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}
	return &Service{db: cfg.Database, now: clock, ids: cfg.IDProvider, directory: cfg.Directory}, nil
}

// Create persists a new board owned by the caller.
func (s *Service) Create(ctx context.Context, ownerID, title string) (Board, error) {
	title = strings.TrimSpace(title)
	if title == "" {
		return Board{}, ErrTitleRequired
	}
	id, err := s.ids.NewID()
	if err != nil {
		return Board{}, err
	}
	board := Board{
		ID:        id,
		Title:     title,
		OwnerID:   ownerID,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&board).Error; err != nil {
		return Board{}, err
	}
	return board, nil
}

// ListForUser returns every board the user owns or collaborates on, newest
// first, joined with owner and collaborator summaries.
func (s *Service) ListForUser(ctx context.Context, userID string) ([]View, error) {
	var records []Board
	err := s.db.WithContext(ctx).
		Where("owner_id = ? OR id IN (?)", userID,
			s.db.Model(&Collaboration{}).Select("board_id").Where("user_id = ?", userID)).
		Order("created_at DESC").
		Find(&records).
		Error
	if err != nil {
		return nil, err
	}

	views := make([]View, 0, len(records))
	for _, record := range records {
		view, err := s.buildView(ctx, record, false)
		if err != nil {
			return nil, err
		}
		views = append(views, view)
	}
	return views, nil
}

// Get returns one board with its drawing payload. The caller must be the
// owner or a collaborator.
func (s *Service) Get(ctx context.Context, boardID, userID string) (View, error) {
	board, err := s.fetch(ctx, boardID)
	if err != nil {
		return View{}, err
	}
	if allowed, err := s.hasAccess(ctx, board, userID); err != nil {
		return View{}, err
	} else if !allowed {
		return View{}, ErrAccessDenied
	}
	return s.buildView(ctx, board, true)
}

// Delete removes a board. Owner only; collaborations cascade.
func (s *Service) Delete(ctx context.Context, boardID, userID string) error {
	board, err := s.fetch(ctx, boardID)
	if err != nil {
		return err
	}
	if board.OwnerID != userID {
		return ErrOwnerOnly
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("board_id = ?", boardID).Delete(&Collaboration{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Board{ID: boardID}).Error
	})
}

// SaveDrawing overwrites the board's drawing payload. Last write wins by
// design; concurrent edits are reconciled here, not in the realtime relay.
func (s *Service) SaveDrawing(ctx context.Context, boardID, userID, drawing string) (Board, error) {
	board, err := s.fetch(ctx, boardID)
	if err != nil {
		return Board{}, err
	}
	if allowed, err := s.hasAccess(ctx, board, userID); err != nil {
		return Board{}, err
	} else if !allowed {
		return Board{}, ErrAccessDenied
	}
	err = s.db.WithContext(ctx).
		Model(&Board{}).
		Where("id = ?", boardID).
		Update("drawing_data", drawing).
		Error
	if err != nil {
		return Board{}, err
	}
	board.DrawingData = drawing
	return board, nil
}

// AddCollaborator grants board access to the account with the given email.
// Owner only; adding an existing collaborator is a no-op.
func (s *Service) AddCollaborator(ctx context.Context, boardID, ownerID, userEmail string) error {
	board, err := s.fetch(ctx, boardID)
	if err != nil {
		return err
	}
	if board.OwnerID != ownerID {
		return ErrOwnerOnly
	}
	invited, err := s.directory.LookupByEmail(ctx, userEmail)
	if err != nil {
		return err
	}
	if invited.ID == ownerID {
		return ErrSelfCollaboration
	}
	collaboration := Collaboration{
		UserID:    invited.ID,
		BoardID:   boardID,
		CreatedAt: s.now().UTC(),
	}
	return s.db.WithContext(ctx).
		Clauses(clause.OnConflict{DoNothing: true}).
		Create(&collaboration).
		Error
}

// RemoveCollaborator revokes a collaborator's access. Owner only.
func (s *Service) RemoveCollaborator(ctx context.Context, boardID, ownerID, collaboratorID string) error {
	board, err := s.fetch(ctx, boardID)
	if err != nil {
		return err
	}
	if board.OwnerID != ownerID {
		return ErrOwnerOnly
	}
	return s.db.WithContext(ctx).
		Where("user_id = ? AND board_id = ?", collaboratorID, boardID).
		Delete(&Collaboration{}).
		Error
}

func (s *Service) fetch(ctx context.Context, boardID string) (Board, error) {
	var board Board
	err := s.db.WithContext(ctx).Where("id = ?", boardID).Take(&board).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return Board{}, ErrNotFound
	}
	if err != nil {
		return Board{}, err
	}
	return board, nil
}

func (s *Service) hasAccess(ctx context.Context, board Board, userID string) (bool, error) {
	if board.OwnerID == userID {
		return true, nil
	}
	var count int64
	err := s.db.WithContext(ctx).
		Model(&Collaboration{}).
		Where("user_id = ? AND board_id = ?", userID, board.ID).
		Count(&count).
		Error
	if err != nil {
		return false, err
	}
	return count > 0, nil
}

func (s *Service) buildView(ctx context.Context, board Board, includeDrawing bool) (View, error) {
	var collaborations []Collaboration
	err := s.db.WithContext(ctx).Where("board_id = ?", board.ID).Find(&collaborations).Error
	if err != nil {
		return View{}, err
	}

	collaboratorIDs := make([]string, 0, len(collaborations))
	for _, collaboration := range collaborations {
		collaboratorIDs = append(collaboratorIDs, collaboration.UserID)
	}

	ownerSummaries, err := s.directory.LookupByIDs(ctx, []string{board.OwnerID})
	if err != nil {
		return View{}, err
	}
	owner := users.Summary{ID: board.OwnerID}
	if len(ownerSummaries) > 0 {
		owner = ownerSummaries[0]
	}

	collaborators, err := s.directory.LookupByIDs(ctx, collaboratorIDs)
	if err != nil {
		return View{}, err
	}
	if collaborators == nil {
		collaborators = []users.Summary{}
	}

	view := View{
		ID:            board.ID,
		Title:         board.Title,
		OwnerID:       board.OwnerID,
		CreatedAt:     board.CreatedAt,
		UpdatedAt:     board.UpdatedAt,
		Owner:         owner,
		Collaborators: collaborators,
	}
	if includeDrawing {
		view.DrawingData = board.DrawingData
	}
	return view, nil
}
