// Package notes stores channel-scoped shared notes with optimistic concurrency control.
package notes

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingChannels = errors.New("channel authorizer is required")
	noOpLogger         = zap.NewNop()
)

const (
	opServiceNew  = "notes.service.new"
	opCreateNote  = "notes.create_note"
	opUpdateNote  = "notes.update_note"
	opListNotes   = "notes.list_notes"
	opGetNote     = "notes.get_note"
	opNoteHistory = "notes.note_history"

	maxTitleRunes   = 200
	maxContentBytes = 200_000
)

// ChannelAuthorizer resolves channels and enforces membership gating.
type ChannelAuthorizer interface {
	AuthorizeChannel(ctx context.Context, userID, slug string) (community.Channel, error)
	AuthorizeChannelID(ctx context.Context, userID, channelID string) (community.Channel, error)
}

type ServiceConfig struct {
	Database   *gorm.DB
	Channels   ChannelAuthorizer
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	channels   ChannelAuthorizer
	clock      func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	renderer   *markdownRenderer
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	if cfg.Channels == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_channels", errMissingChannels)
	}

	clock := cfg.Clock
	if clock == nil {
		clock = time.Now
	}

	idProvider := cfg.IDProvider
	if idProvider == nil {
		idProvider = ids.NewUUIDProvider()
	}

	logger := cfg.Logger
	if logger == nil {
		logger = noOpLogger
	}

	return &Service{
		db:         cfg.Database,
		channels:   cfg.Channels,
		clock:      clock,
		idProvider: idProvider,
		logger:     logger,
		renderer:   newMarkdownRenderer(),
	}, nil
}

// CreateNote stores a new note at version 1.
func (s *Service) CreateNote(ctx context.Context, input NoteInput) (NoteView, error) {
	title, err := validateTitle(opCreateNote, input.Title)
	if err != nil {
		return NoteView{}, err
	}
	if err := validateContent(opCreateNote, input.Content); err != nil {
		return NoteView{}, err
	}
	channel, err := s.channels.AuthorizeChannel(ctx, input.AuthorID, input.ChannelSlug)
	if err != nil {
		return NoteView{}, err
	}

	noteID, err := s.idProvider.NewID()
	if err != nil {
		return NoteView{}, s.fail(opCreateNote, "id_generation_failed", err)
	}
	changeID, err := s.idProvider.NewID()
	if err != nil {
		return NoteView{}, s.fail(opCreateNote, "id_generation_failed", err)
	}

	now := s.clock().UTC()
	note := SharedNote{
		ID:           noteID,
		ChannelID:    channel.ID,
		AuthorID:     input.AuthorID,
		LastEditorID: input.AuthorID,
		Title:        title,
		Content:      input.Content,
		Version:      1,
		CreatedAt:    now,
		UpdatedAt:    now,
	}
	audit := NoteChange{
		ChangeID:   changeID,
		NoteID:     noteID,
		EditorID:   input.AuthorID,
		NewVersion: 1,
		Title:      title,
		Content:    input.Content,
		AppliedAt:  now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(&note).Error; err != nil {
			return s.fail(opCreateNote, "insert_failed", err, zap.String("channel_id", channel.ID))
		}
		if err := tx.Create(&audit).Error; err != nil {
			return s.fail(opCreateNote, "audit_insert_failed", err, zap.String("note_id", noteID))
		}
		return nil
	})
	if err != nil {
		return NoteView{}, err
	}
	return s.view(s.db.WithContext(ctx), note)
}

// UpdateNote applies patch when expectedVersion matches the stored version. The version check is part of
// the UPDATE predicate, so of two writers holding the same version exactly one succeeds. An empty patch
// still counts as a write and bumps the version.
func (s *Service) UpdateNote(ctx context.Context, noteID, editorID string, expectedVersion int64, patch NotePatch) (NoteView, error) {
	if patch.Title != nil {
		title, err := validateTitle(opUpdateNote, *patch.Title)
		if err != nil {
			return NoteView{}, err
		}
		patch.Title = &title
	}
	if patch.Content != nil {
		if err := validateContent(opUpdateNote, *patch.Content); err != nil {
			return NoteView{}, err
		}
	}

	db := s.db.WithContext(ctx)
	stored, err := s.loadNote(db, opUpdateNote, noteID)
	if err != nil {
		return NoteView{}, err
	}
	if _, err := s.channels.AuthorizeChannelID(ctx, editorID, stored.ChannelID); err != nil {
		return NoteView{}, err
	}

	var updated SharedNote
	err = db.Transaction(func(tx *gorm.DB) error {
		next, audit, err := resolveUpdate(stored, expectedVersion, patch, editorID, s.clock().UTC())
		if err != nil {
			return err
		}
		result := tx.Model(&SharedNote{}).
			Where("id = ? AND version = ?", stored.ID, expectedVersion).
			Updates(map[string]any{
				"title":          next.Title,
				"content":        next.Content,
				"version":        gorm.Expr("version + 1"),
				"last_editor_id": editorID,
				"updated_at":     next.UpdatedAt,
			})
		if result.Error != nil {
			return s.fail(opUpdateNote, "update_failed", result.Error, zap.String("note_id", stored.ID))
		}
		if result.RowsAffected == 0 {
			current, err := s.loadNote(tx, opUpdateNote, stored.ID)
			if err != nil {
				return err
			}
			return versionConflict(current.Version)
		}

		changeID, err := s.idProvider.NewID()
		if err != nil {
			return s.fail(opUpdateNote, "id_generation_failed", err)
		}
		audit.ChangeID = changeID
		if err := tx.Create(&audit).Error; err != nil {
			return s.fail(opUpdateNote, "audit_insert_failed", err, zap.String("note_id", stored.ID))
		}
		updated = next
		return nil
	})
	if err != nil {
		return NoteView{}, err
	}
	return s.view(db, updated)
}

// ListNotes lists a channel's notes, most recently updated first.
func (s *Service) ListNotes(ctx context.Context, channelSlug, viewerID string) ([]NoteView, error) {
	channel, err := s.channels.AuthorizeChannel(ctx, viewerID, channelSlug)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	var stored []SharedNote
	err = db.Where("channel_id = ?", channel.ID).
		Order("updated_at DESC").
		Order("id DESC").
		Find(&stored).Error
	if err != nil {
		return nil, s.fail(opListNotes, "query_failed", err, zap.String("channel_id", channel.ID))
	}
	return s.views(db, stored)
}

// GetNote loads a single note.
func (s *Service) GetNote(ctx context.Context, noteID, viewerID string) (NoteView, error) {
	db := s.db.WithContext(ctx)
	note, err := s.loadNote(db, opGetNote, noteID)
	if err != nil {
		return NoteView{}, err
	}
	if _, err := s.channels.AuthorizeChannelID(ctx, viewerID, note.ChannelID); err != nil {
		return NoteView{}, err
	}
	return s.view(db, note)
}

// NoteHistory lists the accepted writes of a note, newest first.
func (s *Service) NoteHistory(ctx context.Context, noteID, viewerID string) ([]RevisionView, error) {
	db := s.db.WithContext(ctx)
	note, err := s.loadNote(db, opNoteHistory, noteID)
	if err != nil {
		return nil, err
	}
	if _, err := s.channels.AuthorizeChannelID(ctx, viewerID, note.ChannelID); err != nil {
		return nil, err
	}
	var changes []NoteChange
	if err := db.Where("note_id = ?", note.ID).Order("new_version DESC").Find(&changes).Error; err != nil {
		return nil, s.fail(opNoteHistory, "query_failed", err, zap.String("note_id", note.ID))
	}
	editorIDs := make([]string, 0, len(changes))
	for _, change := range changes {
		editorIDs = append(editorIDs, change.EditorID)
	}
	profiles, err := users.LoadProfiles(db, editorIDs)
	if err != nil {
		return nil, err
	}
	revisions := make([]RevisionView, 0, len(changes))
	for _, change := range changes {
		revisions = append(revisions, RevisionView{
			NoteID:          change.NoteID,
			PreviousVersion: change.PreviousVersion,
			NewVersion:      change.NewVersion,
			Title:           change.Title,
			Editor:          profileOrID(profiles, change.EditorID),
			AppliedAt:       change.AppliedAt,
		})
	}
	return revisions, nil
}

func (s *Service) loadNote(db *gorm.DB, operation, noteID string) (SharedNote, error) {
	var note SharedNote
	if err := db.Where("id = ?", noteID).Take(&note).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return SharedNote{}, apperrors.New(operation, "note_not_found", apperrors.ErrNotFound, "note not found", err)
		}
		return SharedNote{}, s.fail(operation, "note_select_failed", err, zap.String("note_id", noteID))
	}
	return note, nil
}

func (s *Service) view(db *gorm.DB, note SharedNote) (NoteView, error) {
	views, err := s.views(db, []SharedNote{note})
	if err != nil {
		return NoteView{}, err
	}
	return views[0], nil
}

func (s *Service) views(db *gorm.DB, stored []SharedNote) ([]NoteView, error) {
	participantIDs := make([]string, 0, len(stored)*2)
	for _, note := range stored {
		participantIDs = append(participantIDs, note.AuthorID, note.LastEditorID)
	}
	profiles, err := users.LoadProfiles(db, participantIDs)
	if err != nil {
		return nil, err
	}
	views := make([]NoteView, 0, len(stored))
	for _, note := range stored {
		rendered, err := s.renderer.Render(note.Content)
		if err != nil {
			return nil, s.fail("notes.render", "markdown_failed", err, zap.String("note_id", note.ID))
		}
		views = append(views, NoteView{
			ID:          note.ID,
			ChannelID:   note.ChannelID,
			Title:       note.Title,
			Content:     note.Content,
			ContentHTML: rendered,
			Version:     note.Version,
			Author:      profileOrID(profiles, note.AuthorID),
			LastEditor:  profileOrID(profiles, note.LastEditorID),
			CreatedAt:   note.CreatedAt,
			UpdatedAt:   note.UpdatedAt,
		})
	}
	return views, nil
}

func profileOrID(profiles map[string]users.Profile, userID string) users.Profile {
	if profile, ok := profiles[userID]; ok {
		return profile
	}
	return users.Profile{ID: userID}
}

func validateTitle(operation, raw string) (string, error) {
	title := strings.TrimSpace(raw)
	if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
		return "", apperrors.New(operation, "invalid_title", apperrors.ErrValidation, fmt.Sprintf("title must be between 1 and %d characters", maxTitleRunes), nil)
	}
	return title, nil
}

func validateContent(operation, content string) error {
	if len(content) > maxContentBytes {
		return apperrors.New(operation, "content_too_large", apperrors.ErrValidation, "note content is too large", nil)
	}
	return nil
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	s.logError(operation, reason, err, fields...)
	return apperrors.Internal(operation, reason, err)
}

func (s *Service) logError(operation, reason string, err error, fields ...zap.Field) {
	logger := s.loggerOrDefault()
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
	}, fields...)
	if err != nil {
		allFields = append(allFields, zap.Error(err))
	}
	logger.Error("notes service error", allFields...)
}

func (s *Service) loggerOrDefault() *zap.Logger {
	if s.logger != nil {
		return s.logger
	}
	return noOpLogger
}
