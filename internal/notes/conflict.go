package notes

import (
	"fmt"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
)

// resolveUpdate applies a patch to the stored note when the caller read the current version.
// It returns the updated note and the audit record to persist, or a Conflict error without touching stored.
func resolveUpdate(stored SharedNote, expectedVersion int64, patch NotePatch, editorID string, appliedAt time.Time) (SharedNote, NoteChange, error) {
	if expectedVersion != stored.Version {
		return SharedNote{}, NoteChange{}, versionConflict(stored.Version)
	}

	updated := stored
	if patch.Title != nil {
		updated.Title = *patch.Title
	}
	if patch.Content != nil {
		updated.Content = *patch.Content
	}
	updated.Version = stored.Version + 1
	updated.LastEditorID = editorID
	updated.UpdatedAt = appliedAt

	audit := NoteChange{
		NoteID:          stored.ID,
		EditorID:        editorID,
		PreviousVersion: pointerTo(stored.Version),
		NewVersion:      updated.Version,
		Title:           updated.Title,
		Content:         updated.Content,
		AppliedAt:       appliedAt,
	}
	return updated, audit, nil
}

func versionConflict(currentVersion int64) error {
	return apperrors.New(opUpdateNote, "version_conflict", apperrors.ErrConflict,
		fmt.Sprintf("note was updated by someone else (current version %d); refresh and resubmit", currentVersion), nil)
}

func pointerTo(value int64) *int64 {
	v := value
	return &v
}
