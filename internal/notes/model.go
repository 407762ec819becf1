package notes

import (
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
)

// SharedNote is a channel-scoped document edited collaboratively. Version starts at 1 and increases by one
// on every accepted update; it is the only conflict-detection mechanism.
type SharedNote struct {
	ID           string    `gorm:"column:id;primaryKey;size:190;not null"`
	ChannelID    string    `gorm:"column:channel_id;size:190;not null;index:idx_shared_notes_channel_updated,priority:1"`
	AuthorID     string    `gorm:"column:author_id;size:190;not null"`
	LastEditorID string    `gorm:"column:last_editor_id;size:190;not null"`
	Title        string    `gorm:"column:title;size:200;not null"`
	Content      string    `gorm:"column:content;type:text;not null"`
	Version      int64     `gorm:"column:version;not null;default:1"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
	UpdatedAt    time.Time `gorm:"column:updated_at;not null;index:idx_shared_notes_channel_updated,priority:2"`
}

// TableName provides the explicit table binding for GORM.
func (SharedNote) TableName() string {
	return "shared_notes"
}

// NoteChange is an append-only audit record written for every accepted note write.
type NoteChange struct {
	ChangeID        string    `gorm:"column:change_id;primaryKey;size:190;not null"`
	NoteID          string    `gorm:"column:note_id;size:190;not null;index:idx_note_changes_note_version,priority:1"`
	EditorID        string    `gorm:"column:editor_id;size:190;not null"`
	PreviousVersion *int64    `gorm:"column:prev_version" json:"previous_version,omitempty"`
	NewVersion      int64     `gorm:"column:new_version;not null;index:idx_note_changes_note_version,priority:2"`
	Title           string    `gorm:"column:title;size:200;not null"`
	Content         string    `gorm:"column:content;type:text;not null"`
	AppliedAt       time.Time `gorm:"column:applied_at;not null"`
}

// TableName provides the explicit table binding for GORM.
func (NoteChange) TableName() string {
	return "note_changes"
}

// NoteInput describes a new note.
type NoteInput struct {
	ChannelSlug string
	AuthorID    string
	Title       string
	Content     string
}

// NotePatch carries the fields to change. Nil fields are left untouched.
type NotePatch struct {
	Title   *string
	Content *string
}

// NoteView is a note as returned to clients, with rendered HTML and participant profiles.
type NoteView struct {
	ID          string        `json:"id"`
	ChannelID   string        `json:"channel_id"`
	Title       string        `json:"title"`
	Content     string        `json:"content"`
	ContentHTML string        `json:"content_html"`
	Version     int64         `json:"version"`
	Author      users.Profile `json:"author"`
	LastEditor  users.Profile `json:"last_editor"`
	CreatedAt   time.Time     `json:"created_at"`
	UpdatedAt   time.Time     `json:"updated_at"`
}

// RevisionView is one entry of a note's history.
type RevisionView struct {
	NoteID          string        `json:"note_id"`
	PreviousVersion *int64        `json:"previous_version,omitempty"`
	NewVersion      int64         `json:"new_version"`
	Title           string        `json:"title"`
	Editor          users.Profile `json:"editor"`
	AppliedAt       time.Time     `json:"applied_at"`
}
