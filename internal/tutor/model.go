package tutor

import (
	"time"

	"gorm.io/datatypes"
)

// FlashcardCollection groups the cards generated from one source text.
type FlashcardCollection struct {
	ID         string          `gorm:"column:id;primaryKey;size:190" json:"id"`
	UserID     string          `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Name       string          `gorm:"column:name;size:200;not null" json:"name"`
	FileSource string          `gorm:"column:file_source;size:2048;not null" json:"file_source"`
	CreatedAt  time.Time       `gorm:"column:created_at;not null" json:"created_at"`
	Cards      []FlashcardCard `gorm:"foreignKey:CollectionID;constraint:OnDelete:CASCADE" json:"cards,omitempty"`
}

func (FlashcardCollection) TableName() string {
	return "flashcard_collections"
}

type FlashcardCard struct {
	ID           string `gorm:"column:id;primaryKey;size:190" json:"id"`
	CollectionID string `gorm:"column:collection_id;size:190;not null;index:idx_flashcard_cards_collection_position,priority:1" json:"-"`
	Position     int    `gorm:"column:position;not null;index:idx_flashcard_cards_collection_position,priority:2" json:"position"`
	Term         string `gorm:"column:term;type:text;not null" json:"term"`
	Definition   string `gorm:"column:definition;type:text;not null" json:"definition"`
}

func (FlashcardCard) TableName() string {
	return "flashcard_cards"
}

// QuizQuestion is a multiple-choice question. CorrectAnswer is the text of one of Options.
type QuizQuestion struct {
	Question      string   `json:"question"`
	Options       []string `json:"options"`
	CorrectAnswer string   `json:"correct_answer"`
}

// Quiz stores generated questions as a JSON column.
type Quiz struct {
	ID        string                            `gorm:"column:id;primaryKey;size:190" json:"id"`
	UserID    string                            `gorm:"column:user_id;size:190;not null;index" json:"user_id"`
	Topic     string                            `gorm:"column:topic;size:200;not null" json:"topic"`
	Questions datatypes.JSONSlice[QuizQuestion] `gorm:"column:questions;not null" json:"questions"`
	CreatedAt time.Time                         `gorm:"column:created_at;not null" json:"created_at"`
}

func (Quiz) TableName() string {
	return "quizzes"
}

// Turn is one prior exchange supplied with a question.
type Turn struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type AskInput struct {
	UserID   string
	Question string
	Context  string
	History  []Turn
}

type FlashcardInput struct {
	UserID     string
	Name       string
	FileSource string
	Source     string
}

type QuizInput struct {
	UserID string
	Topic  string
	Source string
}
