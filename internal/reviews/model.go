package reviews

import (
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
)

const (
	MinRating = 1
	MaxRating = 5
)

// Submission is a piece of work posted to a channel for peer review.
type Submission struct {
	ID        string    `gorm:"column:id;primaryKey;size:190"`
	ChannelID string    `gorm:"column:channel_id;size:190;not null;index:idx_submissions_channel_created,priority:1"`
	AuthorID  string    `gorm:"column:author_id;size:190;not null;index"`
	Title     string    `gorm:"column:title;size:200;not null"`
	Content   string    `gorm:"column:content;type:text;not null"`
	FileURL   *string   `gorm:"column:file_url;size:2048"`
	CreatedAt time.Time `gorm:"column:created_at;not null;index:idx_submissions_channel_created,priority:2"`
}

func (Submission) TableName() string {
	return "peer_review_submissions"
}

// Feedback is a single reviewer's rating of a submission. A reviewer rates a submission at most once.
type Feedback struct {
	ID           string    `gorm:"column:id;primaryKey;size:190"`
	SubmissionID string    `gorm:"column:submission_id;size:190;not null;uniqueIndex:idx_feedback_submission_reviewer,priority:1"`
	ReviewerID   string    `gorm:"column:reviewer_id;size:190;not null;uniqueIndex:idx_feedback_submission_reviewer,priority:2"`
	Rating       int       `gorm:"column:rating;not null"`
	Comments     string    `gorm:"column:comments;type:text;not null"`
	CreatedAt    time.Time `gorm:"column:created_at;not null"`
}

func (Feedback) TableName() string {
	return "peer_review_feedback"
}

type SubmissionInput struct {
	ChannelID string
	AuthorID  string
	Title     string
	Content   string
	FileURL   string
}

type FeedbackInput struct {
	SubmissionID string
	ReviewerID   string
	Rating       int
	Comments     string
}

type SubmissionView struct {
	ID            string        `json:"id"`
	ChannelID     string        `json:"channel_id"`
	Author        users.Profile `json:"author"`
	Title         string        `json:"title"`
	Content       string        `json:"content"`
	FileURL       *string       `json:"file_url,omitempty"`
	FeedbackCount int64         `json:"feedback_count"`
	AverageRating *float64      `json:"average_rating"`
	CreatedAt     time.Time     `json:"created_at"`
}

type FeedbackView struct {
	ID           string        `json:"id"`
	SubmissionID string        `json:"submission_id"`
	Reviewer     users.Profile `json:"reviewer"`
	Rating       int           `json:"rating"`
	Comments     string        `json:"comments"`
	CreatedAt    time.Time     `json:"created_at"`
}
