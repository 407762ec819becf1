// Package reviews implements peer review: members post work to a channel and other members rate it.
package reviews

import (
	"context"
	"errors"
	"fmt"
	"net/url"
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

const (
	opServiceNew       = "reviews.service.new"
	opCreateSubmission = "reviews.create_submission"
	opSubmissions      = "reviews.submissions"
	opAddFeedback      = "reviews.add_feedback"
	opFeedback         = "reviews.feedback"

	maxTitleRunes    = 200
	maxContentRunes  = 20000
	maxCommentsRunes = 4000
)

var (
	errMissingDatabase = errors.New("database handle is required")
	errMissingChannels = errors.New("channel authorizer is required")
)

// ChannelAuthorizer enforces channel membership gating.
type ChannelAuthorizer interface {
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
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
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
		logger = zap.NewNop()
	}
	return &Service{
		db:         cfg.Database,
		channels:   cfg.Channels,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// CreateSubmission posts work for review in a channel the author can access.
func (s *Service) CreateSubmission(ctx context.Context, input SubmissionInput) (SubmissionView, error) {
	title := strings.TrimSpace(input.Title)
	if title == "" || utf8.RuneCountInString(title) > maxTitleRunes {
		return SubmissionView{}, apperrors.New(opCreateSubmission, "invalid_title", apperrors.ErrValidation, fmt.Sprintf("title must be between 1 and %d characters", maxTitleRunes), nil)
	}
	content := strings.TrimSpace(input.Content)
	if content == "" || utf8.RuneCountInString(content) > maxContentRunes {
		return SubmissionView{}, apperrors.New(opCreateSubmission, "invalid_content", apperrors.ErrValidation, fmt.Sprintf("content must be between 1 and %d characters", maxContentRunes), nil)
	}
	fileURL, err := normalizeFileURL(input.FileURL)
	if err != nil {
		return SubmissionView{}, err
	}
	channel, err := s.channels.AuthorizeChannelID(ctx, input.AuthorID, input.ChannelID)
	if err != nil {
		return SubmissionView{}, err
	}

	submissionID, err := s.idProvider.NewID()
	if err != nil {
		return SubmissionView{}, s.fail(opCreateSubmission, "id_generation_failed", err)
	}
	submission := Submission{
		ID:        submissionID,
		ChannelID: channel.ID,
		AuthorID:  input.AuthorID,
		Title:     title,
		Content:   content,
		FileURL:   fileURL,
		CreatedAt: s.now().UTC(),
	}
	db := s.db.WithContext(ctx)
	if err := db.Create(&submission).Error; err != nil {
		return SubmissionView{}, s.fail(opCreateSubmission, "insert_failed", err, zap.String("channel_id", channel.ID))
	}
	profiles, err := users.LoadProfiles(db, []string{input.AuthorID})
	if err != nil {
		return SubmissionView{}, err
	}
	return submissionView(submission, profiles, feedbackStats{}), nil
}

type feedbackStats struct {
	SubmissionID string
	Total        int64
	Average      float64
}

// Submissions lists a channel's submissions, newest first, with their feedback count and average rating.
func (s *Service) Submissions(ctx context.Context, channelID, viewerID string) ([]SubmissionView, error) {
	channel, err := s.channels.AuthorizeChannelID(ctx, viewerID, channelID)
	if err != nil {
		return nil, err
	}
	db := s.db.WithContext(ctx)
	var submissions []Submission
	err = db.Where("channel_id = ?", channel.ID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&submissions).Error
	if err != nil {
		return nil, s.fail(opSubmissions, "query_failed", err, zap.String("channel_id", channel.ID))
	}
	if len(submissions) == 0 {
		return []SubmissionView{}, nil
	}

	submissionIDs := make([]string, 0, len(submissions))
	authorIDs := make([]string, 0, len(submissions))
	for _, submission := range submissions {
		submissionIDs = append(submissionIDs, submission.ID)
		authorIDs = append(authorIDs, submission.AuthorID)
	}
	var stats []feedbackStats
	err = db.Model(&Feedback{}).
		Select("submission_id, COUNT(*) AS total, AVG(rating) AS average").
		Where("submission_id IN ?", submissionIDs).
		Group("submission_id").
		Scan(&stats).Error
	if err != nil {
		return nil, s.fail(opSubmissions, "stats_query_failed", err, zap.String("channel_id", channel.ID))
	}
	statsBySubmission := make(map[string]feedbackStats, len(stats))
	for _, stat := range stats {
		statsBySubmission[stat.SubmissionID] = stat
	}
	profiles, err := users.LoadProfiles(db, authorIDs)
	if err != nil {
		return nil, err
	}

	views := make([]SubmissionView, 0, len(submissions))
	for _, submission := range submissions {
		views = append(views, submissionView(submission, profiles, statsBySubmission[submission.ID]))
	}
	return views, nil
}

// AddFeedback records a rating from a reviewer who is neither the author nor a previous reviewer.
func (s *Service) AddFeedback(ctx context.Context, input FeedbackInput) (FeedbackView, error) {
	if input.Rating < MinRating || input.Rating > MaxRating {
		return FeedbackView{}, apperrors.New(opAddFeedback, "invalid_rating", apperrors.ErrValidation, fmt.Sprintf("rating must be between %d and %d", MinRating, MaxRating), nil)
	}
	comments := strings.TrimSpace(input.Comments)
	if utf8.RuneCountInString(comments) > maxCommentsRunes {
		return FeedbackView{}, apperrors.New(opAddFeedback, "comments_too_long", apperrors.ErrValidation, fmt.Sprintf("comments must be at most %d characters", maxCommentsRunes), nil)
	}

	db := s.db.WithContext(ctx)
	submission, err := s.loadSubmission(db, opAddFeedback, input.SubmissionID)
	if err != nil {
		return FeedbackView{}, err
	}
	if _, err := s.channels.AuthorizeChannelID(ctx, input.ReviewerID, submission.ChannelID); err != nil {
		return FeedbackView{}, err
	}
	if submission.AuthorID == input.ReviewerID {
		return FeedbackView{}, apperrors.New(opAddFeedback, "self_review", apperrors.ErrForbidden, "you cannot review your own submission", nil)
	}

	feedbackID, err := s.idProvider.NewID()
	if err != nil {
		return FeedbackView{}, s.fail(opAddFeedback, "id_generation_failed", err)
	}
	feedback := Feedback{
		ID:           feedbackID,
		SubmissionID: submission.ID,
		ReviewerID:   input.ReviewerID,
		Rating:       input.Rating,
		Comments:     comments,
		CreatedAt:    s.now().UTC(),
	}
	err = db.Transaction(func(tx *gorm.DB) error {
		var existing int64
		err := tx.Model(&Feedback{}).
			Where("submission_id = ? AND reviewer_id = ?", submission.ID, input.ReviewerID).
			Count(&existing).Error
		if err != nil {
			return s.fail(opAddFeedback, "lookup_failed", err, zap.String("submission_id", submission.ID))
		}
		if existing > 0 {
			return alreadyReviewed(nil)
		}
		if err := tx.Create(&feedback).Error; err != nil {
			if errors.Is(err, gorm.ErrDuplicatedKey) {
				return alreadyReviewed(err)
			}
			return s.fail(opAddFeedback, "insert_failed", err, zap.String("submission_id", submission.ID))
		}
		return nil
	})
	if err != nil {
		return FeedbackView{}, err
	}
	profiles, err := users.LoadProfiles(db, []string{input.ReviewerID})
	if err != nil {
		return FeedbackView{}, err
	}
	return feedbackView(feedback, profiles), nil
}

// Feedback lists the feedback of a submission, newest first.
func (s *Service) Feedback(ctx context.Context, submissionID, viewerID string) ([]FeedbackView, error) {
	db := s.db.WithContext(ctx)
	submission, err := s.loadSubmission(db, opFeedback, submissionID)
	if err != nil {
		return nil, err
	}
	if _, err := s.channels.AuthorizeChannelID(ctx, viewerID, submission.ChannelID); err != nil {
		return nil, err
	}
	var feedback []Feedback
	err = db.Where("submission_id = ?", submission.ID).
		Order("created_at DESC").
		Order("id DESC").
		Find(&feedback).Error
	if err != nil {
		return nil, s.fail(opFeedback, "query_failed", err, zap.String("submission_id", submission.ID))
	}
	reviewerIDs := make([]string, 0, len(feedback))
	for _, entry := range feedback {
		reviewerIDs = append(reviewerIDs, entry.ReviewerID)
	}
	profiles, err := users.LoadProfiles(db, reviewerIDs)
	if err != nil {
		return nil, err
	}
	views := make([]FeedbackView, 0, len(feedback))
	for _, entry := range feedback {
		views = append(views, feedbackView(entry, profiles))
	}
	return views, nil
}

func (s *Service) loadSubmission(db *gorm.DB, operation, submissionID string) (Submission, error) {
	var submission Submission
	if err := db.Where("id = ?", submissionID).Take(&submission).Error; err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Submission{}, apperrors.New(operation, "submission_not_found", apperrors.ErrNotFound, "submission not found", err)
		}
		return Submission{}, s.fail(operation, "submission_lookup_failed", err, zap.String("submission_id", submissionID))
	}
	return submission, nil
}

func alreadyReviewed(cause error) error {
	return apperrors.New(opAddFeedback, "already_reviewed", apperrors.ErrConflict, "you have already reviewed this submission", cause)
}

func normalizeFileURL(raw string) (*string, error) {
	trimmed := strings.TrimSpace(raw)
	if trimmed == "" {
		return nil, nil
	}
	parsed, err := url.Parse(trimmed)
	if err != nil || (parsed.Scheme != "http" && parsed.Scheme != "https") || parsed.Host == "" {
		return nil, apperrors.New(opCreateSubmission, "invalid_file_url", apperrors.ErrValidation, "file_url must be an http(s) URL", err)
	}
	return &trimmed, nil
}

func submissionView(submission Submission, profiles map[string]users.Profile, stats feedbackStats) SubmissionView {
	author, ok := profiles[submission.AuthorID]
	if !ok {
		author = users.Profile{ID: submission.AuthorID}
	}
	view := SubmissionView{
		ID:            submission.ID,
		ChannelID:     submission.ChannelID,
		Author:        author,
		Title:         submission.Title,
		Content:       submission.Content,
		FileURL:       submission.FileURL,
		FeedbackCount: stats.Total,
		CreatedAt:     submission.CreatedAt,
	}
	if stats.Total > 0 {
		average := stats.Average
		view.AverageRating = &average
	}
	return view
}

func feedbackView(feedback Feedback, profiles map[string]users.Profile) FeedbackView {
	reviewer, ok := profiles[feedback.ReviewerID]
	if !ok {
		reviewer = users.Profile{ID: feedback.ReviewerID}
	}
	return FeedbackView{
		ID:           feedback.ID,
		SubmissionID: feedback.SubmissionID,
		Reviewer:     reviewer,
		Rating:       feedback.Rating,
		Comments:     feedback.Comments,
		CreatedAt:    feedback.CreatedAt,
	}
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("reviews service error", allFields...)
	return apperrors.Internal(operation, reason, err)
}
