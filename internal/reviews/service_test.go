package reviews

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/users"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fixture struct {
	service   *Service
	db        *gorm.DB
	channelID string
}

func newFixture(t *testing.T) fixture {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(
		&users.User{},
		&community.Community{}, &community.CommunityMember{}, &community.Channel{},
		&community.StudyGroup{}, &community.StudyGroupMember{},
		&Submission{}, &Feedback{},
	))
	for _, id := range []string{"author", "reviewer", "second", "outsider"} {
		require.NoError(t, db.Create(&users.User{
			ID: id, Username: id, Email: id + "@example.com", IsActive: true,
			CreatedAt: time.Now().UTC(), UpdatedAt: time.Now().UTC(),
		}).Error)
	}

	tick := time.Date(2024, 10, 1, 8, 0, 0, 0, time.UTC)
	clock := func() time.Time {
		tick = tick.Add(time.Second)
		return tick
	}
	communities, err := community.NewService(community.ServiceConfig{Database: db, Clock: clock})
	require.NoError(t, err)
	details, err := communities.CreateCommunity(context.Background(), "author", community.CommunityInput{Name: "Essays"})
	require.NoError(t, err)
	for _, member := range []string{"reviewer", "second"} {
		_, err := communities.JoinCommunity(context.Background(), details.JoinCode, member)
		require.NoError(t, err)
	}

	service, err := NewService(ServiceConfig{Database: db, Channels: communities, Clock: clock})
	require.NoError(t, err)
	return fixture{service: service, db: db, channelID: details.Channels[0].ID}
}

func TestSubmissionLifecycle(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submission, err := f.service.CreateSubmission(ctx, SubmissionInput{
		ChannelID: f.channelID,
		AuthorID:  "author",
		Title:     "Draft essay",
		Content:   "Thesis statement",
		FileURL:   "https://files.example.com/essay.pdf",
	})
	require.NoError(t, err)
	require.Equal(t, int64(0), submission.FeedbackCount)
	require.Nil(t, submission.AverageRating)
	require.NotNil(t, submission.FileURL)

	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "reviewer", Rating: 4, Comments: "Clear argument"})
	require.NoError(t, err)
	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "second", Rating: 5})
	require.NoError(t, err)

	listed, err := f.service.Submissions(ctx, f.channelID, "reviewer")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Equal(t, int64(2), listed[0].FeedbackCount)
	require.NotNil(t, listed[0].AverageRating)
	require.InDelta(t, 4.5, *listed[0].AverageRating, 0.001)
	require.Equal(t, "author", listed[0].Author.Username)

	feedback, err := f.service.Feedback(ctx, submission.ID, "author")
	require.NoError(t, err)
	require.Len(t, feedback, 2)
	require.Equal(t, "second", feedback[0].Reviewer.ID)
	require.Equal(t, "Clear argument", feedback[1].Comments)
}

func TestAddFeedbackRules(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	submission, err := f.service.CreateSubmission(ctx, SubmissionInput{ChannelID: f.channelID, AuthorID: "author", Title: "Lab report", Content: "Results"})
	require.NoError(t, err)

	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: "missing", ReviewerID: "reviewer", Rating: 3})
	require.True(t, errors.Is(err, apperrors.ErrNotFound))

	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "author", Rating: 5})
	require.True(t, errors.Is(err, apperrors.ErrForbidden))
	require.Equal(t, "reviews.add_feedback.self_review", apperrors.CodeOf(err))

	for _, rating := range []int{0, 6, -1} {
		_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "reviewer", Rating: rating})
		require.True(t, errors.Is(err, apperrors.ErrValidation), "rating %d", rating)
	}

	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "reviewer", Rating: 3})
	require.NoError(t, err)
	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "reviewer", Rating: 2})
	require.True(t, errors.Is(err, apperrors.ErrConflict))

	_, err = f.service.AddFeedback(ctx, FeedbackInput{SubmissionID: submission.ID, ReviewerID: "outsider", Rating: 2})
	require.True(t, errors.Is(err, apperrors.ErrForbidden))
}

func TestCreateSubmissionValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.service.CreateSubmission(ctx, SubmissionInput{ChannelID: f.channelID, AuthorID: "author", Title: " ", Content: "x"})
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	_, err = f.service.CreateSubmission(ctx, SubmissionInput{ChannelID: f.channelID, AuthorID: "author", Title: "x", Content: "x", FileURL: "ftp://files"})
	require.True(t, errors.Is(err, apperrors.ErrValidation))
	require.Equal(t, "reviews.create_submission.invalid_file_url", apperrors.CodeOf(err))

	_, err = f.service.CreateSubmission(ctx, SubmissionInput{ChannelID: f.channelID, AuthorID: "outsider", Title: "x", Content: "x"})
	require.True(t, errors.Is(err, apperrors.ErrForbidden))

	_, err = f.service.Submissions(ctx, f.channelID, "outsider")
	require.True(t, errors.Is(err, apperrors.ErrForbidden))
}
