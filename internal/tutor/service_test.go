package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ai"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	sqlite "github.com/glebarez/sqlite"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

type fakeCompleter struct {
	reply    string
	err      error
	received [][]ai.Message
}

func (f *fakeCompleter) Complete(_ context.Context, messages []ai.Message) (string, error) {
	f.received = append(f.received, messages)
	if f.err != nil {
		return "", f.err
	}
	return f.reply, nil
}

func (f *fakeCompleter) CompleteJSON(ctx context.Context, messages []ai.Message, target any) error {
	reply, err := f.Complete(ctx, messages)
	if err != nil {
		return err
	}
	if err := json.Unmarshal([]byte(ai.StripCodeFence(reply)), target); err != nil {
		return apperrors.New("ai.complete_json", "invalid_json", apperrors.ErrUpstream, "malformed", err)
	}
	return nil
}

func newTestService(t *testing.T, completer Completer) (*Service, *gorm.DB) {
	t.Helper()
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared", strings.ReplaceAll(t.Name(), "/", "_"))
	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&FlashcardCollection{}, &FlashcardCard{}, &Quiz{}))
	tick := time.Date(2024, 11, 5, 10, 0, 0, 0, time.UTC)
	service, err := NewService(ServiceConfig{
		Database:  db,
		Completer: completer,
		Clock: func() time.Time {
			tick = tick.Add(time.Minute)
			return tick
		},
	})
	require.NoError(t, err)
	return service, db
}

func TestAskBuildsGroundedConversation(t *testing.T) {
	completer := &fakeCompleter{reply: "  Photosynthesis turns light into chemical energy.  "}
	service, _ := newTestService(t, completer)

	answer, err := service.Ask(context.Background(), AskInput{
		UserID:   "student",
		Question: "What is photosynthesis?",
		Context:  "Chapter 4: Plants",
		History:  []Turn{{Role: "user", Content: "Hi"}, {Role: "model", Content: "Hello!"}},
	})
	require.NoError(t, err)
	require.Equal(t, "Photosynthesis turns light into chemical energy.", answer)

	require.Len(t, completer.received, 1)
	messages := completer.received[0]
	require.Len(t, messages, 4)
	require.Equal(t, ai.RoleSystem, messages[0].Role)
	require.Contains(t, messages[0].Content, "Chapter 4: Plants")
	require.Equal(t, ai.RoleAssistant, messages[2].Role)
	require.Equal(t, "What is photosynthesis?", messages[3].Content)
}

func TestAskValidationAndUnavailable(t *testing.T) {
	service, _ := newTestService(t, &fakeCompleter{})
	_, err := service.Ask(context.Background(), AskInput{UserID: "student", Question: "  "})
	require.True(t, errors.Is(err, apperrors.ErrValidation))

	unconfigured, _ := newTestService(t, ai.NewClient(ai.ClientConfig{}))
	_, err = unconfigured.Ask(context.Background(), AskInput{UserID: "student", Question: "Anyone there?"})
	require.True(t, errors.Is(err, apperrors.ErrUnavailable))
}

func TestGenerateFlashcardsPersistsCollection(t *testing.T) {
	completer := &fakeCompleter{reply: "```json\n{\"flashcards\": [" +
		"{\"term\": \"Mitosis\", \"definition\": \"Cell division producing two identical cells\"}," +
		"{\"term\": \"\", \"definition\": \"dropped\"}," +
		"{\"term\": \"Meiosis\", \"definition\": \"Division producing gametes\"}]}\n```"}
	service, _ := newTestService(t, completer)
	ctx := context.Background()

	created, err := service.GenerateFlashcards(ctx, FlashcardInput{UserID: "student", Name: "Biology", Source: "Cell cycle notes"})
	require.NoError(t, err)
	require.Len(t, created.Cards, 2)

	listed, err := service.Collections(ctx, "student")
	require.NoError(t, err)
	require.Len(t, listed, 1)
	require.Empty(t, listed[0].Cards)

	loaded, err := service.Collection(ctx, "student", created.ID)
	require.NoError(t, err)
	require.Len(t, loaded.Cards, 2)
	require.Equal(t, "Mitosis", loaded.Cards[0].Term)
	require.Equal(t, 1, loaded.Cards[1].Position)

	_, err = service.Collection(ctx, "someone-else", created.ID)
	require.True(t, errors.Is(err, apperrors.ErrNotFound))
}

func TestGenerateFlashcardsRejectsMalformedReplies(t *testing.T) {
	service, db := newTestService(t, &fakeCompleter{reply: "Sure! Here are some flashcards."})
	_, err := service.GenerateFlashcards(context.Background(), FlashcardInput{UserID: "student", Name: "Biology", Source: "notes"})
	require.True(t, errors.Is(err, apperrors.ErrUpstream))

	var stored int64
	require.NoError(t, db.Model(&FlashcardCollection{}).Count(&stored).Error)
	require.Zero(t, stored)

	_, err = service.GenerateFlashcards(context.Background(), FlashcardInput{UserID: "student", Name: "", Source: "notes"})
	require.True(t, errors.Is(err, apperrors.ErrValidation))
}

func TestGenerateQuizStoresQuestionsAsJSON(t *testing.T) {
	completer := &fakeCompleter{reply: `[
		{"question": "2 + 2?", "options": ["3", "4", "5", "6"], "correct_answer": "4"},
		{"question": "Capital of France?", "options": ["Paris", "Rome"], "correct_answer": "Berlin"}
	]`}
	service, db := newTestService(t, completer)

	quiz, err := service.GenerateQuiz(context.Background(), QuizInput{UserID: "student", Topic: "Warm-up"})
	require.NoError(t, err)
	require.Len(t, quiz.Questions, 1)

	var stored Quiz
	require.NoError(t, db.Where("id = ?", quiz.ID).Take(&stored).Error)
	require.Len(t, stored.Questions, 1)
	require.Equal(t, "4", stored.Questions[0].CorrectAnswer)
	require.Equal(t, []string{"3", "4", "5", "6"}, stored.Questions[0].Options)
}

func TestGenerateQuizPropagatesUpstreamFailure(t *testing.T) {
	upstream := apperrors.New("ai.complete", "bad_status", apperrors.ErrUpstream, "status 500", nil)
	service, _ := newTestService(t, &fakeCompleter{err: upstream})
	_, err := service.GenerateQuiz(context.Background(), QuizInput{UserID: "student", Topic: "Algebra"})
	require.ErrorIs(t, err, apperrors.ErrUpstream)
}
