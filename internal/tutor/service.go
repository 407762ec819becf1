// Package tutor generates study material with the AI completions client and persists it per user.
package tutor

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ai"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew         = "tutor.service.new"
	opAsk                = "tutor.ask"
	opGenerateFlashcards = "tutor.generate_flashcards"
	opCollections        = "tutor.collections"
	opCollection         = "tutor.collection"
	opGenerateQuiz       = "tutor.generate_quiz"

	maxContextRunes  = 30000
	maxSourceRunes   = 20000
	maxQuestionRunes = 4000
	maxHistoryTurns  = 20
	flashcardCount   = 15
	quizQuestions    = 10
	quizOptions      = 4
)

var errMissingDatabase = errors.New("database handle is required")

// Completer is the subset of the AI client used by the tutor.
type Completer interface {
	Complete(ctx context.Context, messages []ai.Message) (string, error)
	CompleteJSON(ctx context.Context, messages []ai.Message, target any) error
}

type ServiceConfig struct {
	Database   *gorm.DB
	Completer  Completer
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

type Service struct {
	db         *gorm.DB
	completer  Completer
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
}

func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
	}
	completer := cfg.Completer
	if completer == nil {
		completer = ai.NewClient(ai.ClientConfig{})
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
		completer:  completer,
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// Ask answers a question, grounded in the supplied study material when present.
func (s *Service) Ask(ctx context.Context, input AskInput) (string, error) {
	question := strings.TrimSpace(input.Question)
	if question == "" || len([]rune(question)) > maxQuestionRunes {
		return "", apperrors.New(opAsk, "invalid_question", apperrors.ErrValidation, fmt.Sprintf("question must be between 1 and %d characters", maxQuestionRunes), nil)
	}

	system := "You are a helpful AI tutor for students."
	if material := strings.TrimSpace(input.Context); material != "" {
		system += " Answer using the following study material. If the answer is not in the material, answer generally " +
			"and say that you are going beyond it.\n\nStudy material:\n" + clip(material, maxContextRunes)
	}
	messages := []ai.Message{{Role: ai.RoleSystem, Content: system}}
	history := input.History
	if len(history) > maxHistoryTurns {
		history = history[len(history)-maxHistoryTurns:]
	}
	for _, turn := range history {
		role := ai.RoleUser
		if turn.Role == ai.RoleAssistant || turn.Role == "model" {
			role = ai.RoleAssistant
		}
		if content := strings.TrimSpace(turn.Content); content != "" {
			messages = append(messages, ai.Message{Role: role, Content: content})
		}
	}
	messages = append(messages, ai.Message{Role: ai.RoleUser, Content: question})

	answer, err := s.completer.Complete(ctx, messages)
	if err != nil {
		s.logger.Warn("tutor question failed", zap.String("operation", opAsk), zap.String("user_id", input.UserID), zap.Error(err))
		return "", err
	}
	return strings.TrimSpace(answer), nil
}

type generatedCard struct {
	Term       string `json:"term"`
	Definition string `json:"definition"`
}

// GenerateFlashcards asks the model for term/definition pairs and stores them as a new collection.
func (s *Service) GenerateFlashcards(ctx context.Context, input FlashcardInput) (FlashcardCollection, error) {
	name := strings.TrimSpace(input.Name)
	if name == "" || len([]rune(name)) > 200 {
		return FlashcardCollection{}, apperrors.New(opGenerateFlashcards, "invalid_name", apperrors.ErrValidation, "name must be between 1 and 200 characters", nil)
	}
	source := strings.TrimSpace(input.Source)
	if source == "" {
		return FlashcardCollection{}, apperrors.New(opGenerateFlashcards, "missing_source", apperrors.ErrValidation, "source text is required", nil)
	}

	prompt := fmt.Sprintf("Based on the following content, generate exactly %d flashcards for studying. Each flashcard has a "+
		"'term' (a key concept, word or question) and a 'definition' (the explanation or answer). Return only a JSON list of "+
		"objects with keys 'term' and 'definition'.\n\nContent:\n%s", flashcardCount, clip(source, maxSourceRunes))
	var generated []generatedCard
	if err := s.generateList(ctx, opGenerateFlashcards, prompt, "flashcards", &generated); err != nil {
		return FlashcardCollection{}, err
	}

	collectionID, err := s.idProvider.NewID()
	if err != nil {
		return FlashcardCollection{}, s.fail(opGenerateFlashcards, "id_generation_failed", err)
	}
	collection := FlashcardCollection{
		ID:         collectionID,
		UserID:     input.UserID,
		Name:       name,
		FileSource: strings.TrimSpace(input.FileSource),
		CreatedAt:  s.now().UTC(),
	}
	for _, card := range generated {
		term, definition := strings.TrimSpace(card.Term), strings.TrimSpace(card.Definition)
		if term == "" || definition == "" {
			continue
		}
		cardID, err := s.idProvider.NewID()
		if err != nil {
			return FlashcardCollection{}, s.fail(opGenerateFlashcards, "id_generation_failed", err)
		}
		collection.Cards = append(collection.Cards, FlashcardCard{
			ID:           cardID,
			CollectionID: collectionID,
			Position:     len(collection.Cards),
			Term:         term,
			Definition:   definition,
		})
	}
	if len(collection.Cards) == 0 {
		return FlashcardCollection{}, apperrors.New(opGenerateFlashcards, "no_cards", apperrors.ErrUpstream, "the AI tutor did not produce any flashcards", nil)
	}

	if err := s.db.WithContext(ctx).Create(&collection).Error; err != nil {
		return FlashcardCollection{}, s.fail(opGenerateFlashcards, "insert_failed", err, zap.String("user_id", input.UserID))
	}
	return collection, nil
}

// Collections lists the user's flashcard collections, newest first, without their cards.
func (s *Service) Collections(ctx context.Context, userID string) ([]FlashcardCollection, error) {
	var collections []FlashcardCollection
	err := s.db.WithContext(ctx).
		Where("user_id = ?", userID).
		Order("created_at DESC").
		Find(&collections).Error
	if err != nil {
		return nil, s.fail(opCollections, "query_failed", err, zap.String("user_id", userID))
	}
	return collections, nil
}

// Collection loads one of the user's collections with its cards in generation order.
func (s *Service) Collection(ctx context.Context, userID, collectionID string) (FlashcardCollection, error) {
	var collection FlashcardCollection
	err := s.db.WithContext(ctx).
		Preload("Cards", func(db *gorm.DB) *gorm.DB { return db.Order("position ASC") }).
		Where("id = ? AND user_id = ?", collectionID, userID).
		Take(&collection).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return FlashcardCollection{}, apperrors.New(opCollection, "collection_not_found", apperrors.ErrNotFound, "collection not found", err)
		}
		return FlashcardCollection{}, s.fail(opCollection, "query_failed", err, zap.String("collection_id", collectionID))
	}
	return collection, nil
}

// GenerateQuiz asks the model for multiple-choice questions and stores the quiz.
func (s *Service) GenerateQuiz(ctx context.Context, input QuizInput) (Quiz, error) {
	topic := strings.TrimSpace(input.Topic)
	if topic == "" || len([]rune(topic)) > 200 {
		return Quiz{}, apperrors.New(opGenerateQuiz, "invalid_topic", apperrors.ErrValidation, "topic must be between 1 and 200 characters", nil)
	}
	material := strings.TrimSpace(input.Source)
	if material == "" {
		material = "The topic itself: " + topic
	}

	prompt := fmt.Sprintf("Generate exactly %d multiple-choice quiz questions about %q. Each question must have exactly %d "+
		"options and one correct answer. Return only a JSON list of objects with keys 'question', 'options' (a list of %d "+
		"strings) and 'correct_answer' (the text of the correct option).\n\nContent:\n%s",
		quizQuestions, topic, quizOptions, quizOptions, clip(material, maxSourceRunes))
	var generated []QuizQuestion
	if err := s.generateList(ctx, opGenerateQuiz, prompt, "questions", &generated); err != nil {
		return Quiz{}, err
	}

	questions := make([]QuizQuestion, 0, len(generated))
	for _, question := range generated {
		if valid, ok := normalizeQuestion(question); ok {
			questions = append(questions, valid)
		}
	}
	if len(questions) == 0 {
		return Quiz{}, apperrors.New(opGenerateQuiz, "no_questions", apperrors.ErrUpstream, "the AI tutor did not produce any usable questions", nil)
	}

	quizID, err := s.idProvider.NewID()
	if err != nil {
		return Quiz{}, s.fail(opGenerateQuiz, "id_generation_failed", err)
	}
	quiz := Quiz{
		ID:        quizID,
		UserID:    input.UserID,
		Topic:     topic,
		Questions: questions,
		CreatedAt: s.now().UTC(),
	}
	if err := s.db.WithContext(ctx).Create(&quiz).Error; err != nil {
		return Quiz{}, s.fail(opGenerateQuiz, "insert_failed", err, zap.String("user_id", input.UserID))
	}
	return quiz, nil
}

// generateList decodes a JSON list reply. Replies wrapped as {"<key>": [...]} are accepted too.
func (s *Service) generateList(ctx context.Context, operation, prompt, wrapperKey string, target any) error {
	messages := []ai.Message{
		{Role: ai.RoleSystem, Content: "You are a study assistant that replies with JSON only."},
		{Role: ai.RoleUser, Content: prompt},
	}
	var raw json.RawMessage
	if err := s.completer.CompleteJSON(ctx, messages, &raw); err != nil {
		s.logger.Warn("tutor generation failed", zap.String("operation", operation), zap.Error(err))
		return err
	}
	trimmed := strings.TrimSpace(string(raw))
	if strings.HasPrefix(trimmed, "{") {
		var wrapped map[string]json.RawMessage
		if err := json.Unmarshal(raw, &wrapped); err != nil {
			return apperrors.New(operation, "invalid_payload", apperrors.ErrUpstream, "the AI tutor returned malformed data", err)
		}
		inner, ok := wrapped[wrapperKey]
		if !ok {
			return apperrors.New(operation, "invalid_payload", apperrors.ErrUpstream, "the AI tutor returned malformed data", nil)
		}
		raw = inner
	}
	if err := json.Unmarshal(raw, target); err != nil {
		return apperrors.New(operation, "invalid_payload", apperrors.ErrUpstream, "the AI tutor returned malformed data", err)
	}
	return nil
}

func normalizeQuestion(question QuizQuestion) (QuizQuestion, bool) {
	text := strings.TrimSpace(question.Question)
	answer := strings.TrimSpace(question.CorrectAnswer)
	if text == "" || answer == "" || len(question.Options) < 2 {
		return QuizQuestion{}, false
	}
	options := make([]string, 0, len(question.Options))
	answerListed := false
	for _, option := range question.Options {
		trimmed := strings.TrimSpace(option)
		if trimmed == "" {
			return QuizQuestion{}, false
		}
		if trimmed == answer {
			answerListed = true
		}
		options = append(options, trimmed)
	}
	if !answerListed {
		return QuizQuestion{}, false
	}
	return QuizQuestion{Question: text, Options: options, CorrectAnswer: answer}, true
}

func clip(value string, limit int) string {
	runes := []rune(value)
	if len(runes) <= limit {
		return value
	}
	return string(runes[:limit])
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	allFields := append([]zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}, fields...)
	s.logger.Error("tutor service error", allFields...)
	return apperrors.Internal(operation, reason, err)
}
