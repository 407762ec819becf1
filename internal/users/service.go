package users

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/apperrors"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/auth"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"go.uber.org/zap"
	"gorm.io/gorm"
)

const (
	opServiceNew   = "users.service.new"
	opResolveUser  = "users.resolve_user"
	opCreateUser   = "users.create_user"
	opGetUser      = "users.get_user"
	opProfiles     = "users.profiles"
	maxUsernameLen = 64

	placeholderEmailDomain = "users.studyhall.invalid"
)

var (
	errMissingDatabase = errors.New("database handle is required")
	noOpLogger         = zap.NewNop()
)

// ServiceConfig describes the dependencies required for account management.
type ServiceConfig struct {
	Database   *gorm.DB
	Clock      func() time.Time
	IDProvider ids.Provider
	Logger     *zap.Logger
}

// Service manages StudyHall accounts and resolves token identities to users.
type Service struct {
	db         *gorm.DB
	now        func() time.Time
	idProvider ids.Provider
	logger     *zap.Logger
	known      sync.Map
}

// NewService constructs the account service.
func NewService(cfg ServiceConfig) (*Service, error) {
	if cfg.Database == nil {
		return nil, apperrors.Internal(opServiceNew, "missing_database", errMissingDatabase)
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
		now:        clock,
		idProvider: idProvider,
		logger:     logger,
	}, nil
}

// NewUser describes an account created through the admin tooling.
type NewUser struct {
	Username    string
	Email       string
	DisplayName string
}

// CreateUser inserts a new active account.
func (s *Service) CreateUser(ctx context.Context, request NewUser) (User, error) {
	username := normalize(request.Username)
	email := strings.ToLower(normalize(request.Email))
	if username == "" || len(username) > maxUsernameLen {
		return User{}, apperrors.New(opCreateUser, "invalid_username", apperrors.ErrValidation, "username must be between 1 and 64 characters", nil)
	}
	if email == "" || !strings.Contains(email, "@") {
		return User{}, apperrors.New(opCreateUser, "invalid_email", apperrors.ErrValidation, "a valid email is required", nil)
	}

	userID, err := s.idProvider.NewID()
	if err != nil {
		return User{}, s.fail(opCreateUser, "id_generation_failed", err)
	}

	now := s.now().UTC()
	user := User{
		ID:          userID,
		Username:    username,
		Email:       email,
		DisplayName: normalize(request.DisplayName),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err = s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUnique(tx, opCreateUser, "", username, email); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return s.fail(opCreateUser, "insert_failed", err)
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.known.Store(user.ID, struct{}{})
	return user, nil
}

// ResolveUser maps a verified token identity to an account, provisioning it on first sight.
func (s *Service) ResolveUser(ctx context.Context, identity auth.Identity) (string, error) {
	userID := normalize(identity.UserID)
	if userID == "" {
		return "", apperrors.New(opResolveUser, "missing_subject", apperrors.ErrValidation, "token subject is required", nil)
	}
	if _, ok := s.known.Load(userID); ok {
		return userID, nil
	}

	var user User
	err := s.db.WithContext(ctx).Where("id = ?", userID).Take(&user).Error
	switch {
	case errors.Is(err, gorm.ErrRecordNotFound):
		user, err = s.provision(ctx, userID, identity)
		if err != nil {
			return "", err
		}
	case err != nil:
		return "", s.fail(opResolveUser, "query_failed", err, zap.String("user_id", userID))
	case !user.IsActive:
		return "", apperrors.New(opResolveUser, "inactive_user", apperrors.ErrForbidden, "account is disabled", nil)
	}

	s.known.Store(user.ID, struct{}{})
	return user.ID, nil
}

func (s *Service) provision(ctx context.Context, userID string, identity auth.Identity) (User, error) {
	username := normalize(identity.Username)
	email := strings.ToLower(normalize(identity.Email))
	if email == "" {
		email = fmt.Sprintf("%s@%s", userID, placeholderEmailDomain)
	}
	if username == "" {
		username = strings.SplitN(email, "@", 2)[0]
	}
	if len(username) > maxUsernameLen {
		username = username[:maxUsernameLen]
	}

	now := s.now().UTC()
	user := User{
		ID:          userID,
		Username:    username,
		Email:       email,
		DisplayName: normalize(identity.DisplayName),
		IsActive:    true,
		CreatedAt:   now,
		UpdatedAt:   now,
	}
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		if err := ensureUnique(tx, opResolveUser, userID, username, email); err != nil {
			return err
		}
		if err := tx.Create(&user).Error; err != nil {
			return s.fail(opResolveUser, "insert_failed", err, zap.String("user_id", userID))
		}
		return nil
	})
	if err != nil {
		return User{}, err
	}
	s.logger.Info("user provisioned", zap.String("user_id", userID), zap.String("username", username))
	return user, nil
}

// GetUser loads an account by identifier.
func (s *Service) GetUser(ctx context.Context, userID string) (User, error) {
	var user User
	err := s.db.WithContext(ctx).Where("id = ?", normalize(userID)).Take(&user).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return User{}, apperrors.New(opGetUser, "not_found", apperrors.ErrNotFound, "user not found", err)
	}
	if err != nil {
		return User{}, s.fail(opGetUser, "query_failed", err, zap.String("user_id", userID))
	}
	return user, nil
}

// Profiles loads public profiles for the given identifiers. Unknown identifiers are omitted.
func (s *Service) Profiles(ctx context.Context, userIDs []string) (map[string]Profile, error) {
	return LoadProfiles(s.db.WithContext(ctx), userIDs)
}

// LoadProfiles loads public profiles using the provided handle, which may be a transaction.
func LoadProfiles(db *gorm.DB, userIDs []string) (map[string]Profile, error) {
	profiles := make(map[string]Profile, len(userIDs))
	unique := uniqueIDs(userIDs)
	if len(unique) == 0 {
		return profiles, nil
	}
	var found []User
	if err := db.Where("id IN ?", unique).Find(&found).Error; err != nil {
		return nil, apperrors.Internal(opProfiles, "query_failed", err)
	}
	for _, user := range found {
		profiles[user.ID] = user.Profile()
	}
	return profiles, nil
}

func ensureUnique(tx *gorm.DB, operation, userID, username, email string) error {
	var taken []User
	query := tx.Where("username = ? OR email = ?", username, email)
	if userID != "" {
		query = query.Where("id <> ?", userID)
	}
	if err := query.Find(&taken).Error; err != nil {
		return apperrors.Internal(operation, "uniqueness_check_failed", err)
	}
	for _, existing := range taken {
		if existing.Username == username {
			return apperrors.New(operation, "username_taken", apperrors.ErrConflict, "username is already taken", nil)
		}
		if existing.Email == email {
			return apperrors.New(operation, "email_taken", apperrors.ErrConflict, "email is already registered", nil)
		}
	}
	return nil
}

func uniqueIDs(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	unique := make([]string, 0, len(values))
	for _, value := range values {
		if value == "" {
			continue
		}
		if _, ok := seen[value]; ok {
			continue
		}
		seen[value] = struct{}{}
		unique = append(unique, value)
	}
	return unique
}

func (s *Service) fail(operation, reason string, err error, fields ...zap.Field) error {
	attrs := []zap.Field{
		zap.String("operation", operation),
		zap.String("reason", reason),
		zap.Error(err),
	}
	attrs = append(attrs, fields...)
	s.logger.Error("users service error", attrs...)
	return apperrors.Internal(operation, reason, err)
}
