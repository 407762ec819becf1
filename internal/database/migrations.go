package database

import (
	"errors"
	"time"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/ids"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"go.uber.org/zap"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

const (
	migrationSeedBadges         = "0001_seed_badges"
	migrationSeedLegacyChannels = "0002_seed_legacy_channels"
)

type migrationRecord struct {
	Name             string `gorm:"column:name;primaryKey;size:190;not null"`
	AppliedAtSeconds int64  `gorm:"column:applied_at_s;not null"`
}

func (migrationRecord) TableName() string {
	return "db_migrations"
}

type migrationDefinition struct {
	name  string
	apply func(*gorm.DB) error
}

func migrationDefinitions() []migrationDefinition {
	return []migrationDefinition{
		{name: migrationSeedBadges, apply: seedBadges},
		{name: migrationSeedLegacyChannels, apply: seedLegacyChannels},
	}
}

func applyMigrations(db *gorm.DB, logger *zap.Logger) error {
	for _, migration := range migrationDefinitions() {
		var record migrationRecord
		err := db.Where("name = ?", migration.name).Take(&record).Error
		if err == nil {
			continue
		}
		if !errors.Is(err, gorm.ErrRecordNotFound) {
			return err
		}
		err = db.Transaction(func(tx *gorm.DB) error {
			if err := migration.apply(tx); err != nil {
				return err
			}
			appliedAt := time.Now().UTC().Unix()
			return tx.Create(&migrationRecord{Name: migration.name, AppliedAtSeconds: appliedAt}).Error
		})
		if err != nil {
			return err
		}
		logger.Info("database migration applied", zap.String("migration", migration.name))
	}
	return nil
}

func seedBadges(db *gorm.DB) error {
	now := time.Now().UTC()
	badges := reputation.DefaultBadges()
	for index := range badges {
		badges[index].CreatedAt = now
	}
	return db.Clauses(clause.OnConflict{DoNothing: true}).Create(&badges).Error
}

func seedLegacyChannels(db *gorm.DB) error {
	provider := ids.NewUUIDProvider()
	now := time.Now().UTC()
	for _, seed := range community.DefaultLegacyChannels() {
		var existing int64
		if err := db.Model(&community.Channel{}).Where("slug = ?", seed.Slug).Count(&existing).Error; err != nil {
			return err
		}
		if existing > 0 {
			continue
		}
		channelID, err := provider.NewID()
		if err != nil {
			return err
		}
		channel := community.Channel{
			ID:          channelID,
			Name:        seed.Name,
			Slug:        seed.Slug,
			Description: seed.Description,
			CreatedAt:   now,
		}
		if err := db.Create(&channel).Error; err != nil {
			return err
		}
	}
	return nil
}
