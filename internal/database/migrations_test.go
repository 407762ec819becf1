package database

import (
	"path/filepath"
	"testing"

	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/community"
	"github.com/MarcoPoloResearchLab/studyhall/backend/internal/reputation"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestOpenAndMigrateSeedsReferenceData(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "studyhall.db")

	core, recorded := observer.New(zap.InfoLevel)
	database, err := OpenAndMigrate(DriverSQLite, databasePath, zap.New(core))
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	var badgeCount int64
	if err := database.Model(&reputation.Badge{}).Count(&badgeCount).Error; err != nil {
		testContext.Fatalf("failed to count badges: %v", err)
	}
	if badgeCount != int64(len(reputation.DefaultBadges())) {
		testContext.Fatalf("expected %d badges, got %d", len(reputation.DefaultBadges()), badgeCount)
	}

	var channels []community.Channel
	if err := database.Order("slug").Find(&channels).Error; err != nil {
		testContext.Fatalf("failed to load channels: %v", err)
	}
	if len(channels) != len(community.DefaultLegacyChannels()) {
		testContext.Fatalf("expected %d legacy channels, got %d", len(community.DefaultLegacyChannels()), len(channels))
	}
	for _, channel := range channels {
		if !channel.IsLegacy() {
			testContext.Fatalf("expected channel %s to be legacy", channel.Slug)
		}
	}

	if applied := recorded.FilterMessage("database migration applied").Len(); applied != len(migrationDefinitions()) {
		testContext.Fatalf("expected %d applied migrations to be logged, got %d", len(migrationDefinitions()), applied)
	}
}

func TestMigrateIsIdempotent(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "studyhall.db")
	database, err := OpenAndMigrate(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	core, recorded := observer.New(zap.InfoLevel)
	if err := Migrate(database, zap.New(core)); err != nil {
		testContext.Fatalf("second migration failed: %v", err)
	}
	if recorded.FilterMessage("database migration applied").Len() != 0 {
		testContext.Fatalf("expected no migrations to be re-applied")
	}

	var channelCount int64
	if err := database.Model(&community.Channel{}).Count(&channelCount).Error; err != nil {
		testContext.Fatalf("failed to count channels: %v", err)
	}
	if channelCount != int64(len(community.DefaultLegacyChannels())) {
		testContext.Fatalf("expected legacy channels to be seeded once, got %d", channelCount)
	}

	var record migrationRecord
	if err := database.Where("name = ?", migrationSeedBadges).Take(&record).Error; err != nil {
		testContext.Fatalf("expected migration record to be created: %v", err)
	}
	if record.AppliedAtSeconds == 0 {
		testContext.Fatalf("expected migration timestamp to be set")
	}
}

func TestMigrationsAreRecordedInOrder(testContext *testing.T) {
	databasePath := filepath.Join(testContext.TempDir(), "studyhall.db")
	database, err := OpenAndMigrate(DriverSQLite, databasePath, zap.NewNop())
	if err != nil {
		testContext.Fatalf("failed to open database: %v", err)
	}

	var records []migrationRecord
	if err := database.Order("name").Find(&records).Error; err != nil {
		testContext.Fatalf("failed to load migration records: %v", err)
	}
	expected := []string{migrationSeedBadges, migrationSeedLegacyChannels}
	if len(records) != len(expected) {
		testContext.Fatalf("expected %d migration records, got %d", len(expected), len(records))
	}
	for index, name := range expected {
		if records[index].Name != name {
			testContext.Fatalf("expected migration %d to be %s, got %s", index, name, records[index].Name)
		}
	}
}

func TestOpenRejectsUnknownDriver(testContext *testing.T) {
	if _, err := Open("oracle", "dsn", nil); err == nil {
		testContext.Fatalf("expected unsupported driver error")
	}
	if _, err := Open(DriverSQLite, " ", nil); err == nil {
		testContext.Fatalf("expected missing dsn error")
	}
}
