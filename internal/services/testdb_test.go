package services

import (
	"path/filepath"
	"testing"

	"ai_assistant_go_backend/internal/database"
	"ai_assistant_go_backend/internal/models"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

func newTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	path := filepath.Join(t.TempDir(), "test.db")
	db, err := gorm.Open(sqlite.Open(path+"?_busy_timeout=5000"), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	require.NoError(t, err)
	require.NoError(t, database.Migrate(db))
	return db
}

func createTestUser(t *testing.T, db *gorm.DB) *models.User {
	t.Helper()
	id := uuid.NewString()
	user := &models.User{
		ExternalID: "auth|" + id,
		Email:      id + "@example.com",
		Name:       "Test User",
	}
	require.NoError(t, db.Create(user).Error)
	return user
}

func seedActiveConfig(t *testing.T, db *gorm.DB) *models.AIConfig {
	t.Helper()
	cfg := &models.AIConfig{
		Name:            "Default",
		Provider:        models.ProviderOpenAI,
		APIKey:          "sk-test",
		ModelName:       "gpt-4o-mini",
		MaxTokens:       500,
		Temperature:     0.7,
		CostPer1KTokens: 0.002,
		MarkupPercent:   300,
		CreditRate:      10,
		IsActive:        true,
	}
	require.NoError(t, db.Create(cfg).Error)
	return cfg
}
