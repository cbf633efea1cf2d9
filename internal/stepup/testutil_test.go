package stepup

import (
	"sync"
	"testing"

	"github.com/glebarez/sqlite"
	"github.com/learnhub/auth/internal/models"
	"github.com/learnhub/auth/pkg/logger"
	"github.com/learnhub/auth/pkg/utils"
	"gorm.io/gorm"
)

var testSetupOnce sync.Once

func setupDB(t *testing.T) *gorm.DB {
	t.Helper()

	testSetupOnce.Do(func() {
		logger.Init()
		utils.ConfigureEncryption("test-secret")
	})

	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{})
	if err != nil {
		t.Fatalf("failed opening in-memory sqlite database: %v", err)
	}

	sqlDB, err := db.DB()
	if err != nil {
		t.Fatalf("failed getting sql.DB from gorm: %v", err)
	}
	sqlDB.SetMaxOpenConns(1)

	t.Cleanup(func() {
		_ = sqlDB.Close()
	})

	err = db.AutoMigrate(
		&models.Credential{},
		&models.TOTPSecret{},
		&models.BackupCode{},
	)
	if err != nil {
		t.Fatalf("failed automigrating models: %v", err)
	}
	return db
}
