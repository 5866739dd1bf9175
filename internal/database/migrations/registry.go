// Package migrations provides database migration management for audiocast.
package migrations

import (
	"github.com/jmylchreest/audiocast/internal/models"
	"gorm.io/gorm"
)

// AllMigrations returns all registered migrations in order.
// - 001: Create cache_blobs for the persisted signed-URL cache
func AllMigrations() []Migration {
	return []Migration{
		migration001CacheBlobs(),
	}
}

func migration001CacheBlobs() Migration {
	return Migration{
		Version:     "001",
		Description: "Create cache_blobs table",
		Up: func(tx *gorm.DB) error {
			return tx.AutoMigrate(&models.CacheBlob{})
		},
		Down: func(tx *gorm.DB) error {
			if tx.Migrator().HasTable(&models.CacheBlob{}) {
				return tx.Migrator().DropTable(&models.CacheBlob{})
			}
			return nil
		},
	}
}
