// Package models defines GORM database models for audiocast.
package models

import (
	"errors"
	"time"
)

// ErrKeyRequired indicates a blob was saved without a key.
var ErrKeyRequired = errors.New("blob key is required")

// CacheBlob stores one serialized cache map under a fixed key.
type CacheBlob struct {
	Key       string    `gorm:"column:blob_key;primaryKey;size:128"`
	Data      []byte    `gorm:"not null"`
	UpdatedAt time.Time `gorm:"not null"`
}

// TableName returns the table name for cache blobs.
func (CacheBlob) TableName() string {
	return "cache_blobs"
}

// Validate checks the blob before it is written.
func (b *CacheBlob) Validate() error {
	if b.Key == "" {
		return ErrKeyRequired
	}
	return nil
}
