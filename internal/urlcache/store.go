package urlcache

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"sync"
	"time"

	"github.com/jmylchreest/audiocast/internal/models"
	"github.com/peterbourgon/diskv/v3"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
)

// ErrNotFound is returned by a BlobStore when the key has never been saved.
var ErrNotFound = errors.New("blob not found")

// BlobStore persists opaque blobs by key.
type BlobStore interface {
	Load(ctx context.Context, key string) ([]byte, error)
	Save(ctx context.Context, key string, data []byte) error
	Delete(ctx context.Context, key string) error
}

// MemoryStore keeps blobs in process memory.
type MemoryStore struct {
	mu    sync.RWMutex
	blobs map[string][]byte
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{blobs: make(map[string][]byte)}
}

func (s *MemoryStore) Load(_ context.Context, key string) ([]byte, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()
	data, ok := s.blobs[key]
	if !ok {
		return nil, ErrNotFound
	}
	return append([]byte(nil), data...), nil
}

func (s *MemoryStore) Save(_ context.Context, key string, data []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.blobs[key] = append([]byte(nil), data...)
	return nil
}

func (s *MemoryStore) Delete(_ context.Context, key string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	delete(s.blobs, key)
	return nil
}

// DiskStore persists blobs as files under a base directory.
type DiskStore struct {
	d *diskv.Diskv
}

// NewDiskStore creates a store rooted at dir, keeping up to cacheSize bytes
// of recently read blobs in memory.
func NewDiskStore(dir string, cacheSize uint64) (*DiskStore, error) {
	d := diskv.New(diskv.Options{
		BasePath:     dir,
		CacheSizeMax: cacheSize,
		Transform:    func(string) []string { return []string{} },
	})
	if err := d.Write("_probe", []byte("ok")); err != nil {
		return nil, fmt.Errorf("initializing disk store at %s: %w", dir, err)
	}
	_ = d.Erase("_probe")
	return &DiskStore{d: d}, nil
}

func (s *DiskStore) Load(_ context.Context, key string) ([]byte, error) {
	data, err := s.d.Read(key)
	if err != nil {
		if errors.Is(err, fs.ErrNotExist) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return data, nil
}

func (s *DiskStore) Save(_ context.Context, key string, data []byte) error {
	return s.d.Write(key, data)
}

func (s *DiskStore) Delete(_ context.Context, key string) error {
	if !s.d.Has(key) {
		return nil
	}
	return s.d.Erase(key)
}

// DBStore persists blobs in the cache_blobs table. The schema is created by
// the database migrations.
type DBStore struct {
	db *gorm.DB
}

// NewDBStore creates a store on db.
func NewDBStore(db *gorm.DB) *DBStore {
	return &DBStore{db: db}
}

func (s *DBStore) Load(ctx context.Context, key string) ([]byte, error) {
	var blob models.CacheBlob
	err := s.db.WithContext(ctx).Where("blob_key = ?", key).First(&blob).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("loading blob %s: %w", key, err)
	}
	return blob.Data, nil
}

func (s *DBStore) Save(ctx context.Context, key string, data []byte) error {
	blob := models.CacheBlob{Key: key, Data: data, UpdatedAt: time.Now().UTC()}
	if err := blob.Validate(); err != nil {
		return err
	}
	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "blob_key"}},
		DoUpdates: clause.AssignmentColumns([]string{"data", "updated_at"}),
	}).Create(&blob).Error
	if err != nil {
		return fmt.Errorf("saving blob %s: %w", key, err)
	}
	return nil
}

func (s *DBStore) Delete(ctx context.Context, key string) error {
	if err := s.db.WithContext(ctx).Where("blob_key = ?", key).Delete(&models.CacheBlob{}).Error; err != nil {
		return fmt.Errorf("deleting blob %s: %w", key, err)
	}
	return nil
}
