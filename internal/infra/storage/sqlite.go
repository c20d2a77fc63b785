package storage

import (
	"context"
	"fmt"
	"os"
	"path/filepath"

	"esa_go/internal/domain"

	"github.com/glebarez/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

const insertBatchSize = 256

// FrameStore keeps raw protocol lines in SQLite for diagnostics and replay.
// The cache is never restored from it.
type FrameStore struct {
	db *gorm.DB
}

// NewFrameStore opens (or creates) the database at path.
func NewFrameStore(path string) (*FrameStore, error) {
	if dir := filepath.Dir(path); dir != "" {
		if err := os.MkdirAll(dir, 0755); err != nil {
			return nil, fmt.Errorf("failed to create DB directory: %w", err)
		}
	}

	// Connect to SQLite (Pure Go)
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := db.AutoMigrate(&domain.Frame{}); err != nil {
		return nil, fmt.Errorf("failed to migrate database: %w", err)
	}

	return &FrameStore{db: db}, nil
}

// SaveFrames inserts frames in batches.
func (s *FrameStore) SaveFrames(ctx context.Context, frames []domain.Frame) error {
	if len(frames) == 0 {
		return nil
	}
	return s.db.WithContext(ctx).CreateInBatches(frames, insertBatchSize).Error
}

// Connections lists the recorded connection generations in ascending order.
func (s *FrameStore) Connections(ctx context.Context) ([]uint64, error) {
	var ids []uint64
	err := s.db.WithContext(ctx).
		Model(&domain.Frame{}).
		Distinct("connection").
		Order("connection").
		Pluck("connection", &ids).Error
	return ids, err
}

// LatestConnection returns the highest recorded connection generation.
func (s *FrameStore) LatestConnection(ctx context.Context) (uint64, error) {
	var latest uint64
	err := s.db.WithContext(ctx).
		Model(&domain.Frame{}).
		Select("COALESCE(MAX(connection), 0)").
		Scan(&latest).Error
	return latest, err
}

// Frames returns the frames of one connection in recording order.
func (s *FrameStore) Frames(ctx context.Context, connection uint64, direction string) ([]domain.Frame, error) {
	var frames []domain.Frame
	q := s.db.WithContext(ctx).Where("connection = ?", connection)
	if direction != "" {
		q = q.Where("direction = ?", direction)
	}
	err := q.Order("id").Find(&frames).Error
	return frames, err
}

// InboundLines returns the received lines of one connection, ready for replay.
func (s *FrameStore) InboundLines(ctx context.Context, connection uint64) ([]string, error) {
	frames, err := s.Frames(ctx, connection, domain.DirectionInbound)
	if err != nil {
		return nil, err
	}
	lines := make([]string, len(frames))
	for i, f := range frames {
		lines[i] = f.Line
	}
	return lines, nil
}

// Count returns the number of stored frames.
func (s *FrameStore) Count(ctx context.Context) (int64, error) {
	var n int64
	err := s.db.WithContext(ctx).Model(&domain.Frame{}).Count(&n).Error
	return n, err
}

// Close closes the underlying connection pool.
func (s *FrameStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
