package correlation

import (
	"context"
	"errors"
	"fmt"
	"time"

	"gorm.io/gorm"
	"gorm.io/gorm/clause"

	"conversions/models"
)

type correlationRow struct {
	Key       string `gorm:"primaryKey;size:255"`
	FBP       string `gorm:"column:fbp"`
	FBC       string `gorm:"column:fbc"`
	SeenAt    time.Time
	ExpiresAt time.Time `gorm:"index"`
}

func (correlationRow) TableName() string {
	return "correlation_records"
}

// PostgresStore keeps records in a table; expired rows are ignored on read.
type PostgresStore struct {
	db   *gorm.DB
	ttl  time.Duration
	nowF func() time.Time
}

func NewPostgresStore(db *gorm.DB, ttl time.Duration) *PostgresStore {
	return &PostgresStore{db: db, ttl: ttl, nowF: time.Now}
}

// Migrate creates or updates the correlation table.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if err := s.db.WithContext(ctx).AutoMigrate(&correlationRow{}); err != nil {
		return fmt.Errorf("failed to migrate correlation table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Put(ctx context.Context, key string, rec models.CorrelationRecord) error {
	now := s.nowF()
	seen := rec.Timestamp
	if seen.IsZero() {
		seen = now
	}
	row := correlationRow{
		Key:       key,
		FBP:       rec.FBP,
		FBC:       rec.FBC,
		SeenAt:    seen,
		ExpiresAt: now.Add(s.ttl),
	}

	err := s.db.WithContext(ctx).Clauses(clause.OnConflict{
		Columns:   []clause.Column{{Name: "key"}},
		DoUpdates: clause.AssignmentColumns([]string{"fbp", "fbc", "seen_at", "expires_at"}),
	}).Create(&row).Error
	if err != nil {
		return fmt.Errorf("failed to upsert correlation record: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, key string) (models.CorrelationRecord, error) {
	var row correlationRow
	err := s.db.WithContext(ctx).
		Where("key = ? AND expires_at > ?", key, s.nowF()).
		Take(&row).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return models.CorrelationRecord{}, ErrNotFound
	}
	if err != nil {
		return models.CorrelationRecord{}, fmt.Errorf("failed to query correlation record: %w", err)
	}
	return models.CorrelationRecord{FBP: row.FBP, FBC: row.FBC, Timestamp: row.SeenAt}, nil
}
