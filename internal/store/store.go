// Package store persists backtest runs: recorded observation series in a
// relational store and state checkpoints in a local key-value store.
package store

import (
	"fmt"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/driver/postgres"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/cambistlabs/cambist/internal/recorder"
	"github.com/cambistlabs/cambist/pkg/quant"
)

// Run is one persisted backtest run.
type Run struct {
	ID               uuid.UUID `gorm:"type:uuid;primaryKey"`
	CreatedAt        time.Time
	DefaultNumeraire string
	StartTime        time.Time
	EndTime          time.Time
	Label            string
}

// Observation is one recorded observation of a run.
type Observation struct {
	ID    uint      `gorm:"primaryKey"`
	RunID uuid.UUID `gorm:"type:uuid;index:idx_observations_run_key"`
	Key   string    `gorm:"index:idx_observations_run_key"`
	Time  time.Time
	Value float64
}

// Config configures the observation store.
type Config struct {
	Driver string // "sqlite" or "postgres"
	DSN    string
	Logger *zap.Logger
}

// Store wraps the relational observation store.
type Store struct {
	db  *gorm.DB
	log *zap.Logger
}

// Open connects to the configured database and migrates the schema.
func Open(cfg Config) (*Store, error) {
	log := cfg.Logger
	if log == nil {
		log = zap.NewNop()
	}
	var dialector gorm.Dialector
	switch cfg.Driver {
	case "sqlite":
		dialector = sqlite.Open(cfg.DSN)
	case "postgres":
		dialector = postgres.Open(cfg.DSN)
	default:
		return nil, fmt.Errorf("unknown store driver %q", cfg.Driver)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: gormlogger.Default.LogMode(gormlogger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("failed to open observation store: %w", err)
	}
	if err := db.AutoMigrate(&Run{}, &Observation{}); err != nil {
		return nil, fmt.Errorf("failed to migrate observation store: %w", err)
	}
	return &Store{db: db, log: log}, nil
}

// SaveRun inserts the run record.
func (s *Store) SaveRun(run *Run) error {
	if run.ID == uuid.Nil {
		run.ID = uuid.New()
	}
	if err := s.db.Create(run).Error; err != nil {
		return fmt.Errorf("failed to save run %s: %w", run.ID, err)
	}
	return nil
}

// SaveSeries writes every observation of the recorder under the given run.
func (s *Store) SaveSeries(runID uuid.UUID, rec *recorder.Recorder) error {
	var rows []Observation
	for _, key := range rec.Keys() {
		for _, obs := range rec.Series(key) {
			rows = append(rows, Observation{RunID: runID, Key: key, Time: obs.Time, Value: obs.Value})
		}
	}
	if len(rows) == 0 {
		return nil
	}
	if err := s.db.CreateInBatches(rows, 500).Error; err != nil {
		return fmt.Errorf("failed to save series for run %s: %w", runID, err)
	}
	s.log.Info("saved observation series", zap.String("run", runID.String()), zap.Int("rows", len(rows)))
	return nil
}

// LoadSeries reads a run's observations back, keyed and time-ordered.
func (s *Store) LoadSeries(runID uuid.UUID) (map[string][]quant.Observation, error) {
	var rows []Observation
	if err := s.db.Where("run_id = ?", runID).Order("key, time").Find(&rows).Error; err != nil {
		return nil, fmt.Errorf("failed to load series for run %s: %w", runID, err)
	}
	out := make(map[string][]quant.Observation)
	for _, row := range rows {
		out[row.Key] = append(out[row.Key], quant.Observation{Time: row.Time.UTC(), Value: row.Value})
	}
	return out, nil
}

// ListRuns returns all runs, newest first.
func (s *Store) ListRuns() ([]Run, error) {
	var runs []Run
	if err := s.db.Order("created_at desc").Find(&runs).Error; err != nil {
		return nil, fmt.Errorf("failed to list runs: %w", err)
	}
	return runs, nil
}

// Close releases the underlying connection pool.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
