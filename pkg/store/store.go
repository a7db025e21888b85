// Package store persists anomaly detections in SQLite.
package store

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"go.uber.org/zap"
	"gorm.io/gorm"
	gormlogger "gorm.io/gorm/logger"

	"github.com/hed1ad/netguard/pkg/anomaly"
)

// PredictionTypeAnomaly marks predictions produced by the anomaly model.
const PredictionTypeAnomaly = "anomaly"

// Prediction is one stored anomalous detection.
type Prediction struct {
	ID                  string    `gorm:"primaryKey;size:36" json:"id"`
	ModelName           string    `gorm:"not null;index" json:"model_name"`
	ModelVersion        string    `gorm:"not null" json:"model_version"`
	PredictionType      string    `gorm:"not null" json:"prediction_type"`
	SourceIP            string    `json:"source_ip"`
	DestinationIP       string    `json:"destination_ip"`
	EventTimestamp      time.Time `json:"event_timestamp"`
	AnomalyScore        float64   `json:"anomaly_score"`
	ConfidenceScore     float64   `json:"confidence_score"`
	Severity            string    `json:"severity"`
	InferenceTimeMs     float64   `json:"inference_time_ms"`
	PredictionTimestamp time.Time `gorm:"not null;index" json:"prediction_timestamp"`
}

// Store is a prediction database.
type Store struct {
	db     *gorm.DB
	logger *zap.Logger
}

// Option configures a Store.
type Option func(*Store)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(s *Store) {
		if l != nil {
			s.logger = l
		}
	}
}

// Open connects to the SQLite database at dsn and migrates the schema.
func Open(dsn string, opts ...Option) (*Store, error) {
	s := &Store{logger: zap.NewNop()}
	for _, opt := range opts {
		opt(s)
	}

	db, err := gorm.Open(sqlite.Open(dsn), &gorm.Config{
		Logger: gormlogger.Default.LogMode(gormlogger.Silent),
	})
	if err != nil {
		return nil, fmt.Errorf("open store: %w", err)
	}

	if strings.Contains(dsn, ":memory:") {
		// Each connection of an in-memory database is a separate database.
		sqlDB, err := db.DB()
		if err != nil {
			return nil, fmt.Errorf("open store: %w", err)
		}
		sqlDB.SetMaxOpenConns(1)
	} else if err := db.Exec("PRAGMA journal_mode=WAL;").Error; err != nil {
		s.logger.Warn("failed to enable WAL mode", zap.Error(err))
	}

	if err := db.AutoMigrate(&Prediction{}); err != nil {
		return nil, fmt.Errorf("migrate store: %w", err)
	}

	s.db = db
	s.logger.Info("prediction store opened", zap.String("dsn", dsn))

	return s, nil
}

// SaveDetections stores every anomalous row of result and returns how many
// were written.
func (s *Store) SaveDetections(ctx context.Context, result *anomaly.Result, modelVersion string, latency time.Duration) (int, error) {
	anomalies := result.Anomalies()
	if len(anomalies) == 0 {
		return 0, nil
	}

	now := time.Now().UTC()
	latencyMs := float64(latency) / float64(time.Millisecond)

	rows := make([]Prediction, len(anomalies))
	for i, d := range anomalies {
		rows[i] = Prediction{
			ID:                  uuid.NewString(),
			ModelName:           anomaly.Name,
			ModelVersion:        modelVersion,
			PredictionType:      PredictionTypeAnomaly,
			SourceIP:            d.SourceIP,
			DestinationIP:       d.DestinationIP,
			EventTimestamp:      d.Timestamp,
			AnomalyScore:        d.AnomalyScore,
			ConfidenceScore:     d.Confidence,
			Severity:            string(d.Severity),
			InferenceTimeMs:     latencyMs,
			PredictionTimestamp: now,
		}
	}

	if err := s.db.WithContext(ctx).CreateInBatches(rows, 100).Error; err != nil {
		return 0, fmt.Errorf("save detections: %w", err)
	}

	s.logger.Debug("stored detections", zap.Int("count", len(rows)))

	return len(rows), nil
}

// Recent returns up to limit anomaly predictions made at or after since,
// newest first.
func (s *Store) Recent(ctx context.Context, since time.Time, limit int) ([]Prediction, error) {
	var out []Prediction

	err := s.db.WithContext(ctx).
		Where("prediction_type = ? AND prediction_timestamp >= ?", PredictionTypeAnomaly, since.UTC()).
		Order("prediction_timestamp DESC").
		Limit(limit).
		Find(&out).Error
	if err != nil {
		return nil, fmt.Errorf("query recent predictions: %w", err)
	}

	return out, nil
}

// Close closes the database.
func (s *Store) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
