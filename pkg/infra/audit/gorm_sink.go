package audit

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
)

// SecurityEvent is the persisted form of an audit event.
type SecurityEvent struct {
	ID        uuid.UUID `gorm:"type:uuid;primaryKey"`
	Timestamp time.Time `gorm:"index"`
	Level     string    `gorm:"index"`
	Type      string    `gorm:"index"`
	Subject   string    `gorm:"index"`
	Details   []byte    `gorm:"type:jsonb"`
	CreatedAt time.Time
}

func (SecurityEvent) TableName() string {
	return "security_events"
}

type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	DBName   string
	SSLMode  string
}

func (c PostgresConfig) DSN() string {
	return fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.DBName, c.SSLMode,
	)
}

// gormSink persists audit events to Postgres.
type gormSink struct {
	db *gorm.DB
}

func NewGormSink(config PostgresConfig) (Sink, error) {
	db, err := gorm.Open(postgres.Open(config.DSN()), &gorm.Config{})
	if err != nil {
		return nil, fmt.Errorf("failed to connect to audit database: %w", err)
	}
	if err := db.AutoMigrate(&SecurityEvent{}); err != nil {
		return nil, fmt.Errorf("failed to migrate security_events: %w", err)
	}
	return &gormSink{db: db}, nil
}

// NewGormSinkWithDB wraps an existing connection. Used by tests.
func NewGormSinkWithDB(db *gorm.DB) Sink {
	return &gormSink{db: db}
}

func (s *gormSink) Record(ctx context.Context, event Event) error {
	details, err := json.Marshal(event.Details)
	if err != nil {
		return fmt.Errorf("failed to marshal event details: %w", err)
	}
	row := SecurityEvent{
		ID:        event.ID,
		Timestamp: event.Timestamp,
		Level:     string(event.Level),
		Type:      event.Type,
		Subject:   event.Subject,
		Details:   details,
	}
	if err := s.db.WithContext(ctx).Create(&row).Error; err != nil {
		return fmt.Errorf("failed to persist audit event: %w", err)
	}
	return nil
}
