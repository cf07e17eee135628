// Package audit persists every escrow lifecycle event to a relational store.
// The sink implements events.Emitter, so it plugs straight into the node's
// post-commit fan-out. Records are append-only; nothing in the service ever
// updates or deletes them.
package audit

import (
	"encoding/json"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"

	"ordervault/core/events"
	"ordervault/core/types"
)

// Record is one persisted lifecycle event.
type Record struct {
	ID         string    `gorm:"primaryKey;size:36"`
	EventType  string    `gorm:"index;size:64;not null"`
	Buyer      string    `gorm:"index;size:90"`
	Attributes string    `gorm:"type:text"`
	CreatedAt  time.Time `gorm:"index;not null"`
}

func (Record) TableName() string { return "escrow_events" }

// Sink writes event records through gorm.
type Sink struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects to the store named by the DSN and migrates the schema. A
// "postgres://" DSN selects PostgreSQL, anything else is treated as a SQLite
// file path.
func Open(dsn string, log *slog.Logger) (*Sink, error) {
	if strings.TrimSpace(dsn) == "" {
		return nil, fmt.Errorf("audit: empty DSN")
	}
	var dialector gorm.Dialector
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		dialector = postgres.Open(dsn)
	} else {
		dialector = sqlite.Open(dsn)
	}
	db, err := gorm.Open(dialector, &gorm.Config{Logger: logger.Default.LogMode(logger.Silent)})
	if err != nil {
		return nil, fmt.Errorf("audit: open store: %w", err)
	}
	if err := db.AutoMigrate(&Record{}); err != nil {
		return nil, fmt.Errorf("audit: migrate schema: %w", err)
	}
	if log == nil {
		log = slog.Default()
	}
	return &Sink{db: db, logger: log}, nil
}

// Emit persists the event. Failures are logged, not propagated: the state
// transition has already committed and must not be unwound by a sink outage.
func (s *Sink) Emit(evt events.Event) {
	if s == nil || s.db == nil || evt == nil {
		return
	}
	provider, ok := evt.(interface{ Event() *types.Event })
	if !ok {
		return
	}
	payload := provider.Event()
	if payload == nil {
		return
	}
	attrs, err := json.Marshal(payload.Attributes)
	if err != nil {
		s.logger.Error("audit: encode event attributes", "type", payload.Type, "error", err)
		return
	}
	rec := &Record{
		ID:         uuid.NewString(),
		EventType:  payload.Type,
		Buyer:      payload.Attributes["buyer"],
		Attributes: string(attrs),
		CreatedAt:  time.Now().UTC(),
	}
	if err := s.db.Create(rec).Error; err != nil {
		s.logger.Error("audit: persist event", "type", payload.Type, "error", err)
	}
}

// RecentByBuyer returns the newest events recorded for a buyer address.
func (s *Sink) RecentByBuyer(buyer string, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = 50
	}
	var out []Record
	err := s.db.Where("buyer = ?", buyer).Order("created_at desc").Limit(limit).Find(&out).Error
	return out, err
}

// Close releases the underlying connection pool.
func (s *Sink) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}
