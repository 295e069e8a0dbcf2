package audit

import (
	"encoding/json"
	"errors"
	"log/slog"
	"path/filepath"
	"strings"
	"time"

	"github.com/glebarez/sqlite"
	"github.com/google/uuid"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"

	"vestd/core/events"
	"vestd/core/types"
)

// Entry is one recorded engine event. Attributes are stored as a JSON blob so
// the schema survives new event types without migrations.
type Entry struct {
	ID         uuid.UUID `gorm:"type:uuid;primaryKey"`
	EventType  string    `gorm:"size:64;index"`
	Recipient  string    `gorm:"size:64;index"`
	Attributes string    `gorm:"size:2048"`
	CreatedAt  time.Time `gorm:"index"`
}

// Journal persists engine events. It satisfies the engine's event emitter so
// every committed operation leaves an audit row behind.
type Journal struct {
	db     *gorm.DB
	logger *slog.Logger
}

// Open connects the journal to its backing database: a postgres DSN when
// configured, otherwise a SQLite file under the data directory.
func Open(databaseURL, dataDir string, logger *slog.Logger) (*Journal, error) {
	if logger == nil {
		logger = slog.Default()
	}
	var (
		db  *gorm.DB
		err error
	)
	if strings.TrimSpace(databaseURL) != "" {
		db, err = gorm.Open(postgres.Open(databaseURL), &gorm.Config{})
	} else {
		db, err = gorm.Open(sqlite.Open(filepath.Join(dataDir, "audit.db")), &gorm.Config{})
	}
	if err != nil {
		return nil, err
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Journal{db: db, logger: logger}, nil
}

// OpenWithDB wires the journal over an existing gorm handle. Used by tests.
func OpenWithDB(db *gorm.DB, logger *slog.Logger) (*Journal, error) {
	if db == nil {
		return nil, errors.New("audit: nil database")
	}
	if logger == nil {
		logger = slog.Default()
	}
	if err := db.AutoMigrate(&Entry{}); err != nil {
		return nil, err
	}
	return &Journal{db: db, logger: logger}, nil
}

type payloadCarrier interface {
	Event() *types.Event
}

// Emit implements the events.Emitter interface. Journal failures are logged
// rather than surfaced; the accounting operation has already committed.
func (j *Journal) Emit(evt events.Event) {
	if j == nil || j.db == nil || evt == nil {
		return
	}
	entry := Entry{
		ID:        uuid.New(),
		EventType: evt.EventType(),
		CreatedAt: time.Now().UTC(),
	}
	if carrier, ok := evt.(payloadCarrier); ok {
		if payload := carrier.Event(); payload != nil {
			entry.Recipient = payload.Attribute("recipient")
			if raw, err := json.Marshal(payload.Attributes); err == nil {
				entry.Attributes = string(raw)
			}
		}
	}
	if err := j.db.Create(&entry).Error; err != nil {
		j.logger.Error("audit journal write failed", "eventType", entry.EventType, "error", err)
	}
}

// Recent returns the newest entries, most recent first.
func (j *Journal) Recent(limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []Entry
	err := j.db.Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}

// ByRecipient returns entries recorded for a recipient address.
func (j *Journal) ByRecipient(addr string, limit int) ([]Entry, error) {
	if limit <= 0 || limit > 500 {
		limit = 100
	}
	var entries []Entry
	err := j.db.Where("recipient = ?", addr).Order("created_at DESC").Limit(limit).Find(&entries).Error
	return entries, err
}
