package eventlog

import (
	"encoding/json"
	"fmt"
	"time"

	"gorm.io/driver/mysql"
	"gorm.io/gorm"
	"gorm.io/gorm/logger"
)

// EventRecord is the database model mirroring one Event. It is an
// append-only sink for the NDJSON log, never the engine's decision
// state: the scheduler never reads it back to decide what to do next.
type EventRecord struct {
	ID         uint      `gorm:"primaryKey;autoIncrement"`
	Timestamp  time.Time `gorm:"index;not null"`
	Type       string    `gorm:"index;size:32;not null"`
	FieldsJSON string    `gorm:"type:text;not null;comment:arbitrary event fields as JSON"`
	CreatedAt  time.Time `gorm:"autoCreateTime"`
}

// TableName specifies the table name for GORM.
func (EventRecord) TableName() string {
	return "arb_events"
}

// MySQLMirror persists a copy of every event to MySQL via GORM, for
// ad-hoc querying outside the NDJSON file.
type MySQLMirror struct {
	db *gorm.DB
}

// NewMySQLMirror opens dsn and migrates the events schema. dsn format:
// "user:password@tcp(host:port)/dbname?charset=utf8mb4&parseTime=True&loc=Local".
func NewMySQLMirror(dsn string) (*MySQLMirror, error) {
	db, err := gorm.Open(mysql.Open(dsn), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Warn),
	})
	if err != nil {
		return nil, fmt.Errorf("eventlog: connect mysql: %w", err)
	}
	if err := db.AutoMigrate(&EventRecord{}); err != nil {
		return nil, fmt.Errorf("eventlog: migrate schema: %w", err)
	}
	return &MySQLMirror{db: db}, nil
}

// Mirror is a Config.Mirror-compatible func: best-effort. It runs
// synchronously inside Log.Write and discards RecordEvent's error, so a
// failed insert never fails the NDJSON write (the event log itself is
// the source of truth).
func (m *MySQLMirror) Mirror(evt Event) {
	_ = m.RecordEvent(evt)
}

// RecordEvent inserts one event row.
func (m *MySQLMirror) RecordEvent(evt Event) error {
	payload, err := json.Marshal(evt.Fields)
	if err != nil {
		return fmt.Errorf("eventlog: marshal fields: %w", err)
	}
	record := EventRecord{
		Timestamp:  time.Now().UTC(),
		Type:       string(evt.Type),
		FieldsJSON: string(payload),
	}
	if result := m.db.Create(&record); result.Error != nil {
		return fmt.Errorf("eventlog: insert event: %w", result.Error)
	}
	return nil
}

// GetLatestEvent retrieves the most recently recorded event.
func (m *MySQLMirror) GetLatestEvent() (*EventRecord, error) {
	var record EventRecord
	if result := m.db.Order("timestamp DESC").First(&record); result.Error != nil {
		return nil, fmt.Errorf("eventlog: get latest event: %w", result.Error)
	}
	return &record, nil
}

// GetEventsByTimeRange retrieves events within [start, end].
func (m *MySQLMirror) GetEventsByTimeRange(start, end time.Time) ([]EventRecord, error) {
	var records []EventRecord
	result := m.db.Where("timestamp BETWEEN ? AND ?", start, end).
		Order("timestamp ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("eventlog: get events by time range: %w", result.Error)
	}
	return records, nil
}

// GetEventsByType retrieves all events of one type.
func (m *MySQLMirror) GetEventsByType(t Type) ([]EventRecord, error) {
	var records []EventRecord
	result := m.db.Where("type = ?", string(t)).
		Order("timestamp ASC").
		Find(&records)
	if result.Error != nil {
		return nil, fmt.Errorf("eventlog: get events by type: %w", result.Error)
	}
	return records, nil
}

// CountEvents returns the total row count.
func (m *MySQLMirror) CountEvents() (int64, error) {
	var count int64
	if result := m.db.Model(&EventRecord{}).Count(&count); result.Error != nil {
		return 0, fmt.Errorf("eventlog: count events: %w", result.Error)
	}
	return count, nil
}

// Close closes the underlying database connection.
func (m *MySQLMirror) Close() error {
	sqlDB, err := m.db.DB()
	if err != nil {
		return fmt.Errorf("eventlog: get underlying db: %w", err)
	}
	return sqlDB.Close()
}
