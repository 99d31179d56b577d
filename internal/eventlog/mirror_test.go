package eventlog

import (
	"testing"

	"github.com/DATA-DOG/go-sqlmock"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

func newMockMirror(t *testing.T) (*MySQLMirror, sqlmock.Sqlmock) {
	t.Helper()
	sqlDB, mock, err := sqlmock.New()
	require.NoError(t, err)
	t.Cleanup(func() { sqlDB.Close() })

	gormDB, err := gorm.Open(mysql.New(mysql.Config{
		Conn:                      sqlDB,
		SkipInitializeWithVersion: true,
	}), &gorm.Config{})
	require.NoError(t, err)

	return &MySQLMirror{db: gormDB}, mock
}

func TestMySQLMirror_RecordEvent(t *testing.T) {
	m, mock := newMockMirror(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `arb_events`").
		WillReturnResult(sqlmock.NewResult(1, 1))
	mock.ExpectCommit()

	err := m.RecordEvent(Event{Type: TypeCandidate, Fields: map[string]any{"bps": 42}})
	require.NoError(t, err)
	assert.NoError(t, mock.ExpectationsWereMet())
}

func TestMySQLMirror_Mirror_SwallowsErrors(t *testing.T) {
	m, mock := newMockMirror(t)

	mock.ExpectBegin()
	mock.ExpectExec("INSERT INTO `arb_events`").
		WillReturnError(assert.AnError)
	mock.ExpectRollback()

	assert.NotPanics(t, func() {
		m.Mirror(Event{Type: TypeError})
	})
}

func TestMySQLMirror_GetLatestEvent(t *testing.T) {
	m, mock := newMockMirror(t)

	rows := sqlmock.NewRows([]string{"id", "timestamp", "type", "fields_json", "created_at"}).
		AddRow(1, "2026-07-30 00:00:00", "startup", "{}", "2026-07-30 00:00:00")
	mock.ExpectQuery("SELECT \\* FROM `arb_events`").WillReturnRows(rows)

	record, err := m.GetLatestEvent()
	require.NoError(t, err)
	assert.Equal(t, "startup", record.Type)
}

func TestMySQLMirror_CountEvents(t *testing.T) {
	m, mock := newMockMirror(t)

	rows := sqlmock.NewRows([]string{"count"}).AddRow(3)
	mock.ExpectQuery("SELECT count\\(\\*\\) FROM `arb_events`").WillReturnRows(rows)

	count, err := m.CountEvents()
	require.NoError(t, err)
	assert.Equal(t, int64(3), count)
}

func TestEventRecord_TableName(t *testing.T) {
	assert.Equal(t, "arb_events", EventRecord{}.TableName())
}
