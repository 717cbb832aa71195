package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/Vir-8/callrelay/pkg/logger"
)

// Field helper aliases for log calls where the logger parameter shadows the package
var (
	Error = logger.Error
)

// CallRecord represents one originated conference call
type CallRecord struct {
	ID              int64     `json:"id"`
	ConferenceName  string    `json:"conference_name"`
	SessionID       string    `json:"session_id"`
	CustomerNumber  string    `json:"customer_number"`
	AgentNumber     string    `json:"agent_number"`
	CustomerCallSID string    `json:"customer_call_sid"`
	AgentCallSID    string    `json:"agent_call_sid"`
	Status          string    `json:"status"` // "started", "failed"
	CreatedAt       time.Time `json:"created_at"`
}

// CallStorage handles storage of call origination records
type CallStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCallStorage creates a new SQLite call storage
func NewCallStorage(db *sql.DB, logger *logger.Logger) *CallStorage {
	storage := &CallStorage{
		db:     db,
		logger: logger.Named("sqlite-calls"),
	}

	// Initialize database
	if err := storage.initDB(); err != nil {
		logger.Error("Failed to initialize call storage", Error(err))
	}

	return storage
}

// initDB initializes the database tables
func (s *CallStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS calls (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			conference_name TEXT NOT NULL,
			session_id TEXT NOT NULL,
			customer_number TEXT NOT NULL,
			agent_number TEXT NOT NULL,
			customer_call_sid TEXT,
			agent_call_sid TEXT,
			status TEXT NOT NULL,
			created_at TIMESTAMP NOT NULL
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create calls table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_calls_conference ON calls(conference_name)`,
		`CREATE INDEX IF NOT EXISTS idx_calls_created_at ON calls(created_at)`,
	}
	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create call index: %w", err)
		}
	}

	return nil
}

// StoreCall stores a call record
func (s *CallStorage) StoreCall(record *CallRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO calls
		(conference_name, session_id, customer_number, agent_number, customer_call_sid, agent_call_sid, status, created_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		record.ConferenceName,
		record.SessionID,
		record.CustomerNumber,
		record.AgentNumber,
		record.CustomerCallSID,
		record.AgentCallSID,
		record.Status,
		record.CreatedAt.Format(time.RFC3339),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert call: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	return id, nil
}

// GetRecentCalls returns recent call records, newest first
func (s *CallStorage) GetRecentCalls(limit int) ([]*CallRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, conference_name, session_id, customer_number, agent_number, customer_call_sid, agent_call_sid, status, created_at
		FROM calls
		ORDER BY created_at DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent calls: %w", err)
	}
	defer rows.Close()

	return s.scanCallRows(rows)
}

// GetCallByConference returns the call record for a conference name
func (s *CallStorage) GetCallByConference(conferenceName string) (*CallRecord, error) {
	rows, err := s.db.Query(
		`SELECT id, conference_name, session_id, customer_number, agent_number, customer_call_sid, agent_call_sid, status, created_at
		FROM calls
		WHERE conference_name = ?
		LIMIT 1`,
		conferenceName,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query call by conference: %w", err)
	}
	defer rows.Close()

	records, err := s.scanCallRows(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, nil
	}
	return records[0], nil
}

// scanCallRows scans database rows into CallRecord structs
func (s *CallStorage) scanCallRows(rows *sql.Rows) ([]*CallRecord, error) {
	var records []*CallRecord
	for rows.Next() {
		var record CallRecord
		var createdAt string
		var customerSID, agentSID sql.NullString

		if err := rows.Scan(
			&record.ID,
			&record.ConferenceName,
			&record.SessionID,
			&record.CustomerNumber,
			&record.AgentNumber,
			&customerSID,
			&agentSID,
			&record.Status,
			&createdAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan call: %w", err)
		}

		var err error
		record.CreatedAt, err = time.Parse(time.RFC3339, createdAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse created_at: %w", err)
		}

		if customerSID.Valid {
			record.CustomerCallSID = customerSID.String
		}
		if agentSID.Valid {
			record.AgentCallSID = agentSID.String
		}

		records = append(records, &record)
	}

	return records, nil
}
