package sqlite

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/yegors/voice-commander/pkg/logger"
)

// CommandStorage handles storage of command history records
type CommandStorage struct {
	db     *sql.DB
	logger *logger.Logger
}

// NewCommandStorage creates a new SQLite command storage
func NewCommandStorage(db *sql.DB, log *logger.Logger) (*CommandStorage, error) {
	storage := &CommandStorage{
		db:     db,
		logger: log.Named("sqlite-commands"),
	}

	if err := storage.initDB(); err != nil {
		return nil, err
	}

	return storage, nil
}

// initDB initializes the database tables
func (s *CommandStorage) initDB() error {
	_, err := s.db.Exec(`
		CREATE TABLE IF NOT EXISTS commands (
			id INTEGER PRIMARY KEY AUTOINCREMENT,
			run_id TEXT NOT NULL,
			transaction_id INTEGER NOT NULL,
			state TEXT NOT NULL,
			recognized_text TEXT,
			translated_text TEXT,
			delivered INTEGER NOT NULL DEFAULT 0,
			delivery_status TEXT,
			error_kind TEXT,
			error_detail TEXT,
			started_at TEXT NOT NULL,
			finished_at TEXT NOT NULL,
			UNIQUE (run_id, transaction_id)
		)
	`)
	if err != nil {
		return fmt.Errorf("failed to create commands table: %w", err)
	}

	indexes := []string{
		`CREATE INDEX IF NOT EXISTS idx_commands_finished_at ON commands(finished_at)`,
		`CREATE INDEX IF NOT EXISTS idx_commands_state ON commands(state)`,
	}

	for _, indexSQL := range indexes {
		if _, err := s.db.Exec(indexSQL); err != nil {
			return fmt.Errorf("failed to create command index: %w", err)
		}
	}

	return nil
}

// StoreCommand stores a command record and returns its row ID
func (s *CommandStorage) StoreCommand(record *CommandRecord) (int64, error) {
	result, err := s.db.Exec(
		`INSERT INTO commands
		(run_id, transaction_id, state, recognized_text, translated_text, delivered, delivery_status, error_kind, error_detail, started_at, finished_at)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		record.RunID,
		int64(record.TransactionID),
		record.State,
		nullString(record.RecognizedText),
		nullString(record.TranslatedText),
		record.Delivered,
		nullString(record.DeliveryStatus),
		nullString(record.ErrorKind),
		nullString(record.ErrorDetail),
		record.StartedAt.UTC().Format(timeLayout),
		record.FinishedAt.UTC().Format(timeLayout),
	)
	if err != nil {
		return 0, fmt.Errorf("failed to insert command: %w", err)
	}

	id, err := result.LastInsertId()
	if err != nil {
		return 0, fmt.Errorf("failed to get last insert ID: %w", err)
	}

	s.logger.Debug("Stored command",
		logger.Int64("id", id),
		logger.Uint64("transaction_id", record.TransactionID),
		logger.String("state", record.State))

	return id, nil
}

// GetRecentCommands returns the most recent commands, newest first
func (s *CommandStorage) GetRecentCommands(limit int) ([]*CommandRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+commandColumns+`
		FROM commands
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`,
		limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query recent commands: %w", err)
	}
	defer rows.Close()

	return s.scanCommandRows(rows)
}

// GetCommandsByState returns commands that ended in the given state
func (s *CommandStorage) GetCommandsByState(state string, limit int) ([]*CommandRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+commandColumns+`
		FROM commands
		WHERE state = ?
		ORDER BY finished_at DESC, id DESC
		LIMIT ?`,
		state, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands by state: %w", err)
	}
	defer rows.Close()

	return s.scanCommandRows(rows)
}

// GetCommandsByTimeRange returns commands finished within a time range
func (s *CommandStorage) GetCommandsByTimeRange(startTime, endTime time.Time) ([]*CommandRecord, error) {
	rows, err := s.db.Query(
		`SELECT `+commandColumns+`
		FROM commands
		WHERE finished_at BETWEEN ? AND ?
		ORDER BY finished_at DESC, id DESC`,
		startTime.UTC().Format(timeLayout), endTime.UTC().Format(timeLayout),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to query commands by time range: %w", err)
	}
	defer rows.Close()

	return s.scanCommandRows(rows)
}

// timeLayout is fixed-width so text ordering matches time ordering
const timeLayout = "2006-01-02T15:04:05.000000000Z"

const commandColumns = `id, run_id, transaction_id, state, recognized_text, translated_text, delivered, delivery_status, error_kind, error_detail, started_at, finished_at`

// scanCommandRows scans database rows into CommandRecord structs
func (s *CommandStorage) scanCommandRows(rows *sql.Rows) ([]*CommandRecord, error) {
	var records []*CommandRecord
	for rows.Next() {
		var (
			record                         CommandRecord
			transactionID                  int64
			recognized, translated, status sql.NullString
			errorKind, errorDetail         sql.NullString
			startedAt, finishedAt          string
		)

		if err := rows.Scan(
			&record.ID,
			&record.RunID,
			&transactionID,
			&record.State,
			&recognized,
			&translated,
			&record.Delivered,
			&status,
			&errorKind,
			&errorDetail,
			&startedAt,
			&finishedAt,
		); err != nil {
			return nil, fmt.Errorf("failed to scan command: %w", err)
		}

		var err error
		record.StartedAt, err = time.Parse(timeLayout, startedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse started_at: %w", err)
		}
		record.FinishedAt, err = time.Parse(timeLayout, finishedAt)
		if err != nil {
			return nil, fmt.Errorf("failed to parse finished_at: %w", err)
		}

		record.TransactionID = uint64(transactionID)
		record.RecognizedText = recognized.String
		record.TranslatedText = translated.String
		record.DeliveryStatus = status.String
		record.ErrorKind = errorKind.String
		record.ErrorDetail = errorDetail.String

		records = append(records, &record)
	}

	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to iterate commands: %w", err)
	}
	return records, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}
