package database

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"

	"github.com/franckalain/nutritrack/internal/models"
)

//go:embed schema.sql
var schemaFS embed.FS

// DB interface defines the methods our database should implement
type DB interface {
	Commit(ctx context.Context, rec *models.LogRecord) error
	GetLogRecord(ctx context.Context, id string) (*models.LogRecord, error)
	Recent(ctx context.Context, userID string, limit int) ([]*models.LogRecord, error)
	Since(ctx context.Context, userID string, from time.Time) ([]*models.LogRecord, error)
	Close() error
}

// SQLiteDB implements the DB interface as a local meal journal
type SQLiteDB struct {
	db  *sql.DB
	now func() time.Time
}

var _ DB = (*SQLiteDB)(nil)

// NewSQLiteDB creates a new SQLite database connection
func NewSQLiteDB(dbPath string) (*SQLiteDB, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("error opening database: %w", err)
	}

	// Enable foreign keys and WAL mode for better concurrency
	if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling foreign keys: %w", err)
	}
	if _, err := db.Exec("PRAGMA journal_mode = WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("error enabling WAL mode: %w", err)
	}

	// Initialize database schema
	if err := initializeSchema(db); err != nil {
		db.Close()
		return nil, fmt.Errorf("error initializing schema: %w", err)
	}

	return &SQLiteDB{db: db, now: time.Now}, nil
}

func initializeSchema(db *sql.DB) error {
	schemaBytes, err := schemaFS.ReadFile("schema.sql")
	if err != nil {
		return fmt.Errorf("error reading schema file: %w", err)
	}

	if _, err := db.Exec(string(schemaBytes)); err != nil {
		return fmt.Errorf("error executing schema: %w", err)
	}

	slog.Debug("database schema initialized")
	return nil
}

// Commit inserts a committed record. Records are append-only: writing the
// same id twice fails.
func (s *SQLiteDB) Commit(ctx context.Context, rec *models.LogRecord) error {
	if rec == nil || rec.UserID == "" {
		return errors.New("record has no user id")
	}
	if rec.ID == "" {
		rec.ID = uuid.NewString()
	}
	if rec.Timestamp.IsZero() {
		rec.Timestamp = s.now()
	}

	query := `
		INSERT INTO meal_log (
			id, user_id, food_name, food_description, detected_name,
			detected_description, confidence, low_confidence, amount_grams,
			meal_type, image_uri, logged_at, created_at
		) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	`

	_, err := s.db.ExecContext(ctx, query,
		rec.ID, rec.UserID, rec.FoodName, rec.FoodDescription, rec.DetectedName,
		rec.DetectedDescription, rec.Confidence, rec.LowConfidence, rec.AmountGrams,
		string(rec.MealType), rec.ImageURI, formatTime(rec.Timestamp), formatTime(s.now()),
	)
	if err != nil {
		return fmt.Errorf("error saving meal log record: %w", err)
	}
	return nil
}

const selectColumns = `
	SELECT id, user_id, food_name, food_description, detected_name,
		detected_description, confidence, low_confidence, amount_grams,
		meal_type, image_uri, logged_at
	FROM meal_log`

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(row scanner) (*models.LogRecord, error) {
	var rec models.LogRecord
	var mealType, loggedAt string
	err := row.Scan(
		&rec.ID, &rec.UserID, &rec.FoodName, &rec.FoodDescription, &rec.DetectedName,
		&rec.DetectedDescription, &rec.Confidence, &rec.LowConfidence, &rec.AmountGrams,
		&mealType, &rec.ImageURI, &loggedAt,
	)
	if err != nil {
		return nil, err
	}
	rec.MealType = models.MealType(mealType)
	rec.Timestamp, err = time.Parse(time.RFC3339Nano, loggedAt)
	if err != nil {
		return nil, fmt.Errorf("error parsing logged_at %q: %w", loggedAt, err)
	}
	return &rec, nil
}

// GetLogRecord retrieves one record, or nil if it does not exist
func (s *SQLiteDB) GetLogRecord(ctx context.Context, id string) (*models.LogRecord, error) {
	rec, err := scanRecord(s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return rec, nil
}

// Recent retrieves a user's most recent records, newest first
func (s *SQLiteDB) Recent(ctx context.Context, userID string, limit int) ([]*models.LogRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	return s.query(ctx, selectColumns+`
		WHERE user_id = ?
		ORDER BY logged_at DESC
		LIMIT ?`, userID, limit)
}

// Since retrieves every record a user logged at or after from, newest first
func (s *SQLiteDB) Since(ctx context.Context, userID string, from time.Time) ([]*models.LogRecord, error) {
	return s.query(ctx, selectColumns+`
		WHERE user_id = ? AND logged_at >= ?
		ORDER BY logged_at DESC`, userID, formatTime(from))
}

func (s *SQLiteDB) query(ctx context.Context, query string, args ...any) ([]*models.LogRecord, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var results []*models.LogRecord
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, err
		}
		results = append(results, rec)
	}
	return results, rows.Err()
}

// Close closes the database connection
func (s *SQLiteDB) Close() error {
	return s.db.Close()
}

// formatTime stores UTC with a fixed-width fraction so that text ordering
// matches time ordering.
func formatTime(t time.Time) string {
	return t.UTC().Format("2006-01-02T15:04:05.000000000Z07:00")
}
