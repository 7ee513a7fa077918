package history

import (
	"context"
	"database/sql"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/tailscale/squibble"
	_ "modernc.org/sqlite"

	"github.com/jo-hoe/productscribe/internal/common"
)

//go:embed schema.sql
var dbSchema string

var schema = &squibble.Schema{
	Current: dbSchema,
}

// Fixed-width UTC timestamps so created_at sorts lexically.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

// SQLiteStore is a Store backed by a SQLite file.
type SQLiteStore struct {
	db *sql.DB
}

var _ Store = (*SQLiteStore)(nil)

// NewSQLiteStore opens (creating if needed) the database at path and brings its schema up to date.
func NewSQLiteStore(ctx context.Context, path string) (*SQLiteStore, error) {
	// Busy timeout to avoid SQLITE_BUSY in concurrent access.
	dsn := fmt.Sprintf("file:%s?_pragma=busy_timeout(%d)", path, common.SQLiteBusyTimeoutMS)
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("open sqlite db: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping sqlite db: %w", err)
	}
	if err := schema.Apply(ctx, db); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("migrate schema: %w", err)
	}
	return &SQLiteStore{db: db}, nil
}

func (s *SQLiteStore) Create(ctx context.Context, rec *Record) error {
	if rec == nil {
		return errors.New("record is nil")
	}
	if rec.ID == "" {
		return errors.New("record.ID is required")
	}
	if rec.CreatedAt.IsZero() {
		rec.CreatedAt = time.Now().UTC()
	}
	langs, err := json.Marshal(rec.Languages)
	if err != nil {
		return fmt.Errorf("marshal languages: %w", err)
	}
	var descs *string
	if rec.Descriptions != nil {
		b, err := json.Marshal(rec.Descriptions)
		if err != nil {
			return fmt.Errorf("marshal descriptions: %w", err)
		}
		v := string(b)
		descs = &v
	}

	_, err = s.db.ExecContext(ctx,
		`INSERT INTO generations (id, image_url, languages_json, descriptions_json, status, error_message, provider, created_at, duration_ms)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ImageURL, string(langs), descs, rec.Status, rec.ErrorMessage, rec.Provider,
		rec.CreatedAt.UTC().Format(timeLayout), rec.Duration.Milliseconds(),
	)
	if err != nil {
		return fmt.Errorf("insert generation: %w", err)
	}
	return nil
}

const selectColumns = `SELECT id, image_url, languages_json, descriptions_json, status, error_message, provider, created_at, duration_ms FROM generations`

func (s *SQLiteStore) Get(ctx context.Context, id string) (*Record, error) {
	row := s.db.QueryRowContext(ctx, selectColumns+` WHERE id = ?`, id)
	rec, err := scanRecord(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan generation: %w", err)
	}
	return rec, nil
}

// Recent returns up to limit records, newest first.
func (s *SQLiteStore) Recent(ctx context.Context, limit int) ([]Record, error) {
	if limit <= 0 {
		limit = common.DefaultPageSize
	}
	rows, err := s.db.QueryContext(ctx, selectColumns+` ORDER BY created_at DESC LIMIT ?`, limit)
	if err != nil {
		return nil, fmt.Errorf("query generations: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []Record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			return nil, fmt.Errorf("scan generation: %w", err)
		}
		out = append(out, *rec)
	}
	return out, rows.Err()
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanRecord(sc scanner) (*Record, error) {
	var rec Record
	var langs string
	var descs, errMsg sql.NullString
	var created string
	var durationMS int64

	if err := sc.Scan(&rec.ID, &rec.ImageURL, &langs, &descs, &rec.Status, &errMsg, &rec.Provider, &created, &durationMS); err != nil {
		return nil, err
	}
	if err := json.Unmarshal([]byte(langs), &rec.Languages); err != nil {
		return nil, fmt.Errorf("decode languages: %w", err)
	}
	if descs.Valid && descs.String != "" {
		if err := json.Unmarshal([]byte(descs.String), &rec.Descriptions); err != nil {
			return nil, fmt.Errorf("decode descriptions: %w", err)
		}
	}
	if errMsg.Valid {
		v := errMsg.String
		rec.ErrorMessage = &v
	}
	if t, err := time.Parse(timeLayout, created); err == nil {
		rec.CreatedAt = t
	}
	rec.Duration = time.Duration(durationMS) * time.Millisecond
	return &rec, nil
}
