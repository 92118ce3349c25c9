package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "github.com/jackc/pgx/v5/stdlib"
)

// Open connects to PostgreSQL through the pgx database/sql driver.
func Open(ctx context.Context, databaseURL string) (*sql.DB, error) {
	db, err := sql.Open("pgx", databaseURL)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	db.SetConnMaxIdleTime(5 * time.Minute)
	db.SetConnMaxLifetime(30 * time.Minute)
	db.SetMaxIdleConns(10)
	db.SetMaxOpenConns(20)

	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	return db, nil
}

// PostgresStore keeps each request in one mod_requests row with the comment
// ledger in a JSONB array, so ledger changes are single-row atomic updates.
type PostgresStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db, now: time.Now}
}

func (s *PostgresStore) DB() *sql.DB {
	return s.db
}

const requestColumns = `id::text, game_name, latest_version, details, icon_url, created_by, comments::text, updated_at, last_activity`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanRequest(row rowScanner) (Request, error) {
	var item Request
	var comments string
	if err := row.Scan(
		&item.ID,
		&item.GameName,
		&item.LatestVersion,
		&item.Details,
		&item.IconURL,
		&item.CreatedBy,
		&comments,
		&item.Timestamp,
		&item.LastActivity,
	); err != nil {
		return Request{}, err
	}
	if err := json.Unmarshal([]byte(comments), &item.Comments); err != nil {
		return Request{}, fmt.Errorf("decode comments: %w", err)
	}
	item.Comments = item.Comments.normalize()
	item.Timestamp = item.Timestamp.UTC()
	item.LastActivity = item.LastActivity.UTC()
	return item, nil
}

// timestamptz keeps microseconds.
func (s *PostgresStore) clock() time.Time {
	return s.now().UTC().Truncate(time.Microsecond)
}

func (s *PostgresStore) Create(ctx context.Context, draft Draft) (Request, error) {
	if err := validateDraft(draft); err != nil {
		return Request{}, err
	}
	now := s.clock()
	row := s.db.QueryRowContext(ctx, `
		INSERT INTO mod_requests (id, game_name, latest_version, details, icon_url, created_by, comments, updated_at, last_activity)
		VALUES ($1, $2, $3, $4, $5, $6, '[]'::jsonb, $7, $7)
		RETURNING `+requestColumns,
		uuid.NewString(), draft.GameName, draft.LatestVersion, draft.Details, draft.IconURL, creatorOrDefault(draft.CreatedBy), now,
	)
	item, err := scanRequest(row)
	if err != nil {
		return Request{}, fmt.Errorf("insert request: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) GetAll(ctx context.Context) ([]Request, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT `+requestColumns+`
		FROM mod_requests
		ORDER BY last_activity DESC, updated_at DESC, id
	`)
	if err != nil {
		return nil, fmt.Errorf("list requests: %w", err)
	}
	defer rows.Close()

	items := make([]Request, 0)
	for rows.Next() {
		item, err := scanRequest(rows)
		if err != nil {
			return nil, fmt.Errorf("scan request: %w", err)
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterate requests: %w", err)
	}
	return items, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, id string) (Request, error) {
	if _, err := uuid.Parse(id); err != nil {
		return Request{}, ErrNotFound
	}
	item, err := scanRequest(s.db.QueryRowContext(ctx, `
		SELECT `+requestColumns+`
		FROM mod_requests
		WHERE id=$1
	`, id))
	if errors.Is(err, sql.ErrNoRows) {
		return Request{}, ErrNotFound
	}
	if err != nil {
		return Request{}, fmt.Errorf("get request: %w", err)
	}
	return item, nil
}

func (s *PostgresStore) UpdateMetadata(ctx context.Context, id string, patch Patch) error {
	if err := validatePatch(patch); err != nil {
		return err
	}
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE mod_requests
		SET game_name=COALESCE($2::text, game_name),
			latest_version=COALESCE($3::text, latest_version),
			details=COALESCE($4::text, details),
			icon_url=COALESCE($5::text, icon_url),
			updated_at=GREATEST($6::timestamptz, last_activity + INTERVAL '1 microsecond'),
			last_activity=GREATEST($6::timestamptz, last_activity + INTERVAL '1 microsecond')
		WHERE id=$1
	`, id, patch.GameName, patch.LatestVersion, patch.Details, patch.IconURL, s.clock())
	if err != nil {
		return fmt.Errorf("update request: %w", err)
	}
	return requireAffected(result, "update request")
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	result, err := s.db.ExecContext(ctx, `DELETE FROM mod_requests WHERE id=$1`, id)
	if err != nil {
		return fmt.Errorf("delete request: %w", err)
	}
	return requireAffected(result, "delete request")
}

func (s *PostgresStore) AppendComment(ctx context.Context, id string, comment Comment) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	payload, err := json.Marshal(comment)
	if err != nil {
		return fmt.Errorf("encode comment: %w", err)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE mod_requests
		SET comments=comments || jsonb_build_array($2::jsonb),
			last_activity=GREATEST($3::timestamptz, last_activity + INTERVAL '1 microsecond')
		WHERE id=$1
	`, id, string(payload), s.clock())
	if err != nil {
		return fmt.Errorf("append comment: %w", err)
	}
	return requireAffected(result, "append comment")
}

// RemoveCommentAt drops the array element at index with the jsonb "-" integer
// operator. The length guard sits in the same UPDATE, so the bound is checked
// against the ledger the removal applies to.
func (s *PostgresStore) RemoveCommentAt(ctx context.Context, id string, index int) error {
	if _, err := uuid.Parse(id); err != nil {
		return ErrNotFound
	}
	if index < 0 {
		return fmt.Errorf("%w: index %d", ErrOutOfRange, index)
	}
	result, err := s.db.ExecContext(ctx, `
		UPDATE mod_requests
		SET comments=comments - $2::int,
			last_activity=GREATEST($3::timestamptz, last_activity + INTERVAL '1 microsecond')
		WHERE id=$1 AND jsonb_array_length(comments) > $2::int
	`, id, index, s.clock())
	if err != nil {
		return fmt.Errorf("remove comment: %w", err)
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("remove comment rows: %w", err)
	}
	if affected > 0 {
		return nil
	}

	var count int
	err = s.db.QueryRowContext(ctx, `SELECT jsonb_array_length(comments) FROM mod_requests WHERE id=$1`, id).Scan(&count)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return fmt.Errorf("count comments: %w", err)
	}
	return fmt.Errorf("%w: index %d, count %d", ErrOutOfRange, index, count)
}

// Ping verifies the database connection is alive
func (s *PostgresStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

func requireAffected(result sql.Result, op string) error {
	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("%s rows: %w", op, err)
	}
	if affected == 0 {
		return ErrNotFound
	}
	return nil
}
