package dbserver

import (
	"context"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// Store wraps a pgx connection pool holding the Database Server's object
// table: a class name plus an open bag of named field values per do_id,
// matching the wire contract in internal/dbiface (CREATE_OBJECT,
// OBJECT_GET_ALL, OBJECT_SET_FIELDS).
type Store struct {
	pool *pgxpool.Pool
}

// NewStore connects to PostgreSQL and returns a Store handle.
func NewStore(ctx context.Context, dsn string) (*Store, error) {
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		return nil, fmt.Errorf("dbserver: connecting to database: %w", err)
	}
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("dbserver: pinging database: %w", err)
	}
	return &Store{pool: pool}, nil
}

// Close closes the underlying connection pool.
func (s *Store) Close() {
	s.pool.Close()
}

// Pool returns the underlying pgx pool, for goose migrations.
func (s *Store) Pool() *pgxpool.Pool {
	return s.pool
}

// CreateObject inserts a new object row plus its field values and returns
// the do_id the server assigned it.
func (s *Store) CreateObject(ctx context.Context, class string, fieldNames []string, fields map[string][]byte) (uint32, error) {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return 0, fmt.Errorf("dbserver: beginning CREATE_OBJECT transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	var doID uint32
	if err := tx.QueryRow(ctx, `SELECT nextval('object_do_id_seq')`).Scan(&doID); err != nil {
		return 0, fmt.Errorf("dbserver: allocating do_id: %w", err)
	}

	if _, err := tx.Exec(ctx, `INSERT INTO objects (do_id, class) VALUES ($1, $2)`, doID, class); err != nil {
		return 0, fmt.Errorf("dbserver: inserting object %d: %w", doID, err)
	}

	for _, name := range fieldNames {
		if _, err := tx.Exec(ctx,
			`INSERT INTO object_fields (do_id, name, value) VALUES ($1, $2, $3)`,
			doID, name, fields[name],
		); err != nil {
			return 0, fmt.Errorf("dbserver: inserting field %s for object %d: %w", name, doID, err)
		}
	}

	if err := tx.Commit(ctx); err != nil {
		return 0, fmt.Errorf("dbserver: committing CREATE_OBJECT: %w", err)
	}
	return doID, nil
}

// ErrNotFound is returned by GetAll when no object has the given do_id.
var ErrNotFound = errors.New("dbserver: object not found")

// GetAll returns the class and every stored field of doID.
func (s *Store) GetAll(ctx context.Context, doID uint32) (class string, fields map[string][]byte, err error) {
	if err := s.pool.QueryRow(ctx, `SELECT class FROM objects WHERE do_id = $1`, doID).Scan(&class); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return "", nil, ErrNotFound
		}
		return "", nil, fmt.Errorf("dbserver: querying object %d: %w", doID, err)
	}

	rows, err := s.pool.Query(ctx, `SELECT name, value FROM object_fields WHERE do_id = $1`, doID)
	if err != nil {
		return "", nil, fmt.Errorf("dbserver: querying fields for object %d: %w", doID, err)
	}
	defer rows.Close()

	fields = make(map[string][]byte)
	for rows.Next() {
		var name string
		var value []byte
		if err := rows.Scan(&name, &value); err != nil {
			return "", nil, fmt.Errorf("dbserver: scanning field of object %d: %w", doID, err)
		}
		fields[name] = value
	}
	if err := rows.Err(); err != nil {
		return "", nil, fmt.Errorf("dbserver: reading fields of object %d: %w", doID, err)
	}
	return class, fields, nil
}

// SetFields overwrites the given fields on doID, upserting each one.
func (s *Store) SetFields(ctx context.Context, doID uint32, fieldNames []string, fields map[string][]byte) error {
	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("dbserver: beginning OBJECT_SET_FIELDS transaction: %w", err)
	}
	defer tx.Rollback(ctx)

	for _, name := range fieldNames {
		if _, err := tx.Exec(ctx,
			`INSERT INTO object_fields (do_id, name, value) VALUES ($1, $2, $3)
			 ON CONFLICT (do_id, name) DO UPDATE SET value = EXCLUDED.value`,
			doID, name, fields[name],
		); err != nil {
			return fmt.Errorf("dbserver: upserting field %s for object %d: %w", name, doID, err)
		}
	}
	return tx.Commit(ctx)
}
