// Package graph stores the lineage graph in SQLite as a node table and an
// edge table. Nodes are content addressed by kind and natural key, so every
// write is a find-or-create.
package graph

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "embed"

	jsoniter "github.com/json-iterator/go"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"

	"github.com/statisticsnorway/blueprint/internal/cas"
)

//go:embed schema.sql
var schemaSQL string

// Payloads are written canonically by cas and decoded with jsoniter.
var json = jsoniter.ConfigCompatibleWithStandardLibrary

// ErrNotFound is returned when a repository or commit is not stored.
var ErrNotFound = errors.New("not found")

const (
	maxRetries = 5
	baseDelay  = 20 * time.Millisecond
)

// DB is the graph store.
type DB struct {
	conn   *sql.DB
	path   string
	logger *zap.Logger
}

// Option configures a DB.
type Option func(*DB)

// WithLogger sets the logger.
func WithLogger(l *zap.Logger) Option {
	return func(db *DB) { db.logger = l }
}

// Open opens or creates the graph database at dbPath and applies the schema.
func Open(dbPath string, opts ...Option) (*DB, error) {
	if dir := filepath.Dir(dbPath); dir != "" {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, fmt.Errorf("creating db directory: %w", err)
		}
	}

	// Pragmas go in the DSN so every pooled connection gets them. Write
	// transactions take the lock up front instead of upgrading mid-way.
	dsn := "file:" + dbPath +
		"?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=foreign_keys(1)&_txlock=immediate"
	conn, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping db: %w", err)
	}
	if _, err := conn.Exec(schemaSQL); err != nil {
		conn.Close()
		return nil, fmt.Errorf("applying schema: %w", err)
	}

	db := &DB{conn: conn, path: dbPath, logger: zap.NewNop()}
	for _, opt := range opts {
		opt(db)
	}
	return db, nil
}

// Close closes the database.
func (db *DB) Close() error {
	return db.conn.Close()
}

// Path returns the database file path.
func (db *DB) Path() string {
	return db.path
}

// Ping checks the database is reachable.
func (db *DB) Ping(ctx context.Context) error {
	return db.conn.PingContext(ctx)
}

// update runs fn in a write transaction, retrying when the database is busy.
func (db *DB) update(ctx context.Context, fn func(tx *sql.Tx) error) error {
	return withRetry(ctx, func() error {
		tx, err := db.conn.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("begin transaction: %w", err)
		}
		defer tx.Rollback()

		if err := fn(tx); err != nil {
			return err
		}
		if err := tx.Commit(); err != nil {
			return fmt.Errorf("commit transaction: %w", err)
		}
		return nil
	})
}

func withRetry(ctx context.Context, fn func() error) error {
	var err error
	for i := 0; i < maxRetries; i++ {
		err = fn()
		if err == nil || !isBusy(err) {
			return err
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(baseDelay * time.Duration(1<<i)):
		}
	}
	return err
}

func isBusy(err error) bool {
	msg := err.Error()
	return strings.Contains(msg, "SQLITE_BUSY") || strings.Contains(msg, "database is locked")
}

// insertNode stores a node unless one with the same id exists. Nodes are
// immutable once written.
func insertNode(ctx context.Context, tx *sql.Tx, id string, kind NodeKind, payload any) error {
	data, err := cas.CanonicalJSON(payload)
	if err != nil {
		return fmt.Errorf("marshaling %s payload: %w", kind, err)
	}
	_, err = tx.ExecContext(ctx, `
		INSERT INTO nodes (id, kind, payload, created_at)
		VALUES (?, ?, ?, ?)
		ON CONFLICT(id) DO NOTHING
	`, id, string(kind), string(data), cas.NowMs())
	if err != nil {
		return fmt.Errorf("inserting %s node: %w", kind, err)
	}
	return nil
}

// insertEdge stores an edge unless it exists.
func insertEdge(ctx context.Context, tx *sql.Tx, src string, t EdgeType, dst, at string) error {
	_, err := tx.ExecContext(ctx, `
		INSERT INTO edges (src, type, dst, at, created_at)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(src, type, dst, at) DO NOTHING
	`, src, string(t), dst, at, cas.NowMs())
	if err != nil {
		return fmt.Errorf("inserting %s edge: %w", t, err)
	}
	return nil
}

// GetNode retrieves a node by id. It returns nil, nil when absent.
func (db *DB) GetNode(ctx context.Context, id string) (*Node, error) {
	var (
		kind, payload string
		createdAt     int64
	)
	err := db.conn.QueryRowContext(ctx, `
		SELECT kind, payload, created_at FROM nodes WHERE id = ?
	`, id).Scan(&kind, &payload, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("querying node: %w", err)
	}
	var p map[string]any
	if err := json.Unmarshal([]byte(payload), &p); err != nil {
		return nil, fmt.Errorf("unmarshaling payload: %w", err)
	}
	return &Node{ID: id, Kind: NodeKind(kind), Payload: p, CreatedAt: createdAt}, nil
}

// GetEdges returns the outgoing edges of src with the given type.
func (db *DB) GetEdges(ctx context.Context, src string, t EdgeType) ([]*Edge, error) {
	rows, err := db.conn.QueryContext(ctx, `
		SELECT src, type, dst, at, created_at FROM edges
		WHERE src = ? AND type = ?
		ORDER BY at, dst
	`, src, string(t))
	if err != nil {
		return nil, fmt.Errorf("querying edges: %w", err)
	}
	defer rows.Close()

	var edges []*Edge
	for rows.Next() {
		var e Edge
		var typ string
		if err := rows.Scan(&e.Src, &typ, &e.Dst, &e.At, &e.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning edge: %w", err)
		}
		e.Type = EdgeType(typ)
		edges = append(edges, &e)
	}
	return edges, rows.Err()
}

// Stats counts nodes per kind and edges.
func (db *DB) Stats(ctx context.Context) (*Stats, error) {
	s := &Stats{ByKind: map[NodeKind]int64{}}
	rows, err := db.conn.QueryContext(ctx, `SELECT kind, COUNT(*) FROM nodes GROUP BY kind`)
	if err != nil {
		return nil, fmt.Errorf("counting nodes: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		var kind string
		var n int64
		if err := rows.Scan(&kind, &n); err != nil {
			return nil, fmt.Errorf("scanning node count: %w", err)
		}
		s.ByKind[NodeKind(kind)] = n
		s.Nodes += n
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if err := db.conn.QueryRowContext(ctx, `SELECT COUNT(*) FROM edges`).Scan(&s.Edges); err != nil {
		return nil, fmt.Errorf("counting edges: %w", err)
	}
	return s, nil
}
