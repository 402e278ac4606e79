package merkle

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3"
)

const schema = `
CREATE TABLE IF NOT EXISTS nodes (
	hash        TEXT PRIMARY KEY,
	parent_hash TEXT,
	content     TEXT NOT NULL,
	created_at  DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
);
CREATE INDEX IF NOT EXISTS idx_nodes_parent_hash ON nodes(parent_hash);
`

const nodeColumns = "hash, parent_hash, content"

// SQLiteStorer is a Storer backed by a SQLite database file.
type SQLiteStorer struct {
	db *sql.DB
}

// NewSQLiteStorer opens (creating if needed) the database at path.
// Use ":memory:" for an in-memory database.
func NewSQLiteStorer(path string) (*SQLiteStorer, error) {
	db, err := sql.Open("sqlite3", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite database: %w", err)
	}

	// A single connection keeps ":memory:" databases coherent and serializes writers.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("create schema: %w", err)
	}

	return &SQLiteStorer{db: db}, nil
}

func (s *SQLiteStorer) Put(ctx context.Context, node *Node) (bool, error) {
	if node == nil {
		return false, errNilNode
	}

	content, err := json.Marshal(node.Content)
	if err != nil {
		return false, fmt.Errorf("marshal content: %w", err)
	}

	var parent sql.NullString
	if node.ParentHash != nil {
		parent = sql.NullString{String: *node.ParentHash, Valid: true}
	}

	res, err := s.db.ExecContext(ctx,
		"INSERT OR IGNORE INTO nodes (hash, parent_hash, content) VALUES (?, ?, ?)",
		node.Hash, parent, string(content),
	)
	if err != nil {
		return false, fmt.Errorf("insert node %s: %w", node.Hash, err)
	}

	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("rows affected: %w", err)
	}
	return n == 1, nil
}

func (s *SQLiteStorer) Get(ctx context.Context, hash string) (*Node, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE hash = ?", hash)

	node, err := scanNode(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound{Hash: hash}
	}
	if err != nil {
		return nil, fmt.Errorf("get node %s: %w", hash, err)
	}
	return node, nil
}

func (s *SQLiteStorer) Has(ctx context.Context, hash string) (bool, error) {
	var exists bool
	err := s.db.QueryRowContext(ctx, "SELECT EXISTS(SELECT 1 FROM nodes WHERE hash = ?)", hash).Scan(&exists)
	if err != nil {
		return false, fmt.Errorf("check node %s: %w", hash, err)
	}
	return exists, nil
}

func (s *SQLiteStorer) GetByParent(ctx context.Context, parentHash *string) ([]*Node, error) {
	if parentHash == nil {
		return s.query(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE parent_hash IS NULL ORDER BY rowid")
	}
	return s.query(ctx, "SELECT "+nodeColumns+" FROM nodes WHERE parent_hash = ? ORDER BY rowid", *parentHash)
}

func (s *SQLiteStorer) List(ctx context.Context) ([]*Node, error) {
	return s.query(ctx, "SELECT "+nodeColumns+" FROM nodes ORDER BY rowid")
}

func (s *SQLiteStorer) Roots(ctx context.Context) ([]*Node, error) {
	return s.GetByParent(ctx, nil)
}

func (s *SQLiteStorer) Leaves(ctx context.Context) ([]*Node, error) {
	return s.query(ctx, `
		SELECT n.hash, n.parent_hash, n.content FROM nodes n
		WHERE NOT EXISTS (SELECT 1 FROM nodes c WHERE c.parent_hash = n.hash)
		ORDER BY n.rowid`)
}

func (s *SQLiteStorer) Ancestry(ctx context.Context, hash string) ([]*Node, error) {
	return ancestry(ctx, s.Get, hash)
}

func (s *SQLiteStorer) Descendants(ctx context.Context, hash string) ([]*Node, error) {
	path, err := s.Ancestry(ctx, hash)
	if err != nil {
		return nil, err
	}
	return reversed(path), nil
}

func (s *SQLiteStorer) Depth(ctx context.Context, hash string) (int, error) {
	path, err := s.Ancestry(ctx, hash)
	if err != nil {
		return 0, err
	}
	return len(path) - 1, nil
}

func (s *SQLiteStorer) Close() error {
	return s.db.Close()
}

func (s *SQLiteStorer) query(ctx context.Context, query string, args ...any) ([]*Node, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("query nodes: %w", err)
	}
	defer rows.Close()

	nodes := []*Node{}
	for rows.Next() {
		node, err := scanNode(rows)
		if err != nil {
			return nil, err
		}
		nodes = append(nodes, node)
	}
	return nodes, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanNode(sc scanner) (*Node, error) {
	var (
		node    Node
		parent  sql.NullString
		content string
	)
	if err := sc.Scan(&node.Hash, &parent, &content); err != nil {
		return nil, err
	}

	if parent.Valid {
		node.ParentHash = &parent.String
	}
	if err := json.Unmarshal([]byte(content), &node.Content); err != nil {
		return nil, fmt.Errorf("unmarshal content of %s: %w", node.Hash, err)
	}
	return &node, nil
}
