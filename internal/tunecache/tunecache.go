// Package tunecache persists tuned performance records in SQLite, keyed by
// kernel name and operator signature, so tuning survives the process.
package tunecache

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	_ "github.com/mattn/go-sqlite3" // registers the sqlite3 driver

	"github.com/born-ml/kerneltune/internal/kernel"
)

const schema = `
CREATE TABLE IF NOT EXISTS perf_records (
	kernel TEXT NOT NULL,
	signature TEXT NOT NULL,
	kind TEXT NOT NULL,
	payload TEXT NOT NULL,
	time_ms REAL NOT NULL,
	updated_at TIMESTAMP NOT NULL DEFAULT CURRENT_TIMESTAMP,
	PRIMARY KEY (kernel, signature)
);
`

// Cache is a SQLite table of performance records. SQLite serializes
// writers itself, so a Cache may be shared by concurrent runtimes.
type Cache struct {
	conn *sql.DB
}

// Open opens or creates the cache at path.
func Open(path string) (*Cache, error) {
	conn, err := sql.Open("sqlite3", path+"?_journal_mode=WAL&_busy_timeout=5000&_txlock=immediate")
	if err != nil {
		return nil, fmt.Errorf("open tune cache: %w", err)
	}
	if err := conn.Ping(); err != nil {
		conn.Close()
		return nil, fmt.Errorf("ping tune cache: %w", err)
	}
	if _, err := conn.Exec(schema); err != nil {
		conn.Close()
		return nil, fmt.Errorf("initialize tune cache: %w", err)
	}
	return &Cache{conn: conn}, nil
}

// Close checkpoints the write-ahead log and closes the database.
func (c *Cache) Close() error {
	_, _ = c.conn.Exec("PRAGMA wal_checkpoint(TRUNCATE);")
	return c.conn.Close()
}

// Get returns the record stored for kernelName and signature. A missing
// row is reported with ok false and no error.
func (c *Cache) Get(ctx context.Context, kernelName, signature string) (rec kernel.PerfRecord, ok bool, err error) {
	var kind, payload string
	err = c.conn.QueryRowContext(ctx,
		"SELECT kind, payload FROM perf_records WHERE kernel = ? AND signature = ?",
		kernelName, signature,
	).Scan(&kind, &payload)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("get %s record: %w", kernelName, err)
	}
	rec, err = kernel.DecodeRecord(kind, []byte(payload))
	if err != nil {
		return nil, false, err
	}
	return rec, true, nil
}

// Put stores rec, replacing any earlier record for the same key.
func (c *Cache) Put(ctx context.Context, kernelName, signature string, rec kernel.PerfRecord) error {
	payload, err := kernel.EncodeRecord(rec)
	if err != nil {
		return fmt.Errorf("encode %s record: %w", kernelName, err)
	}
	_, err = c.conn.ExecContext(ctx, `
		INSERT INTO perf_records (kernel, signature, kind, payload, time_ms)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT (kernel, signature) DO UPDATE SET
			kind = excluded.kind,
			payload = excluded.payload,
			time_ms = excluded.time_ms,
			updated_at = CURRENT_TIMESTAMP
	`, kernelName, signature, rec.Kind(), string(payload), rec.Time())
	if err != nil {
		return fmt.Errorf("put %s record: %w", kernelName, err)
	}
	return nil
}

// Len returns the number of stored records.
func (c *Cache) Len(ctx context.Context) (int, error) {
	var n int
	if err := c.conn.QueryRowContext(ctx, "SELECT COUNT(*) FROM perf_records").Scan(&n); err != nil {
		return 0, fmt.Errorf("count records: %w", err)
	}
	return n, nil
}

// Entry is one stored row.
type Entry struct {
	Kernel    string
	Signature string
	Kind      string
	TimeMs    float64
}

// Entries lists every row ordered by kernel then signature.
func (c *Cache) Entries(ctx context.Context) ([]Entry, error) {
	rows, err := c.conn.QueryContext(ctx,
		"SELECT kernel, signature, kind, time_ms FROM perf_records ORDER BY kernel, signature")
	if err != nil {
		return nil, fmt.Errorf("list records: %w", err)
	}
	defer rows.Close()

	var out []Entry
	for rows.Next() {
		var e Entry
		if err := rows.Scan(&e.Kernel, &e.Signature, &e.Kind, &e.TimeMs); err != nil {
			return nil, fmt.Errorf("scan record: %w", err)
		}
		out = append(out, e)
	}
	return out, rows.Err()
}
