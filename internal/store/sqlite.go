package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	sqlite3 "github.com/mutecomm/go-sqlcipher/v4"
)

// DriverName is the project-specific SQLCipher driver registration.
const DriverName = "sqlite3_house_core"

func init() {
	sql.Register(DriverName, &sqlite3.SQLiteDriver{})
}

// docSchema holds the single versioned document per well-known key.
const docSchema = `
CREATE TABLE IF NOT EXISTS documents (
    key TEXT PRIMARY KEY,
    body TEXT NOT NULL,
    updated_at INTEGER NOT NULL
);
`

// DocDB is the encrypted key-value document database backing the note store.
type DocDB struct {
	db *sql.DB
}

// Open opens (creating if needed) the document database at path, keyed with
// the given 64-hex-char SQLCipher key.
func Open(path, keyHex string) (*DocDB, error) {
	if keyHex == "" {
		return nil, fmt.Errorf("document database key is required")
	}
	dsn := fmt.Sprintf("file:%s?_pragma_key=x'%s'&_pragma_cipher_page_size=4096", path, keyHex)
	return openDSN(dsn)
}

// OpenInMemory opens a named in-memory document database for tests. Each
// distinct name is a fully isolated database.
func OpenInMemory(name, keyHex string) (*DocDB, error) {
	if name == "" {
		name = "house-core-test"
	}
	dsn := fmt.Sprintf("file:%s?mode=memory&cache=shared&_pragma_key=x'%s'", name, keyHex)
	return openDSN(dsn)
}

func openDSN(dsn string) (*DocDB, error) {
	sqlDB, err := sql.Open(DriverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open document database: %w", err)
	}

	// SQLite is single-writer; the store serializes writes anyway.
	sqlDB.SetMaxOpenConns(2)
	sqlDB.SetMaxIdleConns(1)

	var version string
	if err := sqlDB.QueryRow("SELECT sqlite_version()").Scan(&version); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to verify document database: %w", err)
	}
	if _, err := sqlDB.Exec(docSchema); err != nil {
		sqlDB.Close()
		return nil, fmt.Errorf("failed to initialize document schema: %w", err)
	}

	return &DocDB{db: sqlDB}, nil
}

// Close closes the underlying connection pool.
func (d *DocDB) Close() error {
	return d.db.Close()
}

// get reads the document body for a key. The second return is false when no
// row exists, which is distinct from a read failure.
func (d *DocDB) get(ctx context.Context, key string) (string, bool, error) {
	var body string
	err := d.db.QueryRowContext(ctx, "SELECT body FROM documents WHERE key = ?", key).Scan(&body)
	if err == sql.ErrNoRows {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("failed to read document %q: %w", key, err)
	}
	return body, true, nil
}

// put upserts the document body for a key.
func (d *DocDB) put(ctx context.Context, key, body string) error {
	_, err := d.db.ExecContext(ctx, `
		INSERT INTO documents (key, body, updated_at) VALUES (?, ?, ?)
		ON CONFLICT(key) DO UPDATE SET body = excluded.body, updated_at = excluded.updated_at`,
		key, body, time.Now().UTC().Unix())
	if err != nil {
		return fmt.Errorf("failed to write document %q: %w", key, err)
	}
	return nil
}
