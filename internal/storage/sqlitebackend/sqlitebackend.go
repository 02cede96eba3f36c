// Package sqlitebackend is the embedded, crash-safe storage
// implementation: goqu over modernc.org/sqlite, WAL journal mode, a
// single-connection pool (SQLite allows only one writer), and
// migrations run once at construction via the shared internal/migrate
// runner.
package sqlitebackend

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/sqlite3"
	_ "modernc.org/sqlite"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/migrate"
	"github.com/llmspell-go/kernel/internal/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

// DefaultTablePrefix namespaces every table this backend owns.
const DefaultTablePrefix = "llmspell_"

// Backend is the SQLite-backed storage.Backend + storage.VectorCapable.
type Backend struct {
	db         *sql.DB
	g          *goqu.Database
	kvTable    string
	vecTable   string
	migrations *migrate.Runner
}

// New opens (creating if absent) a SQLite database at datasource, runs
// pending migrations, and returns a ready Backend. tablePrefix defaults
// to DefaultTablePrefix when empty.
func New(ctx context.Context, datasource, tablePrefix string) (*Backend, error) {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}

	db, err := sql.Open("sqlite", datasource)
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: open: %w", err)
	}

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitebackend: ping: %w", err)
	}

	// SQLite has exactly one writer; size the pool to one connection
	// and use WAL for crash safety under concurrent reads.
	if _, err := db.ExecContext(ctx, "PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitebackend: set WAL mode: %w", err)
	}
	if _, err := db.ExecContext(ctx, "PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("sqlitebackend: enable foreign keys: %w", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	b := &Backend{
		db:       db,
		g:        goqu.New("sqlite3", db),
		kvTable:  tablePrefix + "kv",
		vecTable: tablePrefix + "vectors",
	}
	b.migrations = migrate.New(db, migrationFS, "migrations", "sqlite3", migrate.Config{
		Table:  tablePrefix + "migrations",
		Values: map[string]string{"TABLE_PREFIX": tablePrefix},
	})

	if err := b.RunMigrations(ctx); err != nil {
		db.Close()
		return nil, err
	}

	return b, nil
}

func (b *Backend) RunMigrations(ctx context.Context) error {
	if err := b.migrations.Run(ctx); err != nil {
		return storage.Fatal(err)
	}
	return nil
}

func (b *Backend) MigrationVersion(ctx context.Context) (string, error) {
	return b.migrations.Version(ctx)
}

func (b *Backend) Get(ctx context.Context, scope domain.Scope, key string) ([]byte, error) {
	ds := b.g.From(b.kvTable).
		Select("value").
		Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: build get query: %w", err)
	}

	var value []byte
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Transient(fmt.Errorf("sqlitebackend: get: %w", err))
	}
	return value, nil
}

func (b *Backend) Set(ctx context.Context, scope domain.Scope, key string, value []byte) error {
	return b.setOne(ctx, b.db, scope, key, value)
}

func (b *Backend) setOne(ctx context.Context, execer execer, scope domain.Scope, key string, value []byte) error {
	ds := b.g.Insert(b.kvTable).
		Rows(goqu.Record{
			"scope_prefix": scope.Prefix(),
			"key":          key,
			"value":        value,
			"updated_at":   nowUTC(),
		}).
		OnConflict(goqu.DoUpdate("scope_prefix,key", goqu.Record{
			"value":      value,
			"updated_at": nowUTC(),
		}))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("sqlitebackend: build set query: %w", err)
	}
	if _, err := execer.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: set: %w", err))
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, scope domain.Scope, key string) error {
	ds := b.g.Delete(b.kvTable).Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("sqlitebackend: build delete query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: delete: %w", err))
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, scope domain.Scope, key string) (bool, error) {
	ds := b.g.From(b.kvTable).
		Select(goqu.COUNT("*")).
		Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return false, fmt.Errorf("sqlitebackend: build exists query: %w", err)
	}
	var count int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, storage.Transient(fmt.Errorf("sqlitebackend: exists: %w", err))
	}
	return count > 0, nil
}

func (b *Backend) ListKeys(ctx context.Context, scope domain.Scope, prefix string) ([]string, error) {
	ds := b.g.From(b.kvTable).
		Select("key").
		Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Like(prefix+"%"))
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: build list query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Transient(fmt.Errorf("sqlitebackend: list: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("sqlitebackend: scan key: %w", err)
		}
		out = append(out, k)
	}
	sort.Strings(out)
	return out, rows.Err()
}

func (b *Backend) GetBatch(ctx context.Context, scope domain.Scope, keys []string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(keys))
	for _, k := range keys {
		v, err := b.Get(ctx, scope, k)
		if err == storage.ErrNotFound {
			continue
		}
		if err != nil {
			return nil, err
		}
		out[k] = v
	}
	return out, nil
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// SetBatch runs all writes inside one transaction, giving atomic
// batch semantics where the backend characteristics advertise
// Transactional = true.
func (b *Backend) SetBatch(ctx context.Context, scope domain.Scope, values map[string][]byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: begin tx: %w", err))
	}
	for k, v := range values {
		if err := b.setOne(ctx, tx, scope, k, v); err != nil {
			tx.Rollback()
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: commit: %w", err))
	}
	return nil
}

func (b *Backend) DeleteBatch(ctx context.Context, scope domain.Scope, keys []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: begin tx: %w", err))
	}
	for _, k := range keys {
		ds := b.g.Delete(b.kvTable).Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(k))
		query, args, err := ds.ToSQL()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("sqlitebackend: build delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return storage.Transient(fmt.Errorf("sqlitebackend: delete batch: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: commit: %w", err))
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context, scope domain.Scope) error {
	for _, table := range []string{b.kvTable, b.vecTable} {
		ds := b.g.Delete(table).Where(goqu.C("scope_prefix").Like(scope.Prefix() + "%"))
		query, args, err := ds.ToSQL()
		if err != nil {
			return fmt.Errorf("sqlitebackend: build clear query: %w", err)
		}
		if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
			return storage.Transient(fmt.Errorf("sqlitebackend: clear: %w", err))
		}
	}
	return nil
}

func (b *Backend) Characteristics() storage.Characteristics {
	return storage.Characteristics{
		Persistent:         true,
		Transactional:      true,
		SupportsPrefixScan: true,
		SupportsAtomicOps:  true,
		AvgReadLatencyUs:   50,
		AvgWriteLatencyUs:  200,
	}
}

func (b *Backend) Close() error { return b.db.Close() }

func nowUTC() string { return time.Now().UTC().Format(time.RFC3339Nano) }

// ─── VectorCapable: brute-force cosine search, no HNSW ───

func (b *Backend) SupportedDimensions() []int { return domain.SupportedVectorDimensions }
func (b *Backend) SupportsHNSW() bool         { return false }

func (b *Backend) InsertVector(ctx context.Context, scope domain.Scope, id string, vec []float32, metadata map[string]any) error {
	if !domain.IsSupportedDimension(len(vec)) {
		return storage.Fatal(fmt.Errorf("sqlitebackend: unsupported vector dimension %d", len(vec)))
	}
	metaJSON, err := json.Marshal(metadata)
	if err != nil {
		return fmt.Errorf("sqlitebackend: marshal vector metadata: %w", err)
	}
	blob := encodeFloat32s(vec)

	ds := b.g.Insert(b.vecTable).
		Rows(goqu.Record{
			"scope_prefix": scope.Prefix(),
			"id":           id,
			"embedding":    blob,
			"dim":          len(vec),
			"metadata":     string(metaJSON),
			"created_at":   nowUTC(),
		}).
		OnConflict(goqu.DoUpdate("scope_prefix,id", goqu.Record{
			"embedding": blob, "dim": len(vec), "metadata": string(metaJSON),
		}))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("sqlitebackend: build insert vector query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: insert vector: %w", err))
	}
	return nil
}

func (b *Backend) DeleteVector(ctx context.Context, scope domain.Scope, id string) error {
	ds := b.g.Delete(b.vecTable).Where(goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("id").Eq(id))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("sqlitebackend: build delete vector query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("sqlitebackend: delete vector: %w", err))
	}
	return nil
}

func (b *Backend) Search(ctx context.Context, scope domain.Scope, query []float32, k int, threshold float32) ([]storage.VectorResult, error) {
	ds := b.g.From(b.vecTable).
		Select("id", "embedding", "metadata").
		Where(goqu.C("scope_prefix").Like(scope.Prefix()+"%"), goqu.C("dim").Eq(len(query)))
	sqlStr, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("sqlitebackend: build search query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, sqlStr, args...)
	if err != nil {
		return nil, storage.Transient(fmt.Errorf("sqlitebackend: search: %w", err))
	}
	defer rows.Close()

	var results []storage.VectorResult
	for rows.Next() {
		var id, metaJSON string
		var blob []byte
		if err := rows.Scan(&id, &blob, &metaJSON); err != nil {
			return nil, fmt.Errorf("sqlitebackend: scan vector row: %w", err)
		}
		vec := decodeFloat32s(blob)
		score := domain.CosineSimilarity(query, vec)
		if score < threshold {
			continue
		}
		var metadata map[string]any
		_ = json.Unmarshal([]byte(metaJSON), &metadata)
		results = append(results, storage.VectorResult{ID: id, Score: score, Metadata: metadata, Embedding: vec})
	}
	sort.Slice(results, func(i, j int) bool { return results[i].Score > results[j].Score })
	if k > 0 && len(results) > k {
		results = results[:k]
	}
	return results, rows.Err()
}

func encodeFloat32s(v []float32) []byte {
	raw, _ := json.Marshal(v)
	return raw
}

func decodeFloat32s(b []byte) []float32 {
	var v []float32
	_ = json.Unmarshal(b, &v)
	return v
}
