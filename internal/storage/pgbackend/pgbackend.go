// Package pgbackend is the networked, tenant-aware storage
// implementation: pgx/v5 stdlib driver, goqu query building, migration
// at construction. Tenant identity is attached once per backend handle,
// never per call, and enforced as a row-level predicate on every query.
package pgbackend

import (
	"context"
	"database/sql"
	"embed"
	"fmt"
	"sort"
	"time"

	"github.com/doug-martin/goqu/v9"
	_ "github.com/doug-martin/goqu/v9/dialect/postgres"
	_ "github.com/jackc/pgx/v5/stdlib"

	"github.com/llmspell-go/kernel/internal/domain"
	"github.com/llmspell-go/kernel/internal/migrate"
	"github.com/llmspell-go/kernel/internal/storage"
)

//go:embed migrations/*.sql
var migrationFS embed.FS

const DefaultTablePrefix = "llmspell_"

// VectorStore is the capability pgbackend delegates vector operations to.
// Production wiring uses storage/pgbackend/milvusvector; tests can supply
// an in-process fake.
type VectorStore interface {
	SupportedDimensions() []int
	SupportsHNSW() bool
	Insert(ctx context.Context, collection, id string, vec []float32, metadata map[string]any) error
	Delete(ctx context.Context, collection, id string) error
	Search(ctx context.Context, collection string, query []float32, k int, threshold float32) ([]storage.VectorResult, error)
}

// Backend is the Postgres-backed storage.Backend. Vector capability is
// only exposed (via AsVectorCapable) when a VectorStore is configured.
type Backend struct {
	db         *sql.DB
	g          *goqu.Database
	kvTable    string
	tenantID   string
	migrations *migrate.Runner
	vectors    VectorStore
}

// Option configures optional Backend behavior.
type Option func(*Backend)

// WithVectorStore attaches a vector-capable delegate (typically Milvus).
func WithVectorStore(vs VectorStore) Option {
	return func(b *Backend) { b.vectors = vs }
}

// New opens a Postgres connection, runs migrations, and binds tenantID
// for the lifetime of this handle.
func New(ctx context.Context, datasource, tablePrefix, tenantID string, opts ...Option) (*Backend, error) {
	if tablePrefix == "" {
		tablePrefix = DefaultTablePrefix
	}

	db, err := sql.Open("pgx", datasource)
	if err != nil {
		return nil, fmt.Errorf("pgbackend: open: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("pgbackend: ping: %w", err)
	}
	db.SetConnMaxLifetime(15 * time.Minute)
	db.SetMaxIdleConns(3)
	db.SetMaxOpenConns(3)

	b := &Backend{
		db:       db,
		g:        goqu.New("postgres", db),
		kvTable:  tablePrefix + "kv",
		tenantID: tenantID,
	}
	for _, opt := range opts {
		opt(b)
	}

	b.migrations = migrate.New(db, migrationFS, "migrations", "postgres", migrate.Config{
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

func (b *Backend) tenantPredicate() goqu.Expression {
	return goqu.C("tenant_id").Eq(b.tenantID)
}

func (b *Backend) Get(ctx context.Context, scope domain.Scope, key string) ([]byte, error) {
	ds := b.g.From(b.kvTable).
		Select("value").
		Where(b.tenantPredicate(), goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("pgbackend: build get query: %w", err)
	}
	var value []byte
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&value); err != nil {
		if err == sql.ErrNoRows {
			return nil, storage.ErrNotFound
		}
		return nil, storage.Transient(fmt.Errorf("pgbackend: get: %w", err))
	}
	return value, nil
}

func (b *Backend) Set(ctx context.Context, scope domain.Scope, key string, value []byte) error {
	ds := b.g.Insert(b.kvTable).
		Rows(goqu.Record{
			"tenant_id":    b.tenantID,
			"scope_prefix": scope.Prefix(),
			"key":          key,
			"value":        value,
			"updated_at":   time.Now().UTC(),
		}).
		OnConflict(goqu.DoUpdate("tenant_id,scope_prefix,key", goqu.Record{
			"value": value, "updated_at": time.Now().UTC(),
		}))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("pgbackend: build set query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: set: %w", err))
	}
	return nil
}

func (b *Backend) Delete(ctx context.Context, scope domain.Scope, key string) error {
	ds := b.g.Delete(b.kvTable).Where(b.tenantPredicate(), goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("pgbackend: build delete query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: delete: %w", err))
	}
	return nil
}

func (b *Backend) Exists(ctx context.Context, scope domain.Scope, key string) (bool, error) {
	ds := b.g.From(b.kvTable).
		Select(goqu.COUNT("*")).
		Where(b.tenantPredicate(), goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(key))
	query, args, err := ds.ToSQL()
	if err != nil {
		return false, fmt.Errorf("pgbackend: build exists query: %w", err)
	}
	var count int
	if err := b.db.QueryRowContext(ctx, query, args...).Scan(&count); err != nil {
		return false, storage.Transient(fmt.Errorf("pgbackend: exists: %w", err))
	}
	return count > 0, nil
}

func (b *Backend) ListKeys(ctx context.Context, scope domain.Scope, prefix string) ([]string, error) {
	ds := b.g.From(b.kvTable).
		Select("key").
		Where(b.tenantPredicate(), goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Like(prefix+"%"))
	query, args, err := ds.ToSQL()
	if err != nil {
		return nil, fmt.Errorf("pgbackend: build list query: %w", err)
	}
	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, storage.Transient(fmt.Errorf("pgbackend: list: %w", err))
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var k string
		if err := rows.Scan(&k); err != nil {
			return nil, fmt.Errorf("pgbackend: scan key: %w", err)
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

func (b *Backend) SetBatch(ctx context.Context, scope domain.Scope, values map[string][]byte) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: begin tx: %w", err))
	}
	for k, v := range values {
		ds := b.g.Insert(b.kvTable).
			Rows(goqu.Record{
				"tenant_id": b.tenantID, "scope_prefix": scope.Prefix(), "key": k,
				"value": v, "updated_at": time.Now().UTC(),
			}).
			OnConflict(goqu.DoUpdate("tenant_id,scope_prefix,key", goqu.Record{"value": v, "updated_at": time.Now().UTC()}))
		query, args, err := ds.ToSQL()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("pgbackend: build batch set query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return storage.Transient(fmt.Errorf("pgbackend: set batch: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: commit: %w", err))
	}
	return nil
}

func (b *Backend) DeleteBatch(ctx context.Context, scope domain.Scope, keys []string) error {
	tx, err := b.db.BeginTx(ctx, nil)
	if err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: begin tx: %w", err))
	}
	for _, k := range keys {
		ds := b.g.Delete(b.kvTable).Where(b.tenantPredicate(), goqu.C("scope_prefix").Eq(scope.Prefix()), goqu.C("key").Eq(k))
		query, args, err := ds.ToSQL()
		if err != nil {
			tx.Rollback()
			return fmt.Errorf("pgbackend: build batch delete query: %w", err)
		}
		if _, err := tx.ExecContext(ctx, query, args...); err != nil {
			tx.Rollback()
			return storage.Transient(fmt.Errorf("pgbackend: delete batch: %w", err))
		}
	}
	if err := tx.Commit(); err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: commit: %w", err))
	}
	return nil
}

func (b *Backend) Clear(ctx context.Context, scope domain.Scope) error {
	ds := b.g.Delete(b.kvTable).Where(b.tenantPredicate(), goqu.C("scope_prefix").Like(scope.Prefix()+"%"))
	query, args, err := ds.ToSQL()
	if err != nil {
		return fmt.Errorf("pgbackend: build clear query: %w", err)
	}
	if _, err := b.db.ExecContext(ctx, query, args...); err != nil {
		return storage.Transient(fmt.Errorf("pgbackend: clear: %w", err))
	}
	return nil
}

func (b *Backend) Characteristics() storage.Characteristics {
	return storage.Characteristics{
		Persistent:         true,
		Transactional:      true,
		SupportsPrefixScan: true,
		SupportsAtomicOps:  true,
		AvgReadLatencyUs:   800,
		AvgWriteLatencyUs:  1200,
	}
}

func (b *Backend) Close() error { return b.db.Close() }

// AsVectorCapable returns the storage.VectorCapable view of this backend
// when a VectorStore was configured via WithVectorStore, nil otherwise.
func (b *Backend) AsVectorCapable() storage.VectorCapable {
	if b.vectors == nil {
		return nil
	}
	return &vectorAdapter{b: b}
}

// vectorAdapter routes storage.VectorCapable calls to the configured
// VectorStore, scoping the collection name by tenant + scope so rows
// from different tenants are never comingled even inside Milvus.
type vectorAdapter struct{ b *Backend }

func (v *vectorAdapter) collection(scope domain.Scope) string {
	return v.b.tenantID + ":" + scope.String()
}

func (v *vectorAdapter) SupportedDimensions() []int { return v.b.vectors.SupportedDimensions() }
func (v *vectorAdapter) SupportsHNSW() bool         { return v.b.vectors.SupportsHNSW() }

func (v *vectorAdapter) InsertVector(ctx context.Context, scope domain.Scope, id string, vec []float32, metadata map[string]any) error {
	if !domain.IsSupportedDimension(len(vec)) {
		return storage.Fatal(fmt.Errorf("pgbackend: unsupported vector dimension %d", len(vec)))
	}
	return v.b.vectors.Insert(ctx, v.collection(scope), id, vec, metadata)
}

func (v *vectorAdapter) DeleteVector(ctx context.Context, scope domain.Scope, id string) error {
	return v.b.vectors.Delete(ctx, v.collection(scope), id)
}

func (v *vectorAdapter) Search(ctx context.Context, scope domain.Scope, query []float32, k int, threshold float32) ([]storage.VectorResult, error) {
	return v.b.vectors.Search(ctx, v.collection(scope), query, k, threshold)
}
