package reconcile

import (
	"context"
	"database/sql"
	"fmt"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"orca/internal/db"
	"orca/internal/jobs"
	"orca/internal/reports"
)

const (
	DefaultFetchSize = 5000
	DefaultBatchSize = 1000
)

// CatalogQuery selects the archived files of reportSource in key order.
func CatalogQuery(reportSource string) string {
	return `SELECT granules.collection_id, granules.cumulus_granule_id, files.name, files.key_path,
       COALESCE(files.etag, ''), files.size_in_bytes, storage_class.value,
       ` + epochMillis("files.ingest_time") + `
FROM files
JOIN granules ON granules.id = files.granule_id
JOIN storage_class ON storage_class.id = files.storage_class_id
WHERE files.orca_archive_location = ` + pq.QuoteLiteral(reportSource) + `
ORDER BY files.key_path COLLATE "C"`
}

// StoredObjectsQuery selects the current, non-deleted inventory objects of
// reportSource from a staging table in key order.
func StoredObjectsQuery(table, reportSource string) string {
	return `SELECT key, COALESCE(etag, ''), COALESCE(size_in_bytes, 0), COALESCE(storage_class, ''),
       COALESCE(` + epochMillis("last_update") + `, 0)
FROM ` + pq.QuoteIdentifier(table) + `
WHERE bucket = ` + pq.QuoteLiteral(reportSource) + `
  AND COALESCE(is_latest, true)
  AND NOT COALESCE(is_delete_marker, false)
ORDER BY key COLLATE "C"`
}

func epochMillis(column string) string {
	return fmt.Sprintf("(EXTRACT(EPOCH FROM date_trunc('milliseconds', %s)) * 1000)::bigint", column)
}

type PostgresStore struct {
	db        *sql.DB
	fetchSize int
	batchSize int
	logger    zerolog.Logger
}

func NewPostgresStore(sqlDB *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{
		db:        sqlDB,
		fetchSize: DefaultFetchSize,
		batchSize: DefaultBatchSize,
		logger:    logger,
	}
}

// Compare streams both sides through server-side cursors and writes the
// reports in the same transaction. Rows left by an earlier attempt for the
// job are replaced.
func (s *PostgresStore) Compare(ctx context.Context, jobID int64, reportSource string) (Counts, error) {
	var counts Counts

	err := db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		for _, table := range []string{reports.MismatchTable, reports.PhantomTable, reports.OrphanTable} {
			if _, err := tx.ExecContext(ctx, "DELETE FROM "+pq.QuoteIdentifier(table)+" WHERE job_id = $1", jobID); err != nil {
				return fmt.Errorf("failed to clear %s: %w", table, err)
			}
		}

		catalog, err := openCursor(ctx, tx, "catalog_files", CatalogQuery(reportSource), s.fetchSize, scanCatalogFile)
		if err != nil {
			return err
		}
		stored, err := openCursor(ctx, tx, "stored_objects", StoredObjectsQuery(jobs.StagingTableName(jobID), reportSource), s.fetchSize, scanStoredObject)
		if err != nil {
			return err
		}

		w := newBatchWriter(tx, jobID, s.batchSize)
		if counts, err = Compare(ctx, jobID, catalog, stored, w); err != nil {
			return err
		}
		return w.Flush(ctx)
	})
	if err != nil {
		return Counts{}, err
	}
	return counts, nil
}

func scanCatalogFile(rows *sql.Rows) (CatalogFile, error) {
	var f CatalogFile
	err := rows.Scan(&f.CollectionID, &f.GranuleID, &f.Filename, &f.KeyPath, &f.Etag, &f.SizeInBytes, &f.StorageClass, &f.LastUpdate)
	return f, err
}

func scanStoredObject(rows *sql.Rows) (StoredObject, error) {
	var o StoredObject
	err := rows.Scan(&o.KeyPath, &o.Etag, &o.SizeInBytes, &o.StorageClass, &o.LastUpdate)
	return o, err
}

// fetchFunc returns up to n more rows of a result set, fewer only at its end.
type fetchFunc[T any] func(ctx context.Context, n int) ([]T, error)

// cursorIterator reads a result set in fixed-size batches, so two result sets
// can be consumed alternately on one connection.
type cursorIterator[T any] struct {
	fetch     fetchFunc[T]
	fetchSize int
	buf       []T
	pos       int
	done      bool
}

func newCursorIterator[T any](fetch fetchFunc[T], fetchSize int) *cursorIterator[T] {
	return &cursorIterator[T]{fetch: fetch, fetchSize: fetchSize}
}

func openCursor[T any](ctx context.Context, tx *sql.Tx, name, query string, fetchSize int, scan func(*sql.Rows) (T, error)) (*cursorIterator[T], error) {
	if _, err := tx.ExecContext(ctx, "DECLARE "+pq.QuoteIdentifier(name)+" NO SCROLL CURSOR FOR "+query); err != nil {
		return nil, fmt.Errorf("failed to declare cursor %s: %w", name, err)
	}
	return newCursorIterator(fetchFromCursor(tx, name, scan), fetchSize), nil
}

func fetchFromCursor[T any](tx *sql.Tx, name string, scan func(*sql.Rows) (T, error)) fetchFunc[T] {
	return func(ctx context.Context, n int) ([]T, error) {
		rows, err := tx.QueryContext(ctx, fmt.Sprintf("FETCH FORWARD %d FROM %s", n, pq.QuoteIdentifier(name)))
		if err != nil {
			return nil, fmt.Errorf("failed to fetch from %s: %w", name, err)
		}
		defer func() { _ = rows.Close() }()

		batch := make([]T, 0, n)
		for rows.Next() {
			row, err := scan(rows)
			if err != nil {
				return nil, fmt.Errorf("failed to scan %s: %w", name, err)
			}
			batch = append(batch, row)
		}
		return batch, rows.Err()
	}
}

func (c *cursorIterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if c.pos >= len(c.buf) {
		if c.done {
			return zero, false, nil
		}
		if err := c.load(ctx); err != nil {
			return zero, false, err
		}
		if len(c.buf) == 0 {
			return zero, false, nil
		}
	}
	row := c.buf[c.pos]
	c.pos++
	return row, true, nil
}

func (c *cursorIterator[T]) load(ctx context.Context) error {
	batch, err := c.fetch(ctx, c.fetchSize)
	if err != nil {
		return err
	}
	c.buf = batch
	c.pos = 0
	c.done = len(batch) < c.fetchSize
	return nil
}

const (
	insertMismatchSQL = `INSERT INTO reconcile_catalog_mismatch_report
	(job_id, collection_id, granule_id, filename, key_path, orca_etag, s3_etag,
	 orca_last_update, s3_last_update, orca_size_in_bytes, s3_size_in_bytes,
	 orca_storage_class, s3_storage_class, discrepancy_type)
SELECT $1, collection_id, granule_id, filename, key_path, orca_etag, s3_etag,
       to_timestamp(orca_last_update / 1000.0), to_timestamp(s3_last_update / 1000.0),
       orca_size, s3_size, orca_storage_class, s3_storage_class, discrepancy_type
FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[], $7::text[],
            $8::bigint[], $9::bigint[], $10::bigint[], $11::bigint[],
            $12::text[], $13::text[], $14::text[])
  AS t(collection_id, granule_id, filename, key_path, orca_etag, s3_etag,
       orca_last_update, s3_last_update, orca_size, s3_size,
       orca_storage_class, s3_storage_class, discrepancy_type)`

	insertPhantomSQL = `INSERT INTO reconcile_phantom_report
	(job_id, collection_id, granule_id, filename, key_path, orca_etag,
	 orca_last_update, orca_size_in_bytes, orca_storage_class)
SELECT $1, collection_id, granule_id, filename, key_path, orca_etag,
       to_timestamp(orca_last_update / 1000.0), orca_size, orca_storage_class
FROM unnest($2::text[], $3::text[], $4::text[], $5::text[], $6::text[],
            $7::bigint[], $8::bigint[], $9::text[])
  AS t(collection_id, granule_id, filename, key_path, orca_etag,
       orca_last_update, orca_size, orca_storage_class)`

	insertOrphanSQL = `INSERT INTO reconcile_orphan_report
	(job_id, key_path, etag, last_update, size_in_bytes, storage_class)
SELECT $1, key_path, etag, to_timestamp(last_update / 1000.0), size_in_bytes, storage_class
FROM unnest($2::text[], $3::text[], $4::bigint[], $5::bigint[], $6::text[])
  AS t(key_path, etag, last_update, size_in_bytes, storage_class)`
)

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

// batchWriter buffers report rows and inserts them a batch at a time.
type batchWriter struct {
	tx         execer
	jobID      int64
	batchSize  int
	mismatches []reports.Mismatch
	phantoms   []reports.Phantom
	orphans    []reports.Orphan
}

func newBatchWriter(tx execer, jobID int64, batchSize int) *batchWriter {
	return &batchWriter{tx: tx, jobID: jobID, batchSize: batchSize}
}

func (w *batchWriter) WriteMismatch(ctx context.Context, m reports.Mismatch) error {
	w.mismatches = append(w.mismatches, m)
	if len(w.mismatches) >= w.batchSize {
		return w.flushMismatches(ctx)
	}
	return nil
}

func (w *batchWriter) WritePhantom(ctx context.Context, p reports.Phantom) error {
	w.phantoms = append(w.phantoms, p)
	if len(w.phantoms) >= w.batchSize {
		return w.flushPhantoms(ctx)
	}
	return nil
}

func (w *batchWriter) WriteOrphan(ctx context.Context, o reports.Orphan) error {
	w.orphans = append(w.orphans, o)
	if len(w.orphans) >= w.batchSize {
		return w.flushOrphans(ctx)
	}
	return nil
}

func (w *batchWriter) Flush(ctx context.Context) error {
	if err := w.flushMismatches(ctx); err != nil {
		return err
	}
	if err := w.flushPhantoms(ctx); err != nil {
		return err
	}
	return w.flushOrphans(ctx)
}

func (w *batchWriter) flushMismatches(ctx context.Context) error {
	if len(w.mismatches) == 0 {
		return nil
	}
	_, err := w.tx.ExecContext(ctx, insertMismatchSQL, MismatchArgs(w.jobID, w.mismatches)...)
	if err != nil {
		return fmt.Errorf("failed to insert mismatches: %w", err)
	}
	w.mismatches = w.mismatches[:0]
	return nil
}

func (w *batchWriter) flushPhantoms(ctx context.Context) error {
	if len(w.phantoms) == 0 {
		return nil
	}
	_, err := w.tx.ExecContext(ctx, insertPhantomSQL, PhantomArgs(w.jobID, w.phantoms)...)
	if err != nil {
		return fmt.Errorf("failed to insert phantoms: %w", err)
	}
	w.phantoms = w.phantoms[:0]
	return nil
}

func (w *batchWriter) flushOrphans(ctx context.Context) error {
	if len(w.orphans) == 0 {
		return nil
	}
	_, err := w.tx.ExecContext(ctx, insertOrphanSQL, OrphanArgs(w.jobID, w.orphans)...)
	if err != nil {
		return fmt.Errorf("failed to insert orphans: %w", err)
	}
	w.orphans = w.orphans[:0]
	return nil
}

// MismatchArgs lays out rows as the column arrays of insertMismatchSQL.
func MismatchArgs(jobID int64, rows []reports.Mismatch) []any {
	n := len(rows)
	var (
		collections, granules, names, keys = make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		orcaEtags, s3Etags                 = make([]string, n), make([]string, n)
		orcaTimes, s3Times                 = make([]int64, n), make([]int64, n)
		orcaSizes, s3Sizes                 = make([]int64, n), make([]int64, n)
		orcaClasses, s3Classes, kinds      = make([]string, n), make([]string, n), make([]string, n)
	)
	for i, m := range rows {
		collections[i], granules[i], names[i], keys[i] = m.CollectionID, m.GranuleID, m.Filename, m.KeyPath
		orcaEtags[i], s3Etags[i] = m.OrcaEtag, m.S3Etag
		orcaTimes[i], s3Times[i] = m.OrcaLastUpdate, m.S3LastUpdate
		orcaSizes[i], s3Sizes[i] = m.OrcaSizeInBytes, m.S3SizeInBytes
		orcaClasses[i], s3Classes[i], kinds[i] = m.OrcaStorageClass, m.S3StorageClass, m.DiscrepancyType
	}
	return []any{
		jobID,
		pq.Array(collections), pq.Array(granules), pq.Array(names), pq.Array(keys),
		pq.Array(orcaEtags), pq.Array(s3Etags),
		pq.Array(orcaTimes), pq.Array(s3Times), pq.Array(orcaSizes), pq.Array(s3Sizes),
		pq.Array(orcaClasses), pq.Array(s3Classes), pq.Array(kinds),
	}
}

func PhantomArgs(jobID int64, rows []reports.Phantom) []any {
	n := len(rows)
	var (
		collections, granules, names, keys, etags = make([]string, n), make([]string, n), make([]string, n), make([]string, n), make([]string, n)
		times, sizes                              = make([]int64, n), make([]int64, n)
		classes                                   = make([]string, n)
	)
	for i, p := range rows {
		collections[i], granules[i], names[i], keys[i], etags[i] = p.CollectionID, p.GranuleID, p.Filename, p.KeyPath, p.OrcaEtag
		times[i], sizes[i], classes[i] = p.OrcaLastUpdate, p.OrcaSizeInBytes, p.OrcaStorageClass
	}
	return []any{
		jobID,
		pq.Array(collections), pq.Array(granules), pq.Array(names), pq.Array(keys), pq.Array(etags),
		pq.Array(times), pq.Array(sizes), pq.Array(classes),
	}
}

func OrphanArgs(jobID int64, rows []reports.Orphan) []any {
	n := len(rows)
	var (
		keys, etags, classes = make([]string, n), make([]string, n), make([]string, n)
		times, sizes         = make([]int64, n), make([]int64, n)
	)
	for i, o := range rows {
		keys[i], etags[i], classes[i] = o.KeyPath, o.Etag, o.StorageClass
		times[i], sizes[i] = o.LastUpdate, o.SizeInBytes
	}
	return []any{
		jobID,
		pq.Array(keys), pq.Array(etags), pq.Array(times), pq.Array(sizes), pq.Array(classes),
	}
}
