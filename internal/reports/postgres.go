package reports

import (
	"context"
	"database/sql"
	"fmt"
	"strings"

	"github.com/lib/pq"
)

const (
	MismatchTable = "reconcile_catalog_mismatch_report"
	PhantomTable  = "reconcile_phantom_report"
	OrphanTable   = "reconcile_orphan_report"
)

func epochMillis(column string) string {
	return fmt.Sprintf("(EXTRACT(EPOCH FROM %s) * 1000)::bigint", column)
}

var (
	mismatchColumns = []string{
		"job_id", "collection_id", "granule_id", "filename", "key_path",
		"orca_etag", "s3_etag", epochMillis("orca_last_update"), epochMillis("s3_last_update"),
		"orca_size_in_bytes", "s3_size_in_bytes", "orca_storage_class", "s3_storage_class",
		"discrepancy_type", "comment",
	}
	phantomColumns = []string{
		"job_id", "collection_id", "granule_id", "filename", "key_path",
		"orca_etag", epochMillis("orca_last_update"), "orca_size_in_bytes", "orca_storage_class",
	}
	orphanColumns = []string{
		"job_id", "key_path", "etag", epochMillis("last_update"), "size_in_bytes", "storage_class",
	}
)

// KeysetSQL builds a page query over table. The sort key columns compare
// with the "C" collation so the order matches byte order everywhere.
// Parameters: $1 job id, then one per key column when hasCursor, then the
// limit.
func KeysetSQL(table string, columns, keys []string, direction Direction, hasCursor bool) string {
	order := "ASC"
	op := ">"
	if direction == Previous {
		order = "DESC"
		op = "<"
	}

	collated := make([]string, len(keys))
	orderBy := make([]string, len(keys))
	for i, k := range keys {
		collated[i] = pq.QuoteIdentifier(k) + ` COLLATE "C"`
		orderBy[i] = collated[i] + " " + order
	}

	var b strings.Builder
	fmt.Fprintf(&b, "SELECT %s FROM %s WHERE job_id = $1", strings.Join(columns, ", "), pq.QuoteIdentifier(table))
	next := 2
	if hasCursor {
		params := make([]string, len(keys))
		for i := range keys {
			params[i] = fmt.Sprintf("$%d", next)
			next++
		}
		fmt.Fprintf(&b, " AND (%s) %s (%s)", strings.Join(collated, ", "), op, strings.Join(params, ", "))
	}
	fmt.Fprintf(&b, " ORDER BY %s LIMIT $%d", strings.Join(orderBy, ", "), next)
	return b.String()
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(sqlDB *sql.DB) *PostgresStore {
	return &PostgresStore{db: sqlDB}
}

func keysetArgs(q KeysetQuery) []any {
	args := []any{q.JobID}
	for _, v := range q.After {
		args = append(args, v)
	}
	return append(args, q.Limit)
}

func queryRows[T any](ctx context.Context, sqlDB *sql.DB, query string, args []any, scan func(*sql.Rows) (T, error)) ([]T, error) {
	rows, err := sqlDB.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()

	var out []T
	for rows.Next() {
		v, err := scan(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

func scanMismatch(rows *sql.Rows) (Mismatch, error) {
	var (
		m       Mismatch
		comment sql.NullString
	)
	err := rows.Scan(&m.JobID, &m.CollectionID, &m.GranuleID, &m.Filename, &m.KeyPath,
		&m.OrcaEtag, &m.S3Etag, &m.OrcaLastUpdate, &m.S3LastUpdate,
		&m.OrcaSizeInBytes, &m.S3SizeInBytes, &m.OrcaStorageClass, &m.S3StorageClass,
		&m.DiscrepancyType, &comment)
	if comment.Valid {
		m.Comment = &comment.String
	}
	return m, err
}

func scanPhantom(rows *sql.Rows) (Phantom, error) {
	var p Phantom
	err := rows.Scan(&p.JobID, &p.CollectionID, &p.GranuleID, &p.Filename, &p.KeyPath,
		&p.OrcaEtag, &p.OrcaLastUpdate, &p.OrcaSizeInBytes, &p.OrcaStorageClass)
	return p, err
}

func scanOrphan(rows *sql.Rows) (Orphan, error) {
	var o Orphan
	err := rows.Scan(&o.JobID, &o.KeyPath, &o.Etag, &o.LastUpdate, &o.SizeInBytes, &o.StorageClass)
	return o, err
}

func (s *PostgresStore) MismatchRows(ctx context.Context, q KeysetQuery) ([]Mismatch, error) {
	query := KeysetSQL(MismatchTable, mismatchColumns, granuleKeyFields, q.Direction, q.After != nil)
	return queryRows(ctx, s.db, query, keysetArgs(q), scanMismatch)
}

func (s *PostgresStore) PhantomRows(ctx context.Context, q KeysetQuery) ([]Phantom, error) {
	query := KeysetSQL(PhantomTable, phantomColumns, granuleKeyFields, q.Direction, q.After != nil)
	return queryRows(ctx, s.db, query, keysetArgs(q), scanPhantom)
}

func (s *PostgresStore) OrphanRows(ctx context.Context, q KeysetQuery) ([]Orphan, error) {
	query := KeysetSQL(OrphanTable, orphanColumns, orphanKeyFields, q.Direction, q.After != nil)
	return queryRows(ctx, s.db, query, keysetArgs(q), scanOrphan)
}

func (s *PostgresStore) OrphanRowsByOffset(ctx context.Context, jobID int64, offset, limit int) ([]Orphan, error) {
	query := fmt.Sprintf(
		`SELECT %s FROM %s WHERE job_id = $1 ORDER BY key_path COLLATE "C", etag COLLATE "C" OFFSET $2 LIMIT $3`,
		strings.Join(orphanColumns, ", "), pq.QuoteIdentifier(OrphanTable))
	return queryRows(ctx, s.db, query, []any{jobID, offset, limit}, scanOrphan)
}
