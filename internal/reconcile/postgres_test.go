package reconcile

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"testing"

	"github.com/lib/pq"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"orca/internal/reports"
)

func TestCatalogQuery(t *testing.T) {
	q := CatalogQuery("orca's-archive")
	assert.Contains(t, q, `WHERE files.orca_archive_location = 'orca''s-archive'`)
	assert.Contains(t, q, `ORDER BY files.key_path COLLATE "C"`)
	assert.Contains(t, q, "date_trunc('milliseconds', files.ingest_time)")
}

func TestStoredObjectsQuery(t *testing.T) {
	q := StoredObjectsQuery("reconcile_s3_object_12", "orca-archive")
	assert.Contains(t, q, `FROM "reconcile_s3_object_12"`)
	assert.Contains(t, q, `WHERE bucket = 'orca-archive'`)
	assert.Contains(t, q, "COALESCE(is_latest, true)")
	assert.Contains(t, q, "NOT COALESCE(is_delete_marker, false)")
	assert.Contains(t, q, `ORDER BY key COLLATE "C"`)
}

func TestMismatchArgs(t *testing.T) {
	args := MismatchArgs(4, []reports.Mismatch{
		{CollectionID: "c1", GranuleID: "g1", KeyPath: "k1", OrcaSizeInBytes: 1, S3SizeInBytes: 2, DiscrepancyType: "size_in_bytes"},
		{CollectionID: "c2", GranuleID: "g2", KeyPath: "k2", OrcaEtag: "a", S3Etag: "b", DiscrepancyType: "etag"},
	})

	require.Len(t, args, 14)
	assert.Equal(t, int64(4), args[0])
	assert.Equal(t, pq.Array([]string{"c1", "c2"}), args[1])
	assert.Equal(t, pq.Array([]string{"k1", "k2"}), args[4])
	assert.Equal(t, pq.Array([]int64{1, 0}), args[9])
	assert.Equal(t, pq.Array([]int64{2, 0}), args[10])
	assert.Equal(t, pq.Array([]string{"size_in_bytes", "etag"}), args[13])
}

func TestPhantomAndOrphanArgs(t *testing.T) {
	phantoms := PhantomArgs(1, []reports.Phantom{{KeyPath: "p", OrcaSizeInBytes: 3}})
	require.Len(t, phantoms, 9)
	assert.Equal(t, pq.Array([]string{"p"}), phantoms[4])
	assert.Equal(t, pq.Array([]int64{3}), phantoms[7])

	orphans := OrphanArgs(1, []reports.Orphan{{KeyPath: "o", Etag: "e", LastUpdate: 5, SizeInBytes: 6, StorageClass: "STANDARD"}})
	require.Len(t, orphans, 6)
	assert.Equal(t, pq.Array([]string{"o"}), orphans[1])
	assert.Equal(t, pq.Array([]int64{5}), orphans[3])
	assert.Equal(t, pq.Array([]string{"STANDARD"}), orphans[5])
}

// pagedRows serves rows n at a time and records each requested size.
type pagedRows[T any] struct {
	rows     []T
	requests []int
	err      error
}

func (p *pagedRows[T]) fetch(ctx context.Context, n int) ([]T, error) {
	p.requests = append(p.requests, n)
	if p.err != nil {
		return nil, p.err
	}
	if n > len(p.rows) {
		n = len(p.rows)
	}
	batch := p.rows[:n]
	p.rows = p.rows[n:]
	return batch, nil
}

func drain[T any](t *testing.T, it Iterator[T]) []T {
	t.Helper()
	var out []T
	for {
		row, ok, err := it.Next(context.Background())
		require.NoError(t, err)
		if !ok {
			return out
		}
		out = append(out, row)
	}
}

func TestCursorIterator_StopsOnShortBatch(t *testing.T) {
	src := &pagedRows[int]{rows: []int{1, 2, 3, 4, 5}}
	it := newCursorIterator[int](src.fetch, 2)

	assert.Equal(t, []int{1, 2, 3, 4, 5}, drain[int](t, it))
	assert.Equal(t, []int{2, 2, 2}, src.requests)

	_, ok, err := it.Next(context.Background())
	require.NoError(t, err)
	assert.False(t, ok)
	assert.Len(t, src.requests, 3, "exhausted cursor is not fetched again")
}

func TestCursorIterator_FullLastBatch(t *testing.T) {
	src := &pagedRows[int]{rows: []int{1, 2, 3, 4}}
	it := newCursorIterator[int](src.fetch, 2)

	assert.Equal(t, []int{1, 2, 3, 4}, drain[int](t, it))
	assert.Equal(t, []int{2, 2, 2}, src.requests, "a full batch needs one more fetch to see the end")
}

func TestCursorIterator_Empty(t *testing.T) {
	src := &pagedRows[int]{}
	it := newCursorIterator[int](src.fetch, 3)

	assert.Empty(t, drain[int](t, it))
	assert.Equal(t, []int{3}, src.requests)
}

func TestCursorIterator_FetchError(t *testing.T) {
	src := &pagedRows[int]{err: errors.New("cursor gone")}
	it := newCursorIterator[int](src.fetch, 2)

	_, _, err := it.Next(context.Background())
	assert.ErrorIs(t, err, src.err)
}

type execCall struct {
	query string
	args  []any
}

type recordingExecer struct {
	calls []execCall
	err   error
}

func (r *recordingExecer) ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error) {
	r.calls = append(r.calls, execCall{query: query, args: args})
	return nil, r.err
}

func (r *recordingExecer) batchSizes(query string) []int {
	var sizes []int
	for _, c := range r.calls {
		if c.query == query {
			sizes = append(sizes, len(*c.args[1].(*pq.StringArray)))
		}
	}
	return sizes
}

func TestBatchWriter_FlushesAtBatchSize(t *testing.T) {
	ctx := context.Background()
	tx := &recordingExecer{}
	w := newBatchWriter(tx, 3, 2)

	for i := range 5 {
		require.NoError(t, w.WriteOrphan(ctx, reports.Orphan{KeyPath: fmt.Sprintf("o%d", i)}))
	}
	require.NoError(t, w.WritePhantom(ctx, reports.Phantom{KeyPath: "p"}))
	assert.Equal(t, []int{2, 2}, tx.batchSizes(insertOrphanSQL))
	assert.Empty(t, tx.batchSizes(insertPhantomSQL))

	require.NoError(t, w.Flush(ctx))
	assert.Equal(t, []int{2, 2, 1}, tx.batchSizes(insertOrphanSQL))
	assert.Equal(t, []int{1}, tx.batchSizes(insertPhantomSQL))
	assert.Empty(t, tx.batchSizes(insertMismatchSQL))

	require.NoError(t, w.Flush(ctx))
	assert.Len(t, tx.calls, 4, "flushing an empty writer inserts nothing")

	last := tx.calls[3]
	assert.Equal(t, insertOrphanSQL, last.query)
	assert.Equal(t, int64(3), last.args[0])
	assert.Equal(t, pq.Array([]string{"o4"}), last.args[1])
}

func TestBatchWriter_InsertError(t *testing.T) {
	tx := &recordingExecer{err: errors.New("deadlock detected")}
	w := newBatchWriter(tx, 3, 1)

	err := w.WriteMismatch(context.Background(), reports.Mismatch{KeyPath: "m"})
	assert.ErrorIs(t, err, tx.err)
}

func TestCompare_SmallFetchAndBatchSizes(t *testing.T) {
	var catalog []CatalogFile
	var stored []StoredObject
	for i := range 7 {
		key := fmt.Sprintf("key/%02d", i)
		if i != 3 {
			catalog = append(catalog, catalogFile(key, "e", 10))
		}
		if i != 5 {
			stored = append(stored, storedObject(key, "e", 10))
		}
	}
	stored = append(stored, storedObject("key/99", "e", 10))

	catalogSrc := &pagedRows[CatalogFile]{rows: catalog}
	storedSrc := &pagedRows[StoredObject]{rows: stored}
	tx := &recordingExecer{}
	w := newBatchWriter(tx, 8, 1)

	counts, err := Compare(context.Background(), 8,
		newCursorIterator[CatalogFile](catalogSrc.fetch, 2),
		newCursorIterator[StoredObject](storedSrc.fetch, 2),
		w)
	require.NoError(t, err)
	require.NoError(t, w.Flush(context.Background()))

	assert.Equal(t, Counts{Phantoms: 1, Orphans: 2}, counts)
	assert.Equal(t, []int{1}, tx.batchSizes(insertPhantomSQL))
	assert.Equal(t, []int{1, 1}, tx.batchSizes(insertOrphanSQL))
	assert.Len(t, catalogSrc.requests, 4)
	assert.Len(t, storedSrc.requests, 4)
}
