// Package reconcile compares an inventory staged for a job against the
// catalog and writes the mismatch, phantom and orphan reports.
package reconcile

import (
	"context"
	"strings"

	"orca/internal/reports"
)

const (
	DiscrepancyEtag         = "etag"
	DiscrepancySize         = "size_in_bytes"
	DiscrepancyStorageClass = "storage_class"
	DiscrepancyLastUpdate   = "last_update"
)

// CatalogFile is a file the catalog believes is archived. LastUpdate is epoch
// milliseconds, UTC.
type CatalogFile struct {
	CollectionID string
	GranuleID    string
	Filename     string
	KeyPath      string
	Etag         string
	SizeInBytes  int64
	StorageClass string
	LastUpdate   int64
}

// StoredObject is an object the inventory reports.
type StoredObject struct {
	KeyPath      string
	Etag         string
	SizeInBytes  int64
	StorageClass string
	LastUpdate   int64
}

// Iterator yields rows in ascending byte order of their key path. ok is
// false once the rows are exhausted.
type Iterator[T any] interface {
	Next(ctx context.Context) (row T, ok bool, err error)
}

type ReportWriter interface {
	WriteMismatch(ctx context.Context, m reports.Mismatch) error
	WritePhantom(ctx context.Context, p reports.Phantom) error
	WriteOrphan(ctx context.Context, o reports.Orphan) error
}

type Counts struct {
	Mismatches int
	Phantoms   int
	Orphans    int
}

func (c Counts) Total() int {
	return c.Mismatches + c.Phantoms + c.Orphans
}

// Discrepancies lists the attributes on which the catalog and the inventory
// disagree, joined by ", ". It is empty when they agree.
func Discrepancies(c CatalogFile, s StoredObject) string {
	var fields []string
	if normalizeEtag(c.Etag) != normalizeEtag(s.Etag) {
		fields = append(fields, DiscrepancyEtag)
	}
	if c.SizeInBytes != s.SizeInBytes {
		fields = append(fields, DiscrepancySize)
	}
	if !strings.EqualFold(c.StorageClass, s.StorageClass) {
		fields = append(fields, DiscrepancyStorageClass)
	}
	if c.LastUpdate != s.LastUpdate {
		fields = append(fields, DiscrepancyLastUpdate)
	}
	return strings.Join(fields, ", ")
}

// S3 reports etags unquoted in inventories and quoted in API responses.
func normalizeEtag(etag string) string {
	return strings.Trim(etag, `"`)
}

// Compare merge-joins the catalog and inventory streams on key path. A key in
// both with differing attributes is a mismatch, a key only in the catalog is
// a phantom and a key only in the inventory is an orphan. Every catalog file
// sharing a key is compared against the first inventory object for it.
func Compare(ctx context.Context, jobID int64, catalog Iterator[CatalogFile], stored Iterator[StoredObject], w ReportWriter) (Counts, error) {
	var counts Counts

	cat, catOK, err := catalog.Next(ctx)
	if err != nil {
		return counts, err
	}
	obj, objOK, err := stored.Next(ctx)
	if err != nil {
		return counts, err
	}

	for catOK || objOK {
		switch {
		case catOK && (!objOK || cat.KeyPath < obj.KeyPath):
			if err := w.WritePhantom(ctx, phantom(jobID, cat)); err != nil {
				return counts, err
			}
			counts.Phantoms++
			if cat, catOK, err = catalog.Next(ctx); err != nil {
				return counts, err
			}

		case objOK && (!catOK || obj.KeyPath < cat.KeyPath):
			if err := w.WriteOrphan(ctx, orphan(jobID, obj)); err != nil {
				return counts, err
			}
			counts.Orphans++
			if obj, objOK, err = stored.Next(ctx); err != nil {
				return counts, err
			}

		default:
			key := cat.KeyPath
			for catOK && cat.KeyPath == key {
				if d := Discrepancies(cat, obj); d != "" {
					if err := w.WriteMismatch(ctx, mismatch(jobID, cat, obj, d)); err != nil {
						return counts, err
					}
					counts.Mismatches++
				}
				if cat, catOK, err = catalog.Next(ctx); err != nil {
					return counts, err
				}
			}
			for objOK && obj.KeyPath == key {
				if obj, objOK, err = stored.Next(ctx); err != nil {
					return counts, err
				}
			}
		}
	}

	return counts, nil
}

func mismatch(jobID int64, c CatalogFile, s StoredObject, discrepancy string) reports.Mismatch {
	return reports.Mismatch{
		JobID:            jobID,
		CollectionID:     c.CollectionID,
		GranuleID:        c.GranuleID,
		Filename:         c.Filename,
		KeyPath:          c.KeyPath,
		OrcaEtag:         c.Etag,
		S3Etag:           s.Etag,
		OrcaLastUpdate:   c.LastUpdate,
		S3LastUpdate:     s.LastUpdate,
		OrcaSizeInBytes:  c.SizeInBytes,
		S3SizeInBytes:    s.SizeInBytes,
		OrcaStorageClass: c.StorageClass,
		S3StorageClass:   s.StorageClass,
		DiscrepancyType:  discrepancy,
	}
}

func phantom(jobID int64, c CatalogFile) reports.Phantom {
	return reports.Phantom{
		JobID:            jobID,
		CollectionID:     c.CollectionID,
		GranuleID:        c.GranuleID,
		Filename:         c.Filename,
		KeyPath:          c.KeyPath,
		OrcaEtag:         c.Etag,
		OrcaLastUpdate:   c.LastUpdate,
		OrcaSizeInBytes:  c.SizeInBytes,
		OrcaStorageClass: c.StorageClass,
	}
}

func orphan(jobID int64, s StoredObject) reports.Orphan {
	return reports.Orphan{
		JobID:        jobID,
		KeyPath:      s.KeyPath,
		Etag:         s.Etag,
		LastUpdate:   s.LastUpdate,
		SizeInBytes:  s.SizeInBytes,
		StorageClass: s.StorageClass,
	}
}

// SliceIterator iterates over rows already in memory.
type SliceIterator[T any] struct {
	rows []T
	pos  int
}

func NewSliceIterator[T any](rows []T) *SliceIterator[T] {
	return &SliceIterator[T]{rows: rows}
}

func (s *SliceIterator[T]) Next(ctx context.Context) (T, bool, error) {
	var zero T
	if err := ctx.Err(); err != nil {
		return zero, false, err
	}
	if s.pos >= len(s.rows) {
		return zero, false, nil
	}
	row := s.rows[s.pos]
	s.pos++
	return row, true, nil
}
