// Package reports serves the reconciliation reports of a job one page at a
// time, with stateless keyset cursors.
package reports

import (
	"context"
	"math"
	"slices"

	"github.com/go-playground/validator/v10"
	"github.com/rs/zerolog"

	"orca/internal/retry"
)

type Direction string

const (
	Next     Direction = "next"
	Previous Direction = "previous"

	MaxLimit        = 10000
	OrphansPageSize = 100

	// MaxOrphanPageIndex keeps the row offset of an indexed page within int32.
	MaxOrphanPageIndex = math.MaxInt32/OrphansPageSize - 1
)

var validate = validator.New()

// PageRequest is the input of the mismatch, phantom and orphan page reads.
// An empty Cursor starts at the first page, or the last for Previous.
type PageRequest struct {
	JobID     int64     `json:"jobId"`
	Cursor    string    `json:"cursor"`
	Direction Direction `json:"direction"`
	Limit     int       `json:"limit"`
}

func (r *PageRequest) Validate() error {
	if r.Direction == "" {
		r.Direction = Next
	}
	if r.Direction != Next && r.Direction != Previous {
		return ErrorInvalidDirection(string(r.Direction))
	}
	if r.JobID <= 0 {
		return ErrorInvalidJobID(r.JobID)
	}
	if err := validate.Var(r.Limit, "gt=0,lte=10000"); err != nil {
		return ErrorInvalidLimit(r.Limit)
	}
	return nil
}

// KeysetQuery asks a store for up to Limit rows of one job strictly after
// (Next) or before (Previous) After, in that direction's order. A nil After
// starts at the corresponding end.
type KeysetQuery struct {
	JobID     int64
	After     []string
	Direction Direction
	Limit     int
}

type Store interface {
	MismatchRows(ctx context.Context, q KeysetQuery) ([]Mismatch, error)
	PhantomRows(ctx context.Context, q KeysetQuery) ([]Phantom, error)
	OrphanRows(ctx context.Context, q KeysetQuery) ([]Orphan, error)
	OrphanRowsByOffset(ctx context.Context, jobID int64, offset, limit int) ([]Orphan, error)
}

type Reader struct {
	store  Store
	retry  retry.Policy
	logger zerolog.Logger
}

func NewReader(store Store, policy retry.Policy, logger zerolog.Logger) *Reader {
	return &Reader{store: store, retry: policy, logger: logger}
}

func (r *Reader) GetMismatchPage(ctx context.Context, req PageRequest) (Page[Mismatch], error) {
	return readPage(ctx, r, req, "mismatch", granuleKeyFields, r.store.MismatchRows)
}

func (r *Reader) GetPhantomPage(ctx context.Context, req PageRequest) (Page[Phantom], error) {
	return readPage(ctx, r, req, "phantom", granuleKeyFields, r.store.PhantomRows)
}

// GetOrphanPage is the cursor form of the orphan report read.
func (r *Reader) GetOrphanPage(ctx context.Context, req PageRequest) (OrphanPage, error) {
	page, err := readPage(ctx, r, req, "orphan", orphanKeyFields, r.store.OrphanRows)
	if err != nil {
		return OrphanPage{}, err
	}
	return OrphanPage{
		JobID:       req.JobID,
		Orphans:     page.Items,
		AnotherPage: page.AnotherPage,
		StartCursor: page.StartCursor,
		EndCursor:   page.EndCursor,
	}, nil
}

// GetOrphansByIndex reads fixed-size orphan pages by zero-based index.
func (r *Reader) GetOrphansByIndex(ctx context.Context, jobID int64, pageIndex int) (OrphanPage, error) {
	if jobID <= 0 {
		return OrphanPage{}, ErrorInvalidJobID(jobID)
	}
	if pageIndex < 0 || pageIndex > MaxOrphanPageIndex {
		return OrphanPage{}, ErrorInvalidPageIndex(pageIndex)
	}

	rows, err := retry.DoWithData(ctx, r.retry, "read orphan report", func(ctx context.Context) ([]Orphan, error) {
		return r.store.OrphanRowsByOffset(ctx, jobID, pageIndex*OrphansPageSize, OrphansPageSize+1)
	})
	if err != nil {
		return OrphanPage{}, err
	}

	another := len(rows) > OrphansPageSize
	if another {
		rows = rows[:OrphansPageSize]
	}
	if rows == nil {
		rows = []Orphan{}
	}

	r.logger.Debug().Int64("jobId", jobID).Int("pageIndex", pageIndex).Int("rows", len(rows)).Msg("Read orphan page")
	return OrphanPage{JobID: jobID, Orphans: rows, AnotherPage: another}, nil
}

type sortKeyer interface {
	SortKey() []string
}

func readPage[T sortKeyer](
	ctx context.Context,
	r *Reader,
	req PageRequest,
	report string,
	keyFields []string,
	fetch func(context.Context, KeysetQuery) ([]T, error),
) (Page[T], error) {
	if err := req.Validate(); err != nil {
		return Page[T]{}, err
	}

	q := KeysetQuery{JobID: req.JobID, Direction: req.Direction, Limit: req.Limit + 1}
	if req.Cursor != "" {
		cursor, err := DecodeCursor(req.Cursor)
		if err != nil {
			return Page[T]{}, err
		}
		if q.After, err = cursor.Strings(keyFields...); err != nil {
			return Page[T]{}, err
		}
	}

	rows, err := retry.DoWithData(ctx, r.retry, "read "+report+" report", func(ctx context.Context) ([]T, error) {
		return fetch(ctx, q)
	})
	if err != nil {
		return Page[T]{}, err
	}

	page := Page[T]{Items: rows}
	if len(rows) > req.Limit {
		page.AnotherPage = true
		page.Items = rows[:req.Limit]
	}
	if req.Direction == Previous {
		slices.Reverse(page.Items)
	}
	if page.Items == nil {
		page.Items = []T{}
	}

	if n := len(page.Items); n > 0 {
		if page.StartCursor, err = cursorFor(keyFields, page.Items[0]); err != nil {
			return Page[T]{}, err
		}
		if page.EndCursor, err = cursorFor(keyFields, page.Items[n-1]); err != nil {
			return Page[T]{}, err
		}
	}

	r.logger.Debug().
		Str("report", report).
		Int64("jobId", req.JobID).
		Str("direction", string(req.Direction)).
		Int("rows", len(page.Items)).
		Bool("anotherPage", page.AnotherPage).
		Msg("Read report page")
	return page, nil
}

func cursorFor(keyFields []string, row sortKeyer) (*string, error) {
	values := row.SortKey()
	cursor := make(Cursor, len(keyFields))
	for i, name := range keyFields {
		cursor[i] = CursorField{Name: name, Value: values[i]}
	}
	encoded, err := cursor.Encode()
	if err != nil {
		return nil, err
	}
	return &encoded, nil
}
