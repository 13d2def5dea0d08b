package jobs

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/lib/pq"
	"github.com/rs/zerolog"

	"orca/internal/db"
	"orca/internal/inventory"
	"orca/internal/status"
)

const stagingTablePrefix = "reconcile_s3_object_"

// staging columns that are not text
var stagingColumnTypes = map[string]string{
	"is_latest":                     "boolean",
	"is_delete_marker":              "boolean",
	"is_multipart_uploaded":         "boolean",
	"size_in_bytes":                 "bigint",
	"last_update":                   "timestamptz",
	"object_lock_retain_until_date": "timestamptz",
}

// StagingTableName is the unquoted name of the job's staging table.
func StagingTableName(jobID int64) string {
	return fmt.Sprintf("%s%d", stagingTablePrefix, jobID)
}

type PostgresStore struct {
	db     *sql.DB
	logger zerolog.Logger
}

func NewPostgresStore(sqlDB *sql.DB, logger zerolog.Logger) *PostgresStore {
	return &PostgresStore{db: sqlDB, logger: logger}
}

func (s *PostgresStore) InsertJob(ctx context.Context, reportSource string, inventoryCreationTime time.Time, st status.OrcaStatus, now time.Time) (int64, error) {
	var id int64
	err := s.db.QueryRowContext(ctx, `
		INSERT INTO reconcile_job
			(orca_archive_location, inventory_creation_time, status_id, start_time, last_update, end_time, error_message)
		VALUES ($1, $2, $3, $4, $4, NULL, NULL)
		RETURNING id`,
		reportSource, inventoryCreationTime, int(st), now,
	).Scan(&id)
	if err != nil {
		return 0, fmt.Errorf("failed to insert reconcile_job: %w", err)
	}
	return id, nil
}

func (s *PostgresStore) UpdateJob(ctx context.Context, id int64, update JobUpdate) error {
	result, err := s.db.ExecContext(ctx, `
		UPDATE reconcile_job
		SET status_id = $2, last_update = $3, end_time = $4, error_message = $5
		WHERE id = $1`,
		id, int(update.Status), update.LastUpdate, nullTime(update.EndTime), nullString(update.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("failed to update reconcile_job %d: %w", id, err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrorJobNotFound(id)
	}
	return nil
}

func (s *PostgresStore) GetJob(ctx context.Context, id int64) (Job, error) {
	var (
		job          Job
		statusID     int
		endTime      sql.NullTime
		errorMessage sql.NullString
	)
	err := s.db.QueryRowContext(ctx, `
		SELECT id, orca_archive_location, inventory_creation_time, status_id,
		       start_time, last_update, end_time, error_message
		FROM reconcile_job
		WHERE id = $1`, id,
	).Scan(&job.ID, &job.ReportSource, &job.InventoryCreationTime, &statusID,
		&job.StartTime, &job.LastUpdate, &endTime, &errorMessage)
	if errors.Is(err, sql.ErrNoRows) {
		return Job{}, ErrorJobNotFound(id)
	}
	if err != nil {
		return Job{}, fmt.Errorf("failed to read reconcile_job %d: %w", id, err)
	}

	job.Status = status.OrcaStatus(statusID)
	if endTime.Valid {
		t := endTime.Time.UTC()
		job.EndTime = &t
	}
	if errorMessage.Valid {
		job.ErrorMessage = &errorMessage.String
	}
	return job, nil
}

// StageInventory creates the job's staging table and fills it from every
// part file with aws_s3.table_import_from_s3, all in one transaction.
func (s *PostgresStore) StageInventory(ctx context.Context, imp StagingImport) error {
	table := StagingTableName(imp.JobID)

	return db.WithTx(ctx, s.db, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(table)); err != nil {
			return fmt.Errorf("failed to drop stale staging table: %w", err)
		}
		if _, err := tx.ExecContext(ctx, CreateStagingTableSQL(table)); err != nil {
			return fmt.Errorf("failed to create staging table: %w", err)
		}

		columnList := strings.Join(imp.Columns, ",")
		options := ImportOptions(imp.Columns)
		for _, part := range imp.Parts {
			_, err := tx.ExecContext(ctx,
				`SELECT aws_s3.table_import_from_s3($1, $2, $3, $4, $5, $6)`,
				table, columnList, options, part.Bucket, part.Key, imp.Region,
			)
			if err != nil {
				return fmt.Errorf("failed to import %s: %w", part.URI(), err)
			}
			s.logger.Debug().Str("table", table).Str("part", part.URI()).Msg("Imported inventory part")
		}

		if _, err := tx.ExecContext(ctx, fmt.Sprintf(`CREATE INDEX ON %s (key COLLATE "C")`, pq.QuoteIdentifier(table))); err != nil {
			return fmt.Errorf("failed to index staging table: %w", err)
		}
		return nil
	})
}

// DropStagingTable removes the job's staging table once reports exist.
func (s *PostgresStore) DropStagingTable(ctx context.Context, jobID int64) error {
	_, err := s.db.ExecContext(ctx, "DROP TABLE IF EXISTS "+pq.QuoteIdentifier(StagingTableName(jobID)))
	return err
}

// CreateStagingTableSQL declares every known inventory column, so queries can
// reference optional columns the manifest did not include.
func CreateStagingTableSQL(table string) string {
	columns := inventory.AllStagingColumns()
	defs := make([]string, 0, len(columns))
	for _, c := range columns {
		typ, ok := stagingColumnTypes[c]
		if !ok {
			typ = "text"
		}
		defs = append(defs, pq.QuoteIdentifier(c)+" "+typ)
	}
	return fmt.Sprintf("CREATE TABLE %s (%s)", pq.QuoteIdentifier(table), strings.Join(defs, ", "))
}

// ImportOptions builds the COPY options for an inventory CSV. S3 inventory
// quotes every field, so empty typed fields must be forced to NULL.
func ImportOptions(columns []string) string {
	var typed []string
	for _, c := range columns {
		if _, ok := stagingColumnTypes[c]; ok {
			typed = append(typed, c)
		}
	}
	if len(typed) == 0 {
		return "(FORMAT csv)"
	}
	return fmt.Sprintf("(FORMAT csv, FORCE_NULL (%s))", strings.Join(typed, ", "))
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func nullString(s *string) sql.NullString {
	if s == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: *s, Valid: true}
}
