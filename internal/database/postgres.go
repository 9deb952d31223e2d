package database

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

func ConnectDB(ctx context.Context, connStr string) (*pgxpool.Pool, error) {
	dbpool, err := pgxpool.New(ctx, connStr)
	if err != nil {
		return nil, fmt.Errorf("unable to connect to database: %w", err)
	}
	if err := dbpool.Ping(ctx); err != nil {
		dbpool.Close()
		return nil, fmt.Errorf("unable to reach database: %w", err)
	}
	return dbpool, nil
}

type PostgresDBManager struct {
	db Queryer
}

var _ DBManager = (*PostgresDBManager)(nil)

func NewPostgresDBManager(db Queryer) *PostgresDBManager {
	return &PostgresDBManager{db: db}
}

// CreateTables creates the submitted id set and the run ledger.
func (m *PostgresDBManager) CreateTables(ctx context.Context) error {
	statements := []string{`
	CREATE TABLE IF NOT EXISTS submitted_licitaciones (
		licitacion_id VARCHAR(255) PRIMARY KEY,
		created_at TIMESTAMP NOT NULL DEFAULT NOW()
	);`, `
	CREATE TABLE IF NOT EXISTS ingested_files (
		id SERIAL PRIMARY KEY,
		file_name VARCHAR(255) NOT NULL,
		processed_at TIMESTAMP NOT NULL,
		status VARCHAR(50) NOT NULL CHECK (status IN ('processed', 'error')),
		checksum VARCHAR(64),
		total INTEGER NOT NULL DEFAULT 0,
		success_count INTEGER NOT NULL DEFAULT 0,
		failed_count INTEGER NOT NULL DEFAULT 0,
		errors jsonb NOT NULL DEFAULT '[]'
	);`, `
	CREATE INDEX IF NOT EXISTS idx_ingested_files_processed_at ON ingested_files (processed_at DESC);`,
	}

	for _, query := range statements {
		if _, err := m.db.Exec(ctx, query); err != nil {
			return fmt.Errorf("error creating tables: %w", err)
		}
	}
	return nil
}

// RecordRun appends one row to the ingested_files ledger.
func (m *PostgresDBManager) RecordRun(ctx context.Context, run models.FileRun) error {
	runErrors := run.Errors
	if runErrors == nil {
		runErrors = []string{}
	}
	encoded, err := json.Marshal(runErrors)
	if err != nil {
		return fmt.Errorf("error encoding run errors: %w", err)
	}

	query := `
	INSERT INTO ingested_files (file_name, processed_at, status, checksum, total, success_count, failed_count, errors)
	VALUES ($1, $2, $3, $4, $5, $6, $7, $8);`

	_, err = m.db.Exec(ctx, query,
		run.FileName, run.ProcessedAt, string(run.Status), run.Checksum,
		run.Total, run.SuccessCount, run.FailedCount, encoded)
	if err != nil {
		return fmt.Errorf("error inserting ingested file record: %w", err)
	}
	return nil
}

// RecentRuns returns the latest ledger rows, newest first.
func (m *PostgresDBManager) RecentRuns(ctx context.Context, limit int) ([]models.FileRun, error) {
	if limit <= 0 {
		limit = 20
	}

	query := `
	SELECT file_name, processed_at, status, COALESCE(checksum, ''), total, success_count, failed_count, errors
	FROM ingested_files
	ORDER BY processed_at DESC, id DESC
	LIMIT $1;`

	rows, err := m.db.Query(ctx, query, limit)
	if err != nil {
		return nil, fmt.Errorf("error querying ingested files: %w", err)
	}
	defer rows.Close()

	runs := []models.FileRun{}
	for rows.Next() {
		var (
			run         models.FileRun
			status      string
			processedAt time.Time
			rawErrors   []byte
		)
		if err := rows.Scan(&run.FileName, &processedAt, &status, &run.Checksum,
			&run.Total, &run.SuccessCount, &run.FailedCount, &rawErrors); err != nil {
			return nil, fmt.Errorf("error scanning ingested file: %w", err)
		}
		run.ProcessedAt = processedAt
		run.Status = models.RunStatus(status)
		if len(rawErrors) > 0 {
			if err := json.Unmarshal(rawErrors, &run.Errors); err != nil {
				return nil, fmt.Errorf("error decoding run errors: %w", err)
			}
		}
		runs = append(runs, run)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("error iterating over ingested files: %w", err)
	}
	return runs, nil
}

// IsSubmitted reports whether id is in the submitted set.
func (m *PostgresDBManager) IsSubmitted(ctx context.Context, id string) (bool, error) {
	query := `SELECT EXISTS (SELECT 1 FROM submitted_licitaciones WHERE licitacion_id = $1);`

	var exists bool
	if err := m.db.QueryRow(ctx, query, id).Scan(&exists); err != nil {
		return false, fmt.Errorf("error checking submitted licitacion: %w", err)
	}
	return exists, nil
}
