package database

import (
	"context"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

// Queryer is the subset of *pgxpool.Pool used by this package.
type Queryer interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type DBManager interface {
	CreateTables(ctx context.Context) error
	RecordRun(ctx context.Context, run models.FileRun) error
	RecentRuns(ctx context.Context, limit int) ([]models.FileRun, error)
	IsSubmitted(ctx context.Context, id string) (bool, error)
}
