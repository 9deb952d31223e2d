package database

import (
	"context"
	"fmt"
	"strings"
	"sync"

	"github.com/jackc/pgx/v5"
	"github.com/sirupsen/logrus"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/dedup"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
)

// PostgresStore is a dedup.Store backed by the submitted_licitaciones table.
// The id set is loaded once and cached; writes go straight to the table.
type PostgresStore struct {
	db     Queryer
	ctx    context.Context
	logger *logrus.Entry

	mu  sync.RWMutex
	ids map[string]struct{}
}

var _ dedup.Store = (*PostgresStore)(nil)

func OpenPostgresStore(ctx context.Context, db Queryer, logger logrus.FieldLogger) (*PostgresStore, error) {
	rows, err := db.Query(ctx, `SELECT licitacion_id FROM submitted_licitaciones;`)
	if err != nil {
		return nil, fmt.Errorf("error loading submitted licitaciones: %w", err)
	}
	ids, err := pgx.CollectRows(rows, pgx.RowTo[string])
	if err != nil {
		return nil, fmt.Errorf("error scanning submitted licitaciones: %w", err)
	}

	s := &PostgresStore{
		db:     db,
		ctx:    ctx,
		logger: logging.ForSession(logger, logging.CategoryDedup, "").WithField("store", "postgres"),
		ids:    make(map[string]struct{}, len(ids)),
	}
	for _, id := range ids {
		s.ids[id] = struct{}{}
	}
	s.logger.WithField("records", len(s.ids)).Info("dedup store loaded")
	return s, nil
}

func (s *PostgresStore) Has(id string) bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	_, ok := s.ids[strings.TrimSpace(id)]
	return ok
}

func (s *PostgresStore) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.ids)
}

func (s *PostgresStore) Add(id string) error {
	return s.AddMany([]string{id})
}

// AddMany inserts the ids not yet known. On a write error the ids stay in the
// cache so the current process still skips them.
func (s *PostgresStore) AddMany(ids []string) error {
	s.mu.Lock()
	fresh := make([]string, 0, len(ids))
	for _, id := range ids {
		id = strings.TrimSpace(id)
		if id == "" {
			continue
		}
		if _, ok := s.ids[id]; ok {
			continue
		}
		s.ids[id] = struct{}{}
		fresh = append(fresh, id)
	}
	s.mu.Unlock()

	if len(fresh) == 0 {
		return nil
	}

	query := `
	INSERT INTO submitted_licitaciones (licitacion_id)
	SELECT UNNEST($1::text[])
	ON CONFLICT (licitacion_id) DO NOTHING;`

	if _, err := s.db.Exec(s.ctx, query, fresh); err != nil {
		s.logger.WithError(err).WithField("ids", len(fresh)).Error("failed to persist submitted ids")
		return fmt.Errorf("error inserting submitted licitaciones: %w", err)
	}
	return nil
}

// Close does nothing; the pool belongs to the caller.
func (s *PostgresStore) Close() error { return nil }
