package database

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"

	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/logging"
	"github.com/ThiagoRGoveia/licitaciones-ingest/internal/models"
)

// MockQueryer is a mock implementation of the Queryer interface.
type MockQueryer struct {
	mock.Mock
}

func (m *MockQueryer) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	called := m.Called(append([]any{sql}, args...)...)
	return called.Get(0).(pgconn.CommandTag), called.Error(1)
}

func (m *MockQueryer) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	called := m.Called(append([]any{sql}, args...)...)
	if called.Get(0) == nil {
		return nil, called.Error(1)
	}
	return called.Get(0).(pgx.Rows), called.Error(1)
}

func (m *MockQueryer) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	called := m.Called(append([]any{sql}, args...)...)
	return called.Get(0).(pgx.Row)
}

// fakeRows replays fixed values through pgx.Rows.
type fakeRows struct {
	values [][]any
	next   int
}

var _ pgx.Rows = &fakeRows{}

func (r *fakeRows) Close()                                       {}
func (r *fakeRows) Err() error                                   { return nil }
func (r *fakeRows) CommandTag() pgconn.CommandTag                { return pgconn.NewCommandTag("SELECT") }
func (r *fakeRows) FieldDescriptions() []pgconn.FieldDescription { return nil }
func (r *fakeRows) Values() ([]any, error)                       { return r.values[r.next-1], nil }
func (r *fakeRows) RawValues() [][]byte                          { return nil }
func (r *fakeRows) Conn() *pgx.Conn                              { return nil }

func (r *fakeRows) Next() bool {
	if r.next >= len(r.values) {
		return false
	}
	r.next++
	return true
}

func (r *fakeRows) Scan(dest ...any) error {
	return assign(r.values[r.next-1], dest)
}

type fakeRow struct {
	values []any
	err    error
}

func (r fakeRow) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	return assign(r.values, dest)
}

func assign(values []any, dest []any) error {
	if len(values) != len(dest) {
		return fmt.Errorf("expected %d destinations, got %d", len(values), len(dest))
	}
	for i, d := range dest {
		switch target := d.(type) {
		case *string:
			*target = values[i].(string)
		case *int:
			*target = values[i].(int)
		case *bool:
			*target = values[i].(bool)
		case *time.Time:
			*target = values[i].(time.Time)
		case *[]byte:
			*target = values[i].([]byte)
		default:
			return fmt.Errorf("unsupported destination %T", d)
		}
	}
	return nil
}

func insertTag() pgconn.CommandTag { return pgconn.NewCommandTag("INSERT 0 1") }

func TestPostgresStore(t *testing.T) {
	t.Run("Expect: loaded ids known and only new ids inserted", func(t *testing.T) {
		db := new(MockQueryer)
		db.On("Query", mock.Anything).Return(&fakeRows{values: [][]any{{"A-1"}, {"A-2"}}}, nil)
		db.On("Exec", mock.Anything, []string{"A-3"}).Return(insertTag(), nil).Once()

		store, err := OpenPostgresStore(context.Background(), db, logging.Discard())
		assert.NoError(t, err)
		assert.Equal(t, 2, store.Len())
		assert.True(t, store.Has("A-1"))

		assert.NoError(t, store.Add("A-1"))
		assert.NoError(t, store.AddMany([]string{" A-3 ", "A-2", ""}))

		assert.True(t, store.Has("A-3"))
		assert.Equal(t, 3, store.Len())
		db.AssertNumberOfCalls(t, "Exec", 1)
	})

	t.Run("Expect: write error returned and id kept in memory", func(t *testing.T) {
		db := new(MockQueryer)
		db.On("Query", mock.Anything).Return(&fakeRows{}, nil)
		db.On("Exec", mock.Anything, []string{"B-1"}).Return(pgconn.CommandTag{}, errors.New("connection reset"))

		store, err := OpenPostgresStore(context.Background(), db, logging.Discard())
		assert.NoError(t, err)

		assert.Error(t, store.Add("B-1"))
		assert.True(t, store.Has("B-1"))
	})

	t.Run("Expect: load failure surfaces", func(t *testing.T) {
		db := new(MockQueryer)
		db.On("Query", mock.Anything).Return(nil, errors.New("relation does not exist"))

		_, err := OpenPostgresStore(context.Background(), db, logging.Discard())

		assert.Error(t, err)
	})
}

func TestPostgresDBManager_RecordRun(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)

	t.Run("Expect: errors encoded as a JSON array", func(t *testing.T) {
		db := new(MockQueryer)
		db.On("Exec", mock.Anything, "listado.xlsx", at, "processed", "abc", 3, 2, 1, []byte(`["row 4: invalid"]`)).Return(insertTag(), nil)

		err := NewPostgresDBManager(db).RecordRun(context.Background(), models.FileRun{
			FileName: "listado.xlsx", ProcessedAt: at, Status: models.RunStatusProcessed, Checksum: "abc",
			Total: 3, SuccessCount: 2, FailedCount: 1, Errors: []string{"row 4: invalid"},
		})

		assert.NoError(t, err)
		db.AssertExpectations(t)
	})

	t.Run("Expect: nil errors stored as an empty array", func(t *testing.T) {
		db := new(MockQueryer)
		db.On("Exec", mock.Anything, "vacio.xlsx", at, "error", "", 0, 0, 0, []byte(`[]`)).Return(insertTag(), nil)

		err := NewPostgresDBManager(db).RecordRun(context.Background(), models.FileRun{FileName: "vacio.xlsx", ProcessedAt: at, Status: models.RunStatusError})

		assert.NoError(t, err)
		db.AssertExpectations(t)
	})
}

func TestPostgresDBManager_RecentRuns(t *testing.T) {
	at := time.Date(2024, 3, 15, 10, 0, 0, 0, time.UTC)
	db := new(MockQueryer)
	db.On("Query", mock.Anything, 5).Return(&fakeRows{values: [][]any{
		{"b.xlsx", at, "error", "", 0, 0, 0, []byte(`["sheet has no data rows"]`)},
		{"a.xlsx", at.Add(-time.Hour), "processed", "ff", 2, 2, 0, []byte(`[]`)},
	}}, nil)

	runs, err := NewPostgresDBManager(db).RecentRuns(context.Background(), 5)

	assert.NoError(t, err)
	assert.Len(t, runs, 2)
	assert.Equal(t, models.RunStatusError, runs[0].Status)
	assert.Equal(t, []string{"sheet has no data rows"}, runs[0].Errors)
	assert.Equal(t, 2, runs[1].SuccessCount)
	assert.Empty(t, runs[1].Errors)
}

func TestPostgresDBManager_IsSubmitted(t *testing.T) {
	db := new(MockQueryer)
	db.On("QueryRow", mock.Anything, "A-1").Return(fakeRow{values: []any{true}})
	db.On("QueryRow", mock.Anything, "broken").Return(fakeRow{err: errors.New("timeout")})
	manager := NewPostgresDBManager(db)

	submitted, err := manager.IsSubmitted(context.Background(), "A-1")
	assert.NoError(t, err)
	assert.True(t, submitted)

	_, err = manager.IsSubmitted(context.Background(), "broken")
	assert.Error(t, err)
}

func TestPostgresDBManager_CreateTables(t *testing.T) {
	db := new(MockQueryer)
	db.On("Exec", mock.Anything).Return(pgconn.NewCommandTag("CREATE TABLE"), nil)

	assert.NoError(t, NewPostgresDBManager(db).CreateTables(context.Background()))
	db.AssertNumberOfCalls(t, "Exec", 3)
}
