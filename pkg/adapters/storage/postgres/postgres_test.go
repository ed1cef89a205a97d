package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"testing"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/aescanero/tickgraph/pkg/domain"
)

type row struct {
	data []byte
	err  error
}

func (r row) Scan(dest ...any) error {
	if r.err != nil {
		return r.err
	}
	*(dest[0].(*[]byte)) = r.data
	return nil
}

type fakeDB struct {
	execSQL  []string
	execArgs [][]any
	rows     map[string][]byte
	execErr  error
}

func (f *fakeDB) Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error) {
	f.execSQL = append(f.execSQL, sql)
	f.execArgs = append(f.execArgs, args)
	if f.execErr != nil {
		return pgconn.CommandTag{}, f.execErr
	}
	if len(args) >= 4 {
		f.rows[args[0].(string)] = args[3].([]byte)
	}
	return pgconn.NewCommandTag("INSERT 0 1"), nil
}

func (f *fakeDB) Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error) {
	return nil, errors.New("not supported")
}

func (f *fakeDB) QueryRow(ctx context.Context, sql string, args ...any) pgx.Row {
	data, ok := f.rows[args[0].(string)]
	if !ok {
		return row{err: pgx.ErrNoRows}
	}
	return row{data: data}
}

func TestSaveAndGetState(t *testing.T) {
	db := &fakeDB{rows: map[string][]byte{}}
	s := NewStateStorage(db, zap.NewNop())
	ctx := context.Background()

	state := &domain.RunState{RunID: "run-1", Graph: "echo", Status: domain.ExecutionStatusCompleted, Results: []any{"x"}}
	require.NoError(t, s.SaveState(ctx, state))

	require.Len(t, db.execArgs, 1)
	assert.Equal(t, "echo", db.execArgs[0][1])
	assert.Equal(t, "completed", db.execArgs[0][2])
	assert.True(t, json.Valid(db.execArgs[0][3].([]byte)))

	got, err := s.GetState(ctx, "run-1")
	require.NoError(t, err)
	assert.Equal(t, []any{"x"}, got.Results)
}

func TestGetMissingState(t *testing.T) {
	s := NewStateStorage(&fakeDB{rows: map[string][]byte{}}, zap.NewNop())

	_, err := s.GetState(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrRunNotFound)
}

func TestEnsureSchemaWrapsErrors(t *testing.T) {
	db := &fakeDB{rows: map[string][]byte{}, execErr: errors.New("permission denied")}
	s := NewStateStorage(db, zap.NewNop())

	err := s.EnsureSchema(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to create schema")
	assert.Contains(t, db.execSQL[0], "CREATE TABLE IF NOT EXISTS tickgraph_runs")
}

func TestListStatesPropagatesQueryErrors(t *testing.T) {
	s := NewStateStorage(&fakeDB{rows: map[string][]byte{}}, zap.NewNop())

	_, err := s.ListStates(context.Background())
	assert.Error(t, err)
}

func TestNewPoolRejectsBadDSN(t *testing.T) {
	_, err := NewPool(context.Background(), "://not a dsn", 0)
	assert.Error(t, err)
}
