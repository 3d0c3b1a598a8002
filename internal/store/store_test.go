package store

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"regexp"
	"testing"

	"github.com/pashagolub/pgxmock/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func newFileStore(t *testing.T) *FileStore {
	t.Helper()
	st, err := NewFileStore(t.TempDir(), zaptest.NewLogger(t))
	require.NoError(t, err)
	return st
}

func TestFileStore(t *testing.T) {
	ctx := context.Background()

	t.Run("round trips a record", func(t *testing.T) {
		st := newFileStore(t)
		require.NoError(t, st.Put(ctx, "network/state", []byte(`{"ip":"192.0.2.1"}`)))

		raw, err := st.Get(ctx, "network/state")
		require.NoError(t, err)
		assert.JSONEq(t, `{"ip":"192.0.2.1"}`, string(raw))
	})

	t.Run("missing key is ErrNotFound", func(t *testing.T) {
		st := newFileStore(t)
		_, err := st.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put replaces the whole record", func(t *testing.T) {
		st := newFileStore(t)
		require.NoError(t, st.Put(ctx, "k", []byte(`{"a":1,"b":2}`)))
		require.NoError(t, st.Put(ctx, "k", []byte(`{"a":3}`)))

		raw, err := st.Get(ctx, "k")
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":3}`, string(raw))
	})

	t.Run("delete is idempotent", func(t *testing.T) {
		st := newFileStore(t)
		require.NoError(t, st.Put(ctx, "k", []byte(`1`)))
		require.NoError(t, st.Delete(ctx, "k"))
		require.NoError(t, st.Delete(ctx, "k"))
		_, err := st.Get(ctx, "k")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("list filters by prefix and sorts", func(t *testing.T) {
		st := newFileStore(t)
		require.NoError(t, st.Put(ctx, "sessions/bob/svc", []byte(`1`)))
		require.NoError(t, st.Put(ctx, "sessions/alice/svc", []byte(`1`)))
		require.NoError(t, st.Put(ctx, "attempts/alice", []byte(`1`)))

		keys, err := st.List(ctx, "sessions/")
		require.NoError(t, err)
		assert.Equal(t, []string{"sessions/alice/svc", "sessions/bob/svc"}, keys)
	})

	t.Run("no stray temp files survive a write", func(t *testing.T) {
		dir := t.TempDir()
		st, err := NewFileStore(dir, zaptest.NewLogger(t))
		require.NoError(t, err)
		require.NoError(t, st.Put(ctx, "a/b", []byte(`1`)))

		var tmps []string
		err = filepath.WalkDir(dir, func(path string, d os.DirEntry, err error) error {
			if err != nil {
				return err
			}
			if !d.IsDir() && regexp.MustCompile(`^\.tmp-`).MatchString(d.Name()) {
				tmps = append(tmps, path)
			}
			return nil
		})
		require.NoError(t, err)
		assert.Empty(t, tmps)
	})
}

func TestJSONHelpers(t *testing.T) {
	ctx := context.Background()

	type record struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}

	t.Run("put and get JSON", func(t *testing.T) {
		st := newFileStore(t)
		in := record{Name: "alice", Count: 3}
		require.NoError(t, PutJSON(ctx, st, "r", &in))

		var out record
		require.NoError(t, GetJSON(ctx, st, "r", &out))
		assert.Equal(t, in, out)
	})

	t.Run("corrupt record is reported as such", func(t *testing.T) {
		st := newFileStore(t)
		require.NoError(t, st.Put(ctx, "r", []byte(`{broken`)))

		var out record
		err := GetJSON(ctx, st, "r", &out)
		require.Error(t, err)
		assert.Contains(t, err.Error(), "corrupt record")
	})
}

func TestPostgresStore(t *testing.T) {
	ctx := context.Background()

	newMockStore := func(t *testing.T) (*PostgresStore, pgxmock.PgxPoolIface) {
		t.Helper()
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		t.Cleanup(mockPool.Close)

		mockPool.ExpectPing()
		st, err := NewPostgresStore(ctx, mockPool, zaptest.NewLogger(t))
		require.NoError(t, err)
		return st, mockPool
	}

	t.Run("ping failure propagates", func(t *testing.T) {
		mockPool, err := pgxmock.NewPool(pgxmock.MonitorPingsOption(true))
		require.NoError(t, err)
		defer mockPool.Close()

		pingErr := errors.New("database unavailable")
		mockPool.ExpectPing().WillReturnError(pingErr)

		_, err = NewPostgresStore(ctx, mockPool, zaptest.NewLogger(t))
		require.Error(t, err)
		assert.ErrorIs(t, err, pingErr)
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get returns the stored value", func(t *testing.T) {
		st, mockPool := newMockStore(t)

		rows := pgxmock.NewRows([]string{"value"}).AddRow([]byte(`{"ip":"192.0.2.1"}`))
		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_records WHERE key = $1`)).
			WithArgs("network/state").
			WillReturnRows(rows)

		raw, err := st.Get(ctx, "network/state")
		require.NoError(t, err)
		assert.JSONEq(t, `{"ip":"192.0.2.1"}`, string(raw))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("get on a missing key is ErrNotFound", func(t *testing.T) {
		st, mockPool := newMockStore(t)

		mockPool.ExpectQuery(regexp.QuoteMeta(`SELECT value FROM kv_records WHERE key = $1`)).
			WithArgs("nope").
			WillReturnRows(pgxmock.NewRows([]string{"value"}))

		_, err := st.Get(ctx, "nope")
		assert.ErrorIs(t, err, ErrNotFound)
	})

	t.Run("put upserts", func(t *testing.T) {
		st, mockPool := newMockStore(t)

		mockPool.ExpectExec(`INSERT INTO kv_records`).
			WithArgs("k", []byte(`1`)).
			WillReturnResult(pgxmock.NewResult("INSERT", 1))

		require.NoError(t, st.Put(ctx, "k", []byte(`1`)))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("delete executes", func(t *testing.T) {
		st, mockPool := newMockStore(t)

		mockPool.ExpectExec(regexp.QuoteMeta(`DELETE FROM kv_records WHERE key = $1`)).
			WithArgs("k").
			WillReturnResult(pgxmock.NewResult("DELETE", 1))

		require.NoError(t, st.Delete(ctx, "k"))
		assert.NoError(t, mockPool.ExpectationsWereMet())
	})

	t.Run("list scans keys in order", func(t *testing.T) {
		st, mockPool := newMockStore(t)

		rows := pgxmock.NewRows([]string{"key"}).
			AddRow("sessions/alice/svc").
			AddRow("sessions/bob/svc")
		mockPool.ExpectQuery(`SELECT key FROM kv_records WHERE key LIKE`).
			WithArgs("sessions/").
			WillReturnRows(rows)

		keys, err := st.List(ctx, "sessions/")
		require.NoError(t, err)
		assert.Equal(t, []string{"sessions/alice/svc", "sessions/bob/svc"}, keys)
	})
}
