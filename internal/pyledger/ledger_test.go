package pyledger

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mterenzi/pysync-go/internal/pyreconcile"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

func openTestLedger(t *testing.T) *Ledger {
	t.Helper()

	path := filepath.Join(t.TempDir(), "ledger.db")

	l, err := Open(context.Background(), path, discardLogger())
	require.NoError(t, err)

	t.Cleanup(func() { l.Close() })

	return l
}

func TestOpen_AppliesMigrationsAndIsReusable(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	assert.NotNil(t, l.db)
}

func TestRecordAndRecent_RoundTripsSuccessfulSession(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	plan := pyreconcile.Plan{}
	plan.Creates.Push.Files = []string{"a.txt", "b.txt"}
	plan.Deletes.Pull.Dirs = []string{"old"}

	started := time.Unix(1000, 0)
	finished := time.Unix(1005, 0)

	require.NoError(t, l.Record(ctx, "/srv/data", "127.0.0.1:9000", "Server", started, finished, plan, nil))

	rows, err := l.Recent(ctx, "/srv/data", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)

	assert.Equal(t, "/srv/data", rows[0].Root)
	assert.Equal(t, "127.0.0.1:9000", rows[0].Remote)
	assert.Equal(t, "Server", rows[0].Role)
	assert.Empty(t, rows[0].Error)
	assert.Equal(t, started.Unix(), rows[0].StartedAt.Unix())
	assert.Equal(t, finished.Unix(), rows[0].FinishedAt.Unix())
}

func TestRecord_StoresSessionErrorText(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	sessErr := errors.New("pysync: miscommunication: boom")
	require.NoError(t, l.Record(ctx, "/root", "peer", "Client", time.Unix(1, 0), time.Unix(2, 0), pyreconcile.Plan{}, sessErr))

	rows, err := l.Recent(ctx, "/root", 1)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, sessErr.Error(), rows[0].Error)
}

func TestRecent_OrdersNewestFirstAndRespectsLimit(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	for _, started := range []int64{100, 300, 200} {
		require.NoError(t, l.Record(ctx, "/root", "peer", "Client", time.Unix(started, 0), time.Unix(started+1, 0), pyreconcile.Plan{}, nil))
	}

	rows, err := l.Recent(ctx, "/root", 2)
	require.NoError(t, err)
	require.Len(t, rows, 2)
	assert.Equal(t, int64(300), rows[0].StartedAt.Unix())
	assert.Equal(t, int64(200), rows[1].StartedAt.Unix())
}

func TestRecent_ScopesToRoot(t *testing.T) {
	t.Parallel()

	l := openTestLedger(t)
	ctx := context.Background()

	require.NoError(t, l.Record(ctx, "/root-a", "peer", "Client", time.Unix(1, 0), time.Unix(2, 0), pyreconcile.Plan{}, nil))
	require.NoError(t, l.Record(ctx, "/root-b", "peer", "Client", time.Unix(1, 0), time.Unix(2, 0), pyreconcile.Plan{}, nil))

	rows, err := l.Recent(ctx, "/root-a", 10)
	require.NoError(t, err)
	require.Len(t, rows, 1)
	assert.Equal(t, "/root-a", rows[0].Root)
}
