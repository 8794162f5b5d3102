package pyprotocol

import (
	"log/slog"
	"net"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mterenzi/pysync-go/internal/pybackup"
	"github.com/mterenzi/pysync-go/internal/pymanifest"
	"github.com/mterenzi/pysync-go/internal/pytransport"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: slog.LevelError + 1}))
}

// TestRunLeaderFollower_PushesNewFileFromLeaderToFollower exercises a full
// STRUCT+SYNC round trip over a real net.Pipe connection: the leader has one
// file the follower lacks, and the follower must end up with an identical
// copy plus matching metadata.
func TestRunLeaderFollower_PushesNewFileFromLeaderToFollower(t *testing.T) {
	t.Parallel()

	leaderRoot := t.TempDir()
	followerRoot := t.TempDir()

	content := []byte("hello from the leader\n")
	require.NoError(t, os.WriteFile(filepath.Join(leaderRoot, "greeting.txt"), content, 0o644))

	leaderManifest := pymanifest.New(leaderRoot)
	leaderManifest.Entries["greeting.txt"] = pymanifest.PathInfo{Type: pymanifest.TypeFile, LastMod: 1000, Perm: 0o644}

	followerManifest := pymanifest.New(followerRoot)

	cfg := ConfigView{Purge: true, Compression: 6, CompressionMin: 0, Chunk: 4096}

	leaderConnRaw, followerConnRaw := net.Pipe()
	defer leaderConnRaw.Close()
	defer followerConnRaw.Close()

	leaderConn := pytransport.NewConn(leaderConnRaw)
	followerConn := pytransport.NewConn(followerConnRaw)

	backup := pybackup.New(false, "", 0)
	log := discardLogger()

	followerDone := make(chan error, 1)
	go func() {
		followerDone <- RunFollower(followerConn, followerRoot, followerManifest, cfg, backup, nil, log)
	}()

	plan, err := RunLeader(leaderConn, leaderRoot, leaderManifest, cfg, backup, nil, log)
	require.NoError(t, err)
	require.NoError(t, <-followerDone)

	assert.False(t, plan.IsNoOp())
	assert.Contains(t, plan.Creates.Push.Files, "greeting.txt")

	got, err := os.ReadFile(filepath.Join(followerRoot, "greeting.txt"))
	require.NoError(t, err)
	assert.Equal(t, content, got)
}

// TestRunLeaderFollower_NoOpSendsImmediateBye covers the fast path where
// both manifests already agree: the leader should send BYE without any
// further round trips, and the follower should return cleanly.
func TestRunLeaderFollower_NoOpSendsImmediateBye(t *testing.T) {
	t.Parallel()

	leaderRoot := t.TempDir()
	followerRoot := t.TempDir()

	leaderManifest := pymanifest.New(leaderRoot)
	leaderManifest.Entries["same.txt"] = pymanifest.PathInfo{Type: pymanifest.TypeFile, LastMod: 500, Perm: 0o644}

	followerManifest := pymanifest.New(followerRoot)
	followerManifest.Entries["same.txt"] = pymanifest.PathInfo{Type: pymanifest.TypeFile, LastMod: 500, Perm: 0o644}

	cfg := ConfigView{Purge: true, Compression: 0, Chunk: 4096}

	leaderConnRaw, followerConnRaw := net.Pipe()
	defer leaderConnRaw.Close()
	defer followerConnRaw.Close()

	leaderConn := pytransport.NewConn(leaderConnRaw)
	followerConn := pytransport.NewConn(followerConnRaw)

	backup := pybackup.New(false, "", 0)
	log := discardLogger()

	followerDone := make(chan error, 1)
	go func() {
		followerDone <- RunFollower(followerConn, followerRoot, followerManifest, cfg, backup, nil, log)
	}()

	plan, err := RunLeader(leaderConn, leaderRoot, leaderManifest, cfg, backup, nil, log)
	require.NoError(t, err)
	require.NoError(t, <-followerDone)

	assert.True(t, plan.IsNoOp())
}

// TestRunLeaderFollower_PushDeleteIsRaceGuardedByFollower covers CONFIRM
// DELETE: the leader's tombstone for a path the follower still has must
// result in the follower (not the leader) removing it.
func TestRunLeaderFollower_PushDeleteIsRaceGuardedByFollower(t *testing.T) {
	t.Parallel()

	leaderRoot := t.TempDir()
	followerRoot := t.TempDir()

	require.NoError(t, os.WriteFile(filepath.Join(followerRoot, "stale.txt"), []byte("x"), 0o644))

	deletedAt := int64(900)
	leaderManifest := pymanifest.New(leaderRoot)
	leaderManifest.Entries["stale.txt"] = pymanifest.PathInfo{Type: pymanifest.TypeFile, LastMod: deletedAt, Deleted: &deletedAt}

	followerManifest := pymanifest.New(followerRoot)
	followerManifest.Entries["stale.txt"] = pymanifest.PathInfo{Type: pymanifest.TypeFile, LastMod: 100, Perm: 0o644}

	cfg := ConfigView{Purge: true, Compression: 0, Chunk: 4096}

	leaderConnRaw, followerConnRaw := net.Pipe()
	defer leaderConnRaw.Close()
	defer followerConnRaw.Close()

	leaderConn := pytransport.NewConn(leaderConnRaw)
	followerConn := pytransport.NewConn(followerConnRaw)

	backup := pybackup.New(false, "", 0)
	log := discardLogger()

	followerDone := make(chan error, 1)
	go func() {
		followerDone <- RunFollower(followerConn, followerRoot, followerManifest, cfg, backup, nil, log)
	}()

	plan, err := RunLeader(leaderConn, leaderRoot, leaderManifest, cfg, backup, nil, log)
	require.NoError(t, err)
	require.NoError(t, <-followerDone)

	assert.Contains(t, plan.Deletes.Push.Files, "stale.txt")

	_, statErr := os.Stat(filepath.Join(followerRoot, "stale.txt"))
	assert.True(t, os.IsNotExist(statErr))
}
