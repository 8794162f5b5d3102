package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/mterenzi/pysync-go/internal/pyconfig"
	"github.com/mterenzi/pysync-go/internal/pylog"
)

func TestLoadResolvedConfig_RequiresRoot(t *testing.T) {
	t.Parallel()

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--host", "Server"}))

	_, err := loadResolvedConfig(cmd)
	assert.Error(t, err)
}

func TestLoadResolvedConfig_FlagsOverrideDefaults(t *testing.T) {
	root := t.TempDir()

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{
		"--root", root,
		"--host", "Server",
		"--hostname", "0.0.0.0",
		"--port", "9000",
		"--purge",
		"--compression", "7",
	}))

	cfg, err := loadResolvedConfig(cmd)
	require.NoError(t, err)

	assert.Equal(t, root, cfg.Root)
	assert.Equal(t, pyconfig.HostServer, cfg.Host)
	assert.Equal(t, "0.0.0.0", cfg.Hostname)
	assert.Equal(t, 9000, cfg.Port)
	assert.True(t, cfg.Purge)
	assert.Equal(t, 7, cfg.Compression)
}

func TestLoadResolvedConfig_UnchangedFlagsLeaveDefaultsAlone(t *testing.T) {
	root := t.TempDir()

	cmd := newRootCmd()
	require.NoError(t, cmd.ParseFlags([]string{"--root", root, "--host", "Client", "--hostname", "srv"}))

	cfg, err := loadResolvedConfig(cmd)
	require.NoError(t, err)

	defaults := pyconfig.DefaultConfig()
	assert.Equal(t, defaults.Timeout, cfg.Timeout)
	assert.Equal(t, defaults.Port, cfg.Port)
}

func TestBuildFileLogger_OpensFileAtPath(t *testing.T) {
	t.Parallel()

	path := t.TempDir() + "/session.log"

	logger, err := buildFileLogger(path, 2, "Server", -1)
	require.NoError(t, err)
	assert.NotNil(t, logger)
}

func TestPylogLevelFor_MapsNumericBandsInOrder(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pylog.LevelSilent, pylogLevelFor(-1))
	assert.Equal(t, pylog.LevelErrors, pylogLevelFor(1))
	assert.Equal(t, pylog.LevelSummary, pylogLevelFor(2))
	assert.Equal(t, pylog.LevelDeletes, pylogLevelFor(3))
	assert.Equal(t, pylog.LevelPerFile, pylogLevelFor(4))
}

func TestPylogRoleFor_OnlyExactServerStringMapsToServerRole(t *testing.T) {
	t.Parallel()

	assert.Equal(t, pylog.RoleServer, pylogRoleFor("Server"))
	assert.Equal(t, pylog.RoleClient, pylogRoleFor("Client"))
	assert.Equal(t, pylog.RoleClient, pylogRoleFor("anything-else"))
}
