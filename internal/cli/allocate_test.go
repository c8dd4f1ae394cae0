package cli

import (
	"bytes"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// execute runs the root command with args and returns stdout and stderr.
func execute(t *testing.T, args ...string) (string, string, error) {
	t.Helper()
	stdout, stderr := &bytes.Buffer{}, &bytes.Buffer{}
	cmd := NewRootCommand()
	cmd.SetOut(stdout)
	cmd.SetErr(stderr)
	cmd.SetArgs(args)
	err := cmd.Execute()
	return stdout.String(), stderr.String(), err
}

func sqliteArgs(t *testing.T) []string {
	t.Helper()
	return []string{"--driver", "sqlite", "--db", filepath.Join(t.TempDir(), "numbering.db")}
}

func TestAllocateCommand_Sequential(t *testing.T) {
	db := sqliteArgs(t)

	out, _, err := execute(t, append([]string{"allocate", "INV-", "--initial-id", "10000", "--count", "3"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "INV-10000\nINV-10001\nINV-10002\n", out)

	// initial-id is ignored once the series exists
	out, _, err = execute(t, append([]string{"allocate", "INV-", "--initial-id", "5"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "INV-10003\n", out)
}

func TestAllocateCommand_EmptyPrefix(t *testing.T) {
	db := sqliteArgs(t)

	out, _, err := execute(t, append([]string{"allocate", "-n", "2"}, db...)...)
	require.NoError(t, err)
	assert.Equal(t, "1\n2\n", out)
}

func TestAllocateCommand_JSON(t *testing.T) {
	out, _, err := execute(t, "allocate", "A_", "--driver", "memory", "--format", "json", "--count", "2")
	require.NoError(t, err)

	var resp struct {
		Status string             `json:"status"`
		Data   []AllocationOutput `json:"data"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &resp))
	assert.Equal(t, "ok", resp.Status)
	require.Len(t, resp.Data, 2)
	assert.Equal(t, "A_1", resp.Data[0].Designator)
	assert.Equal(t, int64(2), resp.Data[1].ID)
	assert.Equal(t, "A_", resp.Data[1].Prefix)
	assert.Equal(t, 1, resp.Data[1].Attempts)
	assert.NotEmpty(t, resp.Data[1].IssuedAt)
}

func TestAllocateCommand_ReservedPrefix(t *testing.T) {
	out, _, err := execute(t, "allocate", "(empty)", "--driver", "memory")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, out, "Error [CONFIGURATION]")
}

func TestAllocateCommand_InvalidCount(t *testing.T) {
	_, _, err := execute(t, "allocate", "A", "--driver", "memory", "--count", "0")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "--count must be at least 1")
}

func TestAllocateCommand_UnknownDriver(t *testing.T) {
	_, _, err := execute(t, "allocate", "A", "--driver", "floppy")
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), `unknown store driver "floppy"`)
}

func TestAllocateCommand_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	cfgPath := filepath.Join(dir, "numbering.cue")
	boltPath := filepath.Join(dir, "numbers.bolt")
	cfg := `kind_name_prefix: "Billing"
store: {
	driver: "bolt"
	path:   "` + boltPath + `"
}
`
	require.NoError(t, os.WriteFile(cfgPath, []byte(cfg), 0o644))

	out, _, err := execute(t, "allocate", "B-", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "B-1\n", out)

	out, _, err = execute(t, "allocate", "B-", "--config", cfgPath)
	require.NoError(t, err)
	assert.Equal(t, "B-2\n", out)

	_, err = os.Stat(boltPath)
	assert.NoError(t, err)
}

func TestAllocateCommand_BadConfig(t *testing.T) {
	cfgPath := filepath.Join(t.TempDir(), "bad.cue")
	require.NoError(t, os.WriteFile(cfgPath, []byte(`store: driver: "tape"`), 0o644))

	_, _, err := execute(t, "allocate", "A", "--config", cfgPath)
	require.Error(t, err)
	assert.Equal(t, ExitCommandError, GetExitCode(err))
	assert.Contains(t, err.Error(), "failed to load config")
}

func TestAllocateCommand_LogFile(t *testing.T) {
	logPath := filepath.Join(t.TempDir(), "numbering.log")

	_, stderr, err := execute(t, "allocate", "L", "--driver", "memory", "--log-file", logPath, "--verbose")
	require.NoError(t, err)
	assert.Contains(t, stderr, "designator issued")

	data, err := os.ReadFile(logPath)
	require.NoError(t, err)
	assert.Contains(t, string(data), "designator issued")
	assert.Contains(t, string(data), "level=DEBUG")
}
