package backup

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type recordedRun struct {
	cmd   Command
	stdin string
}

func fakeRunner(code int, output string, runErr error, runs *[]recordedRun) Runner {
	return func(ctx context.Context, cmd Command) (int, error) {
		rec := recordedRun{cmd: cmd}
		if cmd.Stdin != nil {
			data, err := io.ReadAll(cmd.Stdin)
			if err != nil {
				return -1, err
			}
			rec.stdin = string(data)
		}
		*runs = append(*runs, rec)
		if runErr != nil {
			return -1, runErr
		}
		if cmd.Stdout != nil && output != "" {
			fmt.Fprint(cmd.Stdout, output)
		}
		return code, nil
	}
}

func writeConfig(t *testing.T, dir, body string) string {
	t.Helper()
	path := filepath.Join(dir, "config.json")
	require.NoError(t, os.WriteFile(path, []byte(body), 0o600))
	return path
}

func backupConfig(t *testing.T) (string, string) {
	t.Helper()
	dir := t.TempDir()
	out := filepath.Join(dir, "dbscada.sql")
	path := writeConfig(t, dir, fmt.Sprintf(`{
		"db_name": "dbscada",
		"db_user": "scada",
		"output_file": %q,
		"log_level": "error"
	}`, out))
	return path, out
}

func TestCommands(t *testing.T) {
	assert.Equal(t,
		[]string{"exec", "postgres", "pg_dump", "-d", "user=scada dbname=dbscada"},
		DumpCommand("postgres", "scada", "dbscada").Args)
	assert.Equal(t,
		[]string{"exec", "-i", "postgres", "psql", "-d", "user=scada dbname=dbscada"},
		RestoreCommand("postgres", "scada", "dbscada").Args)
	assert.Equal(t, "docker", DumpCommand("c", "u", "d").Name)
}

func TestBackupSuccess(t *testing.T) {
	path, out := backupConfig(t)
	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpBackup, []string{"--config", path}, &stdout, &stderr,
		WithRunner(fakeRunner(0, "-- PostgreSQL database dump\n", nil, &runs)))

	assert.Equal(t, 0, code)
	assert.Equal(t, "Database backup completed successfully.\n", stdout.String())
	assert.Empty(t, stderr.String())

	require.Len(t, runs, 1)
	assert.Equal(t, DumpCommand("postgres", "scada", "dbscada").Args, runs[0].cmd.Args)

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "-- PostgreSQL database dump\n", string(data))

	leftovers, err := filepath.Glob(out + ".*.tmp")
	require.NoError(t, err)
	assert.Empty(t, leftovers)
}

func TestBackupPropagatesExitCode(t *testing.T) {
	path, out := backupConfig(t)
	require.NoError(t, os.WriteFile(out, []byte("previous dump"), 0o600))

	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpBackup, []string{"--config", path}, &stdout, &stderr,
		WithRunner(fakeRunner(3, "partial", nil, &runs)))

	assert.Equal(t, 3, code)
	assert.Empty(t, stdout.String())
	assert.Contains(t, stderr.String(), "pg_dump failed with exit code 3")

	data, err := os.ReadFile(out)
	require.NoError(t, err)
	assert.Equal(t, "previous dump", string(data))
}

func TestBackupRunnerFailureExitsOne(t *testing.T) {
	path, _ := backupConfig(t)
	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpBackup, []string{"--config", path}, &stdout, &stderr,
		WithRunner(fakeRunner(0, "", errors.New(`exec: "docker": executable file not found in $PATH`), &runs)))

	assert.Equal(t, 1, code)
	assert.Contains(t, stderr.String(), "An unexpected error occurred")
}

func TestRestoreFeedsDumpFile(t *testing.T) {
	path, out := backupConfig(t)
	require.NoError(t, os.WriteFile(out, []byte("CREATE TABLE apis1_ifv1 ();\n"), 0o600))

	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpRestore, []string{"-c", path}, &stdout, &stderr,
		WithRunner(fakeRunner(0, "", nil, &runs)))

	assert.Equal(t, 0, code)
	assert.Equal(t, "Database restore completed successfully.\n", stdout.String())
	require.Len(t, runs, 1)
	assert.Equal(t, RestoreCommand("postgres", "scada", "dbscada").Args, runs[0].cmd.Args)
	assert.Equal(t, "CREATE TABLE apis1_ifv1 ();\n", runs[0].stdin)
}

func TestRestorePropagatesExitCode(t *testing.T) {
	path, out := backupConfig(t)
	require.NoError(t, os.WriteFile(out, []byte("garbage"), 0o600))

	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpRestore, []string{"--config", path}, &stdout, &stderr,
		WithRunner(fakeRunner(2, "", nil, &runs)))

	assert.Equal(t, 2, code)
	assert.Contains(t, stderr.String(), "psql failed with exit code 2")
}

func TestRestoreMissingDumpFile(t *testing.T) {
	path, _ := backupConfig(t)
	var runs []recordedRun
	var stdout, stderr bytes.Buffer

	code := Execute(context.Background(), OpRestore, []string{"--config", path}, &stdout, &stderr,
		WithRunner(fakeRunner(0, "", nil, &runs)))

	assert.Equal(t, 1, code)
	assert.Empty(t, runs)
}

func TestConfigErrorsExitOne(t *testing.T) {
	dir := t.TempDir()

	cases := map[string]struct {
		path string
		want string
	}{
		"missing file": {
			path: filepath.Join(dir, "absent.json"),
			want: "was not found",
		},
		"malformed": {
			path: writeConfig(t, t.TempDir(), `{"db_name": `),
			want: "could not read configuration file",
		},
		"missing key": {
			path: writeConfig(t, t.TempDir(), `{"db_name": "d", "output_file": "/tmp/x.sql"}`),
			want: "key 'db_user' is missing",
		},
	}

	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			var runs []recordedRun
			var stdout, stderr bytes.Buffer

			code := Execute(context.Background(), OpBackup, []string{"--config", tc.path}, &stdout, &stderr,
				WithRunner(fakeRunner(0, "", nil, &runs)))

			assert.Equal(t, 1, code)
			assert.Contains(t, stderr.String(), tc.want)
			assert.Empty(t, runs)
		})
	}
}

func TestUnknownFlag(t *testing.T) {
	var stdout, stderr bytes.Buffer
	assert.Equal(t, 1, Execute(context.Background(), OpBackup, []string{"--nope"}, &stdout, &stderr))
}
