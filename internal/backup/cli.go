package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/config"
	"github.com/KevinKickass/dbscada/internal/logging"
)

type Operation string

const (
	OpBackup  Operation = "backup"
	OpRestore Operation = "restore"
)

func (op Operation) successMessage() string {
	if op == OpRestore {
		return "Database restore completed successfully."
	}
	return "Database backup completed successfully."
}

// Execute runs one backup or restore and returns the process exit code:
// 0 on success, the tool's own code when it fails, 1 for anything else.
func Execute(ctx context.Context, op Operation, args []string, stdout, stderr io.Writer, opts ...Option) int {
	fs := pflag.NewFlagSet(string(op), pflag.ContinueOnError)
	fs.SetOutput(stderr)
	configPath := fs.StringP("config", "c", config.DefaultPath, "path to the configuration file")
	if err := fs.Parse(args); err != nil {
		return 1
	}

	cfg, err := config.Load(*configPath, config.BackupKeys)
	if err != nil {
		printConfigError(stderr, *configPath, err)
		return 1
	}

	logger, err := logging.New(cfg.Logging)
	if err != nil {
		fmt.Fprintf(stderr, "Error: %v\n", err)
		return 1
	}
	defer logger.Sync()

	tool := New(cfg, logger, opts...)

	switch op {
	case OpBackup:
		err = tool.Backup(ctx)
	case OpRestore:
		err = tool.Restore(ctx)
	default:
		err = fmt.Errorf("unknown operation %q", op)
	}

	if err != nil {
		var exitErr *ExitError
		if errors.As(err, &exitErr) {
			fmt.Fprintf(stderr, "Error: %s.\n", exitErr)
			logger.Error("Database "+string(op)+" failed", zap.Int("exit_code", exitErr.Code))
			if exitErr.Code > 0 {
				return exitErr.Code
			}
			return 1
		}
		fmt.Fprintf(stderr, "An unexpected error occurred: %v\n", err)
		return 1
	}

	fmt.Fprintln(stdout, op.successMessage())
	return 0
}

func printConfigError(w io.Writer, path string, err error) {
	var keyErr *config.KeyError
	switch {
	case errors.As(err, &keyErr):
		fmt.Fprintf(w, "Error: key '%s' is missing from configuration file '%s'.\n", keyErr.Key, path)
	case errors.Is(err, os.ErrNotExist):
		fmt.Fprintf(w, "Error: configuration file '%s' was not found.\n", path)
	default:
		fmt.Fprintf(w, "Error: could not read configuration file '%s': %v\n", path, err)
	}
}
