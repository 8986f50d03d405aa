// Package backup dumps and restores the acquisition database through the
// PostgreSQL container's own pg_dump and psql.
package backup

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"path/filepath"

	"go.uber.org/zap"

	"github.com/KevinKickass/dbscada/internal/config"
)

// Command is one external process invocation.
type Command struct {
	Name   string
	Args   []string
	Stdin  io.Reader
	Stdout io.Writer
	Stderr io.Writer
}

// Runner executes a command and reports its exit code. A non-nil error
// means the process could not be run at all.
type Runner func(ctx context.Context, cmd Command) (int, error)

// ExitError carries the tool's non-zero exit code to the process exit.
type ExitError struct {
	Tool string
	Code int
}

func (e *ExitError) Error() string {
	return fmt.Sprintf("%s failed with exit code %d", e.Tool, e.Code)
}

type Tool struct {
	container  string
	user       string
	database   string
	outputFile string
	run        Runner
	logger     *zap.Logger
}

type Option func(*Tool)

func WithRunner(run Runner) Option {
	return func(t *Tool) { t.run = run }
}

func New(cfg *config.Config, logger *zap.Logger, opts ...Option) *Tool {
	t := &Tool{
		container:  cfg.Backup.Container,
		user:       cfg.Database.User,
		database:   cfg.Database.Database,
		outputFile: cfg.Backup.OutputFile,
		run:        execRunner,
		logger:     logger.Named("backup"),
	}
	for _, opt := range opts {
		opt(t)
	}
	return t
}

// ConnString is the libpq keyword string passed to -d.
func ConnString(user, database string) string {
	return fmt.Sprintf("user=%s dbname=%s", user, database)
}

func DumpCommand(container, user, database string) Command {
	return Command{
		Name: "docker",
		Args: []string{"exec", container, "pg_dump", "-d", ConnString(user, database)},
	}
}

func RestoreCommand(container, user, database string) Command {
	return Command{
		Name: "docker",
		Args: []string{"exec", "-i", container, "psql", "-d", ConnString(user, database)},
	}
}

// Backup writes the dump to the output file. The file is replaced only
// when pg_dump succeeded.
func (t *Tool) Backup(ctx context.Context) error {
	tmp, err := os.CreateTemp(filepath.Dir(t.outputFile), filepath.Base(t.outputFile)+".*.tmp")
	if err != nil {
		return fmt.Errorf("failed to create dump file: %w", err)
	}
	defer os.Remove(tmp.Name())

	cmd := DumpCommand(t.container, t.user, t.database)
	cmd.Stdout = tmp
	cmd.Stderr = os.Stderr

	t.logger.Debug("Running pg_dump",
		zap.String("container", t.container),
		zap.String("database", t.database),
		zap.String("output_file", t.outputFile))

	code, err := t.run(ctx, cmd)
	if cerr := tmp.Close(); err == nil && cerr != nil {
		err = cerr
	}
	if err != nil {
		return fmt.Errorf("failed to run pg_dump: %w", err)
	}
	if code != 0 {
		return &ExitError{Tool: "pg_dump", Code: code}
	}

	if err := os.Rename(tmp.Name(), t.outputFile); err != nil {
		return fmt.Errorf("failed to write dump file: %w", err)
	}
	return nil
}

// Restore feeds the output file to psql inside the container.
func (t *Tool) Restore(ctx context.Context) error {
	f, err := os.Open(t.outputFile)
	if err != nil {
		return fmt.Errorf("failed to open dump file: %w", err)
	}
	defer f.Close()

	cmd := RestoreCommand(t.container, t.user, t.database)
	cmd.Stdin = f
	cmd.Stdout = io.Discard
	cmd.Stderr = os.Stderr

	t.logger.Debug("Running psql",
		zap.String("container", t.container),
		zap.String("database", t.database),
		zap.String("input_file", t.outputFile))

	code, err := t.run(ctx, cmd)
	if err != nil {
		return fmt.Errorf("failed to run psql: %w", err)
	}
	if code != 0 {
		return &ExitError{Tool: "psql", Code: code}
	}
	return nil
}

func execRunner(ctx context.Context, c Command) (int, error) {
	cmd := exec.CommandContext(ctx, c.Name, c.Args...)
	cmd.Stdin = c.Stdin
	cmd.Stdout = c.Stdout
	cmd.Stderr = c.Stderr

	err := cmd.Run()
	var exitErr *exec.ExitError
	if errors.As(err, &exitErr) {
		return exitErr.ExitCode(), nil
	}
	if err != nil {
		return -1, err
	}
	return 0, nil
}
