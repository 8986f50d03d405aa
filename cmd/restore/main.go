package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/KevinKickass/dbscada/internal/backup"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := backup.Execute(ctx, backup.OpRestore, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}
