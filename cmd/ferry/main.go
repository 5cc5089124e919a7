package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/MikeSquared-Agency/ferry/internal/command"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := command.ExecuteContext(ctx)
	stop()
	os.Exit(code)
}
