package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/charlesng35/governor/internal/cli"
	apperrors "github.com/charlesng35/governor/pkg/errors"
	"github.com/charlesng35/governor/pkg/logger"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM, syscall.SIGQUIT)
	defer stop()

	err := cli.Execute(ctx)
	logger.Sync() // best effort

	if err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(apperrors.ExitCodeFor(err))
	}
}
