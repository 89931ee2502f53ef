// Command classics is a terminal client for the classics portal. It keeps the session
// in the configured token store between runs.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/jrsteele09/classics-portal/internal/config"
	"github.com/jrsteele09/classics-portal/internal/errors"
	"github.com/jrsteele09/classics-portal/internal/logging"
	"github.com/rs/zerolog/log"
)

func main() {
	os.Exit(run())
}

func run() int {
	if len(os.Args) < 2 {
		usage()
		return 2
	}

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(c, os.Stdout, os.Stderr)
	if err != nil {
		log.Error().Err(err).Msg("Error starting classics")
		return 1
	}
	defer a.close()

	if err := a.run(ctx, os.Args[1], os.Args[2:]); err != nil {
		if errors.Is(err, errUsage) {
			usage()
			return 2
		}
		fmt.Fprintln(os.Stderr, "error:", err)
		return 1
	}
	return 0
}

func usage() {
	fmt.Fprintln(os.Stderr, `usage: classics <command> [flags]

commands:
  login   -username NAME [-password PASS]   log in (password falls back to CLASSICS_PASSWORD)
  logout                                    clear the stored session
  status  [-remote]                         show the current session
  read    [-all] [-json]                    print published lines`)
}
