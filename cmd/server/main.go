package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"
	"time"

	"github.com/common-nighthawk/go-figure"
	"github.com/jrsteele09/classics-portal/backend"
	"github.com/jrsteele09/classics-portal/internal/config"
	"github.com/jrsteele09/classics-portal/internal/logging"
	"github.com/jrsteele09/classics-portal/internal/metrics"
	"github.com/jrsteele09/classics-portal/server"
	"github.com/jrsteele09/classics-portal/turnstile"
	"github.com/rs/zerolog/log"
)

func main() {
	if err := run(); err != nil {
		log.Fatal().Err(err).Msg("Error running server")
	}
	log.Info().Msg("Server stopped")
}

func run() (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Interface("panic", r).Bytes("stack", debug.Stack()).Msg("Recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	c := config.New()
	logging.Setup(c.GetEnv(), c.GetLogLevel(), os.Stderr)
	displayAppname(c.GetAppName())
	metrics.Init()

	if c.GetTurnstileSecretKey() == "" {
		log.Warn().Msg("TURNSTILE_SECRET_KEY is not set, every submission will fail verification")
	}
	if c.GetClassicsJWT() == "" {
		log.Warn().Msg("CLASSICS_JWT is not set, line/append will reject submissions")
	}

	client, err := backend.NewClient(c.GetAPIURL(), backend.WithTimeout(c.GetBackendTimeout()))
	if err != nil {
		return err
	}
	verifier := turnstile.NewVerifier(c.GetTurnstileSecretKey(),
		turnstile.WithVerifyURL(c.GetTurnstileVerifyURL()),
		turnstile.WithHTTPClient(&http.Client{Timeout: c.GetBackendTimeout()}),
	)

	handler := server.New(c, verifier, client)
	defer handler.Close()

	srv := &http.Server{Addr: c.GetPort(), Handler: handler, ReadHeaderTimeout: 10 * time.Second}
	serveErr := make(chan error, 1)
	go func() { serveErr <- listenAndServe(srv) }()

	select {
	case err := <-serveErr:
		return err
	case <-waitForStopSignal():
	}
	return shutdown(srv)
}

func listenAndServe(server *http.Server) error {
	log.Info().Msgf("Server listening on %s", server.Addr)
	if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return fmt.Errorf("server.ListenAndServe %w", err)
	}
	return nil
}

func waitForStopSignal() <-chan os.Signal {
	stop := make(chan os.Signal, 1)
	signal.Notify(stop, os.Interrupt, syscall.SIGTERM)
	return stop
}

func shutdown(server *http.Server) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		return fmt.Errorf("server.Shutdown: %w", err)
	}
	return nil
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
