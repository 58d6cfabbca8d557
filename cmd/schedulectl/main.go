package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/AlibekovAA/class-schedule/internal/client/cli"
	"github.com/AlibekovAA/class-schedule/internal/client/session"
	"github.com/AlibekovAA/class-schedule/internal/common/config"
	"github.com/AlibekovAA/class-schedule/internal/common/logger"
)

func main() {
	cfg, err := config.LoadClientConfig()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	tokenFile := cfg.TokenFile
	if tokenFile == "" {
		dir, err := os.UserConfigDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "cannot locate config directory, set SCHEDULE_TOKEN_FILE: %v\n", err)
			os.Exit(1)
		}
		tokenFile = filepath.Join(dir, "class-schedule", "tokens.json")
	}

	store, err := session.NewFileTokenStore(tokenFile)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	client, err := session.NewClient(session.Options{
		BaseURL: cfg.BaseURL,
		Store:   store,
		Timeout: cfg.Timeout,
		OnSessionExpired: func() {
			fmt.Fprintln(os.Stderr, "session expired, run `schedulectl login`")
		},
		Log: logger.NewWithWriter(os.Stderr, "schedulectl", cfg.LogLevel),
	})
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := cli.NewApp(client, os.Stdin, os.Stdout).Run(ctx, os.Args[1:]); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		stop()
		os.Exit(1)
	}
}
