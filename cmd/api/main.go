package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/AlibekovAA/class-schedule/internal/common/bootstrap"
	"github.com/AlibekovAA/class-schedule/internal/common/config"
	srv "github.com/AlibekovAA/class-schedule/internal/common/server"
)

func main() {
	log, err := bootstrap.InitializeLogger("schedule-api")
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialize logger: %v\n", err)
		os.Exit(1)
	}

	cfg, err := config.LoadServerConfig()
	if err != nil {
		log.Fatalf("failed to load config: %v", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	app, err := bootstrap.NewApp(ctx, log, cfg)
	if err != nil {
		log.Fatalf("failed to initialize app: %v", err)
	}
	defer app.Close()

	background, cancelBackground := context.WithCancel(ctx)
	defer cancelBackground()

	go app.Hub.Run(background)
	go app.Sweeper.Run(background)

	limiterStop := make(chan struct{})
	go app.RateLimiter.StartCleanup(5*time.Minute, limiterStop)

	server := srv.NewServer(srv.DefaultServerConfig(cfg.HTTPPort, cfg.RequestTimeout), app.Handler(), log)

	hooks := []srv.ShutdownHook{
		func(context.Context) error {
			log.Infof("schedule api: stopping background workers")
			cancelBackground()
			close(limiterStop)
			return nil
		},
	}

	if err := srv.Run(ctx, server, log, "schedule-api", hooks); err != nil {
		log.Errorf("server exited: %v", err)
		app.Close()
		os.Exit(1)
	}
}
