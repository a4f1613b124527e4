package main

import (
	"context"
	"flag"
	"os"
	"os/signal"
	"syscall"
	"time"

	"clubqueue/internal/app"
	logx "clubqueue/pkg/logx"
)

func main() {
	var cfgPath string
	flag.StringVar(&cfgPath, "config", "./config.yaml", "path to config (yaml or json); empty runs with defaults")
	flag.Parse()

	// Used until the app's own logging is configured, and after it is closed.
	boot := logx.NewConsole("info").With(logx.String("comp", "main"))

	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	a, err := app.New(cfgPath)
	if err != nil {
		boot.Error("config or wiring failed", logx.String("config", cfgPath), logx.Err(err))
		os.Exit(1)
	}
	if err := a.Start(ctx); err != nil {
		boot.Error("start failed", logx.Err(err))
		os.Exit(1)
	}

	reason := app.StopSignal
	select {
	case <-ctx.Done():
	case <-a.Done():
		reason = app.StopFatalError
	}

	stopCtx, stopCancel := context.WithTimeout(context.Background(), 45*time.Second)
	defer stopCancel()
	if err := a.Stop(stopCtx, reason); err != nil {
		boot.Warn("shutdown incomplete", logx.Err(err))
	}
	if err := a.Err(); err != nil && reason == app.StopFatalError {
		boot.Error("stopped on fatal error", logx.Err(err))
		os.Exit(1)
	}
}
