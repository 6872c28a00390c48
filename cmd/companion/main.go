package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"go.uber.org/zap"

	"pasarlive-client/internal/api"
	"pasarlive-client/internal/auth"
	"pasarlive-client/internal/config"
	"pasarlive-client/internal/logger"
	"pasarlive-client/internal/session"
	"pasarlive-client/internal/transport"
)

func main() {
	if err := run(os.Stdout); err != nil {
		fmt.Fprintln(os.Stderr, "companion:", err)
		os.Exit(1)
	}
}

func run(out io.Writer) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return err
	}

	logger.Init(cfg.AppEnv)
	defer logger.Sync()

	identity, err := auth.ParseSessionToken(cfg.SessionToken)
	if err != nil {
		return fmt.Errorf("session token: %w", err)
	}

	client := api.New(api.Options{
		BaseURL: cfg.APIBaseURL,
		Token:   cfg.SessionToken,
		Timeout: cfg.HTTPTimeout,
	})

	channel := transport.New(transport.Options{
		URL:   cfg.EventsURL,
		Token: cfg.SessionToken,
	})

	sess := session.New(session.Options{
		Config:   cfg,
		Identity: identity,
		API:      client,
		Channel:  channel,
		Renderer: &consoleRenderer{out: out},
		Sound:    &consoleSound{out: out},
	})

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	if err := sess.Start(ctx); err != nil {
		_ = sess.Close()
		return err
	}

	logger.L().Info("companion running",
		zap.String("user_id", identity.UserID),
		zap.String("role", string(identity.Role)),
	)

	<-ctx.Done()
	return sess.Close()
}
