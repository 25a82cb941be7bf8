package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"copilot-gateway/internal/authgate"
	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/config"
	"copilot-gateway/internal/credentials"
	"copilot-gateway/internal/logging"
	"copilot-gateway/internal/oauth"
	"copilot-gateway/internal/server"
)

const serveUsage = `Usage:
  copilot-gateway serve [--config <path>] [--port <port>]

Flags:
  --config string   Path to YAML configuration file (optional; defaults apply)
  --port   int      Override server port from configuration`

func serve(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("serve", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, serveUsage)
	}

	var cfgPath string
	var overridePort int
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.IntVar(&overridePort, "port", 0, "override server port")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse serve flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	if overridePort != 0 {
		if overridePort <= 0 || overridePort > 65535 {
			return fmt.Errorf("port override %d must be a valid TCP port", overridePort)
		}
		cfg.Server.Port = overridePort
	}

	logging.Setup(cfg.Log.Level)

	bc, err := backend.NewHTTPClient(cfg.Backend.BaseURL, deviceAuthConfig(cfg), nil)
	if err != nil {
		return err
	}

	store := credentials.NewStore(cfg.Auth.CredentialsPath)
	gate := authgate.New(cfg.Auth.Mode, store).WithHeader(cfg.Auth.Header, cfg.Auth.Prefix)
	sessions := oauth.NewManager(bc, store)

	srv, err := server.New(cfg, bc, gate, store, sessions)
	if err != nil {
		return err
	}

	return srv.Run(ctx)
}

func deviceAuthConfig(cfg *config.Config) backend.DeviceAuthConfig {
	return backend.DeviceAuthConfig{
		ClientID:      cfg.Backend.Device.ClientID,
		DeviceCodeURL: cfg.Backend.Device.DeviceCodeURL,
		TokenURL:      cfg.Backend.Device.TokenURL,
		Scope:         cfg.Backend.Device.Scope,
	}
}
