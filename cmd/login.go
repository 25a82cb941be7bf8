package cmd

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"

	"copilot-gateway/internal/backend"
	"copilot-gateway/internal/config"
	"copilot-gateway/internal/credentials"
	"copilot-gateway/internal/logging"
)

const loginUsage = `Usage:
  copilot-gateway login [--config <path>] [--enterprise-url <url>]

Flags:
  --config          string   Path to YAML configuration file (optional)
  --enterprise-url  string   Enterprise backend base URL to store with the credential`

// login runs the device-authorization flow interactively from the terminal
// and persists the resulting credential where the serve command will find it.
func login(ctx context.Context, args []string) error {
	fs := flag.NewFlagSet("login", flag.ContinueOnError)
	fs.Usage = func() {
		fmt.Fprintln(os.Stderr, loginUsage)
	}

	var cfgPath, enterpriseURL string
	fs.StringVar(&cfgPath, "config", "", "path to configuration file")
	fs.StringVar(&enterpriseURL, "enterprise-url", "", "enterprise backend base URL")

	if err := fs.Parse(args); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return nil
		}
		return fmt.Errorf("parse login flags: %w", err)
	}

	cfg, err := config.Load(cfgPath)
	if err != nil {
		return err
	}

	logging.Setup(cfg.Log.Level)

	bc, err := backend.NewHTTPClient(cfg.Backend.BaseURL, deviceAuthConfig(cfg), nil)
	if err != nil {
		return err
	}

	cred, err := bc.PerformDeviceLogin(ctx, backend.LoginOptions{
		EnterpriseURL: enterpriseURL,
		OnVerificationURL: func(url, instructions string) {
			fmt.Println(instructions)
		},
		OnProgress: func(message string) {
			fmt.Println(message)
		},
	})
	if err != nil {
		return err
	}

	store := credentials.NewStore(cfg.Auth.CredentialsPath)
	if err := store.Save(cred); err != nil {
		return err
	}

	fmt.Printf("Authentication complete. Credentials saved to %s\n", cfg.Auth.CredentialsPath)
	return nil
}
