package cmd

import (
	"context"
	"fmt"
	"strings"
)

const usage = `copilot-gateway translates OpenAI- and Anthropic-style chat APIs onto one model-serving backend.

Usage:
  copilot-gateway serve [flags]
  copilot-gateway login [flags]

Commands:
  serve    Start the HTTP gateway
  login    Run the device-authorization flow and store credentials

Flags:
  -h, --help  Show this help message`

// Execute runs the CLI dispatcher with the provided arguments.
func Execute(ctx context.Context, args []string) error {
	if len(args) == 0 {
		return printUsage()
	}

	switch args[0] {
	case "serve":
		return serve(ctx, args[1:])
	case "login":
		return login(ctx, args[1:])
	case "help", "-h", "--help":
		return printUsage()
	default:
		return fmt.Errorf("unknown command %q\n\n%s", args[0], usage)
	}
}

func printUsage() error {
	fmt.Println(strings.TrimSpace(usage))
	return nil
}
