// tasks is a terminal client for the task tracker API. It lists the
// caller's tasks (every task for an admin), adds new ones, and marks
// them complete.
package main

import (
	"errors"
	"fmt"
	"os"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"github.com/abefas/tasktracker/client"
	"github.com/abefas/tasktracker/tui"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var apiURL, token string

	flagSet := pflag.NewFlagSet("tasks", pflag.ContinueOnError)
	flagSet.StringVar(&apiURL, "api", envOr("TASKTRACKER_API", "http://localhost:4000"), "base URL of the task tracker API")
	flagSet.StringVar(&token, "token", os.Getenv("TASKTRACKER_TOKEN"), "bearer token (default $TASKTRACKER_TOKEN)")
	flagSet.BoolP("help", "h", false, "show help")

	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			printHelp(flagSet)
			return nil
		}
		return err
	}
	if help, _ := flagSet.GetBool("help"); help {
		printHelp(flagSet)
		return nil
	}
	if token == "" {
		return errors.New("no token: pass --token or set TASKTRACKER_TOKEN")
	}

	model := tui.NewModel(client.New(apiURL, token))
	program := tea.NewProgram(model, tea.WithAltScreen())
	_, err := program.Run()
	return err
}

func envOr(name, fallback string) string {
	if v := os.Getenv(name); v != "" {
		return v
	}
	return fallback
}

func printHelp(flagSet *pflag.FlagSet) {
	fmt.Fprintf(os.Stderr, `tasks: terminal client for the task tracker.

Usage:
  tasks [flags]

Examples:
  # Use a token minted for local development
  export TASKTRACKER_TOKEN=$(tasktracker-admin dev-token alice alice@example.com)
  tasks

  # Talk to a remote server
  tasks --api https://tasks.example.com --token "$ID_TOKEN"

Flags:
`)
	flagSet.SetOutput(os.Stderr)
	flagSet.PrintDefaults()
}
