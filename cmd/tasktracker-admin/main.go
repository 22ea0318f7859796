// tasktracker-admin manages the user directory of a task tracker
// deployment. It reads the same configuration as the server.
//
//	tasktracker-admin setrole <subject> user|admin
//	tasktracker-admin users
//	tasktracker-admin dev-token <subject> [email]
package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"
	"time"

	"github.com/spf13/pflag"
	"github.com/thejerf/abtime"

	"github.com/abefas/tasktracker/auth"
	"github.com/abefas/tasktracker/config"
	"github.com/abefas/tasktracker/database"
	"github.com/abefas/tasktracker/models"
	"github.com/abefas/tasktracker/store"
)

// devTokenTTL is the lifetime of tokens minted by dev-token.
const devTokenTTL = 24 * time.Hour

func main() {
	if err := run(os.Args[1:], os.Stdout); err != nil {
		fmt.Fprintf(os.Stderr, "tasktracker-admin: %v\n", err)
		os.Exit(1)
	}
}

func run(args []string, stdout io.Writer) error {
	var configPath string
	flagSet := pflag.NewFlagSet("tasktracker-admin", pflag.ContinueOnError)
	flagSet.StringVar(&configPath, "config", "", "path to the YAML config file (default $"+config.EnvConfigPath+")")
	flagSet.SetInterspersed(false)
	if err := flagSet.Parse(args); err != nil {
		if errors.Is(err, pflag.ErrHelp) {
			return nil
		}
		return err
	}

	args = flagSet.Args()
	if len(args) == 0 {
		return errors.New("usage: tasktracker-admin [--config FILE] setrole|users|dev-token ...")
	}

	cfg, err := config.Load(config.Path(configPath))
	if err != nil {
		return err
	}
	clock := abtime.NewRealTime()

	command, args := args[0], args[1:]
	if command == "dev-token" {
		if len(args) < 1 || len(args) > 2 {
			return errors.New("usage: dev-token <subject> [email]")
		}
		email := ""
		if len(args) == 2 {
			email = args[1]
		}
		return devToken(cfg.Auth, args[0], email, clock.Now(), stdout)
	}

	if command != "setrole" && command != "users" {
		return fmt.Errorf("unknown command %q", command)
	}
	ctx := context.Background()
	directory, err := openDirectory(ctx, cfg.Store, clock, cfg.Log.NewLogger())
	if err != nil {
		return err
	}
	defer directory.Close(ctx)

	switch command {
	case "setrole":
		if len(args) != 2 {
			return errors.New("usage: setrole <subject> user|admin")
		}
		return setRole(ctx, directory, args[0], args[1], stdout)
	default:
		if len(args) != 0 {
			return errors.New("usage: users")
		}
		return listUsers(ctx, directory, stdout)
	}
}

// openDirectory opens the configured store for the directory commands.
// The memory driver is refused: it would open a fresh, empty directory in
// this process, not the one the server holds.
func openDirectory(ctx context.Context, cfg config.StoreConfig, clock abtime.AbstractTime, logger *slog.Logger) (store.Store, error) {
	if cfg.Driver == config.DriverMemory {
		return nil, fmt.Errorf("store driver %q keeps users inside the server process; configure %s, %s or %s to manage users",
			cfg.Driver, config.DriverMongo, config.DriverPostgres, config.DriverMySQL)
	}
	return database.Open(ctx, cfg, clock, logger)
}

// setRole writes the admin flag for an existing subject.
func setRole(ctx context.Context, directory store.UserDirectory, subject, role string, out io.Writer) error {
	var isAdmin bool
	switch models.Role(role) {
	case models.RoleAdmin:
		isAdmin = true
	case models.RoleUser:
	default:
		return fmt.Errorf("role %q: must be %s or %s", role, models.RoleUser, models.RoleAdmin)
	}

	user, err := directory.SetAdmin(ctx, subject, isAdmin)
	if errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("no user %q: the subject must sign in once before a role can be set", subject)
	}
	if err != nil {
		return fmt.Errorf("setting role: %w", err)
	}
	fmt.Fprintf(out, "%s is now %s\n", user.SubjectID, user.Role())
	return nil
}

func listUsers(ctx context.Context, directory store.UserDirectory, out io.Writer) error {
	users, err := directory.ListUsers(ctx)
	if err != nil {
		return fmt.Errorf("listing users: %w", err)
	}
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SUBJECT\tEMAIL\tROLE\tCREATED")
	for _, user := range users {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", user.SubjectID, user.Email, user.Role(), user.CreatedAt.Format(time.RFC3339))
	}
	return w.Flush()
}

// devToken prints a token the server accepts in hmac auth mode.
func devToken(cfg config.AuthConfig, subject, email string, now time.Time, out io.Writer) error {
	if cfg.Mode != config.AuthHMAC {
		return fmt.Errorf("dev-token needs auth mode %s, configured mode is %s", config.AuthHMAC, cfg.Mode)
	}
	token, err := auth.MintHMAC([]byte(cfg.HMAC.Secret), cfg.HMAC.Issuer, cfg.HMAC.Audience, subject, email, now, devTokenTTL)
	if err != nil {
		return fmt.Errorf("signing token: %w", err)
	}
	fmt.Fprintln(out, token)
	return nil
}
