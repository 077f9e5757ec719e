// Command migrate применяет и откатывает схему PostgreSQL сервиса fulfillment.
package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/joho/godotenv"
	log "github.com/sirupsen/logrus"

	"github.com/vladislavdragonenkov/fulfillment/internal/storage/postgres"
)

const envPostgresDSN = "FULFILLMENT_POSTGRES_DSN"

var errMissingDSN = errors.New(envPostgresDSN + " (or -dsn) is required")

// migrator часть postgres.Store, нужная CLI.
type migrator interface {
	MigrateUp(ctx context.Context, steps int) error
	MigrateDown(ctx context.Context, steps int) error
	MigrationStatus(ctx context.Context) (int64, int, error)
	PendingMigrations(ctx context.Context) ([]string, error)
}

type options struct {
	direction string
	steps     int
	dsn       string
	timeout   time.Duration
}

func main() {
	_ = godotenv.Load()

	if err := execute(context.Background(), os.Args[1:], os.Getenv, os.Stdout); err != nil {
		if errors.Is(err, flag.ErrHelp) {
			return
		}
		log.WithError(err).Fatal("migrate failed")
	}
}

// execute разбирает аргументы, открывает базу и выполняет команду.
func execute(ctx context.Context, args []string, getenv func(string) string, out io.Writer) error {
	opts, err := parseOptions(args, getenv, out)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()

	store, err := postgres.Open(ctx, opts.dsn)
	if err != nil {
		return fmt.Errorf("open postgres store: %w", err)
	}
	defer store.Close()

	return run(ctx, store, opts.direction, opts.steps, out)
}

func parseOptions(args []string, getenv func(string) string, out io.Writer) (options, error) {
	var opts options

	fs := flag.NewFlagSet("migrate", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&opts.direction, "direction", "up", "migration direction: up|down|status")
	fs.IntVar(&opts.steps, "steps", 0, "number of migrations to apply/rollback (0=all for up, 1 for down)")
	fs.StringVar(&opts.dsn, "dsn", "", "PostgreSQL DSN (fallback: "+envPostgresDSN+")")
	fs.DurationVar(&opts.timeout, "timeout", 30*time.Second, "overall deadline")
	if err := fs.Parse(args); err != nil {
		return options{}, err
	}

	opts.dsn = strings.TrimSpace(opts.dsn)
	if opts.dsn == "" {
		opts.dsn = strings.TrimSpace(getenv(envPostgresDSN))
	}
	if opts.dsn == "" {
		return options{}, errMissingDSN
	}
	if opts.steps < 0 {
		return options{}, fmt.Errorf("steps must be >= 0, got %d", opts.steps)
	}
	if opts.timeout <= 0 {
		return options{}, fmt.Errorf("timeout must be positive, got %s", opts.timeout)
	}
	return opts, nil
}

func run(ctx context.Context, m migrator, direction string, steps int, out io.Writer) error {
	switch strings.ToLower(strings.TrimSpace(direction)) {
	case "up":
		if err := m.MigrateUp(ctx, steps); err != nil {
			return fmt.Errorf("migrate up: %w", err)
		}
		return report(ctx, m, "up", out)
	case "down":
		if err := m.MigrateDown(ctx, max(steps, 1)); err != nil {
			return fmt.Errorf("migrate down: %w", err)
		}
		return report(ctx, m, "down", out)
	case "status":
		if err := report(ctx, m, "status", out); err != nil {
			return err
		}
		pending, err := m.PendingMigrations(ctx)
		if err != nil {
			return fmt.Errorf("list pending migrations: %w", err)
		}
		if len(pending) == 0 {
			_, _ = fmt.Fprintln(out, "schema is up to date")
		}
		for _, id := range pending {
			_, _ = fmt.Fprintf(out, "pending %s\n", id)
		}
		return nil
	default:
		return fmt.Errorf("unsupported direction %q (use up|down|status)", direction)
	}
}

func report(ctx context.Context, m migrator, action string, out io.Writer) error {
	version, applied, err := m.MigrationStatus(ctx)
	if err != nil {
		return fmt.Errorf("read migration status: %w", err)
	}
	_, _ = fmt.Fprintf(out, "%s: version=%d applied=%d\n", action, version, applied)
	return nil
}
