package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"LedgerStats/internal/observability"
	"LedgerStats/internal/persistence"
	"LedgerStats/migrations"
)

func usage() {
	fmt.Fprintln(os.Stderr, "Usage: migrate [-driver postgres|sqlite] [-dsn DSN] <up|down|status>")
	fmt.Fprintln(os.Stderr, "  up     - apply all pending migrations")
	fmt.Fprintln(os.Stderr, "  down   - roll back the last migration")
	fmt.Fprintln(os.Stderr, "  status - list migrations and whether they are applied")
	fmt.Fprintln(os.Stderr)
	fmt.Fprintln(os.Stderr, "Environment:")
	fmt.Fprintln(os.Stderr, "  STATS_STORE_DRIVER - default for -driver (postgres)")
	fmt.Fprintln(os.Stderr, "  STATS_STORE_DSN    - default for -dsn")
}

func main() {
	driver := flag.String("driver", envOr("STATS_STORE_DRIVER", "postgres"), "database driver")
	dsn := flag.String("dsn", envOr("STATS_STORE_DSN", "postgres://localhost:5432/ledgerstats?sslmode=disable"), "database DSN")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() != 1 {
		usage()
		os.Exit(1)
	}

	logger := observability.NewLogger("migrate")
	ctx := context.Background()

	db, err := persistence.Open(ctx, *driver, *dsn, persistence.DefaultPoolConfig())
	if err != nil {
		logger.Fatal().Err(err).Msg("open database")
	}
	defer db.Close()

	migrator := persistence.NewMigrator(db, migrations.FS, logger)

	switch flag.Arg(0) {
	case "up":
		n, err := migrator.Up(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate up")
		}
		logger.Info().Int("applied", n).Msg("all migrations applied")

	case "down":
		rolled, err := migrator.Down(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate down")
		}
		if rolled {
			logger.Info().Msg("last migration rolled back")
		} else {
			logger.Info().Msg("nothing to roll back")
		}

	case "status":
		statuses, err := migrator.Status(ctx)
		if err != nil {
			logger.Fatal().Err(err).Msg("migrate status")
		}
		for _, s := range statuses {
			state := "pending"
			if s.Applied {
				state = "applied"
			}
			fmt.Printf("%s  %-8s %s\n", s.Version, state, s.File)
		}

	default:
		fmt.Fprintf(os.Stderr, "unknown command: %s\n", flag.Arg(0))
		usage()
		os.Exit(1)
	}
}

func envOr(key, def string) string {
	if v := os.Getenv(key); v != "" {
		return v
	}
	return def
}
