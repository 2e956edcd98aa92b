package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/franchisepos/inventory/cmd/posctl/cli"
	"github.com/franchisepos/inventory/internal/app"
	"github.com/franchisepos/inventory/jobs"
)

const usage = `usage: posctl <command> [flags]

commands:
  seed        enqueue report seeding (--date YYYY-MM-DD, --location ID)
  cleanup     enqueue idempotency key cleanup (--retention 168h)
  queue       show default queue state
  scheduled   list scheduled tasks (--size N)
`

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}

func run(args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return 2
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return 1
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	jobsCLI := cli.NewJobsCLI(cfg.RedisAddr)
	defer func() { _ = jobsCLI.Close() }()

	cmd, rest := args[0], args[1:]
	fs := flag.NewFlagSet(cmd, flag.ContinueOnError)
	fs.SetOutput(stderr)
	switch cmd {
	case "seed":
		date := fs.String("date", "", "report date (YYYY-MM-DD), default today")
		location := fs.Int64("location", 0, "single location id, default all")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return jobsCLI.SeedCommand(ctx, cli.SeedOptions{Date: *date, LocationID: *location})
	case "cleanup":
		retention := fs.Duration("retention", jobs.DefaultKeyRetention, "purge keys older than this")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return jobsCLI.CleanupCommand(ctx, *retention)
	case "queue":
		return jobsCLI.QueueCommand()
	case "scheduled":
		size := fs.Int("size", 10, "page size")
		if err := fs.Parse(rest); err != nil {
			return 2
		}
		return jobsCLI.ScheduledCommand(*size)
	default:
		_, _ = fmt.Fprintf(stderr, "unknown command %q\n\n%s", cmd, usage)
		return 2
	}
}

