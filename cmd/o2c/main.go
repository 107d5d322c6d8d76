package main

import (
	"context"
	"flag"
	"fmt"
	"io"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/odyssey-erp/odyssey-o2c/cmd/o2c/cli"
	"github.com/odyssey-erp/odyssey-o2c/internal/app"
)

const usage = `usage: o2c <command> [flags]

commands:
  run    -doc kind:id -verb VERB -company N -branch N -user N [-reason TEXT] [-json]
  show   -doc kind:id [-json]
  history -doc kind:id [-page N] [-csv]
  jobs   integrity [-company N] | stats [-queue NAME] | archived [-size N] | requeue
`

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	code := run(ctx, os.Args[1:], os.Stdout, os.Stderr)
	stop()
	os.Exit(code)
}

func run(ctx context.Context, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
	cfg, err := app.LoadConfig()
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "load config: %v\n", err)
		return cli.ExitFailure
	}
	logger := app.NewLogger(cfg)

	switch args[0] {
	case "run", "show", "history":
		return runDocuments(ctx, cfg, logger, args, stdout, stderr)
	case "jobs":
		return runJobs(ctx, cfg, args[1:], stdout, stderr)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
}

func runDocuments(ctx context.Context, cfg *app.Config, logger *slog.Logger, args []string, stdout, stderr io.Writer) int {
	fs := flag.NewFlagSet(args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	doc := fs.String("doc", "", "document reference, e.g. delivery:42")
	verb := fs.String("verb", "", "operation to apply (run only)")
	company := fs.Int64("company", 0, "company id")
	branch := fs.Int64("branch", 0, "branch id")
	companyCode := fs.String("company-code", "", "company code used in document numbers")
	branchCode := fs.String("branch-code", "", "branch code used in document numbers")
	user := fs.Int64("user", 0, "acting user id")
	reason := fs.String("reason", "", "cancellation reason")
	asJSON := fs.Bool("json", false, "print JSON")
	page := fs.Int("page", 1, "history page")
	asCSV := fs.Bool("csv", false, "print full history as CSV")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.ExitFailure
	}

	stack, err := app.Build(ctx, cfg, logger)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "build stack: %v\n", err)
		return cli.ExitFailure
	}
	defer stack.Close()

	documents := cli.NewDocumentsCLI(cli.Services{
		Orders:     stack.Orders,
		Deliveries: stack.Deliveries,
		Invoices:   stack.Invoices,
		Returns:    stack.Returns,
		Registry:   stack.Registry,
		History:    stack.History,
	})
	switch args[0] {
	case "show":
		return documents.ShowCommand(ctx, cli.ShowOptions{Ref: *doc, JSONOutput: *asJSON, Stdout: stdout, Stderr: stderr})
	case "history":
		return documents.HistoryCommand(ctx, cli.HistoryOptions{Ref: *doc, Page: *page, CSVOutput: *asCSV, Stdout: stdout, Stderr: stderr})
	}
	return documents.RunCommand(ctx, cli.RunOptions{
		Ref:         *doc,
		Verb:        *verb,
		CompanyID:   *company,
		BranchID:    *branch,
		CompanyCode: *companyCode,
		BranchCode:  *branchCode,
		UserID:      *user,
		Reason:      *reason,
		JSONOutput:  *asJSON,
		Stdout:      stdout,
		Stderr:      stderr,
	})
}

func runJobs(ctx context.Context, cfg *app.Config, args []string, stdout, stderr io.Writer) int {
	if len(args) == 0 {
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
	fs := flag.NewFlagSet("jobs "+args[0], flag.ContinueOnError)
	fs.SetOutput(stderr)
	company := fs.Int64("company", 0, "company to scan, zero for all")
	grace := fs.Duration("grace", time.Hour, "age after which a posting without inbox row counts as lost")
	queue := fs.String("queue", "", "queue to inspect")
	size := fs.Int("size", 20, "page size")
	if err := fs.Parse(args[1:]); err != nil {
		return cli.ExitFailure
	}

	jobsCLI, err := cli.NewJobsCLI(cfg.RedisAddr)
	if err != nil {
		_, _ = fmt.Fprintf(stderr, "jobs: %v\n", err)
		return cli.ExitFailure
	}
	defer jobsCLI.Close()

	switch args[0] {
	case "integrity":
		info, err := jobsCLI.TriggerIntegrity(ctx, *company, *grace)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs integrity: %v\n", err)
			return cli.ExitFailure
		}
		_, _ = fmt.Fprintf(stdout, "enqueued %s on %s\n", info.ID, info.Queue)
	case "stats":
		stats, err := jobsCLI.InspectQueue(ctx, *queue)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs stats: %v\n", err)
			return cli.ExitFailure
		}
		_, _ = fmt.Fprintf(stdout, "%s pending=%d active=%d scheduled=%d retry=%d archived=%d\n",
			stats.Queue, stats.Pending, stats.Active, stats.Scheduled, stats.Retry, stats.Archived)
	case "archived":
		tasks, err := jobsCLI.ListArchived(ctx, *size)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs archived: %v\n", err)
			return cli.ExitFailure
		}
		for _, t := range tasks {
			_, _ = fmt.Fprintf(stdout, "%s %s %s\n", t.ID, t.LastFailedAt.Format(time.RFC3339), t.LastErr)
		}
	case "requeue":
		n, err := jobsCLI.RequeueArchived(ctx)
		if err != nil {
			_, _ = fmt.Fprintf(stderr, "jobs requeue: %v\n", err)
			return cli.ExitFailure
		}
		_, _ = fmt.Fprintf(stdout, "requeued %d accounting events\n", n)
	default:
		_, _ = fmt.Fprint(stderr, usage)
		return cli.ExitFailure
	}
	return cli.ExitOK
}
