// Package main is the entrypoint for apprunner.
package main

import (
	"context"
	"fmt"
	"io"
	"log"
	"os"
	"text/tabwriter"

	"github.com/morezero/apprunner/internal/config"
	"github.com/morezero/apprunner/internal/server"
	"github.com/morezero/apprunner/pkg/db"
	"github.com/morezero/apprunner/pkg/dispatcher"
)

const usage = `Usage: apprunner [command]
       apprunner serve                  Start the host (HTTP, NATS dispatch subject).
       apprunner run <ref> [args...]    Run one script and print its response body.
       apprunner list                   List registered scripts.
       apprunner migrate                Run database migrations.

Commands:
  serve     (default) Start apprunner.
  run       Dispatch <ref> (e.g. blog@^2.1.0) with the path arguments; exits 1 on failure.
  list      Print every registered script version.
  migrate   Apply pending migrations from MIGRATION_PATH.

Environment: APPRUNNER_MANIFEST_FILE, APPRUNNER_TEMPLATE_GLOB, DATABASE_URL, MIGRATION_PATH,
COMMS_URL, COMMS_ENABLED, APPRUNNER_HTTP_ADDR (default :8080), LOG_LEVEL. See README.
`

func main() {
	args := os.Args[1:]
	cmd := ""
	if len(args) > 0 && args[0] != "" {
		cmd = args[0]
	}

	switch cmd {
	case "run":
		if len(args) < 2 {
			log.Fatalf("apprunner run: require a script reference")
		}
		if err := withHost(func(ctx context.Context, host *server.Host) error {
			return runScript(ctx, host, os.Stdout, args[1], args[2:])
		}); err != nil {
			log.Fatalf("apprunner run: %v", err)
		}
		return
	case "list":
		if err := withHost(func(_ context.Context, host *server.Host) error {
			return listScripts(host, os.Stdout)
		}); err != nil {
			log.Fatalf("apprunner list: %v", err)
		}
		return
	case "migrate":
		if err := runMigrate(); err != nil {
			log.Fatalf("apprunner migrate: %v", err)
		}
		return
	case "help", "-h", "--help":
		fmt.Print(usage)
		return
	case "serve", "":
		// serve (explicit or default)
		break
	default:
		fmt.Fprintf(os.Stderr, "Unknown command %q.\n%s", cmd, usage)
		os.Exit(1)
	}

	if err := server.Run(); err != nil {
		log.Fatalf("apprunner: %v", err)
	}
}

// withHost builds a host without COMMS for one-shot commands. Logs go to
// stderr so that stdout only carries command output.
func withHost(fn func(ctx context.Context, host *server.Host) error) error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	server.SetupLogging(cfg.LogLevel, os.Stderr)

	ctx := context.Background()
	host, err := server.NewHost(ctx, cfg, server.HostOptions{Database: true})
	if err != nil {
		return err
	}
	defer host.Close()
	return fn(ctx, host)
}

func runScript(ctx context.Context, host *server.Host, out io.Writer, ref string, args []string) error {
	resp, err := host.Dispatcher.Run(ctx, dispatcher.Call{
		Ref:       ref,
		Args:      args,
		Transport: dispatcher.TransportCLI,
	})
	if err != nil {
		detail, status := dispatcher.ToErrorDetail(err)
		return fmt.Errorf("%d %s: %s", status, detail.Code, detail.Message)
	}
	if _, err := out.Write(resp.Body()); err != nil {
		return fmt.Errorf("write body: %w", err)
	}
	return nil
}

func listScripts(host *server.Host, out io.Writer) error {
	w := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
	fmt.Fprintln(w, "SCRIPT\tVERSION\tSTATUS\tSOURCE")
	for _, e := range host.Scripts.List() {
		fmt.Fprintf(w, "%s\t%s\t%s\t%s\n", e.Name, e.Version, e.Status, e.Source)
	}
	for alias, target := range host.Scripts.Aliases() {
		fmt.Fprintf(w, "%s\t-> %s\talias\t\n", alias, target)
	}
	return w.Flush()
}

func runMigrate() error {
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}
	if err := cfg.ValidateForDB(); err != nil {
		return err
	}
	server.SetupLogging(cfg.LogLevel, os.Stderr)

	ctx := context.Background()
	pool, err := db.NewPool(ctx, cfg.DatabaseURL, db.PoolOptions{MaxConns: cfg.DBMaxConns})
	if err != nil {
		return fmt.Errorf("connect database: %w", err)
	}
	defer pool.Close()

	applied, err := db.Migrate(ctx, pool, cfg.MigrationPath)
	if err != nil {
		return fmt.Errorf("run migrations: %w", err)
	}
	for _, name := range applied {
		fmt.Printf("applied %s\n", name)
	}
	fmt.Printf("%d migrations applied.\n", len(applied))
	return nil
}
