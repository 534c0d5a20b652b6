package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/joho/godotenv"
	"golang.org/x/sync/errgroup"

	"github.com/gateql/gateql/api"
	"github.com/gateql/gateql/config"
	"github.com/gateql/gateql/execute"
	"github.com/gateql/gateql/logging"
)

const usage = `gateql - a declarative data API gateway

Usage:
  gateql serve [config-file]   Start the gateway (default gateql.json)
  gateql check [config-file]   Validate a configuration file and exit

Options:
  -h, --help    Show this help message

The configuration file declares the database connection, the entities to
expose, and the per-role permissions. Values written as @env('NAME') are
resolved from the environment. A .env file in the working directory is
loaded first when present, and GATEQL_DB_PASSWORD overrides the password
in the connection URL.
`

const defaultConfigPath = "gateql.json"

func main() {
	if len(os.Args) < 2 {
		fmt.Print(usage)
		os.Exit(0)
	}

	cmd := os.Args[1]
	path := defaultConfigPath
	if len(os.Args) > 2 {
		path = os.Args[2]
	}

	switch cmd {
	case "-h", "--help", "help":
		fmt.Print(usage)
		os.Exit(0)

	case "check":
		if _, err := loadConfig(path); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}
		fmt.Printf("%s is valid\n", path)

	case "serve":
		if err := serve(path); err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			os.Exit(1)
		}

	default:
		fmt.Fprintf(os.Stderr, "error: unknown command: %s\n", cmd)
		fmt.Fprintln(os.Stderr, "Run 'gateql --help' for usage.")
		os.Exit(1)
	}
}

func loadConfig(path string) (*config.Config, error) {
	// A .env beside the config keeps local secrets out of the file itself.
	_ = godotenv.Load()
	return config.Load(path)
}

func serve(path string) error {
	cfg, err := loadConfig(path)
	if err != nil {
		return err
	}

	mode := "production"
	if cfg.Development {
		mode = "development"
	}
	log := logging.ForMode(mode)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	tokens, err := tokenSource(ctx, cfg)
	if err != nil {
		return err
	}
	db, err := execute.Open(ctx, cfg.Connection, tokens, log)
	if err != nil {
		return err
	}
	defer db.Close()

	store := config.NewStore(cfg.Snapshot)
	srv := api.NewServer(cfg, store, db, log)

	httpServer := &http.Server{
		Addr:    cfg.Addr,
		Handler: srv.Handler(),
	}

	g, ctx := errgroup.WithContext(ctx)

	g.Go(func() error {
		log.Info("gateway listening",
			"addr", cfg.Addr,
			"dialect", cfg.Dialect.Name(),
			"entities", len(cfg.Snapshot.Model.Entities()),
		)
		if err := httpServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	})

	g.Go(func() error {
		return config.Watch(ctx, path, cfg, store, log)
	})

	g.Go(func() error {
		<-ctx.Done()
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	return nil
}

// tokenSource picks the database credential hook: RDS IAM tokens when the
// config asks for them, a password from the environment when one is set,
// otherwise whatever credential the connection URL itself carries.
func tokenSource(ctx context.Context, cfg *config.Config) (execute.TokenSource, error) {
	if cfg.IAMAuth {
		if cfg.AWSRegion != "" {
			os.Setenv("AWS_REGION", cfg.AWSRegion)
		}
		return execute.NewIAMTokens(ctx, cfg.Connection)
	}
	if password := os.Getenv("GATEQL_DB_PASSWORD"); password != "" {
		return execute.StaticToken(password), nil
	}
	return nil, nil
}
