package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"gridmatch/internal/coarsematch"
	"gridmatch/internal/config"
	"gridmatch/internal/database/postgres"
	"gridmatch/internal/web"
	"gridmatch/internal/web/handlers"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the matching web server",
	Long: `Start the gridmatch web server.
The server accepts feature grids over HTTP, runs the matcher, and returns
correspondences. With DATABASE_URL set, match results can be stored and
queried later.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	serveCmd.Flags().Int("port", 0, "Port to listen on (0 = use PORT env or 8080)")
	serveCmd.Flags().String("host", "0.0.0.0", "Host to bind to")
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := config.Load()

	matcher, err := coarsematch.New(cfg.Matcher.ToMatcher())
	if err != nil {
		return fmt.Errorf("invalid matcher configuration: %w", err)
	}

	var store handlers.MatchStore
	if cfg.Database.URL != "" {
		fmt.Println("Connecting to PostgreSQL...")
		if err := postgres.Initialize(&cfg.Database); err != nil {
			return fmt.Errorf("failed to initialize PostgreSQL: %w", err)
		}
		store = postgres.NewMatchRepository(postgres.GetGlobalPool())
		applied, err := postgres.GetGlobalPool().AppliedMigrations(context.Background())
		if err != nil {
			return fmt.Errorf("failed to read schema state: %w", err)
		}
		fmt.Printf("Match persistence enabled (PostgreSQL, %d migrations applied)\n", len(applied))
	} else {
		fmt.Println("DATABASE_URL not set, match persistence disabled")
	}

	port := mustGetInt(cmd, "port")
	if port == 0 {
		port = cfg.Web.Port
	}
	host := mustGetString(cmd, "host")

	server := web.NewServer(matcher, store, port, host)

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, os.Interrupt, syscall.SIGTERM)

	go func() {
		<-sigChan
		fmt.Println("\nShutting down...")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(shutdownCtx); err != nil {
			fmt.Printf("Error during shutdown: %v\n", err)
		}

		if pool := postgres.GetGlobalPool(); pool != nil {
			if err := pool.Close(); err != nil {
				fmt.Printf("Error closing database: %v\n", err)
			}
		}
	}()

	fmt.Printf("Starting gridmatch server on http://%s:%d (mode: %s)\n", host, port, cfg.Matcher.Mode)
	fmt.Println("Press Ctrl+C to stop")

	if err := server.Start(); err != nil {
		return fmt.Errorf("starting server: %w", err)
	}
	return nil
}
