/*
main.go - Application entry point

PURPOSE:
  Initializes and starts the leave ledger server. Handles configuration,
  dependency injection, and graceful shutdown.

STARTUP SEQUENCE:
  1. Parse command-line flags
  2. Initialize SQLite store
  3. Load the grant schedule catalog (YAML file or built-in default)
  4. Create API handler with dependencies
  5. Start the nightly grant scheduler
  6. Start server with graceful shutdown

COMMAND-LINE FLAGS:
  -port       HTTP server port (default: 8080)
  -db         SQLite database path (default: leave.db)
              Use ":memory:" for an in-memory database
  -schedules  YAML catalog of grant schedules (optional; falls back to
              the built-in default schedule)
  -interval   Scheduler interval for roster-wide grant generation
              (default: 24h; 0 disables the scheduler)

GRACEFUL SHUTDOWN:
  On SIGINT/SIGTERM:
  1. Stop accepting new connections
  2. Wait for active requests to complete (30s timeout)
  3. Stop the scheduler and close the database
  4. Exit

EXAMPLES:
  # Run with file database and a schedule catalog
  ./server -db="./data/leave.db" -schedules="./config/schedules.yaml"

  # Run with in-memory database
  ./server -db=":memory:"

SEE ALSO:
  - api/server.go: Router configuration
  - schedule/source.go: YAML catalog format
  - store/sqlite/sqlite.go: Database implementation
*/
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/warp/leave-ledger/api"
	"github.com/warp/leave-ledger/schedule"
	"github.com/warp/leave-ledger/store/sqlite"
)

func main() {
	// Flags
	port := flag.Int("port", 8080, "HTTP server port")
	dbPath := flag.String("db", "leave.db", "SQLite database path")
	schedulesPath := flag.String("schedules", "", "YAML grant schedule catalog (empty: built-in default)")
	interval := flag.Duration("interval", 24*time.Hour, "grant generation interval (0 disables)")
	flag.Parse()

	// Initialize store
	store, err := sqlite.New(*dbPath)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer store.Close()

	// Load the schedule catalog
	catalog, err := loadCatalog(*schedulesPath)
	if err != nil {
		log.Fatalf("Failed to load schedule catalog: %v", err)
	}
	log.Printf("[Main] Schedule catalog loaded, active version: %s", catalog.ActiveVersion())

	// Initialize handler and router
	handler := api.NewHandler(store, store, catalog)
	router := api.NewRouter(handler)

	// Nightly grant generation
	scheduler := api.NewGrantScheduler(handler)
	if *interval > 0 {
		scheduler.CheckInterval = *interval
	} else {
		scheduler.Enabled = false
	}
	scheduler.Start()
	defer scheduler.Stop()

	// Create server
	server := &http.Server{
		Addr:         fmt.Sprintf(":%d", *port),
		Handler:      router,
		ReadTimeout:  15 * time.Second,
		WriteTimeout: 15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	// Start server in goroutine
	go func() {
		log.Printf("[Main] Server starting on http://localhost:%d", *port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("Server failed: %v", err)
		}
	}()

	// Wait for interrupt signal
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("Shutting down server...")

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := server.Shutdown(ctx); err != nil {
		log.Fatalf("Server forced to shutdown: %v", err)
	}

	log.Println("Server stopped")
}

func loadCatalog(path string) (*schedule.Catalog, error) {
	if path == "" {
		catalog := schedule.NewCatalog()
		if err := catalog.RegisterActive(schedule.Default("2024-standard")); err != nil {
			return nil, err
		}
		return catalog, nil
	}
	return schedule.LoadCatalogFile(path)
}
