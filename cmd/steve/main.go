package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/redis/go-redis/v9"

	"github.com/djh00t/steve/internal/auth"
	"github.com/djh00t/steve/internal/bus"
	"github.com/djh00t/steve/internal/config"
	"github.com/djh00t/steve/internal/metrics"
	"github.com/djh00t/steve/internal/orchestrator"
	"github.com/djh00t/steve/internal/persistence"
	"github.com/djh00t/steve/internal/registry"
	"github.com/djh00t/steve/internal/state"
	"github.com/djh00t/steve/internal/tui"
)

func main() {
	demo := flag.Int("demo", 0, "register N simulated worker agents")
	headless := flag.Bool("headless", false, "run without the dashboard even when enabled in config")
	flag.Parse()

	// Create signal-aware context for graceful shutdown
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// Determine config paths
	homeDir, err := os.UserHomeDir()
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error getting home directory: %v\n", err)
		os.Exit(1)
	}
	globalPath := filepath.Join(homeDir, ".steve", "config.json")
	projectPath := filepath.Join(".steve", "config.json")

	cfg, err := config.Load(globalPath, projectPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
		os.Exit(1)
	}

	// Open the task store
	var store *persistence.SQLiteStore
	if cfg.Store.Memory {
		store, err = persistence.NewMemoryStore(ctx)
	} else {
		store, err = persistence.NewSQLiteStore(ctx, cfg.Store.Path)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error opening store: %v\n", err)
		os.Exit(1)
	}
	defer store.Close()

	// Agent transport and session state share one Redis connection when
	// configured; otherwise both stay in-process.
	var (
		transport bus.Bus
		sessions  *state.Manager
	)
	if cfg.Redis.Enabled {
		client := redis.NewClient(&redis.Options{
			Addr:     cfg.Redis.Addr,
			Password: cfg.Redis.Password,
			DB:       cfg.Redis.DB,
		})
		if err := client.Ping(ctx).Err(); err != nil {
			fmt.Fprintf(os.Stderr, "Error connecting to redis at %s: %v\n", cfg.Redis.Addr, err)
			os.Exit(1)
		}
		defer client.Close()
		transport = bus.NewRedis(client)
		sessions = state.NewRedis(client, state.Options{})
	} else {
		transport = bus.NewMemory()
		sessions = state.NewMemory(state.Options{})
	}
	defer transport.Close()

	m := metrics.New()

	svc := orchestrator.NewService(orchestrator.Options{
		Bus:     transport,
		Store:   store,
		Audit:   store,
		State:   sessions,
		Metrics: m,

		MatchInterval:     time.Duration(cfg.Scheduler.MatchInterval),
		HeartbeatInterval: time.Duration(cfg.Scheduler.HeartbeatInterval),
		ReclaimOrphans:    cfg.Scheduler.ReclaimOrphans,
		Strategy:          cfg.Scheduler.Strategy,

		Capacities:  cfg.Leveler.Capacities,
		MaxAdvances: cfg.Leveler.MaxAdvances,

		PrivilegedCapabilities: cfg.Auth.PrivilegedCapabilities,
	})

	if err := svc.Start(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "Error starting service: %v\n", err)
		os.Exit(1)
	}
	defer svc.Stop()

	applyGrants(svc, cfg.Auth.Grants)

	// Re-open planning sessions persisted by a previous run
	if n, err := svc.RecoverSessions(ctx); err != nil {
		log.Printf("WARNING: session recovery failed: %v", err)
	} else if n > 0 {
		log.Printf("Recovered %d planning sessions", n)
	}

	// Ops endpoint: Prometheus metrics and a health probe. An empty addr
	// disables the listener.
	var ops *http.Server
	if cfg.Ops.Addr != "" {
		ops = &http.Server{Addr: cfg.Ops.Addr, Handler: opsHandler(svc, m)}
		go func() {
			if err := ops.ListenAndServe(); err != nil && err != http.ErrServerClosed {
				log.Printf("ERROR: ops server: %v", err)
			}
		}()
	}

	// Demo mode: simulated workers that execute assignments in-process
	for i := 0; i < *demo; i++ {
		agent := orchestrator.NewLocalAgent(svc, fmt.Sprintf("demo-%d", i+1), orchestrator.LocalAgentOptions{
			Capabilities:  registry.NewCapabilities("go", "docs", "review"),
			MaxConcurrent: 2,
			Work:          2 * time.Second,
		})
		go func() {
			if err := agent.Run(ctx); err != nil {
				log.Printf("WARNING: demo agent %s: %v", agent.Name, err)
			}
		}()
	}

	if cfg.Dashboard.Enabled && !*headless {
		runDashboard(ctx, stop, svc, cfg, globalPath, projectPath)
	} else {
		log.Println("steve running; Ctrl+C to exit")
		<-ctx.Done()
		stop()
		log.Println("Shutdown signal received, cleaning up...")
	}

	if ops != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := ops.Shutdown(shutdownCtx); err != nil {
			log.Printf("WARNING: ops server shutdown: %v", err)
		}
	}
	log.Println("Shutdown complete")
}

// runDashboard drives the Bubble Tea program until the user quits or a
// shutdown signal arrives.
func runDashboard(ctx context.Context, stop context.CancelFunc, svc *orchestrator.Service, cfg *config.Config, globalPath, projectPath string) {
	model := tui.New(svc, svc.Events(), cfg, globalPath, projectPath)
	p := tea.NewProgram(model, tea.WithAltScreen())

	errChan := make(chan error, 1)
	go func() {
		_, err := p.Run()
		errChan <- err
	}()

	select {
	case err := <-errChan:
		// Normal exit (user pressed 'q')
		if err != nil {
			log.Printf("ERROR: dashboard: %v", err)
		}
	case <-ctx.Done():
		// Call stop() to restore default signal handling (double Ctrl+C =
		// force exit)
		stop()
		log.Println("Shutdown signal received, cleaning up...")
		p.Quit()

		waitCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		select {
		case err := <-errChan:
			if err != nil {
				log.Printf("Dashboard exit error: %v", err)
			}
		case <-waitCtx.Done():
			log.Println("Shutdown timeout exceeded, forcing exit")
		}
	}
}

// applyGrants issues the statically configured security contexts and
// reports how many were granted. A bad grant is logged and skipped, never
// fatal.
func applyGrants(svc *orchestrator.Service, grants []config.GrantConfig) int {
	issued := 0
	for _, g := range grants {
		level, ok := auth.ParseLevel(g.Level)
		if !ok {
			log.Printf("WARNING: skipping grant for %s: unknown level %q", g.Agent, g.Level)
			continue
		}
		if _, err := svc.Auth().CreateContext(g.Agent, g.Permissions, level, 0); err != nil {
			log.Printf("WARNING: grant for %s failed: %v", g.Agent, err)
			continue
		}
		issued++
	}
	return issued
}

// opsHandler serves the operational surface: Prometheus metrics and a
// JSON health probe.
func opsHandler(svc *orchestrator.Service, m *metrics.Metrics) http.Handler {
	mux := http.NewServeMux()
	mux.Handle("/metrics", m.Handler())
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		if err := json.NewEncoder(w).Encode(svc.Health()); err != nil {
			log.Printf("WARNING: health encode: %v", err)
		}
	})
	return mux
}
