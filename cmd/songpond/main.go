// Command songpond runs the emergent-chorus agent simulation engine.
package main

import (
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/talgya/songpond/internal/api"
	"github.com/talgya/songpond/internal/config"
	"github.com/talgya/songpond/internal/engine"
	"github.com/talgya/songpond/internal/entropy"
	"github.com/talgya/songpond/internal/persistence"
)

var (
	flagConfig string
	flagSeed   int64
	flagDB     string
	flagRun    string
	flagLimit  int
)

func main() {
	root := &cobra.Command{
		Use:   "songpond",
		Short: "Phase-coupled chorus simulation engine",
	}
	root.PersistentFlags().StringVar(&flagConfig, "config", "", "path to YAML config")

	runCmd := &cobra.Command{
		Use:   "run",
		Short: "Run the simulation and serve renderers",
		RunE:  runSimulation,
	}
	runCmd.Flags().Int64Var(&flagSeed, "seed", 0, "override the random seed (0 = from config)")

	replayCmd := &cobra.Command{
		Use:   "replay",
		Short: "Print a recorded run's notes",
		RunE:  replayRun,
	}
	replayCmd.Flags().StringVar(&flagDB, "db", "", "database path (default from config)")
	replayCmd.Flags().StringVar(&flagRun, "run", "", "run ID (default latest)")
	replayCmd.Flags().IntVar(&flagLimit, "limit", 0, "cap printed notes (0 = all)")

	root.AddCommand(runCmd, replayCmd)
	if err := root.Execute(); err != nil {
		os.Exit(1)
	}
}

func runSimulation(cmd *cobra.Command, args []string) error {
	logger := slog.New(slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}))
	slog.SetDefault(logger)

	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	if flagSeed != 0 {
		cfg.Seed = flagSeed
	}

	slog.Info("songpond starting")

	rng := entropy.NewSource(cfg.Seed)

	// ── Recorder ──────────────────────────────────────────────────────
	var rec *persistence.Recorder
	if cfg.DB.Path != "" {
		os.MkdirAll(filepath.Dir(cfg.DB.Path), 0755)
		rec, err = persistence.Open(cfg.DB.Path)
		if err != nil {
			slog.Warn("recorder unavailable, continuing without", "error", err)
			rec = nil
		} else {
			defer rec.Close()
			slog.Info("recorder opened", "path", cfg.DB.Path)
		}
	}

	// ── Engine + transport ────────────────────────────────────────────
	sim := engine.NewSimulation(cfg, rng, nil, rec)
	eng := engine.NewEngine(sim, time.Duration(cfg.TickSeconds*float64(time.Second)))

	hub := api.NewHub(eng)
	sim.SetEmitter(hub)
	go hub.Run()

	server := &api.Server{Eng: eng, Hub: hub, Rec: rec, Port: cfg.Server.Port}
	server.Start()

	// ── Start ─────────────────────────────────────────────────────────
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		sig := <-sigCh
		slog.Info("received signal, shutting down", "signal", sig)
		eng.Shutdown()
	}()

	eng.Submit(engine.Command{Kind: engine.CmdStart})

	fmt.Printf("Songpond is singing: %d agents, seed %d.\n", cfg.Spawn.Count, rng.Seed())
	fmt.Printf("Renderers: ws://localhost:%d/ws, status: http://localhost:%d/api/v1/status\n",
		cfg.Server.Port, cfg.Server.Port)
	fmt.Println("Ctrl+C to stop.")

	eng.Run()
	return nil
}

func replayRun(cmd *cobra.Command, args []string) error {
	cfg, err := config.Load(flagConfig)
	if err != nil {
		return err
	}
	dbPath := flagDB
	if dbPath == "" {
		dbPath = cfg.DB.Path
	}
	if dbPath == "" {
		return fmt.Errorf("no database path given")
	}

	rec, err := persistence.Open(dbPath)
	if err != nil {
		return err
	}
	defer rec.Close()

	runID := flagRun
	if runID == "" {
		runID, err = rec.LatestRun()
		if err != nil {
			return fmt.Errorf("no recorded runs: %w", err)
		}
	}

	notes, err := rec.RunNotes(runID)
	if err != nil {
		return err
	}
	if flagLimit > 0 && len(notes) > flagLimit {
		notes = notes[:flagLimit]
	}

	fmt.Printf("run %s: %d notes\n", runID, len(notes))
	for _, n := range notes {
		fmt.Printf("t=%9.3f tick=%6d agent=%2d degree=%2d freq=%8.2fHz dur=%.2fs amp=%.2f\n",
			n.StartTime, n.Tick, n.Agent, n.Degree, n.Frequency, n.Duration, n.Amplitude)
	}
	return nil
}
