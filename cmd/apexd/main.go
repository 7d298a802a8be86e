package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/api"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/artifact"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/bus"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cache"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/config"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/cost"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/log"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/orchestrator"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/provider"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/publish"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/ratelimit"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/router"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/security"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/stage"
	"github.com/JnrDevClaw/Apex-Coder-sub005/pkg/store"
)

var (
	// Version information (set via ldflags during build)
	Version   = "dev"
	Commit    = "unknown"
	BuildTime = "unknown"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "apexd",
	Short: "Apex Coder - build pipeline for AI-generated applications",
	Long: `Apex Coder turns an application specification into a generated,
published and deployed codebase through a twelve-stage AI pipeline.

apexd runs the orchestrator, the model router and the control API as a
single binary.`,
	Version: Version,
}

func init() {
	rootCmd.SetVersionTemplate(fmt.Sprintf(
		"Apex Coder version %s\nCommit: %s\nBuilt: %s\n",
		Version, Commit, BuildTime,
	))

	rootCmd.AddCommand(serverCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(configCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Printf("Apex Coder version %s\nCommit: %s\nBuilt: %s\n", Version, Commit, BuildTime)
	},
}

var serverCmd = &cobra.Command{
	Use:   "server",
	Short: "Run the orchestrator and control API",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return fmt.Errorf("failed to load configuration: %v", err)
		}
		if v, _ := cmd.Flags().GetString("listen"); v != "" {
			cfg.ListenAddr = v
		}
		if v, _ := cmd.Flags().GetString("data-dir"); v != "" {
			cfg.DataDir = v
		}
		if v, _ := cmd.Flags().GetString("work-root"); v != "" {
			cfg.WorkRoot = v
		}

		log.Init(log.Config{Level: log.Level(cfg.LogLevel), JSONOutput: cfg.LogJSON})

		if err := resolveProviderKeys(cfg); err != nil {
			return err
		}

		st, err := store.NewBoltStore(cfg.DataDir)
		if err != nil {
			return fmt.Errorf("failed to open build store: %v", err)
		}
		defer st.Close()

		artifacts, err := artifact.NewStore(cfg.WorkRoot)
		if err != nil {
			return fmt.Errorf("failed to open artifact store: %v", err)
		}

		respCache := cache.NewCache(cfg.Cache.MaxEntries, cfg.Cache.TTL, cfg.Cache.CleanupInterval)
		respCache.Start()
		defer respCache.Stop()

		registry := provider.NewRegistry(cfg.Roles)
		limits := make(map[string]ratelimit.Settings, len(cfg.Providers))
		for name, p := range cfg.Providers {
			switch p.Type {
			case "mock":
				registry.Register(provider.NewMockAdapter(name, p.Models))
			default:
				registry.Register(provider.NewHTTPChatAdapter(name, p))
			}
			limits[name] = ratelimit.Settings{
				MaxConcurrent:    p.MaxConcurrent,
				MinInterval:      p.MinInterval,
				BreakerThreshold: p.BreakerThreshold,
				BreakerCooldown:  p.BreakerCooldown,
			}
		}
		unresolved := registry.Validate()

		tracker := cost.NewTracker(cfg.Cost.RetentionDays)
		controller := cost.NewController(cfg.Cost, tracker, nil)
		modelRouter := router.NewRouter(registry, ratelimit.NewManager(limits), respCache, controller, st)

		progressBus := bus.NewBus(cfg.Bus.History, cfg.Bus.SubscriberBuffer)

		env := &stage.Env{
			Artifacts: artifacts,
			Router:    modelRouter,
			Bus:       progressBus,
			Hoster:    publish.NewLocalHoster(""),
			Deployer:  publish.NewLocalDeployer("", ""),
		}

		orch := orchestrator.New(cfg, st, progressBus, env, controller, unresolved)
		if err := orch.Start(); err != nil {
			return fmt.Errorf("failed to start orchestrator: %v", err)
		}
		fmt.Println("✓ Orchestrator started")

		retentionDone := make(chan struct{})
		go runRetention(st, tracker, cfg.Cost.RetentionDays, retentionDone)

		apiServer := api.NewServer(cfg, orch, progressBus, modelRouter, controller, tracker)
		errCh := make(chan error, 1)
		go func() {
			if err := apiServer.Start(); err != nil {
				errCh <- fmt.Errorf("API server error: %v", err)
			}
		}()
		fmt.Printf("✓ Control API listening on %s\n", cfg.ListenAddr)
		fmt.Println()
		fmt.Println("apexd is running. Press Ctrl+C to stop.")

		sigCh := make(chan os.Signal, 1)
		signal.Notify(sigCh, os.Interrupt, syscall.SIGTERM)

		select {
		case <-sigCh:
			fmt.Println("\nShutting down...")
		case err := <-errCh:
			fmt.Fprintf(os.Stderr, "\nError: %v\n", err)
		}

		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := apiServer.Shutdown(ctx); err != nil {
			fmt.Fprintf(os.Stderr, "API shutdown error: %v\n", err)
		}
		close(retentionDone)
		orch.Stop()

		fmt.Println("✓ Shutdown complete")
		return nil
	},
}

var configCmd = &cobra.Command{
	Use:   "config",
	Short: "Inspect configuration",
}

var configCheckCmd = &cobra.Command{
	Use:   "check",
	Short: "Load and validate the configuration",
	RunE: func(cmd *cobra.Command, args []string) error {
		configPath, _ := cmd.Flags().GetString("config")
		cfg, err := config.Load(configPath)
		if err != nil {
			return err
		}

		fmt.Printf("Listen address: %s\n", cfg.ListenAddr)
		fmt.Printf("Data directory: %s\n", cfg.DataDir)
		fmt.Printf("Work root:      %s\n", cfg.WorkRoot)
		fmt.Printf("Workers:        %d\n", cfg.Workers)

		providers := make([]string, 0, len(cfg.Providers))
		for name := range cfg.Providers {
			providers = append(providers, name)
		}
		sort.Strings(providers)
		fmt.Printf("Providers:      %v\n", providers)

		roles := make([]string, 0, len(cfg.Roles))
		for name := range cfg.Roles {
			roles = append(roles, name)
		}
		sort.Strings(roles)
		fmt.Printf("Roles:          %v\n", roles)

		fmt.Println("✓ Configuration is valid")
		return nil
	},
}

func init() {
	serverCmd.Flags().String("config", "", "Path to YAML configuration file")
	serverCmd.Flags().String("listen", "", "Listen address for the control API")
	serverCmd.Flags().String("data-dir", "", "Data directory for the build store")
	serverCmd.Flags().String("work-root", "", "Root directory for build artifacts")

	configCmd.AddCommand(configCheckCmd)
	configCheckCmd.Flags().String("config", "", "Path to YAML configuration file")
}

// resolveProviderKeys decrypts sealed api keys using the master key from
// the environment. Plaintext keys pass through unchanged.
func resolveProviderKeys(cfg *config.Config) error {
	var km *security.KeyManager
	for name, p := range cfg.Providers {
		if !security.IsSealed(p.APIKey) {
			continue
		}
		if km == nil {
			master := os.Getenv("APEX_MASTER_KEY")
			if master == "" {
				return fmt.Errorf("provider %s has a sealed api key but APEX_MASTER_KEY is not set", name)
			}
			var err error
			km, err = security.NewKeyManagerFromPassword(master)
			if err != nil {
				return fmt.Errorf("failed to derive master key: %v", err)
			}
		}
		resolved, err := km.Resolve(p.APIKey)
		if err != nil {
			return fmt.Errorf("failed to decrypt api key for provider %s: %v", name, err)
		}
		p.APIKey = resolved
		cfg.Providers[name] = p
	}
	return nil
}

// runRetention prunes old call records and tracker aggregates once a
// day until done closes.
func runRetention(st store.Store, tracker *cost.Tracker, retentionDays int, done <-chan struct{}) {
	if retentionDays < 1 {
		retentionDays = 30
	}
	ticker := time.NewTicker(24 * time.Hour)
	defer ticker.Stop()

	for {
		select {
		case <-done:
			return
		case <-ticker.C:
			cutoff := time.Now().UTC().AddDate(0, 0, -retentionDays)
			if n, err := st.PruneCallRecords(cutoff); err != nil {
				log.WithComponent("retention").Error().Err(err).Msg("Failed to prune call records")
			} else if n > 0 {
				log.WithComponent("retention").Info().Int("pruned", n).Msg("Old call records removed")
			}
			tracker.Prune()
		}
	}
}
