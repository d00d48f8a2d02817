package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/TobiSchelling/jobcheck/internal/auth"
	"github.com/TobiSchelling/jobcheck/internal/config"
	"github.com/TobiSchelling/jobcheck/internal/database"
	"github.com/TobiSchelling/jobcheck/internal/logging"
	"github.com/TobiSchelling/jobcheck/internal/server"
)

var version = "dev"

var (
	verbose    bool
	configPath string
	cfg        *config.Config
	logger     = slog.Default()
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:     "jobcheck",
	Short:   "Check job postings for fraud",
	Long:    "jobcheck submits job postings (text, URL, CSV batch or screenshot) to a fraud analysis backend and reports the verdict.",
	Version: version,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		// Skip config loading for init and version
		if cmd.Name() == "init" || cmd.Name() == "version" {
			return nil
		}

		path, err := config.ResolveConfigPath(configPath)
		if err != nil {
			return err
		}
		cfg, err = config.Load(path)
		if err != nil {
			return fmt.Errorf("loading config: %w", err)
		}
		logger = logging.Setup(cfg.Logging, verbose)
		logger.Debug("Config loaded", "path", path, "backend", cfg.Backend.BaseURL)
		return nil
	},
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")

	rootCmd.AddCommand(initCmd)
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(statusCmd)
	rootCmd.AddCommand(serveCmd)
	rootCmd.AddCommand(loginCmd)
	rootCmd.AddCommand(logoutCmd)
	rootCmd.AddCommand(whoamiCmd)
}

var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version",
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("jobcheck", version)
	},
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize configuration in ~/.config/jobcheck/",
	RunE: func(cmd *cobra.Command, args []string) error {
		target := filepath.Join(config.ConfigDir(), "config.yaml")
		if _, err := os.Stat(target); err == nil {
			fmt.Printf("Config already exists: %s\n", target)
			return nil
		}

		if err := os.MkdirAll(config.ConfigDir(), 0o755); err != nil {
			return fmt.Errorf("creating config directory: %w", err)
		}

		if err := os.WriteFile(target, config.DefaultConfigYAML, 0o644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}

		fmt.Printf("Created config: %s\n", target)
		fmt.Println("Edit it to point backend.base_url at your analysis server.")
		return nil
	},
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Show local journal and credential status",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		stats, err := db.GetStats()
		if err != nil {
			return fmt.Errorf("getting stats: %w", err)
		}

		fmt.Printf("Backend: %s\n", cfg.Backend.BaseURL)
		fmt.Printf("Journal: %s\n\n", db.Path())
		fmt.Println("Analyses:")
		fmt.Printf("  Total: %d\n", stats.Analyses)
		fmt.Printf("  Fake: %d\n", stats.FakeVerdicts)
		fmt.Printf("  Real: %d\n", stats.RealVerdicts)
		fmt.Println("\nBatch runs:")
		fmt.Printf("  Runs: %d\n", stats.BulkRuns)
		fmt.Printf("  Rows analyzed: %d\n", stats.BulkRows)
		fmt.Println("\nActions:")
		fmt.Printf("  Feedback sent: %d\n", stats.FeedbackGiven)
		fmt.Printf("  Reports filed: %d\n", stats.Flags)
		fmt.Println("\nCache:")
		fmt.Printf("  History entries: %d\n", stats.HistoryCached)
		fmt.Printf("  Company checks: %d\n", stats.CompanyChecks)
		fmt.Println("\nCredential:")
		printCredential(tokenStore())
		return nil
	},
}

var servePort int

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Start the local dashboard",
	RunE: func(cmd *cobra.Command, args []string) error {
		db, err := openDB()
		if err != nil {
			return err
		}
		defer db.Close()

		port := cfg.Server.Port
		if cmd.Flags().Changed("port") {
			port = servePort
		}
		fmt.Printf("Starting dashboard at http://localhost:%d\n", port)
		fmt.Println("Press Ctrl+C to stop")
		return server.Serve(db, port, logger)
	},
}

func init() {
	serveCmd.Flags().IntVarP(&servePort, "port", "p", 8090, "Port to run the dashboard on")
}

func openDB() (*database.DB, error) {
	dataDir := cfg.GetDataDir()
	if err := os.MkdirAll(dataDir, 0o755); err != nil {
		return nil, fmt.Errorf("creating data directory: %w", err)
	}
	dbPath := filepath.Join(dataDir, "jobcheck.db")
	return database.Open(dbPath)
}

func tokenStore() *auth.Store {
	return auth.NewStore(filepath.Join(cfg.GetDataDir(), "token"), cfg.Auth.TokenEnv, cfg.Auth.EnvFiles...)
}
