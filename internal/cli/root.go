// Package cli wires the library core into the reglens command tree.
package cli

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/reglens/reglens/internal/cache"
	"github.com/reglens/reglens/internal/embed"
	"github.com/reglens/reglens/internal/index"
	"github.com/reglens/reglens/internal/model"
)

var (
	cfgFile string
	dbPath  string
	verbose bool
)

// rootCmd represents the base command
var rootCmd = &cobra.Command{
	Use:   "reglens",
	Short: "RegLens - regulatory change-impact analysis for internal procedures",
	Long: `RegLens flags which internal compliance procedures are impacted when a
regulatory standard changes.

It ingests procedure sections, extracts their explicit regulatory
citations, and indexes their embeddings. Given a set of regulatory
deltas (clauses that changed), it reports the impacted sections with a
confidence score and a rationale: explicit citation matches first,
semantic similarity as a fallback.

RegLens does not decide compliance. Its output is an advisory flag for
expert review, never a verdict.`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

// Execute runs the root command
func Execute() error {
	return rootCmd.Execute()
}

// versionCmd represents the version command
var versionCmd = &cobra.Command{
	Use:   "version",
	Short: "Print version information",
	Long:  `Display the version number and build information for RegLens.`,
	Run: func(cmd *cobra.Command, args []string) {
		fmt.Println("reglens v0.1.0")
	},
}

func init() {
	cobra.OnInitialize(initConfig)

	// Global flags
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default: $HOME/.reglens/config.yaml)")
	rootCmd.PersistentFlags().StringVar(&dbPath, "db", "", "SQLite database path (shorthand for storage.backend=sqlite)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	// Bind flags to viper
	_ = viper.BindPFlag("output.verbose", rootCmd.PersistentFlags().Lookup("verbose"))

	// Add subcommands
	rootCmd.AddCommand(versionCmd)
}

// initConfig reads in config file and ENV variables
func initConfig() {
	// API keys may live in a local .env during development
	_ = godotenv.Load()

	if cfgFile != "" {
		// Use config file from the flag
		viper.SetConfigFile(cfgFile)
	} else {
		// Find home directory
		home, err := os.UserHomeDir()
		if err != nil {
			fmt.Fprintf(os.Stderr, "Error finding home directory: %v\n", err)
			return
		}

		// Search for config in home directory
		viper.AddConfigPath(home + "/.reglens")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	// Register every key so REGLENS_* variables are picked up even
	// without a config file
	setDefaults()

	// Read in environment variables that match REGLENS_*
	viper.SetEnvPrefix("REGLENS")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	// If a config file is found, read it in
	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

func setDefaults() {
	def := model.DefaultConfig()

	viper.SetDefault("matching.impact_threshold", def.Matching.ImpactThreshold)
	viper.SetDefault("matching.top_k", def.Matching.TopK)
	viper.SetDefault("matching.explicit_confidence_floor", def.Matching.ExplicitConfidenceFloor)
	viper.SetDefault("matching.clause_prefix_match", def.Matching.ClausePrefixMatch)
	viper.SetDefault("matching.top_k_scope", def.Matching.TopKScope)

	viper.SetDefault("embedding.provider", def.Embedding.Provider)
	viper.SetDefault("embedding.model", def.Embedding.Model)
	viper.SetDefault("embedding.api_key", "")
	viper.SetDefault("embedding.base_url", def.Embedding.BaseURL)
	viper.SetDefault("embedding.timeout", def.Embedding.Timeout)
	viper.SetDefault("embedding.max_retries", def.Embedding.MaxRetries)
	viper.SetDefault("embedding.max_chars", def.Embedding.MaxChars)
	viper.SetDefault("embedding.requests_per_second", def.Embedding.RequestsPerSecond)
	viper.SetDefault("embedding.burst", def.Embedding.Burst)

	viper.SetDefault("concurrency.embed_workers", def.Concurrency.EmbedWorkers)
	viper.SetDefault("storage.backend", def.Storage.Backend)
	viper.SetDefault("storage.path", def.Storage.Path)
	viper.SetDefault("cache.enabled", def.Cache.Enabled)
	viper.SetDefault("cache.dir", def.Cache.Dir)
	viper.SetDefault("logging.level", def.Logging.Level)
	viper.SetDefault("logging.pretty", def.Logging.Pretty)
}

// loadConfig merges defaults, the config file, and REGLENS_* variables,
// applies global flags, and validates the result.
func loadConfig() (model.Config, error) {
	cfg := model.DefaultConfig()
	if err := viper.Unmarshal(&cfg); err != nil {
		return cfg, fmt.Errorf("parsing configuration: %w", err)
	}

	if verbose {
		cfg.Output.Verbose = true
	}
	if dbPath != "" {
		cfg.Storage = model.StorageConfig{Backend: "sqlite", Path: dbPath}
	}

	// API keys come from the environment, never from config files
	if cfg.Embedding.APIKey == "" {
		cfg.Embedding.APIKey = os.Getenv("OPENAI_API_KEY")
	}
	if cfg.Embedding.BaseURL == "" {
		cfg.Embedding.BaseURL = os.Getenv("OLLAMA_BASE_URL")
	}

	if err := cfg.Validate(); err != nil {
		return cfg, err
	}
	return cfg, nil
}

// buildIndex wires the embedding provider, its resilience wrapper, and the
// vector cache. Returns nil when no provider is configured: semantic
// matching is disabled but explicit citation matching still works.
func buildIndex(cfg model.Config, log zerolog.Logger) (*index.Index, error) {
	provider, err := embed.NewProvider(cfg.Embedding)
	if err != nil {
		return nil, err
	}
	if provider == nil {
		return nil, nil
	}

	var vectors cache.Cache
	if cfg.Cache.Enabled {
		dir := cfg.Cache.Dir
		if dir == "" {
			home, err := os.UserHomeDir()
			if err != nil {
				return nil, fmt.Errorf("resolving cache dir: %w", err)
			}
			dir = filepath.Join(home, ".reglens", "cache")
		}
		// Vectors are content-addressed; they never go stale
		vectors = cache.NewLayeredCache(cache.NoExpiration, dir, cache.NoExpiration)
	}

	resilient := embed.NewResilient(provider, cfg.Embedding, log)
	return index.New(resilient, vectors, cfg.Embedding.MaxChars, log), nil
}
