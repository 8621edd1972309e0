package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"strings"
	"time"

	charmlog "github.com/charmbracelet/log"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/siherrmann/citegraph"
	"github.com/siherrmann/citegraph/helper"
	"github.com/siherrmann/citegraph/model"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	cfgFile     string
	verbose     bool
	logFormat   string
	metricsAddr string
	timeout     time.Duration
)

var rootCmd = &cobra.Command{
	Use:   "citegraph",
	Short: "CiteGraph - citation-grounded knowledge graph",
	Long: `CiteGraph ingests documents into a knowledge graph of entities and relations
where every fact keeps the byte range it was extracted from.

Answers cite their sources by ordinal, graph queries are bounded and paged,
and agent statements are verified by reputation weighted consensus.

Configuration hierarchy (highest to lowest priority):
  1. CLI flags
  2. Environment variables (CITEGRAPH_*, e.g. CITEGRAPH_STORE_GRAPH=postgres)
  3. Config file (default: $HOME/.citegraph/config.yaml)
  4. Defaults`,
	SilenceErrors: true,
	SilenceUsage:  true,
}

func init() {
	cobra.OnInitialize(initConfig)

	flags := rootCmd.PersistentFlags()
	flags.StringVar(&cfgFile, "config", "", "config file (default: $HOME/.citegraph/config.yaml)")
	flags.BoolVarP(&verbose, "verbose", "v", false, "debug logging")
	flags.StringVar(&logFormat, "log-format", "pretty", "log format (pretty, charm)")
	flags.StringVar(&metricsAddr, "metrics-addr", "", "serve prometheus metrics on this address while running")
	flags.DurationVar(&timeout, "timeout", 10*time.Minute, "overall command timeout")
	flags.String("graph-store", "", "graph store (memory, postgres, neo4j)")
	flags.String("vector-store", "", "vector store (memory, postgres, qdrant)")
	flags.String("ner", "", "NER backend (rule, prose, hugot)")
	flags.String("embedder", "", "embedding backend (hash, hugot, openai, ollama, openai-compatible)")
	flags.String("generator", "", "generation backend (openai, ollama, openai-compatible)")

	_ = viper.BindPFlag("verbose", flags.Lookup("verbose"))
	_ = viper.BindPFlag("store.graph", flags.Lookup("graph-store"))
	_ = viper.BindPFlag("store.vector", flags.Lookup("vector-store"))
	_ = viper.BindPFlag("backends.ner", flags.Lookup("ner"))
	_ = viper.BindPFlag("backends.embedder", flags.Lookup("embedder"))
	_ = viper.BindPFlag("backends.generator", flags.Lookup("generator"))
}

// initConfig reads the config file and CITEGRAPH_* environment variables.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		home, err := os.UserHomeDir()
		if err == nil {
			viper.AddConfigPath(home + "/.citegraph")
		}
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName("config")
	}

	viper.SetEnvPrefix("CITEGRAPH")
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	viper.AutomaticEnv()

	if err := viper.ReadInConfig(); err == nil && verbose {
		fmt.Fprintf(os.Stderr, "Using config file: %s\n", viper.ConfigFileUsed())
	}
}

// loadConfig overlays the viper sources on model.DefaultConfig.
func loadConfig() (model.Config, error) {
	config := model.DefaultConfig()
	if err := registerDefaults(viper.GetViper(), config); err != nil {
		return config, err
	}
	if err := viper.Unmarshal(&config); err != nil {
		return config, fmt.Errorf("error decoding config: %w", err)
	}
	return config, nil
}

// registerDefaults makes every config key known to viper so environment
// variables resolve during Unmarshal. Secrets have no JSON name and are bound
// explicitly.
func registerDefaults(v *viper.Viper, config model.Config) error {
	data, err := json.Marshal(config)
	if err != nil {
		return err
	}
	values := map[string]any{}
	if err := json.Unmarshal(data, &values); err != nil {
		return err
	}
	setDefaults(v, "", values)

	for _, key := range []string{
		"backends.api_key",
		"store.neo4j_uri",
		"store.neo4j_user",
		"store.neo4j_password",
		"store.qdrant_host",
		"store.qdrant_port",
		"store.qdrant_api_key",
		"relation.catalog_path",
	} {
		if err := v.BindEnv(key); err != nil {
			return err
		}
	}
	return nil
}

func setDefaults(v *viper.Viper, prefix string, values map[string]any) {
	for key, value := range values {
		if prefix != "" {
			key = prefix + "." + key
		}
		if nested, ok := value.(map[string]any); ok {
			setDefaults(v, key, nested)
			continue
		}
		v.SetDefault(key, value)
	}
}

func newLogger() *slog.Logger {
	level := slog.LevelInfo
	if verbose {
		level = slog.LevelDebug
	}
	if logFormat == "charm" {
		charmLevel := charmlog.InfoLevel
		if verbose {
			charmLevel = charmlog.DebugLevel
		}
		return slog.New(charmlog.NewWithOptions(os.Stderr, charmlog.Options{
			ReportTimestamp: true,
			Level:           charmLevel,
		}))
	}
	return helper.NewLogger(os.Stderr, level)
}

// open builds a CiteGraph from the resolved configuration and starts the
// metrics endpoint when requested. The returned func releases both.
func open(ctx context.Context) (*citegraph.CiteGraph, func(), error) {
	config, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	logger := newLogger()

	g, err := citegraph.NewCiteGraph(ctx, config, logger)
	if err != nil {
		return nil, nil, err
	}

	var server *http.Server
	if metricsAddr != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		server = &http.Server{Addr: metricsAddr, Handler: mux, ReadHeaderTimeout: 5 * time.Second}
		go func() {
			if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				logger.Error("Metrics server stopped", "error", err)
			}
		}()
		logger.Info("Serving metrics", "addr", metricsAddr)
	}

	closeFn := func() {
		if server != nil {
			shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			defer cancel()
			_ = server.Shutdown(shutdownCtx)
		}
		if err := g.Close(); err != nil {
			logger.Warn("Error closing stores", "error", err)
		}
	}
	return g, closeFn, nil
}

func commandContext(cmd *cobra.Command) (context.Context, context.CancelFunc) {
	return context.WithTimeout(cmd.Context(), timeout)
}

func printJSON(value any) error {
	encoder := json.NewEncoder(os.Stdout)
	encoder.SetIndent("", "  ")
	return encoder.Encode(value)
}
