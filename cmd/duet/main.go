// Command duet runs one autonomous two-agent dialogue to completion and
// prints its outcome. It is a flag-driven batch tool (§6.2), not an
// interactive REPL — there is exactly one thing to do per invocation.
package main

import (
	"bufio"
	"context"
	"fmt"
	"math"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/loopwire/duet/internal/application/dialogue"
	"github.com/loopwire/duet/internal/domain/transcript"
	"github.com/loopwire/duet/internal/infrastructure/config"
	"github.com/loopwire/duet/internal/infrastructure/logger"
	"github.com/loopwire/duet/internal/infrastructure/monitoring"
	"github.com/loopwire/duet/internal/infrastructure/provider"
	"github.com/loopwire/duet/internal/infrastructure/store/filestore"
	"github.com/loopwire/duet/internal/infrastructure/store/sqlstore"

	_ "github.com/loopwire/duet/internal/infrastructure/provider/anthropic"
	_ "github.com/loopwire/duet/internal/infrastructure/provider/gemini"
	_ "github.com/loopwire/duet/internal/infrastructure/provider/openai"
)

const (
	cliVersion = "0.1.0"
	cliName    = "duet"
)

// Exit codes per §6.2.
const (
	exitOK               = 0
	exitFatal            = 1
	exitInvalidArgs      = 2
	exitConfigInvalid    = 3
	exitCredsMissing     = 4
	exitStoreUnavailable = 5
)

func main() {
	os.Exit(run())
}

func run() int {
	var (
		agent1, agent2 string
		model1, model2 string
		topic          string
		turns          int
		dbPath         string
		yes            bool
	)

	rootCmd := &cobra.Command{
		Use:   cliName,
		Short: "Run an autonomous two-agent LLM dialogue to completion",
	}
	rootCmd.Flags().StringVar(&agent1, "agent1", "", "first provider identifier (required)")
	rootCmd.Flags().StringVar(&agent2, "agent2", "", "second provider identifier (required)")
	rootCmd.Flags().StringVar(&model1, "model1", "", "model id for agent1 (default: provider default)")
	rootCmd.Flags().StringVar(&model2, "model2", "", "model id for agent2 (default: provider default)")
	rootCmd.Flags().StringVar(&topic, "topic", "", "conversation topic (required)")
	rootCmd.Flags().IntVar(&turns, "turns", 50, "per-agent turn cap")
	rootCmd.Flags().StringVar(&dbPath, "db", "", "transcript location (default derived from DATA_DIR)")
	rootCmd.Flags().BoolVar(&yes, "yes", false, "skip the confirmation prompt")

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("%s v%s\n", cliName, cliVersion)
		},
	})

	var exportDB, exportTopic string
	exportCmd := &cobra.Command{
		Use:   "export",
		Short: "dump a transcript's messages and metadata as YAML",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runExport(exportDB, exportTopic)
		},
	}
	exportCmd.Flags().StringVar(&exportDB, "db", "", "transcript location (required)")
	exportCmd.Flags().StringVar(&exportTopic, "topic", "", "conversation topic, recorded for readability")
	rootCmd.AddCommand(exportCmd)

	ctx, cancel := context.WithCancel(context.Background())
	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-quit
		cancel()
	}()
	defer cancel()

	code := exitOK
	rootCmd.RunE = func(cmd *cobra.Command, args []string) error {
		code = runConversation(ctx, agent1, agent2, model1, model2, topic, turns, dbPath, yes)
		return nil
	}

	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, err)
		return exitFatal
	}
	return code
}

func runConversation(ctx context.Context, agent1, agent2, model1, model2, topic string, turns int, dbPath string, yes bool) int {
	if strings.TrimSpace(agent1) == "" || strings.TrimSpace(agent2) == "" {
		fmt.Fprintln(os.Stderr, "--agent1 and --agent2 are required")
		return exitInvalidArgs
	}
	if strings.TrimSpace(topic) == "" {
		fmt.Fprintln(os.Stderr, "--topic is required")
		return exitInvalidArgs
	}
	if turns < 1 {
		fmt.Fprintln(os.Stderr, "--turns must be >= 1")
		return exitInvalidArgs
	}

	log, err := logger.NewLogger(logger.Config{Level: "info", Format: "console", OutputPath: "stdout"})
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger init: %v\n", err)
		return exitFatal
	}
	defer log.Sync()

	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "configuration invalid: %v\n", err)
		return exitConfigInvalid
	}

	if err := cfg.RequireCredentials(agent1, agent2); err != nil {
		fmt.Fprintf(os.Stderr, "missing credentials: %v\n", err)
		return exitCredsMissing
	}

	if !yes && !confirm(topic, agent1, agent2, turns) {
		fmt.Println("aborted")
		return exitOK
	}

	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDir, "transcript.json")
	}
	store, err := openStore(dbPath)
	if err != nil {
		fmt.Fprintf(os.Stderr, "store unavailable: %v\n", err)
		return exitStoreUnavailable
	}
	defer store.Close()

	mon := monitoring.NewMonitor(log)
	tracer := monitoring.NewTracer(cliName, log)
	if cfg.MetricsPort > 0 {
		go serveMetrics(mon, cfg.MetricsPort, log)
	}

	prov1, err := newProvider(agent1, model1, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidArgs
	}
	prov2, err := newProvider(agent2, model2, cfg)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		return exitInvalidArgs
	}

	rc := dialogue.RunConfig{
		Topic:                 topic,
		Agent1:                dialogue.AgentSpec{Name: displayName(agent1), ProviderKey: agent1, Provider: prov1, Model: prov1.DefaultModel()},
		Agent2:                dialogue.AgentSpec{Name: displayName(agent2), ProviderKey: agent2, Provider: prov2, Model: prov2.DefaultModel()},
		MaxTurns:              turns,
		Timeout:               cfg.DefaultTimeout,
		Temperature:           cfg.Temperature,
		MaxTokens:             cfg.MaxTokens,
		MaxContextMessages:    cfg.MaxContextMessages,
		SimilarityThreshold:   cfg.SimilarityThreshold,
		MaxConsecutiveSimilar: cfg.MaxConsecutiveSimilar,
		MaxMessageLength:      cfg.MaxMessageLength,
		TerminationPhrases:    []string{"[done]", "end of conversation", "goodbye and end"},
		CallBackoff: dialogue.BackoffPolicy{
			MaxAttempts: 5, Initial: cfg.InitialBackoff, Multiplier: cfg.BackoffMultiplier, Max: cfg.MaxBackoff, Jitter: 0.2,
		},
		AppendBackoff: dialogue.BackoffPolicy{
			MaxAttempts: 5, Initial: 50 * time.Millisecond, Multiplier: 2, Max: time.Second, Jitter: 0.2,
		},
	}

	result, err := dialogue.Run(ctx, rc, store, mon, tracer, log)
	if err != nil {
		fmt.Fprintf(os.Stderr, "run failed: %v\n", err)
		return exitStoreUnavailable
	}

	fmt.Printf("terminated: %s (turns=%d tokens=%d)\n", result.TerminationReason, result.TotalTurns, result.TotalTokens)
	for name, outcome := range result.Outcomes {
		fmt.Printf("  %s: %s\n", name, outcome.Reason)
	}
	return exitOK
}

// runExport loads a transcript's full message log and metadata and prints
// it as a YAML document, for archival or for handing to another tool.
func runExport(dbPath, topic string) error {
	if strings.TrimSpace(dbPath) == "" {
		return fmt.Errorf("--db is required")
	}
	store, err := openStore(dbPath)
	if err != nil {
		return fmt.Errorf("store unavailable: %w", err)
	}
	defer store.Close()

	ctx := context.Background()
	messages, err := store.Context(ctx, math.MaxInt32)
	if err != nil {
		return fmt.Errorf("read messages: %w", err)
	}
	meta, err := store.Metadata(ctx)
	if err != nil {
		return fmt.Errorf("read metadata: %w", err)
	}

	out, err := transcript.ExportYAML(messages, meta, topic)
	if err != nil {
		return fmt.Errorf("encode export: %w", err)
	}
	fmt.Print(string(out))
	return nil
}

// newProvider resolves a provider identifier to a registered factory and
// supplies its credential and optional model override.
func newProvider(typeName, model string, cfg *config.Config) (provider.Provider, error) {
	apiKey, _ := cfg.CredentialFor(typeName)
	return provider.Create(typeName, provider.Config{
		Name:         typeName,
		APIKey:       apiKey,
		DefaultModel: model,
	})
}

func displayName(providerKey string) string {
	if providerKey == "" {
		return providerKey
	}
	return strings.ToUpper(providerKey[:1]) + providerKey[1:]
}

// openStore picks a transcript.Store backend from the --db value: a
// "postgres://" DSN or a ".sqlite"/".db" path route to the networked
// gorm-backed store, everything else is a plain JSON path backed by the
// embedded file store.
func openStore(dbPath string) (transcript.Store, error) {
	switch {
	case strings.HasPrefix(dbPath, "postgres://"):
		db, err := sqlstore.Connect(sqlstore.DialectPostgres, dbPath)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db)
	case strings.HasSuffix(dbPath, ".sqlite") || strings.HasSuffix(dbPath, ".db"):
		if dir := filepath.Dir(dbPath); dir != "" {
			os.MkdirAll(dir, 0o755)
		}
		db, err := sqlstore.Connect(sqlstore.DialectSQLite, dbPath)
		if err != nil {
			return nil, err
		}
		return sqlstore.New(db)
	default:
		if dir := filepath.Dir(dbPath); dir != "" {
			os.MkdirAll(dir, 0o755)
		}
		return filestore.Open(dbPath)
	}
}

func confirm(topic, agent1, agent2 string, turns int) bool {
	fmt.Printf("About to run a %d-turn dialogue between %s and %s on %q. Continue? [y/N] ", turns, agent1, agent2, topic)
	reader := bufio.NewReader(os.Stdin)
	line, _ := reader.ReadString('\n')
	line = strings.ToLower(strings.TrimSpace(line))
	return line == "y" || line == "yes"
}

func serveMetrics(mon *monitoring.Monitor, port int, log *zap.Logger) {
	mux := http.NewServeMux()
	mux.Handle("/metrics", mon.PrometheusHandler())
	addr := fmt.Sprintf(":%d", port)
	if err := http.ListenAndServe(addr, mux); err != nil {
		log.Warn("metrics server stopped", zap.Error(err))
	}
}
