package main

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/snapclass/snapclass/internal/extract"
	"github.com/snapclass/snapclass/internal/grading"
	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/lifecycle"
	"github.com/snapclass/snapclass/internal/llm"
	"github.com/snapclass/snapclass/internal/metrics"
	"github.com/snapclass/snapclass/internal/store"
	"github.com/snapclass/snapclass/internal/submission"
	"github.com/snapclass/snapclass/internal/tracing"
)

func main() {
	// A missing .env is fine; flags, env and config files still apply.
	_ = godotenv.Load()
	if err := rootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func rootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:   "snapclass",
		Short: "Turn a lecture recording and slides into a graded comprehension test",
	}

	serve := serveCmd()
	root.AddCommand(
		serve,
		ingestCmd(),
		generateCmd(),
		publishCmd(),
		statusCmd(),
		gradeCmd(),
		importQuestionsCmd(),
		exportCmd(),
		clearCmd(),
	)

	// Make "serve" the default when no subcommand is given.
	root.RunE = serve.RunE
	root.Flags().AddFlagSet(serve.Flags())

	return root
}

// addCommonFlags registers the storage, inference and logging flags every
// subcommand shares.
func addCommonFlags(cmd *cobra.Command) {
	f := cmd.Flags()
	f.String("data-dir", "data", "Directory holding the JSON records (file store)")
	f.String("output-dir", "output", "Directory for extracted markdown artifacts")
	f.String("upload-dir", "uploads", "Directory for uploaded lecture files")
	f.String("store", store.KindFile, "Record store backend (file, sqlite)")
	f.String("db", "snapclass.db", "SQLite database path (sqlite store)")

	f.String("llm-backend", "genie", "Inference backend (genie, openai)")
	f.String("genie-dir", "llama3", "Directory containing the genie executable and config")
	f.String("genie-exe", "genie-t2t-run", "Genie executable, relative to genie-dir")
	f.String("genie-config", "genie_config.json", "Genie config file, relative to genie-dir")
	f.String("llm-url", "http://localhost:11434/v1", "OpenAI-compatible API base URL")
	f.String("llm-key", "ollama", "API key for the openai backend")
	f.String("llm-model", "llama3.2", "Model name for the openai backend")
	f.Duration("llm-timeout", llm.DefaultTimeout, "Timeout for a single inference attempt")
	f.IntP("num-questions", "n", lifecycle.DefaultNumQuestions, "Number of questions to generate")
	f.Bool("invalidate-on-regenerate", false, "Withdraw the published test when questions are regenerated")

	f.String("whisper-exe", "whisper-cli", "Speech-to-text executable")
	f.String("whisper-model", "", "Speech-to-text model path")

	f.String("jaeger-endpoint", "", "Jaeger collector endpoint (empty disables tracing)")
	f.String("log-level", "info", "Log level (debug, info, warn, error)")
	f.String("log-format", "text", "Log format (text, json)")
	f.String("log-file", "", "Also write logs to this file, rotated")
}

func setupLogging(v *viper.Viper) {
	var logLevel slog.Level
	switch strings.ToLower(v.GetString("log-level")) {
	case "debug":
		logLevel = slog.LevelDebug
	case "warn":
		logLevel = slog.LevelWarn
	case "error":
		logLevel = slog.LevelError
	default:
		logLevel = slog.LevelInfo
	}

	var out io.Writer = os.Stderr
	if path := v.GetString("log-file"); path != "" {
		out = io.MultiWriter(os.Stderr, &lumberjack.Logger{
			Filename:   path,
			MaxSize:    100,
			MaxBackups: 5,
			MaxAge:     30,
			Compress:   true,
		})
	}

	handlerOpts := &slog.HandlerOptions{Level: logLevel}
	var logHandler slog.Handler
	switch strings.ToLower(v.GetString("log-format")) {
	case "json":
		logHandler = slog.NewJSONHandler(out, handlerOpts)
	default:
		logHandler = slog.NewTextHandler(out, handlerOpts)
	}
	slog.SetDefault(slog.New(logHandler))
}

// viperForCmd binds a command's flags and environment to a fresh viper instance.
func viperForCmd(cmd *cobra.Command) *viper.Viper {
	v := viper.New()
	_ = v.BindPFlags(cmd.Flags())

	v.SetEnvPrefix("SNAPCLASS")
	v.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	v.AutomaticEnv()

	v.SetConfigName("snapclass")
	v.AddConfigPath(".")
	v.AddConfigPath("$HOME/.config/snapclass")
	v.AddConfigPath("/etc/snapclass")
	if err := v.ReadInConfig(); err != nil {
		if _, ok := err.(viper.ConfigFileNotFoundError); !ok {
			slog.Warn("error reading config file", "error", err)
		}
	} else {
		slog.Info("loaded config file", "path", v.ConfigFileUsed())
	}

	return v
}

// app is the fully wired core shared by the server and the one-shot commands.
type app struct {
	store     *store.Store
	ingest    *ingest.Coordinator
	lifecycle *lifecycle.Manager
	subs      *submission.Service
	grader    *grading.Orchestrator

	shutdown func(context.Context) error
}

func setup(cmd *cobra.Command) (*viper.Viper, *app, error) {
	v := viperForCmd(cmd)
	setupLogging(v)
	metrics.Init()

	a := &app{shutdown: func(context.Context) error { return nil }}
	if endpoint := v.GetString("jaeger-endpoint"); endpoint != "" {
		shutdown, err := tracing.Init("snapclass", endpoint)
		if err != nil {
			return nil, nil, fmt.Errorf("init tracing: %w", err)
		}
		a.shutdown = shutdown
	}

	st, err := store.Open(v.GetString("store"), v.GetString("data-dir"), v.GetString("db"))
	if err != nil {
		return nil, nil, fmt.Errorf("open store: %w", err)
	}
	a.store = st

	inf, err := newInferencer(v)
	if err != nil {
		st.Close()
		return nil, nil, err
	}

	outputDir := v.GetString("output-dir")
	audio := extract.NewAudioAdapter(outputDir, &extract.CommandTranscriber{
		Exe:   v.GetString("whisper-exe"),
		Model: v.GetString("whisper-model"),
	})
	document := extract.NewDocumentAdapter(outputDir)
	refs := ingest.StoreReferences{Store: st}

	a.ingest = ingest.New(audio, document, st)
	a.lifecycle = lifecycle.New(st, refs, inf, lifecycle.Options{
		NumQuestions:           v.GetInt("num-questions"),
		InvalidateOnRegenerate: v.GetBool("invalidate-on-regenerate"),
	})
	a.subs = submission.New(st, a.lifecycle)
	a.subs.OutputDir = outputDir
	a.subs.UploadDir = v.GetString("upload-dir")
	a.grader = grading.New(st, refs, inf)
	return v, a, nil
}

func (a *app) Close() {
	if err := a.shutdown(context.Background()); err != nil {
		slog.Warn("tracing shutdown", "error", err)
	}
	if err := a.store.Close(); err != nil {
		slog.Warn("close store", "error", err)
	}
}

func newInferencer(v *viper.Viper) (llm.Inferencer, error) {
	var backend llm.Backend
	switch b := strings.ToLower(v.GetString("llm-backend")); b {
	case "genie":
		backend = llm.NewGenie(v.GetString("genie-dir"), v.GetString("genie-exe"), v.GetString("genie-config"))
	case "openai":
		backend = llm.NewOpenAI(v.GetString("llm-url"), v.GetString("llm-key"), v.GetString("llm-model"))
	default:
		return nil, fmt.Errorf("unknown llm backend %q", b)
	}
	return llm.New(backend, v.GetDuration("llm-timeout")), nil
}
