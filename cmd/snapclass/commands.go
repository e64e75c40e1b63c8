package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/spf13/cobra"

	"github.com/snapclass/snapclass/internal/handler"
	appI18n "github.com/snapclass/snapclass/internal/i18n"
	"github.com/snapclass/snapclass/internal/ingest"
	"github.com/snapclass/snapclass/internal/metrics"
	"github.com/snapclass/snapclass/internal/model"
)

func serveCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Start the HTTP API server",
		RunE:  runServe,
	}
	addCommonFlags(cmd)
	f := cmd.Flags()
	f.StringP("addr", "a", ":8080", "HTTP listen address")
	f.StringP("lang", "l", "en", "Default message language (en, ru)")
	return cmd
}

func runServe(cmd *cobra.Command, _ []string) error {
	v, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	lang := v.GetString("lang")
	if err := appI18n.Init(lang); err != nil {
		return fmt.Errorf("init i18n: %w", err)
	}

	h := handler.New(a.ingest, a.lifecycle, a.subs, a.grader, v.GetString("upload-dir"))

	r := chi.NewRouter()
	r.Use(middleware.Logger)
	r.Use(middleware.Recoverer)
	r.Use(metrics.Middleware)
	r.Use(appI18n.Middleware(lang))
	r.Handle("/metrics", metrics.Handler())
	h.Routes(r)

	addr := v.GetString("addr")
	srv := &http.Server{Addr: addr, Handler: r}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			slog.Error("server shutdown", "error", err)
		}
	}()

	slog.Info("starting server",
		"addr", addr,
		"store", v.GetString("store"),
		"llm_backend", v.GetString("llm-backend"),
		"lang", lang,
		"num_questions", v.GetInt("num-questions"),
		"invalidate_on_regenerate", v.GetBool("invalidate-on-regenerate"),
	)
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func ingestCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "ingest <audio> <pdf>",
		Short: "Extract text from a lecture recording and its PDF in parallel",
		Args:  cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			out := cmd.OutOrStdout()
			res := a.ingest.Process(cmd.Context(), args[0], args[1], ingest.SinkFunc(func(e model.ProgressEvent) {
				if e.Type == model.EventStatus {
					fmt.Fprintf(out, "[%s] %s\n", e.Source, e.Message)
				}
			}))
			audioOut, pdfOut := res.Outputs()
			fmt.Fprintf(out, "audio:    %s (%s)\ndocument: %s (%s)\n", audioOut, res.Audio.Status, pdfOut, res.Document.Status)
			return res.Err()
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func generateCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Generate questions from the last ingested lecture",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			set, err := a.lifecycle.Generate(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), set)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func publishCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "publish",
		Short: "Publish the generated questions as the student test",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			pt, err := a.lifecycle.Publish(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), pt)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func statusCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "status",
		Short: "Show the question lifecycle status",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			st, err := a.lifecycle.Status(cmd.Context())
			if err != nil {
				return err
			}
			return printJSON(cmd.OutOrStdout(), st)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func gradeCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "grade",
		Short: "Grade all submissions with the language model",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			report, err := a.grader.Grade(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Submissions: %d\n\n%s\n", report.TotalSubmissions, report.Analysis)
			return nil
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func importQuestionsCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "import-questions <file.json>...",
		Short: "Import multiple choice questions (the answer key) from JSON files",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()
			return loadQuestions(cmd.Context(), a.store, a.subs, args)
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func exportCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "export",
		Short: "Export questions, submissions and scores as JSON",
		RunE:  runExport,
	}
	addCommonFlags(cmd)
	cmd.Flags().StringP("output", "o", "-", "Output file path (- for stdout)")
	return cmd
}

func runExport(cmd *cobra.Command, _ []string) error {
	v, a, err := setup(cmd)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx := cmd.Context()
	export, err := a.store.Export(ctx)
	if err != nil {
		return fmt.Errorf("export: %w", err)
	}
	if export.Status, err = a.lifecycle.Status(ctx); err != nil {
		return fmt.Errorf("read status: %w", err)
	}

	outPath := v.GetString("output")
	var w io.Writer
	if outPath == "" || outPath == "-" {
		w = cmd.OutOrStdout()
	} else {
		f, err := os.Create(outPath)
		if err != nil {
			return fmt.Errorf("create output file: %w", err)
		}
		defer f.Close()
		w = f
	}
	return printJSON(w, export)
}

func clearCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "clear",
		Short: "Delete generated questions, submissions, scores and extracted files",
		RunE: func(cmd *cobra.Command, _ []string) error {
			_, a, err := setup(cmd)
			if err != nil {
				return err
			}
			defer a.Close()

			n, err := a.subs.Reset(cmd.Context())
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Cleared %d items\n", n)
			return nil
		},
	}
	addCommonFlags(cmd)
	return cmd
}

func printJSON(w io.Writer, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return fmt.Errorf("marshal JSON: %w", err)
	}
	if _, err := w.Write(data); err != nil {
		return fmt.Errorf("write output: %w", err)
	}
	_, _ = fmt.Fprintln(w)
	return nil
}
