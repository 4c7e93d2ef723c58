// Extractd is a reflective document extraction daemon.
//
// It runs LLM extraction workers under a judged retry loop: each step's
// candidate output is scored against a rubric, rejected candidates feed
// improvement operations back into the next attempt, and results below the
// confidence threshold are flagged for human review.
//
// Usage:
//
//	# Process one document and print the run result
//	extractd run --config config.yaml invoice.txt
//
//	# Watch the inbox and serve the status API
//	extractd watch --config config.yaml
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sync"
	"syscall"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/halcyonlabs/extractd/internal/config"
	exthttp "github.com/halcyonlabs/extractd/internal/http"
	"github.com/halcyonlabs/extractd/internal/intake"
	"github.com/halcyonlabs/extractd/internal/judge"
	"github.com/halcyonlabs/extractd/internal/llm"
	"github.com/halcyonlabs/extractd/internal/logging"
	"github.com/halcyonlabs/extractd/internal/pipeline"
	"github.com/halcyonlabs/extractd/internal/retry"
	"github.com/halcyonlabs/extractd/internal/telemetry"
	"github.com/halcyonlabs/extractd/internal/validation"
	"github.com/halcyonlabs/extractd/internal/worker"
)

// Version information (set via ldflags during build)
var (
	version   = "dev"
	gitCommit = "unknown"
	buildDate = "unknown"
)

var configPath string

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "extractd",
	Short: "Reflective document extraction daemon",
	Long: `extractd extracts structured data from documents with LLM workers,
judges every candidate against a rubric, retries with accumulated feedback,
and flags low-confidence results for human review.`,
	Version: fmt.Sprintf("%s (commit %s, built %s)", version, gitCommit, buildDate),
}

func init() {
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "path to YAML config file")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(watchCmd)
}

// runCmd processes a single document and prints the run result as JSON.
var runCmd = &cobra.Command{
	Use:   "run [path]",
	Short: "Process a document (or every document in a directory)",
	Long: `Process a document through the configured pipeline and print the run
result as JSON. A directory path processes every regular file in it.

Examples:
  # Process a file
  extractd run --config config.yaml invoice.txt

  # Process a directory of documents
  extractd run --config config.yaml ./inbox

  # Process stdin
  cat invoice.txt | extractd run --config config.yaml -`,
	Args: cobra.ExactArgs(1),
	RunE: runOnce,
}

// watchCmd runs the daemon: inbox watcher plus status API.
var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Watch the inbox directory and serve the status API",
	Long: `Watch the configured inbox directory, process each settled document
through the pipeline, and serve run results over the HTTP status API.

Examples:
  extractd watch --config config.yaml`,
	RunE: runWatch,
}

// app bundles the wired dependencies shared by the commands.
type app struct {
	cfg       *config.Config
	logger    *logging.Logger
	telemetry *telemetry.Telemetry
	metrics   *telemetry.PipelineMetrics
	evaluator *judge.Evaluator
	steps     []pipeline.Step
	validator *validation.Validator
	rubrics   map[string]judge.Rubric
	policies  map[string]retry.EscalationPolicy
	store     *pipeline.RunStore
}

// newApp loads configuration and wires every component except the pipeline,
// which is created per document.
func newApp(ctx context.Context) (*app, error) {
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}

	tel, telErr := telemetry.New(ctx, cfg.Telemetry)

	logger, err := logging.NewWithProvider(cfg.Logging, tel.LoggerProvider())
	if err != nil {
		return nil, fmt.Errorf("initializing logger: %w", err)
	}
	if telErr != nil {
		logger.Warn(ctx, "telemetry degraded", zap.Error(telErr))
	}
	if tel.Degraded() {
		logger.Warn(ctx, "telemetry partially initialized, exporting degraded")
	}

	workerClient, err := llm.New(cfg.Worker)
	if err != nil {
		return nil, fmt.Errorf("worker client: %w", err)
	}
	judgeClient, err := llm.New(cfg.Judge)
	if err != nil {
		return nil, fmt.Errorf("judge client: %w", err)
	}

	invoker, err := worker.NewLLMInvoker(workerClient)
	if err != nil {
		return nil, err
	}

	steps := make([]pipeline.Step, 0, len(cfg.Steps))
	rubrics := make(map[string]judge.Rubric, len(cfg.Steps))
	for _, sc := range cfg.Steps {
		steps = append(steps, pipeline.Step{
			Kind:           sc.Kind,
			Goal:           sc.Goal,
			ExpectedFields: sc.ExpectedFields,
			Invoker:        invoker,
			MaxRetries:     sc.MaxRetries,
		})
		rubrics[sc.Kind] = sc.Rubric()
	}

	policies := make(map[string]retry.EscalationPolicy, len(cfg.Pipeline.EscalationPolicies))
	for kind, policy := range cfg.Pipeline.EscalationPolicies {
		policies[kind] = retry.EscalationPolicy(policy)
	}

	var validator *validation.Validator
	if len(cfg.Validation) > 0 {
		validator = validation.New(cfg.Validation)
	}

	return &app{
		cfg:       cfg,
		logger:    logger,
		telemetry: tel,
		metrics:   telemetry.NewPipelineMetrics(),
		evaluator: judge.NewEvaluator(judge.CallerFunc(judgeClient.Complete), cfg.Pipeline.Thresholds, logger),
		steps:     steps,
		validator: validator,
		rubrics:   rubrics,
		policies:  policies,
		store:     pipeline.NewRunStore(),
	}, nil
}

// newPipeline creates a fresh pipeline (with its own retry controller) for
// one document. Controllers hold per-step retry state and are never shared
// across documents.
func (a *app) newPipeline() (*pipeline.Pipeline, error) {
	controller := retry.NewController(a.evaluator, retry.Options{
		FeedbackCap:        a.cfg.Pipeline.FeedbackCap,
		StagnationWindow:   a.cfg.Pipeline.StagnationWindow,
		EscalationPolicies: a.policies,
		Rubrics:            a.rubrics,
	}, a.logger, a.metrics)

	return pipeline.New(a.steps, controller, a.validator, pipeline.Options{
		MaxRetries:      a.cfg.Pipeline.MaxRetries,
		ReviewThreshold: a.cfg.Pipeline.ReviewThreshold,
		Weights:         a.cfg.Pipeline.Weights,
	}, a.logger, a.metrics)
}

func (a *app) process(ctx context.Context, doc pipeline.Document) (*pipeline.RunResult, error) {
	p, err := a.newPipeline()
	if err != nil {
		return nil, err
	}
	result, err := p.Run(ctx, doc)
	if result != nil {
		a.store.Add(result)
	}
	return result, err
}

func (a *app) shutdown(ctx context.Context) {
	if a.telemetry != nil {
		if err := a.telemetry.Shutdown(ctx); err != nil {
			a.logger.Warn(ctx, "telemetry shutdown", zap.Error(err))
		}
	}
	_ = a.logger.Sync()
}

func runOnce(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	docs, err := readDocuments(args[0])
	if err != nil {
		return err
	}

	return runBatch(ctx, docs, a.process, os.Stdout, os.Stderr)
}

// runBatch processes documents independently: a failed document is reported
// and the rest still run, with a non-nil error returned at the end so the
// command exits non-zero.
func runBatch(ctx context.Context, docs []pipeline.Document, process func(context.Context, pipeline.Document) (*pipeline.RunResult, error), out, errw io.Writer) error {
	enc := json.NewEncoder(out)
	enc.SetIndent("", "  ")

	var failed int
	for _, doc := range docs {
		result, runErr := process(ctx, doc)
		if result != nil {
			if err := enc.Encode(result); err != nil {
				return fmt.Errorf("encoding run result: %w", err)
			}
			if result.NeedsHumanReview {
				fmt.Fprintf(errw, "[extractd] %s flagged for human review\n", doc.Name)
			}
		}
		if runErr != nil {
			if ctx.Err() != nil {
				return runErr
			}
			failed++
			fmt.Fprintf(errw, "[extractd] %s failed: %v\n", doc.Name, runErr)
		}
	}
	if failed > 0 {
		return fmt.Errorf("%d of %d documents failed", failed, len(docs))
	}
	return nil
}

func runWatch(cmd *cobra.Command, args []string) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx)
	if err != nil {
		return err
	}
	defer a.shutdown(context.Background())

	if !a.cfg.Intake.Enabled {
		return fmt.Errorf("watch requires intake.enabled in config")
	}

	watcher, err := intake.NewWatcher(intake.Options{
		Dir:         a.cfg.Intake.Dir,
		Extensions:  a.cfg.Intake.Extensions,
		SettleDelay: a.cfg.Intake.SettleDelay,
	}, a.logger)
	if err != nil {
		return err
	}
	if err := watcher.Start(ctx); err != nil {
		return err
	}
	defer watcher.Stop()

	var srv *exthttp.Server
	if a.cfg.Server.Enabled {
		srv, err = exthttp.NewServer(a.store, a.logger.Zap(), &exthttp.Config{
			Host: "localhost",
			Port: a.cfg.Server.Port,
		})
		if err != nil {
			return err
		}
		go func() {
			if err := srv.Start(); err != nil {
				a.logger.Error(ctx, "http server stopped", zap.Error(err))
			}
		}()
	}

	a.logger.Info(ctx, "watching inbox",
		zap.String("dir", a.cfg.Intake.Dir),
		zap.Int("max_concurrent", a.cfg.Intake.MaxConcurrent))

	var wg sync.WaitGroup
	sem := make(chan struct{}, a.cfg.Intake.MaxConcurrent)

loop:
	for {
		select {
		case <-ctx.Done():
			break loop
		case doc, ok := <-watcher.Documents():
			if !ok {
				break loop
			}
			sem <- struct{}{}
			wg.Add(1)
			go func(doc pipeline.Document) {
				defer wg.Done()
				defer func() { <-sem }()
				if _, err := a.process(ctx, doc); err != nil {
					a.logger.Error(ctx, "document run failed",
						zap.String("document", doc.Name), zap.Error(err))
				}
			}(doc)
		}
	}

	wg.Wait()

	if srv != nil {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), a.cfg.Server.ShutdownTimeout)
		defer cancel()
		if err := srv.Shutdown(shutdownCtx); err != nil {
			return fmt.Errorf("http shutdown: %w", err)
		}
	}
	return nil
}

// readDocuments reads one document from a file path, every regular file
// from a directory path, or stdin when path is "-".
func readDocuments(path string) ([]pipeline.Document, error) {
	if path == "-" {
		content, err := readAllStdin()
		if err != nil {
			return nil, err
		}
		return []pipeline.Document{{Name: "stdin", Text: content}}, nil
	}

	info, err := os.Stat(path)
	if err != nil {
		return nil, fmt.Errorf("reading document %s: %w", path, err)
	}
	if !info.IsDir() {
		doc, err := readFile(path)
		if err != nil {
			return nil, err
		}
		return []pipeline.Document{doc}, nil
	}

	entries, err := os.ReadDir(path)
	if err != nil {
		return nil, fmt.Errorf("reading directory %s: %w", path, err)
	}
	var docs []pipeline.Document
	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		doc, err := readFile(filepath.Join(path, entry.Name()))
		if err != nil {
			return nil, err
		}
		docs = append(docs, doc)
	}
	if len(docs) == 0 {
		return nil, fmt.Errorf("no documents in %s", path)
	}
	return docs, nil
}

func readFile(path string) (pipeline.Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return pipeline.Document{}, fmt.Errorf("reading document %s: %w", path, err)
	}
	return pipeline.Document{Name: filepath.Base(path), Text: string(content)}, nil
}

func readAllStdin() (string, error) {
	content, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", fmt.Errorf("reading stdin: %w", err)
	}
	return string(content), nil
}
