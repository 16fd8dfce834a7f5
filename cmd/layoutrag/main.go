package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"sort"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	temporalclient "go.temporal.io/sdk/client"

	"github.com/lumozai/layout-aware-rag-demo/internal/app"
	"github.com/lumozai/layout-aware-rag-demo/internal/citation"
	"github.com/lumozai/layout-aware-rag-demo/internal/config"
	"github.com/lumozai/layout-aware-rag-demo/internal/ingest"
	"github.com/lumozai/layout-aware-rag-demo/internal/observability"
	"github.com/lumozai/layout-aware-rag-demo/internal/query"
	"github.com/lumozai/layout-aware-rag-demo/internal/server"
	temporalmod "github.com/lumozai/layout-aware-rag-demo/internal/temporal"
	"github.com/lumozai/layout-aware-rag-demo/internal/watch"
)

func main() {
	var (
		configPath string
		logLevel   string
	)

	rootCmd := &cobra.Command{
		Use:           "layoutrag",
		Short:         "Layout-aware retrieval with page and bounding-box citations",
		SilenceUsage:  true,
		SilenceErrors: true,
	}
	rootCmd.PersistentFlags().StringVar(&configPath, "config", "", "Config file path (default: ./layoutrag.yaml if present)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "Override log.level")

	env := func() (*config.Config, *slog.Logger, error) {
		cfg, err := config.Load(configPath)
		if err != nil {
			return nil, nil, err
		}
		if logLevel != "" {
			cfg.Log.Level = logLevel
		}
		logger := observability.NewLogger(os.Stderr, cfg.Log.Level, cfg.Log.Format)
		slog.SetDefault(logger)
		return cfg, logger, nil
	}

	serveCmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the HTTP API and evidence viewer",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env()
			if err != nil {
				return err
			}
			return runServe(cmd.Context(), cfg, logger)
		},
	}

	var (
		title  string
		family string
		async  bool
	)
	ingestCmd := &cobra.Command{
		Use:   "ingest <file.pdf>",
		Short: "Ingest a PDF into the evidence store",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env()
			if err != nil {
				return err
			}
			opts := ingest.Options{Title: title, Family: family}
			if async {
				return runIngestAsync(cmd.Context(), cfg, logger, args[0], opts)
			}
			return runIngest(cmd.Context(), cfg, logger, args[0], opts)
		},
	}
	ingestCmd.Flags().StringVar(&title, "title", "", "Document title (default: parser title, then file name)")
	ingestCmd.Flags().StringVar(&family, "family", "", "Document family used for filtering")
	ingestCmd.Flags().BoolVar(&async, "async", false, "Submit to the Temporal ingestion worker and return")

	var (
		k          int
		limit      int
		qFamily    string
		jsonOutput bool
	)
	queryCmd := &cobra.Command{
		Use:   "query <question>",
		Short: "Answer a question with cited evidence",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env()
			if err != nil {
				return err
			}
			req := query.Request{Query: strings.Join(args, " "), DocType: qFamily, K: k, Limit: limit}
			return runQuery(cmd.Context(), cfg, logger, req, jsonOutput)
		},
	}
	queryCmd.Flags().IntVar(&k, "k", 10, "Nearest neighbours to request")
	queryCmd.Flags().IntVar(&limit, "limit", 5, "Results to keep")
	queryCmd.Flags().StringVar(&qFamily, "family", "general", "Restrict to a document family")
	queryCmd.Flags().BoolVar(&jsonOutput, "json", false, "Print the full response as JSON")

	schemaCmd := &cobra.Command{
		Use:   "schema",
		Short: "Create evidence store constraints and indexes",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env()
			if err != nil {
				return err
			}
			return runSchema(cmd.Context(), cfg, logger)
		},
	}

	var watchFamily string
	watchCmd := &cobra.Command{
		Use:   "watch [dir]",
		Short: "Ingest PDFs dropped into an inbox directory",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, logger, err := env()
			if err != nil {
				return err
			}
			dir := cfg.Storage.InboxDir
			if len(args) == 1 {
				dir = args[0]
			}
			return runWatch(cmd.Context(), cfg, logger, dir, watchFamily)
		},
	}
	watchCmd.Flags().StringVar(&watchFamily, "family", "", "Family assigned to watched documents")

	versionCmd := &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Println("layoutrag", app.Version)
		},
	}

	rootCmd.AddCommand(serveCmd, ingestCmd, queryCmd, schemaCmd, watchCmd, versionCmd)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	if err := rootCmd.ExecuteContext(ctx); err != nil {
		fmt.Fprintln(os.Stderr, "Error:", err)
		stop()
		os.Exit(1)
	}
}

// start wires observability and the services and returns a cleanup that
// runs every shutdown hook.
func start(ctx context.Context, cfg *config.Config, logger *slog.Logger) (*app.App, func(), error) {
	hooks, err := app.SetupObservability(ctx, cfg, logger)
	if err != nil {
		return nil, nil, err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		runHooks(logger, hooks)
		return nil, nil, err
	}
	return a, func() { runHooks(logger, append(a.ShutdownHooks(), hooks...)) }, nil
}

func runHooks(logger *slog.Logger, hooks []server.ShutdownHook) {
	h := server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger})
	for _, hook := range hooks {
		h.Register(hook)
	}
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	_ = h.RunHooks(ctx)
}

func runServe(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	hooks, err := app.SetupObservability(ctx, cfg, logger)
	if err != nil {
		return err
	}
	a, err := app.New(ctx, cfg, logger)
	if err != nil {
		runHooks(logger, hooks)
		return err
	}
	srv := a.NewAPI()

	shutdown := server.NewShutdownHandler(&server.ShutdownConfig{Logger: logger})
	shutdown.Register(server.HTTPServerShutdownHook("api", srv.Stop))
	for _, hook := range append(a.ShutdownHooks(), hooks...) {
		shutdown.Register(hook)
	}
	shutdown.Start()

	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err = <-errCh:
	case <-ctx.Done():
	case <-shutdown.ShutdownCh():
	}
	shutdown.Shutdown()
	shutdown.Wait()
	logger.Info("server stopped")
	return err
}

func runIngest(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string, opts ingest.Options) error {
	a, cleanup, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	res, err := a.Ingest.IngestFile(ctx, path, opts)
	if err != nil {
		return err
	}
	fmt.Printf("Ingested %s\n  doc_id: %s\n  title:  %s\n  pages:  %d\n  chunks: %d\n",
		path, res.DocID, res.Title, res.PageCount, res.ChunkCount)
	return nil
}

func runIngestAsync(ctx context.Context, cfg *config.Config, logger *slog.Logger, path string, opts ingest.Options) error {
	a, cleanup, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	c, err := temporalclient.Dial(temporalclient.Options{
		HostPort:  cfg.Temporal.Host,
		Namespace: cfg.Temporal.Namespace,
		Logger:    logger,
	})
	if err != nil {
		return fmt.Errorf("temporal client: %w", err)
	}
	defer c.Close()

	job, err := a.Ingest.StageFile(path, opts)
	if err != nil {
		return err
	}
	job.WorkflowID = temporalmod.WorkflowID(job.DocID)
	run, err := temporalmod.SubmitIngest(ctx, c, cfg.Temporal.TaskQueue, job)
	if err != nil {
		a.Ingest.Discard(job)
		return err
	}
	a.Ingest.Release(job)
	fmt.Printf("Submitted %s\n  doc_id:      %s\n  workflow_id: %s\n  run_id:      %s\n",
		path, job.DocID, run.GetID(), run.GetRunID())
	return nil
}

func runQuery(ctx context.Context, cfg *config.Config, logger *slog.Logger, req query.Request, jsonOutput bool) error {
	a, cleanup, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	resp, err := a.Query.Answer(ctx, req)
	if err != nil {
		return err
	}
	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(resp)
	}

	fmt.Println(resp.Answer)
	if len(resp.CitedChunks) == 0 {
		return nil
	}
	ids := make([]string, 0, len(resp.CitedChunks))
	for id := range resp.CitedChunks {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	fmt.Println()
	fmt.Println("Sources:")
	for _, id := range ids {
		c := resp.CitedChunks[id]
		fmt.Printf("  [%s] page %d  %s\n", id, c.Page, citation.ViewerURL(c))
	}
	return nil
}

func runSchema(ctx context.Context, cfg *config.Config, logger *slog.Logger) error {
	g, err := app.NewGateway(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer g.Close(ctx)

	err = g.EnsureSchema(ctx)
	observability.Audit().LogSchema(ctx, cfg.Store.Backend, err)
	if err != nil {
		return fmt.Errorf("schema: %w", err)
	}
	n, err := g.CountChunks(ctx)
	if err != nil {
		return fmt.Errorf("count chunks: %w", err)
	}
	fmt.Printf("Schema ready on %s (%d chunks indexed)\n", cfg.Store.Backend, n)
	return nil
}

func runWatch(ctx context.Context, cfg *config.Config, logger *slog.Logger, dir, family string) error {
	a, cleanup, err := start(ctx, cfg, logger)
	if err != nil {
		return err
	}
	defer cleanup()

	w := watch.New(dir, a.Ingest, watch.Config{Family: family}, logger)
	return w.Run(ctx)
}
