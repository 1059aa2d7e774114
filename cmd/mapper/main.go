package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/labstack/echo/v4"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/urfave/cli/v2"

	"schema-mapper/internal/app"
	"schema-mapper/internal/config"
	"schema-mapper/internal/logging"
	"schema-mapper/internal/server"
	"schema-mapper/internal/usecase"
	"schema-mapper/internal/workbook"
)

var version = "dev"

func main() {
	if err := newApp().Run(os.Args); err != nil {
		log.Fatal(err)
	}
}

func newApp() *cli.App {
	runIDFlag := &cli.StringFlag{
		Name:  "run-id",
		Usage: "Run ID (UUID) to record artifacts under; generated when empty",
	}
	return &cli.App{
		Name:    "schema-mapper",
		Usage:   "LLM-assisted source-to-target schema mapping",
		Version: version,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "config",
				Aliases: []string{"c"},
				Usage:   "Path to configuration file (default $MAPPER_CONFIG)",
			},
			&cli.StringFlag{
				Name:  "out",
				Usage: "Write artifacts to this directory (overrides the configured backend)",
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "shortlist",
				Usage:  "Recommend source tables relevant to a target table",
				Action: runShortlist,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Required: true, Usage: "Source workbook (.xlsx)"},
					&cli.StringFlag{Name: "target", Required: true, Usage: "Target schema document (JSON)"},
					runIDFlag,
				},
			},
			{
				Name:   "map",
				Usage:  "Propose field mappings from source tables to a target table",
				Action: runMap,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "source", Required: true, Usage: "Source table schemas (JSON array)"},
					&cli.StringFlag{Name: "target", Required: true, Usage: "Target schema document (JSON)"},
					runIDFlag,
				},
			},
			{
				Name:   "sql",
				Usage:  "Generate SQL from approved field mappings",
				Action: runSQL,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "mappings", Required: true, Usage: "Approved mappings (JSON array)"},
					runIDFlag,
				},
			},
			{
				Name:      "runs",
				Usage:     "List the artifacts recorded for a run",
				ArgsUsage: "<run-id>",
				Action:    listRun,
			},
			{
				Name:   "serve",
				Usage:  "Serve the HTTP API",
				Action: serve,
				Flags: []cli.Flag{
					&cli.StringFlag{Name: "addr", Usage: "Listen address (overrides server.addr)"},
				},
			},
		},
	}
}

// setup loads configuration, applies global flag overrides and builds the
// pipeline. The returned cleanup closes the log sink.
func setup(c *cli.Context) (*app.App, *slog.Logger, func(), error) {
	cfg, err := config.Load(c.String("config"))
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to load config: %w", err)
	}
	if c.IsSet("out") {
		cfg.Artifacts.Backend = config.ArtifactsFile
		cfg.Artifacts.Dir = c.String("out")
	}
	if c.IsSet("addr") {
		cfg.Server.Addr = c.String("addr")
	}

	logger, closer, err := logging.New(cfg.Log)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("failed to set up logging: %w", err)
	}
	a, err := app.Build(c.Context, cfg, logger)
	if err != nil {
		closer.Close()
		return nil, nil, nil, fmt.Errorf("failed to build pipeline: %w", err)
	}
	return a, logger, func() { closer.Close() }, nil
}

// signalContext cancels on SIGINT/SIGTERM so an in-flight completion call
// is abandoned rather than waited out.
func signalContext(parent context.Context) (context.Context, context.CancelFunc) {
	return signal.NotifyContext(parent, syscall.SIGINT, syscall.SIGTERM)
}

func runShortlist(c *cli.Context) error {
	sheets, err := workbook.LoadSheets(c.String("source"))
	if err != nil {
		return err
	}
	target, err := workbook.LoadTarget(c.String("target"))
	if err != nil {
		return err
	}
	a, _, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	out, err := a.Service.RecommendTables(ctx, usecase.RecommendTablesInput{
		RunID:  c.String("run-id"),
		Sheets: sheets,
		Target: target,
	})
	if err != nil {
		return err
	}
	return writeResult(c, out.RunID, out.Tables)
}

func runMap(c *cli.Context) error {
	sources, err := workbook.LoadSourceTables(c.String("source"))
	if err != nil {
		return err
	}
	target, err := workbook.LoadTarget(c.String("target"))
	if err != nil {
		return err
	}
	a, _, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	out, err := a.Service.RecommendFields(ctx, usecase.RecommendFieldsInput{
		RunID:        c.String("run-id"),
		SourceTables: sources,
		Target:       target,
	})
	if err != nil {
		return err
	}
	return writeResult(c, out.RunID, out.Mappings)
}

func runSQL(c *cli.Context) error {
	mappings, err := workbook.LoadApprovedMappings(c.String("mappings"))
	if err != nil {
		return err
	}
	a, _, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	ctx, cancel := signalContext(c.Context)
	defer cancel()
	out, err := a.Service.GenerateSQL(ctx, usecase.GenerateSQLInput{
		RunID:    c.String("run-id"),
		Mappings: mappings,
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(c.App.ErrWriter, "run %s\n", out.RunID)
	_, err = fmt.Fprintln(c.App.Writer, out.SQL)
	return err
}

func writeResult(c *cli.Context, runID string, v any) error {
	fmt.Fprintf(c.App.ErrWriter, "run %s\n", runID)
	enc := json.NewEncoder(c.App.Writer)
	enc.SetEscapeHTML(false)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func listRun(c *cli.Context) error {
	runID := c.Args().First()
	if runID == "" {
		return errors.New("run ID is required")
	}
	a, _, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()
	if a.Artifacts == nil {
		return errors.New("artifacts are disabled (artifacts.backend is none)")
	}

	list, err := a.Artifacts.ListArtifacts(c.Context, runID)
	if err != nil {
		return err
	}
	if len(list) == 0 {
		return fmt.Errorf("run %s has no artifacts", runID)
	}
	for _, art := range list {
		fmt.Fprintf(c.App.Writer, "%-10s %-22s %8d  %s\n",
			art.Stage, art.Stage.FileName(), len(art.Body), art.CreatedAt.UTC().Format(time.RFC3339))
	}
	return nil
}

func serve(c *cli.Context) error {
	a, logger, cleanup, err := setup(c)
	if err != nil {
		return err
	}
	defer cleanup()

	opts := []server.Option{server.WithLogger(logger)}
	if a.Artifacts != nil {
		opts = append(opts, server.WithArtifactReader(a.Artifacts))
	}
	routes, err := server.NewHandler(a.Service, opts...)
	if err != nil {
		return err
	}
	e := server.New(routes)
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	defer signal.Stop(quit)
	return runServer(e, a.Config.Server.Addr, a.Config.Server.ShutdownTimeout, quit, logger)
}

type httpServer interface {
	Start(addr string) error
	Shutdown(ctx context.Context) error
}

// runServer serves until a signal arrives on quit or the server stops on its
// own. A server that stops cleanly without a signal is not an error.
func runServer(srv httpServer, addr string, shutdownTimeout time.Duration, quit <-chan os.Signal, logger *slog.Logger) error {
	errCh := make(chan error, 1)
	go func() {
		logger.Info("server_starting", "addr", addr)
		if err := srv.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
		close(errCh)
	}()

	select {
	case err, ok := <-errCh:
		if !ok {
			logger.Info("server_stopped")
			return nil
		}
		return fmt.Errorf("server failed: %w", err)
	case <-quit:
	}

	logger.Info("server_shutting_down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), shutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown: %w", err)
	}
	logger.Info("server_stopped")
	return nil
}
