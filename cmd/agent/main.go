package main

import (
	"context"
	"encoding/json"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/Divas-Gupta30/workflow-builder/internal/app"
	"github.com/Divas-Gupta30/workflow-builder/internal/config"
	"github.com/Divas-Gupta30/workflow-builder/internal/graph"
	"github.com/Divas-Gupta30/workflow-builder/internal/logging"
	"github.com/Divas-Gupta30/workflow-builder/internal/mcpserver"
	"github.com/Divas-Gupta30/workflow-builder/internal/pipeline"
)

var version = "dev"

const usage = "Usage: agent <index|query|validate|mcp> [flags]"

func main() {
	indexCmd := flag.NewFlagSet("index", flag.ExitOnError)
	indexPath := indexCmd.String("path", "./data", "path to folder to index")
	indexCollection := indexCmd.String("collection", "default", "target collection")

	queryCmd := flag.NewFlagSet("query", flag.ExitOnError)
	queryWorkflow := queryCmd.String("workflow", "", "workflow graph JSON file")
	queryText := queryCmd.String("q", "", "query text")

	validateCmd := flag.NewFlagSet("validate", flag.ExitOnError)
	validateWorkflow := validateCmd.String("workflow", "", "workflow graph JSON file")

	mcpCmd := flag.NewFlagSet("mcp", flag.ExitOnError)

	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}

	cfg := config.Load()
	// stdout carries the MCP transport, so logs always go to stderr.
	logger := logging.New(cfg.LogLevel, cfg.LogFormat, os.Stderr)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	var err error
	switch os.Args[1] {
	case "index":
		_ = indexCmd.Parse(os.Args[2:])
		err = index(ctx, cfg, logger, *indexPath, *indexCollection)
	case "query":
		_ = queryCmd.Parse(os.Args[2:])
		if *queryText == "" || *queryWorkflow == "" {
			fmt.Fprintln(os.Stderr, "Please provide -workflow FILE and -q \"your query\"")
			os.Exit(2)
		}
		err = query(ctx, cfg, logger, *queryWorkflow, *queryText)
	case "validate":
		_ = validateCmd.Parse(os.Args[2:])
		if *validateWorkflow == "" {
			fmt.Fprintln(os.Stderr, "Please provide -workflow FILE")
			os.Exit(2)
		}
		err = validate(*validateWorkflow)
	case "mcp":
		_ = mcpCmd.Parse(os.Args[2:])
		err = serveMCP(ctx, cfg, logger)
	default:
		fmt.Fprintln(os.Stderr, usage)
		os.Exit(2)
	}
	if err != nil {
		logger.Error(os.Args[1]+" failed", "error", err)
		stop()
		os.Exit(1)
	}
}

func index(ctx context.Context, cfg config.Settings, logger *slog.Logger, path, collection string) error {
	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	logger.Info("starting indexing", "path", path, "collection", collection)
	report, err := a.Knowledge.IndexDir(ctx, path, collection)
	if err != nil {
		return err
	}
	fmt.Printf("Indexing complete: %d files, %d skipped, %d chunks.\n", report.Files, report.Skipped, report.Chunks)
	return nil
}

func query(ctx context.Context, cfg config.Settings, logger *slog.Logger, file, text string) error {
	g, err := readGraph(file)
	if err != nil {
		return err
	}
	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	res, err := a.Orchestrator.Run(ctx, pipeline.Request{Graph: g, Message: text})
	if err != nil {
		return err
	}
	fmt.Println("Answer:", res.Answer)
	if res.ContextUsed > 0 {
		fmt.Printf("(%d context chunks, provider %s, %dms)\n", res.ContextUsed, res.Provider, res.LatencyMs)
	}
	return nil
}

func validate(file string) error {
	g, err := readGraph(file)
	if err != nil {
		return err
	}
	if _, err := graph.Validate(g); err != nil {
		return err
	}
	fmt.Println("Workflow is valid.")
	return nil
}

func serveMCP(ctx context.Context, cfg config.Settings, logger *slog.Logger) error {
	a, err := app.Build(ctx, cfg, logger, nil)
	if err != nil {
		return err
	}
	defer a.Close()

	srv := mcpserver.New(mcpserver.Deps{
		Runner:      a.Orchestrator,
		Collections: a.Knowledge,
		Version:     version,
		Logger:      logger,
	})
	return srv.Serve(ctx)
}

func readGraph(file string) (graph.Graph, error) {
	var g graph.Graph
	data, err := os.ReadFile(file)
	if err != nil {
		return g, fmt.Errorf("read workflow: %w", err)
	}
	if err := json.Unmarshal(data, &g); err != nil {
		return g, fmt.Errorf("parse workflow %s: %w", file, err)
	}
	return g, nil
}
