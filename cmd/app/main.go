package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/jedib0t/go-pretty/v6/table"
	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/casefile/internal"
	"github.com/starford/casefile/internal/caseservice"
	"github.com/starford/casefile/internal/mcpserver"
	"github.com/starford/casefile/internal/workflow"
	pkgconfig "github.com/starford/casefile/pkg/config"
)

var version = "dev"

func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	configPath := cmd.String("config")
	if _, err := os.Stat(configPath); errors.Is(err, os.ErrNotExist) && !cmd.IsSet("config") {
		// No file at the default location: defaults plus environment.
		if err := pkgconfig.LoadEnv(cfg); err != nil {
			return nil, fmt.Errorf("failed to parse config: %w", err)
		}
		return cfg, nil
	}
	if err := pkgconfig.Load(configPath, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func openApp(ctx context.Context, cmd *cli.Command) (*internal.App, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	logger := internal.NewLogger(cfg)
	slog.SetDefault(logger)
	return internal.Open(ctx, cfg, logger)
}

func serve(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	opts := []internal.Option{
		internal.WithConfig(cfg),
		internal.WithVersion(version),
	}

	if err := internal.Run(ctx, opts...); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}

	return nil
}

func serveMCP(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Engine.ResumeAll(ctx); err != nil {
		app.Logger.Warn("resume sessions failed", slog.String("error", err.Error()))
	}
	return mcpserver.New(app.Service, version).ServeStdio()
}

func cacheStatus(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	stats, err := app.Service.CacheStats(ctx)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Records", "Last Sync"})
	for _, s := range stats {
		last := s.LastSync
		if last == "" {
			last = "never"
		}
		tw.AppendRow(table.Row{s.Type, s.Count, last})
	}
	tw.Render()
	return nil
}

func cacheRefresh(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	typ := cmd.Args().First()
	if typ == "" {
		typ = caseservice.RefreshAll
	}
	stats, err := app.Service.Refresh(ctx, typ)

	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Type", "Remote", "Fresh", "Stale", "New", "Deleted", "Fetched", "Fallback", "Took"})
	for _, s := range stats {
		tw.AppendRow(table.Row{s.Type, s.Remote, s.Fresh, s.Stale, s.New, s.Deleted, s.FullFetched, s.Fallback, s.Duration.Round(time.Millisecond)})
	}
	tw.Render()
	return err
}

func cacheClear(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	if err := app.Service.ClearCache(ctx); err != nil {
		return err
	}
	fmt.Println("cache cleared")
	return nil
}

func sessionList(ctx context.Context, cmd *cli.Command) error {
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	list, err := app.Service.Sessions(ctx)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"ID", "Phase", "Status", "Updated"})
	for _, s := range list {
		tw.AppendRow(table.Row{s.ID, s.Phase, s.Status, s.UpdatedAt.Format(time.RFC3339)})
	}
	tw.Render()
	return nil
}

func sessionShow(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("session id is required")
	}
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Service.Session(ctx, id)
	if err != nil {
		return err
	}
	return printJSON(st)
}

func sessionHistory(ctx context.Context, cmd *cli.Command) error {
	id := cmd.Args().First()
	if id == "" {
		return errors.New("session id is required")
	}
	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	snaps, err := app.Service.History(ctx, id)
	if err != nil {
		return err
	}
	tw := table.NewWriter()
	tw.SetOutputMirror(os.Stdout)
	tw.AppendHeader(table.Row{"Seq", "Checkpoint", "Phase", "Status"})
	for _, s := range snaps {
		tw.AppendRow(table.Row{s.Seq, s.Checkpoint, s.State.Phase, s.State.Status})
	}
	tw.Render()
	return nil
}

func sessionStart(ctx context.Context, cmd *cli.Command) error {
	data, err := os.ReadFile(cmd.String("input"))
	if err != nil {
		return fmt.Errorf("read input: %w", err)
	}
	var in workflow.SessionInput
	if err := json.Unmarshal(data, &in); err != nil {
		return fmt.Errorf("parse input: %w", err)
	}

	app, err := openApp(ctx, cmd)
	if err != nil {
		return err
	}
	defer app.Close()

	st, err := app.Service.StartSession(ctx, cmd.Args().First(), in)
	if err != nil {
		return err
	}
	// Background runs stop with the process; wait for the first checkpoint.
	app.Engine.Wait()
	if st, err = app.Service.Session(ctx, st.SessionID); err != nil {
		return err
	}
	return printJSON(st)
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func main() {
	cmd := &cli.Command{
		Name:    "casefile",
		Usage:   "Evidence curation and checkpointed article generation for About Last Night sessions",
		Version: version,
		Action:  serve,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("APP_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "serve",
				Usage:  "Run the HTTP checkpoint API",
				Action: serve,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the checkpoint tools over MCP stdio",
				Action: serveMCP,
			},
			{
				Name:  "cache",
				Usage: "Inspect and maintain the record cache",
				Commands: []*cli.Command{
					{Name: "status", Usage: "Show cached records per type", Action: cacheStatus},
					{Name: "refresh", Usage: "Refresh one type, or all", ArgsUsage: "[type|all]", Action: cacheRefresh},
					{Name: "clear", Usage: "Drop every cached record", Action: cacheClear},
				},
			},
			{
				Name:  "session",
				Usage: "Inspect workflow sessions",
				Commands: []*cli.Command{
					{Name: "list", Usage: "List sessions", Action: sessionList},
					{Name: "show", Usage: "Print a session state", ArgsUsage: "<id>", Action: sessionShow},
					{Name: "history", Usage: "List checkpoint snapshots", ArgsUsage: "<id>", Action: sessionHistory},
					{
						Name:      "start",
						Usage:     "Start a session from a JSON input file",
						ArgsUsage: "[id]",
						Action:    sessionStart,
						Flags: []cli.Flag{
							&cli.StringFlag{Name: "input", Aliases: []string{"i"}, Usage: "Session input JSON", Required: true},
						},
					},
				},
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
