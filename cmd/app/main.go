package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"strings"

	_ "github.com/joho/godotenv/autoload"
	"github.com/urfave/cli/v3"

	"github.com/starford/othala/internal"
	"github.com/starford/othala/internal/itemservice"
	"github.com/starford/othala/internal/mcpserver"
	"github.com/starford/othala/internal/reducer"
	"github.com/starford/othala/internal/repo"
	"github.com/starford/othala/internal/statecache"
	pkgconfig "github.com/starford/othala/pkg/config"
)

// loadConfig reads the config file when it exists and falls back to
// defaults otherwise. An explicitly passed --config path must exist.
func loadConfig(cmd *cli.Command) (*internal.Config, error) {
	cfg := internal.NewDefaultConfig()
	path := cmd.String("config")
	if _, err := os.Stat(path); err != nil {
		if os.IsNotExist(err) && !cmd.IsSet("config") {
			return cfg, nil
		}
		return nil, fmt.Errorf("config file %s: %w", path, err)
	}
	if err := pkgconfig.Load(path, cfg); err != nil {
		return nil, fmt.Errorf("failed to parse config: %w", err)
	}
	return cfg, nil
}

func openRepo(cmd *cli.Command) (*repo.Repository, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, err
	}
	return repo.Open(cfg.Repository.Path)
}

func initAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	rc := repo.DefaultConfig()
	rc.Hash = cmd.String("hash")
	rc.Encoding = cmd.String("encoding")
	rc.IntegrityCheck = !cmd.Bool("no-integrity")
	rep, err := repo.Init(cfg.Repository.Path, rc)
	if err != nil {
		return err
	}
	fmt.Printf("initialized repository at %s (hash %s, encoding %s)\n",
		rep.Root(), rc.Hash, rc.Encoding)
	return nil
}

func serveAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if err := internal.Run(ctx, internal.WithConfig(cfg)); err != nil {
		return fmt.Errorf("app run error: %w", err)
	}
	return nil
}

func itemsAction(ctx context.Context, cmd *cli.Command) error {
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	iter, err := rep.Items()
	if err != nil {
		return err
	}
	for item, ok := iter.Next(); ok; item, ok = iter.Next() {
		fmt.Println(item.Name())
	}
	return nil
}

func itemAction(ctx context.Context, cmd *cli.Command) error {
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	var item *repo.Item
	if name := cmd.String("name"); name != "" {
		item, err = rep.NewNamedItem(name)
	} else {
		item, err = rep.NewItem()
	}
	if err != nil {
		return err
	}
	fmt.Println(item.Name())
	return nil
}

// recordFileName derives the in-record file name from a command line
// argument: a clean relative path is kept, anything else collapses to
// its base name.
func recordFileName(arg string) string {
	name := filepath.ToSlash(filepath.Clean(arg))
	if filepath.IsAbs(arg) || name == ".." || strings.HasPrefix(name, "../") {
		return filepath.Base(arg)
	}
	return name
}

func recordAction(ctx context.Context, cmd *cli.Command) error {
	args := cmd.Args().Slice()
	if len(args) < 2 {
		return fmt.Errorf("usage: record <item> <file>...")
	}
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	item, err := rep.Item(args[0])
	if err != nil {
		return err
	}
	files := make(map[string][]byte, len(args)-1)
	for _, arg := range args[1:] {
		data, err := os.ReadFile(arg)
		if err != nil {
			return err
		}
		files[recordFileName(arg)] = data
	}
	rec, err := item.NewRecord(files, !cmd.Bool("no-link"))
	if err != nil {
		return err
	}
	fmt.Println(rec.Name())
	return nil
}

func recordsAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: records <item>")
	}
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	item, err := rep.Item(name)
	if err != nil {
		return err
	}
	iter := item.Records()
	gen := 0
	for records := iter.Next(); records != nil; records = iter.Next() {
		for _, rec := range records {
			fmt.Printf("%d\t%s\n", gen, rec.Name())
		}
		gen++
	}
	for _, left := range iter.Remaining() {
		fmt.Fprintf(os.Stderr, "unplaced: %s\n", left)
	}
	return nil
}

func reduceAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: reduce <item>")
	}
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	item, err := rep.Item(name)
	if err != nil {
		return err
	}
	state, err := reducer.Merge{}.Reduce(ctx, item)
	if err != nil {
		return err
	}
	out, err := json.MarshalIndent(state, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}

func checkAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().First()
	if name == "" {
		return fmt.Errorf("usage: check <item>")
	}
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	item, err := rep.Item(name)
	if err != nil {
		return err
	}

	// Walk without the integrity filter so damaged records are reported
	// instead of silently dropped.
	var corrupt []string
	total := 0
	iter := item.WithIntegrityCheck(false).Records()
	for records := iter.Next(); records != nil; records = iter.Next() {
		for _, rec := range records {
			total++
			ok, err := rec.Verify()
			if err != nil {
				return err
			}
			if ok {
				fmt.Printf("ok\t%s\n", rec.Name())
			} else {
				corrupt = append(corrupt, rec.Name())
				fmt.Printf("corrupt\t%s\n", rec.Name())
			}
		}
	}
	for _, left := range iter.Remaining() {
		fmt.Fprintf(os.Stderr, "unplaced: %s\n", left)
	}
	if len(corrupt) > 0 {
		return fmt.Errorf("%d of %d records corrupt", len(corrupt), total)
	}
	return nil
}

func modulesAction(ctx context.Context, cmd *cli.Command) error {
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	modules, err := rep.Modules()
	if err != nil {
		return err
	}
	for _, m := range modules {
		fmt.Println(m)
	}
	return nil
}

func relocateAction(ctx context.Context, cmd *cli.Command) error {
	name := cmd.Args().Get(0)
	dest := cmd.Args().Get(1)
	if name == "" || dest == "" {
		return fmt.Errorf("usage: relocate <item> <dest>")
	}
	rep, err := openRepo(cmd)
	if err != nil {
		return err
	}
	return rep.RelocateItem(name, dest)
}

func mcpAction(ctx context.Context, cmd *cli.Command) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	// Stdout carries the MCP transport; logs go to stderr.
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: cfg.App.LogLevel,
	}))

	rep, err := internal.OpenOrInitRepository(cfg.Repository.Path, logger)
	if err != nil {
		return err
	}
	db, err := statecache.Open(cfg.Cache.Path)
	if err != nil {
		return err
	}
	defer db.Close()

	red := reducer.Merge{}
	if err := statecache.Sync(ctx, db, rep, red, logger); err != nil {
		logger.Warn("initial sync failed", slog.String("error", err.Error()))
	}

	svc := itemservice.NewService(rep, db, red)
	return mcpserver.New(svc).ServeStdio()
}

func main() {
	cmd := &cli.Command{
		Name:  "othala",
		Usage: "Filesystem-native record keeper: items hold append-only DAGs of content-addressed records",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:        "config",
				Aliases:     []string{"c"},
				Usage:       "Path to config file",
				DefaultText: "config/config.yaml",
				Value:       "config/config.yaml",
				Sources:     cli.EnvVars("OTHALA_CONFIG_FILE"),
			},
		},
		Commands: []*cli.Command{
			{
				Name:   "init",
				Usage:  "Initialize a repository at the configured path",
				Action: initAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "hash",
						Usage: "Content hash function (blake3 or sha256)",
						Value: "blake3",
					},
					&cli.StringFlag{
						Name:  "encoding",
						Usage: "Hash name encoding (hex or base32)",
						Value: "hex",
					},
					&cli.BoolFlag{
						Name:  "no-integrity",
						Usage: "Disable integrity checking during enumeration",
					},
				},
			},
			{
				Name:   "serve",
				Usage:  "Run the HTTP API, state cache, and filesystem watcher",
				Action: serveAction,
			},
			{
				Name:   "items",
				Usage:  "List item names",
				Action: itemsAction,
			},
			{
				Name:   "item",
				Usage:  "Create a new item and print its name",
				Action: itemAction,
				Flags: []cli.Flag{
					&cli.StringFlag{
						Name:  "name",
						Usage: "Item name (a fresh identity is minted when omitted)",
					},
				},
			},
			{
				Name:      "record",
				Usage:     "Append a record built from the given files",
				ArgsUsage: "<item> <file>...",
				Action:    recordAction,
				Flags: []cli.Flag{
					&cli.BoolFlag{
						Name:  "no-link",
						Usage: "Do not claim the current heads as parents",
					},
				},
			},
			{
				Name:      "records",
				Usage:     "Walk an item's records in topological generations",
				ArgsUsage: "<item>",
				Action:    recordsAction,
			},
			{
				Name:      "reduce",
				Usage:     "Fold an item's records into its current state",
				ArgsUsage: "<item>",
				Action:    reduceAction,
			},
			{
				Name:      "check",
				Usage:     "Verify every record of an item against its name",
				ArgsUsage: "<item>",
				Action:    checkAction,
			},
			{
				Name:   "modules",
				Usage:  "List resolved module directories",
				Action: modulesAction,
			},
			{
				Name:      "relocate",
				Usage:     "Move an item's directory, leaving a redirect behind",
				ArgsUsage: "<item> <dest>",
				Action:    relocateAction,
			},
			{
				Name:   "mcp",
				Usage:  "Serve the Model Context Protocol tools on stdio",
				Action: mcpAction,
			},
		},
	}

	if err := cmd.Run(context.Background(), os.Args); err != nil {
		slog.Error("application error", slog.String("error", err.Error()))
		os.Exit(1)
	}
}
