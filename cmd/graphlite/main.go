// Package main provides the graphlite CLI entry point.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/dustin/go-humanize"
	"github.com/spf13/cobra"
	"github.com/spf13/pflag"

	"github.com/orneryd/graphlite/pkg/config"
	"github.com/orneryd/graphlite/pkg/graphlite"
)

var (
	version   = "0.1.0"
	commit    = "dev"
	buildTime = "unknown" // Set via ldflags: -X main.buildTime=$(date +%Y%m%d-%H%M%S)
)

func main() {
	if err := newRootCmd().Execute(); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	rootCmd := &cobra.Command{
		Use:   "graphlite",
		Short: "graphlite - embedded transactional property graph",
		Long: `graphlite is an embedded property-graph database with ACID
transactions and a small Cypher-like query language.

Every command opens the graph in --data-dir, runs, and closes it again.`,
		SilenceUsage: true,
	}
	addGlobalFlags(rootCmd.PersistentFlags())

	rootCmd.AddCommand(&cobra.Command{
		Use:   "version",
		Short: "Print version information",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "graphlite v%s (%s) built %s\n", version, commit, buildTime)
		},
	})

	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Create a data directory and a default config file",
		Args:  cobra.NoArgs,
		RunE:  runInit,
	}
	initCmd.Flags().Bool("force", false, "Overwrite an existing config file")
	rootCmd.AddCommand(initCmd)

	queryCmd := &cobra.Command{
		Use:   "query <text>",
		Short: "Run one query and print its rows",
		Long: `Run one query in its own transaction. Queries that change the graph
run in the write transaction and are committed when they succeed.

Parameters are passed as --param name=value, where value is written the
way results are printed: 42, 2.5, TRUE, NULL, 'text', #7 (an id), x'00ff'.`,
		Args: cobra.ExactArgs(1),
		RunE: runQuery,
	}
	queryCmd.Flags().StringArrayP("param", "p", nil, "Query parameter as name=value (repeatable)")
	rootCmd.AddCommand(queryCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "shell",
		Short: "Interactive query shell",
		Args:  cobra.NoArgs,
		RunE:  runShell,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "explain <text>",
		Short: "Print the plan of a query without running it",
		Args:  cobra.ExactArgs(1),
		RunE:  runExplain,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "schema",
		Short: "List labels, edge types and property keys in use",
		Args:  cobra.NoArgs,
		RunE:  runSchema,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "stats",
		Short: "Show node and edge counts and on-disk sizes",
		Args:  cobra.NoArgs,
		RunE:  runStats,
	})

	rootCmd.AddCommand(&cobra.Command{
		Use:   "label <node-id> <label>",
		Short: "Add a label to an existing node",
		Args:  cobra.ExactArgs(2),
		RunE:  runLabel,
	})

	backupCmd := &cobra.Command{
		Use:   "backup <file>",
		Short: "Write a full backup of the graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runBackup,
	}
	backupCmd.Flags().Bool("compress", true, "Compress the backup with zstd (default from backup.compress)")
	rootCmd.AddCommand(backupCmd)

	rootCmd.AddCommand(&cobra.Command{
		Use:   "restore <file>",
		Short: "Load a backup into the graph",
		Args:  cobra.ExactArgs(1),
		RunE:  runRestore,
	})

	return rootCmd
}

func addGlobalFlags(fs *pflag.FlagSet) {
	fs.String("data-dir", "", "Data directory (default from config, then ./data)")
	fs.String("config", "", "Config file (default: search the usual locations)")
	fs.String("log-level", "", "Storage log level: debug, info, warn, error")
}

// loadConfig layers flags over the config file and environment.
func loadConfig(cmd *cobra.Command) (*config.Config, error) {
	path, _ := cmd.Flags().GetString("config")
	if path == "" {
		path = config.FindConfigFile()
	}
	cfg, err := config.LoadFromFile(path)
	if err != nil {
		return nil, err
	}
	if dir, _ := cmd.Flags().GetString("data-dir"); dir != "" {
		cfg.Database.DataDir = dir
	}
	if level, _ := cmd.Flags().GetString("log-level"); level != "" {
		cfg.Logging.Level = level
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	cfg.Memory.ApplyRuntimeMemory()
	return cfg, nil
}

func openGraph(cmd *cobra.Command) (*graphlite.Graph, *config.Config, error) {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return nil, nil, err
	}
	g, err := graphlite.Open(cfg.Database.DataDir, cfg)
	if err != nil {
		return nil, nil, fmt.Errorf("opening graph: %w", err)
	}
	return g, cfg, nil
}

func signalContext() (context.Context, context.CancelFunc) {
	return signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
}

// ============================================================================
// Commands
// ============================================================================

func runInit(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	dataDir := cfg.Database.DataDir
	fmt.Fprintf(out, "Initializing graphlite in %s\n", dataDir)

	if err := os.MkdirAll(dataDir, 0755); err != nil {
		return fmt.Errorf("creating %s: %w", dataDir, err)
	}

	configPath := filepath.Join(dataDir, "graphlite.yaml")
	force, _ := cmd.Flags().GetBool("force")
	if _, err := os.Stat(configPath); err == nil && !force {
		fmt.Fprintf(out, "Config %s already exists (use --force to overwrite)\n", configPath)
	} else {
		if err := os.WriteFile(configPath, []byte(defaultConfigFile(dataDir)), 0644); err != nil {
			return fmt.Errorf("writing config: %w", err)
		}
		fmt.Fprintf(out, "Wrote %s\n", configPath)
	}

	g, err := graphlite.Open(dataDir, cfg)
	if err != nil {
		return fmt.Errorf("creating graph: %w", err)
	}
	if err := g.Close(); err != nil {
		return err
	}
	fmt.Fprintln(out, "Graph ready")
	return nil
}

func defaultConfigFile(dataDir string) string {
	return `# graphlite configuration
database:
  data_dir: ` + strconv.Quote(dataDir) + `
  sync_writes: true
  write_lock_mode: block      # block or fail
  write_lock_timeout: 0s      # 0 waits until the writer finishes
  encryption_enabled: false

query:
  plan_cache_size: 256

memory:
  block_cache_size: "0"       # e.g. 256MiB; 0 keeps the badger default
  runtime_limit: "0"
  gc_percent: 100

logging:
  level: warn
  query_log_enabled: false
  slow_query_threshold: 100ms

backup:
  compress: true
`
}

func runQuery(cmd *cobra.Command, args []string) error {
	pairs, _ := cmd.Flags().GetStringArray("param")
	params, err := parseParams(pairs)
	if err != nil {
		return err
	}
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, cancel := signalContext()
	defer cancel()
	return runStatement(ctx, g, args[0], params, cmd.OutOrStdout())
}

// runStatement runs query in its own transaction and prints the result.
func runStatement(ctx context.Context, g *graphlite.Graph, query string, params graphlite.Params, out io.Writer) error {
	stmt, err := g.Prepare(query)
	if err != nil {
		return err
	}
	defer stmt.Finalize()

	var rows []graphlite.Row
	collect := func(txn *graphlite.Txn) error {
		return stmt.Query(txn, params, func(r graphlite.Row) error {
			rows = append(rows, r)
			return nil
		})
	}
	start := time.Now()
	if stmt.Mutates() {
		err = g.Update(ctx, collect)
	} else {
		err = g.View(collect)
	}
	if err != nil {
		return err
	}
	printRows(out, stmt.Columns(), rows, time.Since(start))
	return nil
}

func printRows(out io.Writer, columns []string, rows []graphlite.Row, elapsed time.Duration) {
	if len(columns) == 0 {
		fmt.Fprintf(out, "OK (%v)\n", elapsed.Round(time.Microsecond))
		return
	}
	header := strings.Join(columns, " | ")
	fmt.Fprintln(out, header)
	fmt.Fprintln(out, strings.Repeat("-", len(header)))
	for _, row := range rows {
		cells := make([]string, len(row))
		for i, v := range row {
			cells[i] = v.String()
		}
		fmt.Fprintln(out, strings.Join(cells, " | "))
	}
	fmt.Fprintf(out, "(%d row(s), %v)\n", len(rows), elapsed.Round(time.Microsecond))
}

func runShell(cmd *cobra.Command, args []string) error {
	g, cfg, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()

	out := cmd.OutOrStdout()
	fmt.Fprintf(out, "Connected to %s\n", cfg.Database.DataDir)
	fmt.Fprintln(out, "Type 'exit' or Ctrl+D to quit, ':help' for commands")

	ctx, cancel := signalContext()
	defer cancel()

	scanner := bufio.NewScanner(cmd.InOrStdin())
	for {
		fmt.Fprint(out, "graphlite> ")
		if !scanner.Scan() {
			break
		}
		line := strings.TrimSuffix(strings.TrimSpace(scanner.Text()), ";")
		if line == "" {
			continue
		}
		if line == "exit" || line == "quit" {
			break
		}

		switch {
		case line == ":help":
			fmt.Fprintln(out, ":explain <query>   show the plan of a query")
			fmt.Fprintln(out, ":schema            list labels, edge types and property keys")
			fmt.Fprintln(out, ":stats             node and edge counts")
			err = nil
		case strings.HasPrefix(line, ":explain "):
			var plan string
			if plan, err = g.Explain(strings.TrimPrefix(line, ":explain ")); err == nil {
				fmt.Fprint(out, plan)
			}
		case line == ":schema":
			err = printSchema(g, out)
		case line == ":stats":
			err = printStats(g, out)
		default:
			err = runStatement(ctx, g, line, nil, out)
		}
		if err != nil {
			fmt.Fprintf(out, "Error: %v\n", err)
		}
		fmt.Fprintln(out)
	}
	if err := scanner.Err(); err != nil {
		return fmt.Errorf("reading input: %w", err)
	}
	return nil
}

func runExplain(cmd *cobra.Command, args []string) error {
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()
	plan, err := g.Explain(args[0])
	if err != nil {
		return err
	}
	fmt.Fprint(cmd.OutOrStdout(), plan)
	return nil
}

func runSchema(cmd *cobra.Command, args []string) error {
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()
	return printSchema(g, cmd.OutOrStdout())
}

func printSchema(g *graphlite.Graph, out io.Writer) error {
	cat, err := g.Catalog()
	if err != nil {
		return err
	}
	section := func(title string, counts map[string]uint64) {
		fmt.Fprintf(out, "%s:\n", title)
		if len(counts) == 0 {
			fmt.Fprintln(out, "  (none)")
			return
		}
		names := make([]string, 0, len(counts))
		for name := range counts {
			names = append(names, name)
		}
		sort.Strings(names)
		for _, name := range names {
			fmt.Fprintf(out, "  %-24s %s\n", name, humanize.Comma(int64(counts[name])))
		}
	}
	section("Labels", cat.Labels)
	section("Edge types", cat.EdgeTypes)
	section("Property keys", cat.PropertyKeys)
	return nil
}

func runStats(cmd *cobra.Command, args []string) error {
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()
	return printStats(g, cmd.OutOrStdout())
}

func printStats(g *graphlite.Graph, out io.Writer) error {
	stats, err := g.Stats()
	if err != nil {
		return err
	}
	fmt.Fprintf(out, "Path:        %s\n", g.Path())
	fmt.Fprintf(out, "Nodes:       %s\n", humanize.Comma(stats.Nodes))
	fmt.Fprintf(out, "Edges:       %s\n", humanize.Comma(stats.Edges))
	fmt.Fprintf(out, "Labels:      %d\n", len(stats.Catalog.Labels))
	fmt.Fprintf(out, "Edge types:  %d\n", len(stats.Catalog.EdgeTypes))
	fmt.Fprintf(out, "LSM size:    %s\n", humanize.IBytes(uint64(stats.LSMBytes)))
	fmt.Fprintf(out, "Value log:   %s\n", humanize.IBytes(uint64(stats.VLogSize)))
	return nil
}

func runLabel(cmd *cobra.Command, args []string) error {
	id, err := strconv.ParseUint(strings.TrimPrefix(args[0], "#"), 10, 64)
	if err != nil {
		return fmt.Errorf("invalid node id %q", args[0])
	}
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()

	ctx, cancel := signalContext()
	defer cancel()
	err = g.Update(ctx, func(txn *graphlite.Txn) error {
		return txn.AddLabel(id, args[1])
	})
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Added label %s to node #%d\n", args[1], id)
	return nil
}

func runBackup(cmd *cobra.Command, args []string) error {
	g, cfg, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()

	compress := cfg.Backup.Compress
	if cmd.Flags().Changed("compress") {
		compress, _ = cmd.Flags().GetBool("compress")
	}
	if err := g.BackupFile(args[0], compress); err != nil {
		return err
	}
	size := "?"
	if info, err := os.Stat(args[0]); err == nil {
		size = humanize.IBytes(uint64(info.Size()))
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Backup written to %s (%s)\n", args[0], size)
	return nil
}

func runRestore(cmd *cobra.Command, args []string) error {
	g, _, err := openGraph(cmd)
	if err != nil {
		return err
	}
	defer g.Close()
	if err := g.RestoreFile(args[0]); err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "Restored %s into %s\n", args[0], g.Path())
	return nil
}
