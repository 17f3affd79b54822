// Package main is the kioku CLI entry point.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/kioku/internal/cli"
	"github.com/hyperjump/kioku/internal/config"
	"github.com/hyperjump/kioku/internal/errs"
	"github.com/hyperjump/kioku/internal/models"
	"github.com/hyperjump/kioku/internal/server"
	"github.com/hyperjump/kioku/internal/session"
	"github.com/hyperjump/kioku/internal/store"
	"github.com/hyperjump/kioku/internal/watcher"
	"github.com/hyperjump/kioku/pkg/utils"
)

var version = "dev"

const defaultConfigPath = "kioku.yaml"

// loadConfig loads config from path. When path is the default and no such
// file exists, the built-in defaults are used and the returned path is empty.
func loadConfig(path string) (*config.Config, string, error) {
	if path == defaultConfigPath {
		if _, err := os.Stat(path); errors.Is(err, os.ErrNotExist) {
			return config.Default(), "", nil
		}
	}
	cfg, err := config.Load(path)
	if err != nil {
		return nil, "", err
	}
	return cfg, path, nil
}

func main() {
	if len(os.Args) < 2 {
		printUsage(os.Stderr)
		os.Exit(1)
	}
	command, args := os.Args[1], os.Args[2:]
	var err error
	switch command {
	case "sync":
		err = runSync(args, os.Stdout)
	case "query":
		err = runQuery(args, os.Stdout)
	case "run":
		err = runRequest(args, os.Stdin, os.Stdout)
	case "serve":
		err = runServe(args)
	case "watch":
		err = runWatch(args)
	case "status":
		err = runStatus(args, os.Stdout)
	case "version", "--version", "-v":
		fmt.Printf("kioku version %s\n", version)
	case "help", "--help", "-h":
		printUsage(os.Stdout)
	default:
		fmt.Fprintf(os.Stderr, "Unknown command: %s\n", command)
		printUsage(os.Stderr)
		os.Exit(1)
	}
	if err != nil {
		fmt.Fprintf(os.Stderr, "kioku %s: %v\n", command, err)
		if ids := errIDs(err); ids != "" {
			fmt.Fprintf(os.Stderr, "  ids: %s\n", ids)
		}
		os.Exit(1)
	}
}

// common holds the flags shared by every subcommand.
type common struct {
	configPath *string
	storePath  *string
	debug      *bool
}

func commonFlags(fs *flag.FlagSet) *common {
	return &common{
		configPath: fs.String("config", defaultConfigPath, "config file path"),
		storePath:  fs.String("store", "", "store file path (overrides store.path)"),
		debug:      fs.Bool("debug", false, "enable debug logging"),
	}
}

// environment is what every subcommand needs once flags are parsed.
type environment struct {
	cfg     *config.Config
	logger  *zap.Logger
	session *session.Session
}

func (e *environment) Close() {
	if e.session != nil {
		if err := e.session.Close(); err != nil {
			e.logger.Warn("close session", zap.Error(err))
		}
	}
	_ = e.logger.Sync()
}

// initializeComponents loads config, builds the logger and opens the session.
func initializeComponents(ctx context.Context, c *common) (*environment, error) {
	cfg, resolved, err := loadConfig(*c.configPath)
	if err != nil {
		return nil, fmt.Errorf("failed to load config: %w", err)
	}
	if *c.storePath != "" {
		cfg.Store.Path = *c.storePath
	}
	debugMode := cfg.Debug || *c.debug
	logger, err := utils.NewLogger(debugMode)
	if err != nil {
		return nil, fmt.Errorf("failed to create logger: %w", err)
	}
	logger.Debug("config loaded",
		zap.String("config_path", resolved),
		zap.String("store", cfg.Store.Path),
		zap.String("provider", cfg.Embedding.Provider))

	sess, err := session.Open(ctx, cfg, session.WithLogger(logger))
	if err != nil {
		_ = logger.Sync()
		return nil, err
	}
	return &environment{cfg: cfg, logger: logger, session: sess}, nil
}

func runSync(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("sync", flag.ExitOnError)
	c := commonFlags(fs)
	root := fs.String("root", "", "directory to ingest (default: ingest.root)")
	glob := fs.String("glob", "", `file pattern below root, "**" matches directories (default: ingest.glob)`)
	chunked := fs.Bool("chunked", true, "split files into blank-line separated chunks (default: ingest.chunked)")
	removeMissing := fs.Bool("remove-missing", false, "remove stored items that are no longer present")
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := initializeComponents(ctx, c)
	if err != nil {
		return err
	}
	defer env.Close()

	req := &models.SyncRequest{
		Root:          *root,
		Glob:          *glob,
		RemoveMissing: *removeMissing,
	}
	if isFlagSet(fs, "chunked") {
		req.Chunked = chunked
	}
	res, err := env.session.Sync(ctx, req)
	if err != nil {
		return err
	}
	return cli.WriteSyncResult(out, res, format)
}

func runQuery(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("query", flag.ExitOnError)
	c := commonFlags(fs)
	count := fs.Int("count", 0, "number of results (default: search.default_count)")
	threshold := fs.Float64("threshold", 0, "minimum similarity, inclusive (default: search.threshold)")
	itemType := fs.String("type", "", `only return items whose meta type matches, e.g. "file" or "chunk"`)
	prefix := fs.String("prefix", "", "only return items whose id starts with prefix")
	noContent := fs.Bool("no-content", false, "do not attach item content")
	output := fs.String("output", "text", "output format: text or json")
	fs.Usage = func() {
		fmt.Fprintf(fs.Output(), "Usage: kioku query [flags] <prompt>\n\n")
		fs.PrintDefaults()
	}
	_ = fs.Parse(argsReorder(args))

	prompt := buildPrompt(fs.Args())
	if prompt == "" {
		fs.Usage()
		return errors.New("prompt is required")
	}
	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}

	req := &models.QueryRequest{Prompt: prompt, Count: *count}
	if isFlagSet(fs, "threshold") {
		req.Threshold = threshold
	}
	if *itemType != "" || *prefix != "" {
		req.Filter = &models.Filter{Type: *itemType, IDPrefix: *prefix}
	}
	if *noContent {
		withContent := false
		req.WithContent = &withContent
	}

	ctx := context.Background()
	env, err := initializeComponents(ctx, c)
	if err != nil {
		return err
	}
	defer env.Close()

	resp, err := env.session.Query(ctx, req)
	if err != nil {
		return err
	}
	return cli.WriteQueryResponse(out, resp, format)
}

// runRequest executes one tagged JSON request, given as the argument or read
// from stdin when the argument is "-" or absent, and prints the JSON result.
func runRequest(args []string, stdin io.Reader, out io.Writer) error {
	fs := flag.NewFlagSet("run", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	var raw []byte
	switch {
	case fs.NArg() == 0 || fs.Arg(0) == "-":
		b, err := io.ReadAll(stdin)
		if err != nil {
			return fmt.Errorf("read request: %w", err)
		}
		raw = b
	default:
		raw = []byte(fs.Arg(0))
	}

	var req models.Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return err
	}
	if err := req.Validate(); err != nil {
		return err
	}
	if p := req.StorePath(); p != "" && *c.storePath == "" {
		*c.storePath = p
	}

	ctx := context.Background()
	env, err := initializeComponents(ctx, c)
	if err != nil {
		return err
	}
	defer env.Close()

	res, err := env.session.Run(ctx, &req)
	if err != nil {
		return err
	}
	return cli.WriteJSON(out, res)
}

func runServe(args []string) error {
	fs := flag.NewFlagSet("serve", flag.ExitOnError)
	c := commonFlags(fs)
	host := fs.String("host", "", "listen host (default: server.host)")
	port := fs.Int("port", 0, "listen port (default: server.port)")
	watch := fs.Bool("watch", false, "re-sync when files under ingest.root change")
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := initializeComponents(ctx, c)
	if err != nil {
		return err
	}
	defer env.Close()
	if *host != "" {
		env.cfg.Server.Host = *host
	}
	if *port != 0 {
		env.cfg.Server.Port = *port
	}

	if *watch {
		w := newWatcher(ctx, env)
		if err := w.Start(ctx); err != nil {
			return fmt.Errorf("failed to start watcher: %w", err)
		}
		defer w.Stop()
	}

	srv := server.NewServer(env.session, &env.cfg.Server, env.logger)
	errCh := make(chan error, 1)
	go func() { errCh <- srv.Start() }()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}
	env.logger.Info("Shutting down...")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	return srv.Stop(shutdownCtx)
}

func runWatch(args []string) error {
	fs := flag.NewFlagSet("watch", flag.ExitOnError)
	c := commonFlags(fs)
	_ = fs.Parse(args)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	env, err := initializeComponents(ctx, c)
	if err != nil {
		return err
	}
	defer env.Close()

	w := newWatcher(ctx, env)
	if err := w.Start(ctx); err != nil {
		return fmt.Errorf("failed to start watcher: %w", err)
	}
	defer w.Stop()
	env.logger.Info("watching", zap.String("root", w.Root()))

	// Bring the store up to date with files changed while nobody watched.
	syncOnChange(ctx, env, nil)
	<-ctx.Done()
	env.logger.Info("Shutting down...")
	return nil
}

func newWatcher(ctx context.Context, env *environment) *watcher.Watcher {
	return watcher.NewWatcher(env.cfg.Ingest.Root,
		func(paths []string) { syncOnChange(ctx, env, paths) },
		watcher.WithDebounce(time.Duration(env.cfg.Watch.DebounceMillis)*time.Millisecond),
		watcher.WithExtensions(env.cfg.Ingest.Extensions),
		watcher.WithIgnore(store.Files(env.cfg.Store.Path)...),
		watcher.WithLogger(env.logger))
}

func syncOnChange(ctx context.Context, env *environment, paths []string) {
	if ctx.Err() != nil {
		return
	}
	res, err := env.session.Sync(ctx, &models.SyncRequest{
		RemoveMissing: env.cfg.Watch.RemoveMissingOrDefault(),
	})
	if err != nil {
		env.logger.Warn("watch sync failed", zap.Strings("changed", paths), zap.Error(err))
		return
	}
	env.logger.Info("watch sync",
		zap.Int("changed_files", len(paths)),
		zap.Int("updated", len(res.Updated)),
		zap.Int("removed", len(res.Removed)),
		zap.Int("skipped", len(res.Skipped)))
}

func runStatus(args []string, out io.Writer) error {
	fs := flag.NewFlagSet("status", flag.ExitOnError)
	c := commonFlags(fs)
	output := fs.String("output", "text", "output format: text or json")
	_ = fs.Parse(args)

	format, err := cli.ParseFormat(*output)
	if err != nil {
		return err
	}
	env, err := initializeComponents(context.Background(), c)
	if err != nil {
		return err
	}
	defer env.Close()
	return cli.WriteStatus(out, env.session.Status(), format)
}

// buildPrompt joins all positional args with spaces so multi-word prompts
// work the same with or without shell quoting.
func buildPrompt(args []string) string {
	return strings.TrimSpace(strings.Join(args, " "))
}

// argsReorder moves any flags (and their values) that appear after the prompt
// to the front so that flag.Parse sees them. The flag package stops at the
// first non-flag argument.
func argsReorder(args []string) []string {
	for i, a := range args {
		if len(a) > 0 && a[0] == '-' {
			if i == 0 {
				return args
			}
			reordered := make([]string, 0, len(args))
			reordered = append(reordered, args[i:]...)
			reordered = append(reordered, args[:i]...)
			return reordered
		}
	}
	return args
}

func isFlagSet(fs *flag.FlagSet, name string) bool {
	set := false
	fs.Visit(func(f *flag.Flag) {
		if f.Name == name {
			set = true
		}
	})
	return set
}

// errIDs lists the item ids a typed error names, for the failure message.
func errIDs(err error) string {
	return strings.Join(errs.IDs(err), ", ")
}

func printUsage(w io.Writer) {
	fmt.Fprintln(w, `kioku - incrementally synchronized embedding store

Usage:
  kioku sync [flags]             Embed new and changed files into the store
  kioku query [flags] <prompt>   Return the stored items most similar to prompt
  kioku run [flags] [json|-]     Execute one tagged JSON request and print the JSON result
  kioku serve [flags]            Start the HTTP server
  kioku watch [flags]            Re-sync whenever files under the ingest root change
  kioku status [flags]           Show store status
  kioku version                  Show version
  kioku help                     Show this help

Common Flags:
  --config string    Config file path (default: kioku.yaml, built-in defaults when absent)
  --store string     Store file path (overrides store.path)
  --debug            Enable debug logging

Sync Flags:
  --root string      Directory to ingest (default: ingest.root)
  --glob string      File pattern below root (default: **/*)
  --chunked          Split files on blank lines (default: true)
  --remove-missing   Remove items whose files are gone
  --output string    text or json

Query Flags:
  --count int        Number of results (default: 1)
  --threshold float  Minimum similarity, inclusive
  --type string      Only items with this meta type
  --prefix string    Only items whose id starts with prefix
  --no-content       Do not attach item content
  --output string    text or json

Serve Flags:
  --host string      Listen host
  --port int         Listen port
  --watch            Re-sync on file changes

Examples:
  kioku sync --glob "**/*.md" --remove-missing
  kioku query --count 5 how do I configure the server
  kioku run '{"kind":"query","prompt":"retry policy","count":3}'
  echo '{"kind":"sync","remove_missing":true}' | kioku run -
  kioku serve --watch`)
}
