// Package cli implements quotesctl, a command line client that works on the
// same local quote store as the service.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/clients/acl"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/memory"
	"github.com/jsamuelsen/quotekeeper/internal/adapters/storage/sqlstore"
	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/platform/config"
	"github.com/jsamuelsen/quotekeeper/internal/platform/logging"
	"github.com/jsamuelsen/quotekeeper/internal/ports"
)

// Options are the global flags.
type Options struct {
	ConfigDir string
	Profile   string
	Format    string
	LogLevel  string
}

// App holds the services a command runs against. They are built once the
// global flags are parsed.
type App struct {
	version string
	stdout  io.Writer
	stderr  io.Writer
	stdin   io.Reader

	opts    Options
	printer *Printer
	logger  *slog.Logger

	quotes *app.QuoteService
	sync   *app.SyncService
	close  func() error
}

// New creates the CLI application.
func New(version string, stdin io.Reader, stdout, stderr io.Writer) *App {
	return &App{version: version, stdin: stdin, stdout: stdout, stderr: stderr}
}

// Execute runs the command line args.
func (a *App) Execute(ctx context.Context, args []string) error {
	root := a.RootCommand()
	root.SetArgs(args)

	return root.ExecuteContext(ctx)
}

// RootCommand builds the command tree.
func (a *App) RootCommand() *cobra.Command {
	profile := os.Getenv("APP_ENVIRONMENT")
	if profile == "" {
		profile = "local"
	}

	root := &cobra.Command{
		Use:     "quotesctl",
		Short:   "Browse, edit and sync the local quote collection",
		Version: a.version,
		Long: `quotesctl works on the quote store configured for the service.

It lists and adds quotes, moves them in and out of JSON files and
reconciles the collection with the remote quote source.`,
		PersistentPreRunE:  a.setup,
		PersistentPostRunE: a.teardown,
		SilenceUsage:       true,
		SilenceErrors:      true,
	}

	root.SetIn(a.stdin)
	root.SetOut(a.stdout)
	root.SetErr(a.stderr)
	root.SetVersionTemplate("quotesctl {{.Version}}\n")

	flags := root.PersistentFlags()
	flags.StringVar(&a.opts.ConfigDir, "config-dir", ".", "directory holding configs/ and .env")
	flags.StringVar(&a.opts.Profile, "profile", profile, "config profile (configs/<profile>.yaml)")
	flags.StringVarP(&a.opts.Format, "format", "o", "", "output format: table, json, yaml")
	flags.StringVar(&a.opts.LogLevel, "log-level", "warn", "log level: trace, debug, info, warn, error")

	root.AddGroup(
		&cobra.Group{ID: groupQuotes, Title: "Quote Commands:"},
		&cobra.Group{ID: groupSync, Title: "Sync Commands:"},
	)

	a.registerCommands(root)

	return root
}

func (a *App) setup(cmd *cobra.Command, _ []string) error {
	format, err := ParseFormat(a.opts.Format)
	if err != nil {
		return err
	}

	a.printer = NewPrinter(cmd.OutOrStdout(), format)

	cfg, err := config.LoadFrom(a.opts.ConfigDir, a.opts.Profile)
	if err != nil {
		return fmt.Errorf("loading config: %w", err)
	}

	if err := cfg.Validate(); err != nil {
		return fmt.Errorf("invalid config: %w", err)
	}

	a.logger = logging.NewWithWriter(&logging.Config{
		Level:   a.opts.LogLevel,
		Format:  "pretty",
		Service: "quotesctl",
		Version: a.version,
	}, cmd.ErrOrStderr())
	logging.SetDefault(a.logger)

	return a.wire(cmd.Context(), cfg)
}

func (a *App) wire(ctx context.Context, cfg *config.Config) error {
	var kv ports.KeyValueStore

	a.close = func() error { return nil }

	if cfg.Storage.Driver == config.StorageDriverMemory {
		kv = memory.New()
	} else {
		db, err := sqlstore.Open(cfg.Storage.Path, a.logger)
		if err != nil {
			return fmt.Errorf("opening storage: %w", err)
		}

		kv = db
		a.close = db.Close
	}

	store := app.NewQuoteStore(kv, a.logger)
	if err := store.Load(ctx); err != nil {
		return fmt.Errorf("loading quotes: %w", err)
	}

	qs := cfg.Services.QuoteSource

	client, err := clients.New(&clients.Config{
		BaseURL:     qs.BaseURL,
		ServiceName: qs.Name,
		Timeout:     cfg.Client.Timeout,
		Retry:       cfg.Client.Retry,
		Circuit:     cfg.Client.CircuitBreaker,
		Transport:   cfg.Client.Transport,
		UserAgent:   "quotesctl/" + a.version,
		Logger:      a.logger,
	})
	if err != nil {
		return fmt.Errorf("creating quote source client: %w", err)
	}

	source := acl.NewQuoteSource(acl.QuoteSourceConfig{
		Client:     client,
		FetchPath:  qs.FetchPath,
		FetchLimit: qs.FetchLimit,
		Category:   qs.Category,
		SubmitPath: qs.SubmitPath,
		Logger:     a.logger,
	})

	a.quotes = app.NewQuoteService(app.QuoteServiceConfig{
		Store:            store,
		KV:               kv,
		RejectDuplicates: cfg.Quotes.RejectDuplicates,
		Logger:           a.logger,
	})

	a.sync = app.NewSyncService(app.SyncServiceConfig{
		Store:        store,
		Source:       source,
		FetchTimeout: cfg.Sync.FetchTimeout,
		Logger:       a.logger,
	})

	return nil
}

func (a *App) teardown(*cobra.Command, []string) error {
	if a.close == nil {
		return nil
	}

	return a.close()
}
