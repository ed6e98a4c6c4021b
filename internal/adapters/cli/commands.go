package cli

import (
	"errors"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

const (
	groupQuotes = "quotes"
	groupSync   = "sync"
)

// ErrSyncFailed is returned when a sync command could not reach the source.
// The local store is unchanged.
var ErrSyncFailed = errors.New("sync failed")

func (a *App) registerCommands(root *cobra.Command) {
	root.AddCommand(
		a.listCommand(),
		a.randomCommand(),
		a.addCommand(),
		a.categoriesCommand(),
		a.selectCategoryCommand(),
		a.exportCommand(),
		a.importCommand(),
		a.syncCommand(),
		a.replaceAllCommand(),
	)
}

func (a *App) listCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:     "list",
		GroupID: groupQuotes,
		Short:   "List quotes",
		Long:    "List quotes in store order. Without --category the selected category is used.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.category(cmd, category)
			if err != nil {
				return err
			}

			return a.printer.Print(quotesView(a.quotes.List(cat)))
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", `category filter ("all" for everything)`)

	return cmd
}

func (a *App) randomCommand() *cobra.Command {
	var category string

	cmd := &cobra.Command{
		Use:     "random",
		GroupID: groupQuotes,
		Short:   "Show a random quote",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cat, err := a.category(cmd, category)
			if err != nil {
				return err
			}

			q, err := a.quotes.Random(cmd.Context(), cat)
			if domain.IsNotFound(err) {
				return fmt.Errorf("no quotes in category %q", cat)
			}

			if err != nil {
				return err
			}

			return a.printer.Print(quoteView(q))
		},
	}

	cmd.Flags().StringVarP(&category, "category", "c", "", `category filter ("all" for everything)`)

	return cmd
}

func (a *App) addCommand() *cobra.Command {
	var in app.AddQuoteInput

	cmd := &cobra.Command{
		Use:     "add <text>",
		GroupID: groupQuotes,
		Short:   "Add a quote",
		Example: `  quotesctl add "Simplicity is prerequisite for reliability." --category Computing`,
		Args:    cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			in.Text = args[0]

			res, err := a.quotes.Add(cmd.Context(), in)
			if err != nil {
				return err
			}

			return a.printer.Print(addView(res))
		},
	}

	cmd.Flags().StringVarP(&in.Category, "category", "c", "", "category of the new quote")
	cmd.Flags().BoolVar(&in.AllowDuplicate, "allow-duplicate", false, "add even if the text already exists")
	_ = cmd.MarkFlagRequired("category")

	return cmd
}

func (a *App) categoriesCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "categories",
		GroupID: groupQuotes,
		Short:   "List categories; the selected one is marked",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			selected, err := a.quotes.SelectedCategory(cmd.Context())
			if err != nil {
				return err
			}

			return a.printer.Print(categoriesView{Selected: selected, Categories: a.quotes.Categories()})
		},
	}
}

func (a *App) selectCategoryCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "select-category [category]",
		GroupID: groupQuotes,
		Short:   "Show or set the remembered category filter",
		Long:    `Without an argument prints the selected category. "all" clears the filter.`,
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				selected, err := a.quotes.SelectedCategory(cmd.Context())
				if err != nil {
					return err
				}

				return a.printer.Print(selectedView{Selected: selected})
			}

			saved, err := a.quotes.SetSelectedCategory(cmd.Context(), args[0])
			if err != nil {
				return err
			}

			return a.printer.Print(selectedView{Selected: saved})
		},
	}
}

func (a *App) exportCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "export [file]",
		GroupID: groupQuotes,
		Short:   "Write all quotes as a JSON array",
		Long:    "Write all quotes to file, or to stdout when no file is given.",
		Args:    cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if len(args) == 0 {
				return a.quotes.Export(cmd.Context(), cmd.OutOrStdout())
			}

			f, err := os.Create(args[0])
			if err != nil {
				return err
			}

			if err := a.quotes.Export(cmd.Context(), f); err != nil {
				_ = f.Close()
				return err
			}

			return f.Close()
		},
	}
}

func (a *App) importCommand() *cobra.Command {
	var opts app.ImportOptions

	cmd := &cobra.Command{
		Use:     "import <file|->",
		GroupID: groupQuotes,
		Short:   "Append quotes from a JSON array",
		Long: `Append quotes from a JSON array of {"text", "category"} objects.
The whole file is rejected if any entry is invalid. "-" reads stdin.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			r := cmd.InOrStdin()

			if args[0] != "-" {
				f, err := os.Open(args[0])
				if err != nil {
					return err
				}
				defer f.Close()

				r = f
			}

			res, err := a.quotes.Import(cmd.Context(), r, opts)
			if err != nil {
				return err
			}

			return a.printer.Print(importView(res))
		},
	}

	cmd.Flags().BoolVar(&opts.SkipDuplicates, "skip-duplicates", false, "skip quotes whose text already exists")

	return cmd
}

func (a *App) syncCommand() *cobra.Command {
	return &cobra.Command{
		Use:     "sync",
		GroupID: groupSync,
		Short:   "Merge the remote quotes into the local store",
		Long: `Fetch quotes from the remote source and merge them. A remote quote
replaces a local one with the same text in place; new ones are appended.`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return a.printSync(a.sync.RunSyncCycle(cmd.Context(), app.TriggerManual))
		},
	}
}

func (a *App) replaceAllCommand() *cobra.Command {
	var yes bool

	cmd := &cobra.Command{
		Use:     "replace-all",
		GroupID: groupSync,
		Short:   "Replace every local quote with the remote ones",
		Long:    "Discard the local collection, including quotes never sent upstream, and keep only the remote quotes.",
		Args:    cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if !yes {
				return errors.New("replace-all discards local quotes; pass --yes to confirm")
			}

			return a.printSync(a.sync.ReplaceAllFromServer(cmd.Context()))
		},
	}

	cmd.Flags().BoolVarP(&yes, "yes", "y", false, "confirm discarding local quotes")

	return cmd
}

func (a *App) printSync(res app.SyncResult) error {
	if err := a.printer.Print(newSyncView(res)); err != nil {
		return err
	}

	if res.Failed {
		return ErrSyncFailed
	}

	return nil
}

// category resolves the --category flag, falling back to the remembered filter.
func (a *App) category(cmd *cobra.Command, flag string) (string, error) {
	if cmd.Flags().Changed("category") {
		return flag, nil
	}

	return a.quotes.SelectedCategory(cmd.Context())
}
