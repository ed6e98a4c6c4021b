package cli

import (
	"fmt"
	"strconv"
	"strings"
	"time"

	"github.com/jsamuelsen/quotekeeper/internal/app"
	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

type quotesView []domain.Quote

func (v quotesView) Table() Table {
	rows := make([][]string, 0, len(v))
	for i, q := range v {
		rows = append(rows, []string{strconv.Itoa(i + 1), q.Category, q.Text})
	}

	return Table{Headers: []string{"#", "Category", "Text"}, Rows: rows}
}

type quoteView domain.Quote

func (v quoteView) String() string {
	return fmt.Sprintf("%q (%s)", v.Text, v.Category)
}

type categoriesView struct {
	Selected   string   `json:"selected"`
	Categories []string `json:"categories"`
}

func (v categoriesView) Table() Table {
	rows := make([][]string, 0, len(v.Categories)+1)
	for _, c := range append([]string{domain.AllCategories}, v.Categories...) {
		mark := ""
		if c == v.Selected {
			mark = "*"
		}

		rows = append(rows, []string{mark, c})
	}

	return Table{Headers: []string{"", "Category"}, Rows: rows}
}

type addView app.AddQuoteResult

func (v addView) String() string {
	var b strings.Builder

	fmt.Fprintf(&b, "Added %q to %s.", v.Quote.Text, v.Quote.Category)

	if v.Queued {
		b.WriteString(" Queued for upload.")
	}

	if v.PersistWarning != "" {
		fmt.Fprintf(&b, "\nwarning: %s", v.PersistWarning)
	}

	return b.String()
}

type importView app.ImportResult

func (v importView) String() string {
	s := fmt.Sprintf("Imported %d quotes, skipped %d.", v.Imported, v.Skipped)
	if v.PersistWarning != "" {
		s += "\nwarning: " + v.PersistWarning
	}

	return s
}

type selectedView struct {
	Selected string `json:"selected"`
}

func (v selectedView) String() string { return v.Selected }

// syncView flattens a SyncResult for printing.
type syncView struct {
	Trigger        string    `json:"trigger"`
	Mode           string    `json:"mode"`
	Outcome        string    `json:"outcome,omitempty"`
	Added          int       `json:"added"`
	Replaced       int       `json:"replaced"`
	Failed         bool      `json:"failed"`
	Skipped        bool      `json:"skipped"`
	Message        string    `json:"message"`
	PersistWarning string    `json:"persistWarning,omitempty"`
	Error          string    `json:"error,omitempty"`
	At             time.Time `json:"at"`
	DurationMillis int64     `json:"durationMs"`
}

func newSyncView(res app.SyncResult) syncView {
	v := syncView{
		Trigger:        string(res.Trigger),
		Mode:           string(res.Mode),
		Added:          res.Outcome.Added,
		Replaced:       res.Outcome.Replaced,
		Failed:         res.Failed,
		Skipped:        res.Skipped,
		Message:        res.Message,
		PersistWarning: res.PersistWarning,
		Error:          res.Error,
		At:             res.At,
		DurationMillis: res.Duration.Milliseconds(),
	}

	if res.Mode == app.SyncModeMerge && !res.Failed && !res.Skipped {
		v.Outcome = res.Outcome.Kind.String()
	}

	return v
}

func (v syncView) String() string {
	var b strings.Builder

	b.WriteString(v.Message)

	if v.Outcome != "" {
		fmt.Fprintf(&b, " (added %d, replaced %d)", v.Added, v.Replaced)
	}

	if v.Error != "" {
		fmt.Fprintf(&b, "\nerror: %s", v.Error)
	}

	if v.PersistWarning != "" {
		fmt.Fprintf(&b, "\nwarning: %s", v.PersistWarning)
	}

	return b.String()
}
