package legacy

import (
	"fmt"
	"strings"
	"time"
)

// Stats counts items by outcome. Corrupt items are kept in the backup and
// do not fail the run.
type Stats struct {
	Total    int `json:"total"`
	Migrated int `json:"migrated"`
	Skipped  int `json:"skipped"`
	Failed   int `json:"failed"`
	Corrupt  int `json:"corrupt"`
}

// DocumentError is one problem met during a run. Document or Item may be
// empty for run-level failures.
type DocumentError struct {
	Document string `json:"document,omitempty"`
	Item     string `json:"item,omitempty"`
	Err      string `json:"error"`
}

// Result is the outcome of one Run.
type Result struct {
	State    State           `json:"state"`
	Stats    Stats           `json:"stats"`
	Errors   []DocumentError `json:"errors,omitempty"`
	Duration time.Duration   `json:"duration"`
}

// Report renders the end-of-run summary shown to the user.
func (r *Result) Report() string {
	var b strings.Builder
	switch r.State {
	case StateComplete:
		b.WriteString("Migration complete.\n")
	case StateFailed:
		b.WriteString("Migration failed; it will be retried on next start.\n")
	default:
		fmt.Fprintf(&b, "Nothing to migrate (%s).\n", r.State)
		return b.String()
	}
	fmt.Fprintf(&b, "  total:    %d\n", r.Stats.Total)
	fmt.Fprintf(&b, "  migrated: %d\n", r.Stats.Migrated)
	fmt.Fprintf(&b, "  skipped:  %d (document no longer exists)\n", r.Stats.Skipped)
	fmt.Fprintf(&b, "  failed:   %d\n", r.Stats.Failed)
	if r.Stats.Corrupt > 0 {
		fmt.Fprintf(&b, "  corrupt:  %d (kept in backup)\n", r.Stats.Corrupt)
	}
	for _, e := range r.Errors {
		switch {
		case e.Document != "":
			fmt.Fprintf(&b, "  - %s: %s\n", e.Document, e.Err)
		case e.Item != "":
			fmt.Fprintf(&b, "  - %s: %s\n", e.Item, e.Err)
		default:
			fmt.Fprintf(&b, "  - %s\n", e.Err)
		}
	}
	return b.String()
}
