package notify

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/shanehull/listscraper/internal/types"
)

// ReportRun prints a human readable summary of the run to w.
func ReportRun(w io.Writer, run *types.WorkflowRun) {
	fmt.Fprintln(w, "\n===========================================")
	fmt.Fprintf(w, "RUN %s: %s\n", run.ID, run.State)
	fmt.Fprintln(w, "===========================================")

	fmt.Fprintf(w, "Criteria: %s\n", run.Criteria)
	fmt.Fprintf(w, "Pages:    %d\n", run.PagesVisited)
	fmt.Fprintf(w, "Relevant: %d spans\n", run.RelevantSpans)
	if !run.FinishedAt.IsZero() {
		fmt.Fprintf(w, "Elapsed:  %s\n", run.FinishedAt.Sub(run.StartedAt).Round(time.Millisecond))
	}

	if len(run.Artifacts) == 0 {
		fmt.Fprintln(w, "\n-------------------------------------------")
		fmt.Fprintln(w, "No artifacts found in any relevant listing.")
		fmt.Fprintln(w, "-------------------------------------------")
	} else {
		fmt.Fprintf(w, "\n--- ARTIFACTS (%d) ---\n", len(run.Artifacts))
		for i, a := range run.Artifacts {
			fmt.Fprintf(w, "#%d [%s] %s\n", i+1, a.Status, a.Ref.URL)
			if a.Path != "" {
				fmt.Fprintf(w, "\tPath:   %s\n", a.Path)
			}
			if a.Checksum != "" {
				fmt.Fprintf(w, "\tSHA256: %s\n", a.Checksum)
			}
		}
	}

	if len(run.Notifications) > 0 {
		recipients := make([]string, 0, len(run.Notifications))
		for r := range run.Notifications {
			recipients = append(recipients, r)
		}
		sort.Strings(recipients)

		fmt.Fprintf(w, "\n--- NOTIFICATIONS (%d) ---\n", len(recipients))
		for _, r := range recipients {
			o := run.Notifications[r]
			if o.Reason != "" {
				fmt.Fprintf(w, "%s: %s (%s)\n", r, o.Status, o.Reason)
				continue
			}
			fmt.Fprintf(w, "%s: %s\n", r, o.Status)
		}
	}

	if len(run.Failures) > 0 {
		fmt.Fprintf(w, "\n--- FAILURES (%d) ---\n", len(run.Failures))
		for _, f := range run.Failures {
			fmt.Fprintln(w, f.String())
		}
	}

	fmt.Fprintln(w, "===========================================")
}
