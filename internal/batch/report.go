package batch

import (
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"text/tabwriter"
)

// ItemKind tags the group an item came from
type ItemKind string

const (
	KindCreated ItemKind = "created"
	KindUpdated ItemKind = "updated"
	KindDeleted ItemKind = "deleted"
)

// ErrorKind classifies a failed item
type ErrorKind string

const (
	// Validation failures are detected locally and never reach the network.
	Validation   ErrorKind = "validation"
	Unauthorized ErrorKind = "unauthorized"
	NotFound     ErrorKind = "not_found"
	Rejected     ErrorKind = "rejected"
	// Transient covers transport errors, 5xx answers and cancellation.
	Transient ErrorKind = "transient"
)

// ItemRef locates an item in the tasks file
type ItemRef struct {
	Kind  ItemKind `json:"kind"`
	Index int      `json:"index"`
	Path  string   `json:"path"`
}

// ItemError is the failure recorded for an item
type ItemError struct {
	Kind    ErrorKind `json:"kind"`
	Message string    `json:"message"`
}

func (e *ItemError) Error() string {
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

// Outcome is the result of one item. Exactly one of IssueKey and Err is set
// for created items; updated and deleted successes carry the issue id.
type Outcome struct {
	Item     ItemRef    `json:"item"`
	IssueKey string     `json:"issue_key,omitempty"`
	Err      *ItemError `json:"error,omitempty"`
}

// Succeeded reports whether the item was applied
func (o Outcome) Succeeded() bool {
	return o.Err == nil
}

// Report is the per-item result of a batch run, in input order
type Report struct {
	RunID    string    `json:"run_id"`
	Outcomes []Outcome `json:"outcomes"`
	// Complete is false when the run stopped before every item was attempted.
	Complete bool `json:"complete"`
}

// Succeeded returns the number of applied items
func (r *Report) Succeeded() int {
	n := 0
	for _, o := range r.Outcomes {
		if o.Succeeded() {
			n++
		}
	}
	return n
}

// Failed returns the number of failed items
func (r *Report) Failed() int {
	return len(r.Outcomes) - r.Succeeded()
}

// HasFailures reports whether any item failed or the run was cut short
func (r *Report) HasFailures() bool {
	return r.Failed() > 0 || !r.Complete
}

// FailedByKind counts failures per error kind
func (r *Report) FailedByKind() map[ErrorKind]int {
	counts := make(map[ErrorKind]int)
	for _, o := range r.Outcomes {
		if o.Err != nil {
			counts[o.Err.Kind]++
		}
	}
	return counts
}

// WriteJSON renders the report as indented JSON
func (r *Report) WriteJSON(w io.Writer) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	if err := enc.Encode(r); err != nil {
		return fmt.Errorf("failed to encode report: %w", err)
	}
	return nil
}

// WriteText renders the report as an aligned table followed by totals
func (r *Report) WriteText(w io.Writer) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)

	fmt.Fprintln(tw, "ITEM\tRESULT\tDETAIL")
	for _, o := range r.Outcomes {
		if o.Err != nil {
			fmt.Fprintf(tw, "%s\t%s\t%s\n", o.Item.Path, o.Err.Kind, o.Err.Message)
			continue
		}
		fmt.Fprintf(tw, "%s\tok\t%s\n", o.Item.Path, o.IssueKey)
	}
	if err := tw.Flush(); err != nil {
		return fmt.Errorf("failed to write report: %w", err)
	}

	fmt.Fprintf(w, "\nrun %s: %d succeeded, %d failed", r.RunID, r.Succeeded(), r.Failed())
	byKind := r.FailedByKind()
	kinds := make([]string, 0, len(byKind))
	for k := range byKind {
		kinds = append(kinds, string(k))
	}
	sort.Strings(kinds)
	for _, k := range kinds {
		fmt.Fprintf(w, ", %s=%d", k, byKind[ErrorKind(k)])
	}
	if !r.Complete {
		fmt.Fprint(w, " (incomplete)")
	}
	_, err := fmt.Fprintln(w)
	return err
}
