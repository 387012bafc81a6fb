package pipeline

import (
	"fmt"
	"strings"
	"time"

	"go.uber.org/multierr"
)

// Status is the outcome of one site.
type Status string

// Site statuses.
const (
	StatusSucceeded Status = "succeeded"
	StatusFailed    Status = "failed"
)

// SiteResult describes how one site went.
type SiteResult struct {
	ID        string
	Status    Status
	Err       *SiteError // Set when Status is StatusFailed
	Warnings  []error
	Artifacts Artifacts
	Source    string // DEM source name
	Duration  time.Duration
}

// Report lists the outcome of every site of a batch, in input order.
type Report struct {
	Sites    []SiteResult
	DataFile string // Aggregated output, empty if nothing was written
	Duration time.Duration
}

// Succeeded returns the results of successful sites.
func (r *Report) Succeeded() []SiteResult {
	return r.filter(StatusSucceeded)
}

// Failed returns the results of failed sites.
func (r *Report) Failed() []SiteResult {
	return r.filter(StatusFailed)
}

func (r *Report) filter(status Status) []SiteResult {
	var out []SiteResult
	for _, s := range r.Sites {
		if s.Status == status {
			out = append(out, s)
		}
	}
	return out
}

// Err combines the errors of all failed sites, or returns nil.
func (r *Report) Err() error {
	var err error
	for _, s := range r.Sites {
		if s.Err != nil {
			err = multierr.Append(err, s.Err)
		}
	}
	return err
}

// Summary renders one line per site followed by a total.
func (r *Report) Summary() string {
	var b strings.Builder
	for _, s := range r.Sites {
		switch s.Status {
		case StatusSucceeded:
			fmt.Fprintf(&b, "  ok    %-24s %s", s.ID, s.Artifacts.Heightmap)
			for _, w := range s.Warnings {
				fmt.Fprintf(&b, " [warning: %v]", w)
			}
		default:
			fmt.Fprintf(&b, "  FAIL  %-24s %s (%s): %v", s.ID, s.Err.Stage, s.Err.Kind, s.Err.Err)
		}
		b.WriteByte('\n')
	}
	fmt.Fprintf(&b, "%d succeeded, %d failed in %s", len(r.Succeeded()), len(r.Failed()), r.Duration.Round(time.Millisecond))
	if r.DataFile != "" {
		fmt.Fprintf(&b, ", data written to %s", r.DataFile)
	}
	b.WriteByte('\n')
	return b.String()
}
