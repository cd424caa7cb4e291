package workflowrun

import (
	"context"
	"fmt"
	"time"

	"github.com/luno/jettison/errors"
	"github.com/luno/jettison/j"
)

// RunPhase is the derived lifecycle position of a run. Run rows are immutable so
// the phase is computed from the rows that reference the run, never stored: a run
// is Created until an attribution claims an outcome for it, after which it is
// Attributed forever.
type RunPhase int

const (
	RunPhaseUnknown    RunPhase = 0
	RunPhaseCreated    RunPhase = 1
	RunPhaseAttributed RunPhase = 2
	runPhaseSentinel   RunPhase = 3
)

func (rp RunPhase) String() string {
	switch rp {
	case RunPhaseUnknown:
		return "Unknown"
	case RunPhaseCreated:
		return "Created"
	case RunPhaseAttributed:
		return "Attributed"
	default:
		return fmt.Sprintf("RunPhase(%d)", rp)
	}
}

func (rp RunPhase) Valid() bool {
	return rp > RunPhaseUnknown && rp < runPhaseSentinel
}

// RunSummary is the read side aggregation of one run: the run itself, its send
// audit trail, and any outcomes attributed to it.
type RunSummary struct {
	Run          Run
	Sends        []Send
	Attributions []Attribution
}

func (rs RunSummary) Phase() RunPhase {
	if len(rs.Attributions) > 0 {
		return RunPhaseAttributed
	}

	return RunPhaseCreated
}

// DescribeRun assembles the summary for a single run. It only reads append only
// rows, so the result is a consistent snapshot for dashboards and audits.
func (s *Service) DescribeRun(ctx context.Context, runID string) (*RunSummary, error) {
	if runID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "run id is required")
	}

	run, err := s.store.LookupRun(ctx, runID)
	if err != nil {
		return nil, err
	}

	sends, err := s.store.ListSendsByRun(ctx, runID)
	if err != nil {
		return nil, errors.Wrap(err, "list sends", j.MKV{"run_id": runID})
	}

	attributions, err := s.store.ListAttributionsByRun(ctx, runID)
	if err != nil {
		return nil, errors.Wrap(err, "list attributions", j.MKV{"run_id": runID})
	}

	return &RunSummary{
		Run:          *run,
		Sends:        sends,
		Attributions: attributions,
	}, nil
}

// RecentRuns returns the project's runs created at or after since, most recent
// first. The webhook intake uses it to assemble attribution candidates from the
// trigger context of recent runs.
func (s *Service) RecentRuns(ctx context.Context, projectID string, since time.Time) ([]Run, error) {
	if projectID == "" {
		return nil, errors.Wrap(ErrInvalidArgument, "project id is required")
	}

	return s.store.ListRecentRuns(ctx, projectID, since)
}
