// Package webui is a read only dashboard over a workflowrun.Service: a run
// listing per project and a per run summary of sends and attributed outcomes.
// Runs, sends, and attributions are append only, so the dashboard exposes no
// mutating actions.
package webui

import (
	"net/http"

	"github.com/easymodehq/workflowrun"

	"github.com/easymodehq/workflowrun/adapters/webui/internal/api"
	"github.com/easymodehq/workflowrun/adapters/webui/internal/frontend"
)

func HomeHandlerFunc(paths Paths) http.HandlerFunc {
	return frontend.HomeHandlerFunc(paths)
}

type (
	ListRecentRuns = api.ListRecentRuns
	DescribeRun    = api.DescribeRun
	Paths          = frontend.Paths
)

func ListHandlerFunc(s *workflowrun.Service) http.HandlerFunc {
	return api.List(s.RecentRuns)
}

func SummaryHandlerFunc(s *workflowrun.Service) http.HandlerFunc {
	return api.Summary(s.DescribeRun)
}
