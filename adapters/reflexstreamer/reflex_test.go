package reflexstreamer_test

import (
	"testing"

	"github.com/luno/reflex/rpatterns"
	"github.com/luno/reflex/rsql"

	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/reflexstreamer"
)

func TestStreamer(t *testing.T) {
	eventsTable := rsql.NewEventsTable("workflow_run_events", rsql.WithEventMetadataField("metadata"))
	dbc := ConnectForTesting(t)
	constructor := reflexstreamer.New(dbc, dbc, eventsTable, rpatterns.MemCursorStore())
	adaptertest.RunEventStreamerTest(t, constructor)
}
