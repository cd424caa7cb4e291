package workflowrun_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

func filterTestEvent() *workflowrun.Event {
	return &workflowrun.Event{
		ID:        1,
		ForeignID: "run-1",
		Type:      int(workflowrun.EventTypeRunStarted),
		Headers: map[workflowrun.Header]string{
			workflowrun.HeaderProjectID: "proj_1",
			workflowrun.HeaderAction:    "cart_abandoned",
			workflowrun.HeaderRunID:     "run-1",
		},
	}
}

func TestFilterByProjectID(t *testing.T) {
	e := filterTestEvent()

	require.False(t, workflowrun.FilterByProjectID("proj_1")(e))
	require.True(t, workflowrun.FilterByProjectID("proj_2")(e))

	// Events without the header pass through for the consumer to deal with.
	delete(e.Headers, workflowrun.HeaderProjectID)
	require.False(t, workflowrun.FilterByProjectID("proj_2")(e))
}

func TestFilterByAction(t *testing.T) {
	e := filterTestEvent()

	require.False(t, workflowrun.FilterByAction("cart_abandoned")(e))
	require.True(t, workflowrun.FilterByAction("winback")(e))

	delete(e.Headers, workflowrun.HeaderAction)
	require.False(t, workflowrun.FilterByAction("winback")(e))
}

func TestFilterByRunID(t *testing.T) {
	e := filterTestEvent()

	require.False(t, workflowrun.FilterByRunID("run-1")(e))
	require.True(t, workflowrun.FilterByRunID("run-2")(e))

	delete(e.Headers, workflowrun.HeaderRunID)
	require.False(t, workflowrun.FilterByRunID("run-2")(e))
}

func TestFilterByEventType(t *testing.T) {
	e := filterTestEvent()

	require.False(t, workflowrun.FilterByEventType(workflowrun.EventTypeRunStarted)(e))
	require.True(t, workflowrun.FilterByEventType(workflowrun.EventTypeSendRecorded)(e))
}

func TestFilterUsing(t *testing.T) {
	e := filterTestEvent()

	require.False(t, workflowrun.FilterUsing(e))
	require.False(t, workflowrun.FilterUsing(e,
		workflowrun.FilterByProjectID("proj_1"),
		workflowrun.FilterByAction("cart_abandoned"),
	))

	// One filtering filter is enough to skip the event.
	require.True(t, workflowrun.FilterUsing(e,
		workflowrun.FilterByProjectID("proj_1"),
		workflowrun.FilterByEventType(workflowrun.EventTypeOutcomeAttributed),
	))
}
