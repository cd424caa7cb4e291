package sqlite_test

import (
	"testing"

	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/sqlite"
)

func TestEventStreamer(t *testing.T) {
	adaptertest.RunEventStreamerTest(t, sqlite.NewEventStreamer(connectForTesting(t)))
}
