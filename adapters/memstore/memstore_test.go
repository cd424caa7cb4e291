package memstore_test

import (
	"testing"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/memstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunStoreTest(t, func() workflowrun.Store {
		return memstore.New()
	})
}
