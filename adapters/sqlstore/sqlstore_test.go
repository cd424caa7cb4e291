package sqlstore_test

import (
	"testing"

	"github.com/easymodehq/workflowrun"
	"github.com/easymodehq/workflowrun/adapters/adaptertest"
	"github.com/easymodehq/workflowrun/adapters/sqlstore"
)

func TestStore(t *testing.T) {
	adaptertest.RunStoreTest(t, func() workflowrun.Store {
		dbc := ConnectForTesting(t)
		return sqlstore.New(dbc, dbc)
	})
}
