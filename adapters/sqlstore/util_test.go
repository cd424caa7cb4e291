package sqlstore_test

import (
	"database/sql"
	"testing"

	"github.com/corverroos/truss"
	_ "github.com/go-sql-driver/mysql"
)

var migrations = []string{
	`
	create table workflow_runs (
		id                 varchar(255) not null,
		project_id         varchar(255) not null,
		action             varchar(255) not null,
		idempotency_key    varchar(255) not null,
		trigger_context    longblob,
		created_at         datetime(3) not null,

		primary key (id),

		unique by_project_action_key (project_id, action, idempotency_key),
		index by_project_created_at (project_id, created_at)
	)`,
	`
	create table workflow_sends (
		id                 varchar(255) not null,
		run_id             varchar(255) not null,
		project_id         varchar(255) not null,
		action             varchar(255) not null,
		recipient          varchar(255) not null,
		status             int not null,
		sent_at            datetime(3) not null,
		created_at         datetime(3) not null,

		primary key (id),

		unique by_run_recipient (run_id, recipient),
		index by_project_action_sent_at (project_id, action, sent_at)
	)`,
	`
	create table workflow_attributions (
		id                 varchar(255) not null,
		project_id         varchar(255) not null,
		run_id             varchar(255) not null,
		payment_event_id   varchar(255) not null,
		model              varchar(255) not null,
		method             int not null,
		confidence         int not null,
		amount_minor       bigint not null,
		currency           varchar(16) not null,
		attributed_at      datetime(3) not null,

		primary key (id),

		unique by_payment_event_id (payment_event_id),
		index by_run_id (run_id)
	)`,
	`
	create table workflow_outbox (
		id                 varchar(255) not null,
		project_id         varchar(255) not null,
		data               blob,
		created_at         datetime(3) not null,

		primary key (id)
	)
`,
}

func ConnectForTesting(t *testing.T) *sql.DB {
	return truss.ConnectForTesting(t, migrations...)
}
