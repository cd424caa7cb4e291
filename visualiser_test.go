package workflowrun_test

import (
	"context"
	"os"
	"path"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

func TestMermaidDiagram(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "cart_abandoned", "cart-55", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	_, err = service.AttributeOutcome(ctx, paymentEvent("evt_1", clock.Now()), []workflowrun.RunCandidate{
		{RunID: run.ID, Method: workflowrun.MatchMethodEmail},
	})
	jtest.RequireNil(t, err)

	out := path.Join(t.TempDir(), "diagrams", "run.md")
	err = workflowrun.MermaidDiagram(ctx, service, run.ID, out, workflowrun.LeftToRightDirection)
	jtest.RequireNil(t, err)

	b, err := os.ReadFile(out)
	jtest.RequireNil(t, err)

	diagram := string(b)
	require.Contains(t, diagram, "stateDiagram-v2")
	require.Contains(t, diagram, "direction LR")
	require.Contains(t, diagram, "[*]-->Created_cart_abandoned")
	require.Contains(t, diagram, "Created_cart_abandoned-->Sent_ana_example_com")
	require.Contains(t, diagram, "Sent_ana_example_com-->Attributed_Email")
	require.Contains(t, diagram, "Attributed_Email-->[*]")
}

func TestMermaidDiagramUnattributedRun(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "cart_abandoned", "cart-55", nil)
	jtest.RequireNil(t, err)

	out := path.Join(t.TempDir(), "run.md")
	err = workflowrun.MermaidDiagram(ctx, service, run.ID, out, workflowrun.UnknownDirection)
	jtest.RequireNil(t, err)

	b, err := os.ReadFile(out)
	jtest.RequireNil(t, err)

	diagram := string(b)

	// The direction defaults and the run itself is the terminal point.
	require.Contains(t, diagram, "direction LR")
	require.Contains(t, diagram, "[*]-->Created_cart_abandoned")
	require.Contains(t, diagram, "Created_cart_abandoned-->[*]")
}

func TestMermaidDiagramRunNotFound(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	err := workflowrun.MermaidDiagram(ctx, service, "missing-run", path.Join(t.TempDir(), "run.md"), workflowrun.LeftToRightDirection)
	jtest.Require(t, workflowrun.ErrRunNotFound, err)
}
