package workflowrun_test

import (
	"context"
	"testing"
	"time"

	"github.com/luno/jettison/jtest"
	"github.com/stretchr/testify/require"

	"github.com/easymodehq/workflowrun"
)

const day = 24 * time.Hour

func TestBuildRecipientsNoHistory(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"ana@example.com",
		"ben@example.com",
	}, day)
	jtest.RequireNil(t, err)

	require.Equal(t, []string{"ana@example.com", "ben@example.com"}, eligible)
}

func TestBuildRecipientsCooldownWindow(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	// One hour later ana is still cooling down.
	clock.Step(time.Hour)
	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"ana@example.com",
		"ben@example.com",
	}, day)
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"ben@example.com"}, eligible)

	// Exactly a day after the send the cooldown has lapsed.
	clock.SetTime(testBase.Add(day))
	eligible, err = service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"ana@example.com",
	}, day)
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"ana@example.com"}, eligible)
}

func TestBuildRecipientsStatusIrrelevant(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	// A failed attempt cools the recipient down just like a delivered one.
	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusFailed)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"ana@example.com",
	}, day)
	jtest.RequireNil(t, err)
	require.Empty(t, eligible)
}

func TestBuildRecipientsZeroCooldown(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	clock.Step(time.Minute)
	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"ana@example.com",
	}, 0)
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"ana@example.com"}, eligible)
}

func TestBuildRecipientsNormalisesForMatching(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"  Ana@Example.COM ",
		"Ben@Example.com",
	}, day)
	jtest.RequireNil(t, err)

	// Matching happens on the normalised form but survivors keep the caller's
	// spelling.
	require.Equal(t, []string{"Ben@Example.com"}, eligible)
}

func TestBuildRecipientsScopedToProjectAndAction(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "ana@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)

	// Another action of the same project is unaffected.
	eligible, err := service.BuildRecipients(ctx, "proj_1", "winback", []string{
		"ana@example.com",
	}, day)
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"ana@example.com"}, eligible)

	// As is the same action of another project.
	eligible, err = service.BuildRecipients(ctx, "proj_2", "welcome_email", []string{
		"ana@example.com",
	}, day)
	jtest.RequireNil(t, err)
	require.Equal(t, []string{"ana@example.com"}, eligible)
}

func TestBuildRecipientsPreservesOrder(t *testing.T) {
	ctx := context.Background()
	service, clock := newTestService()

	run, err := service.StartRun(ctx, "proj_1", "welcome_email", "signup-1", nil)
	jtest.RequireNil(t, err)

	_, err = service.RecordSend(ctx, run, "cara@example.com", workflowrun.SendStatusSent)
	jtest.RequireNil(t, err)

	clock.Step(time.Hour)
	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{
		"dan@example.com",
		"cara@example.com",
		"ana@example.com",
		"ben@example.com",
	}, day)
	jtest.RequireNil(t, err)

	require.Equal(t, []string{"dan@example.com", "ana@example.com", "ben@example.com"}, eligible)
}

func TestBuildRecipientsValidation(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	_, err := service.BuildRecipients(ctx, "", "welcome_email", []string{"ana@example.com"}, day)
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)

	_, err = service.BuildRecipients(ctx, "proj_1", "", []string{"ana@example.com"}, day)
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)

	_, err = service.BuildRecipients(ctx, "proj_1", "welcome_email", []string{"ana@example.com"}, -time.Hour)
	jtest.Require(t, workflowrun.ErrInvalidArgument, err)
}

func TestBuildRecipientsEmptyCandidates(t *testing.T) {
	ctx := context.Background()
	service, _ := newTestService()

	eligible, err := service.BuildRecipients(ctx, "proj_1", "welcome_email", nil, day)
	jtest.RequireNil(t, err)
	require.Empty(t, eligible)
}
