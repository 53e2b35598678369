package application_test

import (
	"context"
	"testing"
	"time"

	"github.com/ftu-admissions/admission-api/internal/admission/application"
	"github.com/ftu-admissions/admission-api/internal/admission/domain"
	"github.com/ftu-admissions/admission-api/internal/infrastructure/memory"
	"github.com/ftu-admissions/admission-api/internal/logger/loggertest"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type resolverFixture struct {
	repo     *memory.DraftRepository
	hints    *memory.HintStore
	resolver *application.Resolver
}

func newResolverFixture(t *testing.T, wait time.Duration) resolverFixture {
	repo := memory.NewDraftRepository()
	hints := memory.NewHintStore(0)
	drafts := application.NewDraftService(repo, testAttachments, fixedClock)
	return resolverFixture{
		repo:  repo,
		hints: hints,
		resolver: application.NewResolver(drafts, hints, application.ResolverConfig{
			Wait:         wait,
			PollInterval: 10 * time.Millisecond,
		}, loggertest.New(t)),
	}
}

func TestResolveUsesExistingID(t *testing.T) {
	f := newResolverFixture(t, 0)
	app := seedComplete(t, f.repo)

	res, err := f.resolver.Resolve(context.Background(), application.ResolveRequest{Stage: domain.StageUpload, ID: app.ID})
	require.NoError(t, err)
	assert.Equal(t, application.ActionUse, res.Action)
	assert.Equal(t, app.ID, res.ApplicationID)
}

func TestResolveRedirectsToHint(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t, 0)
	app := seedComplete(t, f.repo)
	require.NoError(t, f.hints.Remember(ctx, "session-1", app.ID))

	res, err := f.resolver.Resolve(ctx, application.ResolveRequest{Stage: domain.StageReview, SessionKey: "session-1"})
	require.NoError(t, err)
	assert.Equal(t, application.ActionRedirect, res.Action)
	assert.Equal(t, "/application/review?id="+app.ID, res.Location)
}

func TestResolveStaleIDFallsBackToHint(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t, 0)
	app := seedComplete(t, f.repo)
	require.NoError(t, f.hints.Remember(ctx, "session-1", app.ID))

	res, err := f.resolver.Resolve(ctx, application.ResolveRequest{Stage: domain.StageProgram, ID: "stale", SessionKey: "session-1"})
	require.NoError(t, err)
	assert.Equal(t, application.ActionRedirect, res.Action)
	assert.Equal(t, app.ID, res.ApplicationID)
}

func TestResolveWaitsForLateHint(t *testing.T) {
	ctx := context.Background()
	f := newResolverFixture(t, 500*time.Millisecond)
	app := seedComplete(t, f.repo)

	go func() {
		time.Sleep(40 * time.Millisecond)
		_ = f.hints.Remember(ctx, "late", app.ID)
	}()

	res, err := f.resolver.Resolve(ctx, application.ResolveRequest{Stage: domain.StageUpload, SessionKey: "late"})
	require.NoError(t, err)
	assert.Equal(t, application.ActionRedirect, res.Action)
	assert.Equal(t, app.ID, res.ApplicationID)
}

func TestResolveRestartsAfterWait(t *testing.T) {
	f := newResolverFixture(t, 30*time.Millisecond)

	start := time.Now()
	res, err := f.resolver.Resolve(context.Background(), application.ResolveRequest{Stage: domain.StageUpload, SessionKey: "nobody"})
	require.NoError(t, err)
	assert.GreaterOrEqual(t, time.Since(start), 30*time.Millisecond)
	assert.Equal(t, application.ActionRestart, res.Action)
	assert.Equal(t, "/application/stream", res.Location)
	assert.Zero(t, f.repo.Len(), "resolver never creates drafts")
}

func TestResolveStreamStageStartsFresh(t *testing.T) {
	f := newResolverFixture(t, 0)
	res, err := f.resolver.Resolve(context.Background(), application.ResolveRequest{Stage: domain.StageStream})
	require.NoError(t, err)
	assert.Equal(t, application.ActionStartFresh, res.Action)
	assert.Empty(t, res.Location)
}

func TestResolveHonoursCancellation(t *testing.T) {
	f := newResolverFixture(t, time.Minute)
	ctx, cancel := context.WithTimeout(context.Background(), 20*time.Millisecond)
	defer cancel()

	_, err := f.resolver.Resolve(ctx, application.ResolveRequest{Stage: domain.StageUpload, SessionKey: "nobody"})
	assert.Error(t, err)
}
