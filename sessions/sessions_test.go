package sessions

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"leadfunnel/models"
)

func TestScopedStoreIsolation(t *testing.T) {
	ctx := context.Background()
	shared := NewMemoryStore()
	podA := Scoped(shared, "browser-a", models.FunnelPod)
	podB := Scoped(shared, "browser-b", models.FunnelPod)
	basementA := Scoped(shared, "browser-a", models.FunnelBasement)

	require.NoError(t, podA.Set(ctx, "session_id", []byte("s-1")))
	require.NoError(t, basementA.Set(ctx, "session_id", []byte("s-2")))

	v, err := podA.Get(ctx, "session_id")
	require.NoError(t, err)
	assert.Equal(t, "s-1", string(v))

	v, err = podB.Get(ctx, "session_id")
	require.NoError(t, err)
	assert.Nil(t, v)

	v, err = shared.Get(ctx, "lf:browser-a:basement:session_id")
	require.NoError(t, err)
	assert.Equal(t, "s-2", string(v))

	require.NoError(t, podA.Remove(ctx, "session_id", "missing"))
	v, _ = podA.Get(ctx, "session_id")
	assert.Nil(t, v)
	assert.Equal(t, 1, shared.Len())
}

func TestMemoryStoreCopiesValues(t *testing.T) {
	ctx := context.Background()
	m := NewMemoryStore()
	buf := []byte("abc")
	require.NoError(t, m.Set(ctx, "k", buf))
	buf[0] = 'x'
	v, _ := m.Get(ctx, "k")
	assert.Equal(t, "abc", string(v))
}

func TestMemoryServiceLifecycle(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	clock := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	svc.now = func() time.Time { return clock }

	id, err := svc.CreateSession(ctx, &models.FunnelSession{ID: "s-1", FunnelType: models.FunnelPod})
	require.NoError(t, err)
	assert.Equal(t, "s-1", id)

	ok, err := svc.SessionExists(ctx, "s-1")
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, svc.UpdateProgress(ctx, Progress{
		SessionID:      "s-1",
		FunnelType:     models.FunnelPod,
		CurrentStep:    3,
		CompletedSteps: models.CompletedSteps{1, 2},
		FormData:       []byte(`{"use_case":"home_office"}`),
	}))
	require.NoError(t, svc.SetEmail(ctx, "s-1", "jane@example.com"))

	got, err := svc.Get(ctx, "s-1")
	require.NoError(t, err)
	assert.Equal(t, 3, got.CurrentStep)
	assert.Equal(t, models.CompletedSteps{1, 2}, got.CompletedSteps)
	require.NotNil(t, got.Email)
	assert.Equal(t, "jane@example.com", *got.Email)

	require.NoError(t, svc.MarkComplete(ctx, "s-1"))
	ok, _ = svc.SessionExists(ctx, "s-1")
	assert.False(t, ok, "completed sessions are not resumable")
	assert.ErrorIs(t, svc.MarkAbandoned(ctx, "s-1"), ErrSessionNotFound)
	assert.ErrorIs(t, svc.SetEmail(ctx, "missing", "x@example.com"), ErrSessionNotFound)
}

func TestUpdateProgressUpsertsMissingSession(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	require.NoError(t, svc.UpdateProgress(ctx, Progress{
		SessionID:   "late",
		FunnelType:  models.FunnelBasement,
		CurrentStep: 2,
		Attribution: models.Attribution{UTMSource: "meta"},
	}))
	got, err := svc.Get(ctx, "late")
	require.NoError(t, err)
	assert.Equal(t, models.FunnelBasement, got.FunnelType)
	assert.Equal(t, "meta", got.Attribution.UTMSource)
}

func TestUpdateProgressNeverShrinksCompletedSteps(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	require.NoError(t, svc.UpdateProgress(ctx, Progress{
		SessionID:      "tabs",
		FunnelType:     models.FunnelPod,
		CurrentStep:    4,
		CompletedSteps: models.CompletedSteps{1, 2, 3},
	}))
	// A second tab that only saw step 1 saves later.
	require.NoError(t, svc.UpdateProgress(ctx, Progress{
		SessionID:      "tabs",
		FunnelType:     models.FunnelPod,
		CurrentStep:    2,
		CompletedSteps: models.CompletedSteps{1, 5},
	}))
	got, err := svc.Get(ctx, "tabs")
	require.NoError(t, err)
	assert.Equal(t, models.CompletedSteps{1, 2, 3, 5}, got.CompletedSteps)
	assert.Equal(t, 2, got.CurrentStep)
}

func TestListStale(t *testing.T) {
	ctx := context.Background()
	svc := NewMemoryService()
	start := time.Date(2026, 5, 1, 9, 0, 0, 0, time.UTC)
	now := start
	svc.now = func() time.Time { return now }

	for _, id := range []string{"old", "older", "fresh", "done"} {
		_, err := svc.CreateSession(ctx, &models.FunnelSession{ID: id, FunnelType: models.FunnelPod})
		require.NoError(t, err)
	}
	require.NoError(t, svc.MarkComplete(ctx, "done"))
	now = start.Add(time.Hour)
	require.NoError(t, svc.LogStepEvent(ctx, models.StepEvent{SessionID: "fresh", StepNumber: 1, Kind: models.StepEventView}))
	now = start.Add(-time.Minute)
	require.NoError(t, svc.LogStepEvent(ctx, models.StepEvent{SessionID: "older", StepNumber: 1, Kind: models.StepEventView}))

	stale, err := svc.ListStale(ctx, start.Add(30*time.Minute), 10)
	require.NoError(t, err)
	require.Len(t, stale, 2)
	assert.Equal(t, "older", stale[0].ID)
	assert.Equal(t, "old", stale[1].ID)

	limited, err := svc.ListStale(ctx, start.Add(30*time.Minute), 1)
	require.NoError(t, err)
	assert.Len(t, limited, 1)

	require.NoError(t, svc.MarkAbandoned(ctx, "old"))
	stale, _ = svc.ListStale(ctx, start.Add(30*time.Minute), 10)
	assert.Len(t, stale, 1)
	assert.Len(t, svc.Events("older"), 1)
}
