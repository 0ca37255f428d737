package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/artpar/stagehand/internal/core/domain"
	"github.com/artpar/stagehand/internal/core/lifecycle"
)

// =============================================================================
// Test Helpers
// =============================================================================

func setupTestStore(t *testing.T) *SQLiteStore {
	t.Helper()
	store, err := NewSQLiteStore(":memory:")
	require.NoError(t, err)
	t.Cleanup(func() {
		store.Close()
	})
	return store
}

func createTestEnvironment(t *testing.T, store Store, name string) *domain.Environment {
	t.Helper()
	env, err := domain.NewEnvironment(name, domain.ModeLocal, "/srv/"+name, []string{"docker-compose.yml", "docker-compose.test.yml"})
	require.NoError(t, err)
	env.ProjectName = name

	require.NoError(t, store.CreateEnvironment(context.Background(), env))
	return env
}

// =============================================================================
// Environment Tests
// =============================================================================

func TestCreateAndGetEnvironment(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")

	got, err := store.GetEnvironment(context.Background(), env.ID)
	require.NoError(t, err)

	assert.Equal(t, env.ID, got.ID)
	assert.Equal(t, "itest", got.Name)
	assert.Equal(t, domain.ModeLocal, got.Mode)
	assert.Equal(t, "/srv/itest", got.WorkDir)
	assert.Equal(t, []string{"docker-compose.yml", "docker-compose.test.yml"}, got.ComposeFiles)
	assert.Equal(t, lifecycle.StateUninitialized, got.State)
	assert.WithinDuration(t, env.CreatedAt, got.CreatedAt, time.Millisecond)
}

func TestGetEnvironment_NotFound(t *testing.T) {
	store := setupTestStore(t)

	_, err := store.GetEnvironment(context.Background(), "missing")
	assert.ErrorIs(t, err, ErrNotFound)

	var storeErr *StoreError
	require.True(t, errors.As(err, &storeErr))
	assert.Equal(t, "GetEnvironment", storeErr.Op)
	assert.Equal(t, "missing", storeErr.ID)
}

func TestGetEnvironmentByName(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")

	got, err := store.GetEnvironmentByName(context.Background(), "itest")
	require.NoError(t, err)
	assert.Equal(t, env.ID, got.ID)

	_, err = store.GetEnvironmentByName(context.Background(), "other")
	assert.ErrorIs(t, err, ErrNotFound)
}

func TestCreateEnvironment_Duplicates(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")

	err := store.CreateEnvironment(context.Background(), env)
	assert.ErrorIs(t, err, ErrDuplicateID)

	assert.NotErrorIs(t, err, ErrDuplicateName)

	other, err := domain.NewEnvironment("itest", domain.ModeLocal, "/srv/other", nil)
	require.NoError(t, err)
	err = store.CreateEnvironment(context.Background(), other)
	assert.ErrorIs(t, err, ErrDuplicateName)

	renamed := *env
	renamed.Name = "itest-renamed"
	err = store.CreateEnvironment(context.Background(), &renamed)
	assert.ErrorIs(t, err, ErrDuplicateID)

	envs, err := store.ListEnvironments(context.Background(), ListOptions{})
	require.NoError(t, err)
	assert.Len(t, envs, 1)
}

func TestUpdateEnvironment(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")

	env.WorkDir = "/tmp/stagehand-1234"
	env.Mode = domain.ModeCopy
	require.NoError(t, store.UpdateEnvironment(context.Background(), env))

	got, err := store.GetEnvironment(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Equal(t, "/tmp/stagehand-1234", got.WorkDir)
	assert.Equal(t, domain.ModeCopy, got.Mode)

	ghost, err := domain.NewEnvironment("ghost", domain.ModeLocal, "/srv/ghost", nil)
	require.NoError(t, err)
	assert.ErrorIs(t, store.UpdateEnvironment(context.Background(), ghost), ErrNotFound)
}

func TestDeleteEnvironment(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")
	require.NoError(t, store.RecordPhase(context.Background(), env.ID, lifecycle.PhaseInitialize, nil))

	require.NoError(t, store.DeleteEnvironment(context.Background(), env.ID))

	_, err := store.GetEnvironment(context.Background(), env.ID)
	assert.ErrorIs(t, err, ErrNotFound)
	assert.ErrorIs(t, store.DeleteEnvironment(context.Background(), env.ID), ErrNotFound)

	events, err := store.ListPhaseEvents(context.Background(), env.ID)
	require.NoError(t, err)
	assert.Empty(t, events, "events are removed with the environment")
}

func TestListEnvironments(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()

	a := createTestEnvironment(t, store, "a")
	b := createTestEnvironment(t, store, "b")
	createTestEnvironment(t, store, "c")

	require.NoError(t, store.RecordPhase(ctx, a.ID, lifecycle.PhaseUp, nil))
	require.NoError(t, store.RecordPhase(ctx, b.ID, lifecycle.PhaseUp, nil))
	require.NoError(t, store.RecordPhase(ctx, b.ID, lifecycle.PhaseTearDown, nil))

	all, err := store.ListEnvironments(ctx, DefaultListOptions())
	require.NoError(t, err)
	assert.Len(t, all, 3)

	active, err := store.ListEnvironments(ctx, ListOptions{ActiveOnly: true})
	require.NoError(t, err)
	require.Len(t, active, 1)
	assert.Equal(t, "a", active[0].Name)

	page, err := store.ListEnvironments(ctx, ListOptions{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, page, 2)
}

// =============================================================================
// Phase Recording Tests
// =============================================================================

func TestRecordPhase(t *testing.T) {
	store := setupTestStore(t)
	ctx := context.Background()
	env := createTestEnvironment(t, store, "itest")

	require.NoError(t, store.RecordPhase(ctx, env.ID, lifecycle.PhaseInitialize, nil))
	require.NoError(t, store.RecordPhase(ctx, env.ID, lifecycle.PhaseUp, nil))
	require.NoError(t, store.RecordPhase(ctx, env.ID, lifecycle.PhaseHealth, errors.New("health check for service web failed after 2 retries")))

	got, err := store.GetEnvironment(ctx, env.ID)
	require.NoError(t, err)
	assert.Equal(t, lifecycle.StateUp, got.State)
	assert.Equal(t, lifecycle.PhaseHealth, got.Phase)
	assert.Contains(t, got.Error, "2 retries")
	assert.True(t, got.Active())

	events, err := store.ListPhaseEvents(ctx, env.ID)
	require.NoError(t, err)
	require.Len(t, events, 3)
	assert.Equal(t, lifecycle.PhaseInitialize, events[0].Phase)
	assert.Empty(t, events[0].Error)
	assert.Equal(t, lifecycle.PhaseHealth, events[2].Phase)
	assert.NotEmpty(t, events[2].Error)
	assert.False(t, events[2].RecordedAt.IsZero())
}

func TestRecordPhase_UnknownEnvironment(t *testing.T) {
	store := setupTestStore(t)

	err := store.RecordPhase(context.Background(), "missing", lifecycle.PhaseUp, nil)
	assert.ErrorIs(t, err, ErrNotFound)
}

// =============================================================================
// Options Tests
// =============================================================================

func TestListOptions_Normalize(t *testing.T) {
	tests := []struct {
		in   ListOptions
		want ListOptions
	}{
		{ListOptions{}, ListOptions{Limit: 100}},
		{ListOptions{Limit: 5000, Offset: -1}, ListOptions{Limit: 1000}},
		{ListOptions{Limit: 10, Offset: 20, ActiveOnly: true}, ListOptions{Limit: 10, Offset: 20, ActiveOnly: true}},
	}

	for _, tt := range tests {
		assert.Equal(t, tt.want, tt.in.Normalize())
	}
}

func TestStoreError(t *testing.T) {
	err := NewStoreError("GetEnvironment", "environment", "abc", "environment not found", ErrNotFound)
	assert.Equal(t, "GetEnvironment environment abc: environment not found", err.Error())
	assert.ErrorIs(t, err, ErrNotFound)

	assert.Equal(t, "Open: boom", NewStoreError("Open", "", "", "boom", nil).Error())
}

func TestStoreError_DuplicateIDMessage(t *testing.T) {
	store := setupTestStore(t)
	env := createTestEnvironment(t, store, "itest")

	err := store.CreateEnvironment(context.Background(), env)
	var storeErr *StoreError
	require.ErrorAs(t, err, &storeErr)
	assert.Equal(t, "CreateEnvironment", storeErr.Op)
	assert.Equal(t, env.ID, storeErr.ID)
	assert.Contains(t, err.Error(), "environment with this ID already exists")
}
