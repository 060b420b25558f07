// Copyright (c) 2024-2025 Jesse Morgan / Morgan Forge
// SPDX-License-Identifier: AGPL-3.0-or-later

package storage

import (
	"context"
	"os"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/jeranaias/parley/internal/model"
)

// Set PARLEY_TEST_POSTGRES_DSN to run against a real database.
func openTestPostgres(t *testing.T) *PostgresDocumentStore {
	t.Helper()
	dsn := os.Getenv("PARLEY_TEST_POSTGRES_DSN")
	if dsn == "" {
		t.Skip("PARLEY_TEST_POSTGRES_DSN not set")
	}
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	store, err := OpenPostgres(ctx, dsn)
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })
	return store
}

func TestPostgresDocumentStore_RoundTrip(t *testing.T) {
	store := openTestPostgres(t)
	ctx := context.Background()
	uid := "test-" + model.NewID()

	_, ok, err := store.GetPreferences(ctx, uid)
	require.NoError(t, err)
	assert.False(t, ok)

	require.NoError(t, store.PutPreferences(ctx, uid, model.Preferences{ThemeIsDark: true, SelectedModelID: "openai/gpt-4"}))
	prefs, ok, err := store.GetPreferences(ctx, uid)
	require.NoError(t, err)
	require.True(t, ok)
	assert.True(t, prefs.ThemeIsDark)

	now := time.Now().UTC().Truncate(time.Microsecond)
	older := testConversation("older", now.Add(-time.Hour))
	newer := testConversation("newer", now)
	require.NoError(t, store.PutConversation(ctx, uid, older))
	require.NoError(t, store.PutConversation(ctx, uid, newer))

	convs, err := store.ListConversations(ctx, uid)
	require.NoError(t, err)
	require.Len(t, convs, 2)
	assert.Equal(t, newer.ID, convs[0].ID)
	assert.True(t, convs[0].UpdatedAt.Equal(now))

	require.NoError(t, store.DeleteConversation(ctx, uid, newer.ID))
	require.NoError(t, store.DeleteConversation(ctx, uid, newer.ID))
	require.NoError(t, store.DeleteConversation(ctx, uid, older.ID))
}

func TestOpenPostgres_EmptyDSN(t *testing.T) {
	_, err := OpenPostgres(context.Background(), "")
	assert.Error(t, err)
}
