package models_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/thebandlist/presenced/core/models"
	"github.com/thebandlist/presenced/testsuite"
)

func TestStore(t *testing.T) {
	ctx, rt := testsuite.Runtime()

	defer testsuite.ResetDB()

	store := models.NewStore(rt)
	store.Start()
	defer store.Stop()

	testsuite.InsertDiscordAccount(rt, 42, 123456789012345678, "bob", "Bobby", "")

	// no such account
	a, err := store.GetDiscordAccount(ctx, 1234567)
	assert.EqualError(t, err, "sql: no rows in result set")
	assert.Nil(t, a)

	// from db
	a, err = store.GetDiscordAccount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "bob", a.Username)

	_, err = rt.DB.ExecContext(ctx, `UPDATE "DiscordAccounts" SET "DiscordUsername" = 'robert' WHERE "UtilisateurId" = 42`)
	require.NoError(t, err)

	// from cache
	a, err = store.GetDiscordAccount(ctx, 42)
	require.NoError(t, err)
	assert.Equal(t, "bob", a.Username)
}
