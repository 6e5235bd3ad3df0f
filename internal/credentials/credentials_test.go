// ABOUTME: Tests for OAuth credential resolution against fake and real env sources
// ABOUTME: Covers fresh per-call resolution, empty-value handling, and usability checks

package credentials

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"dockhand/internal/catalog"
)

func testCatalog(t *testing.T) *catalog.Catalog {
	t.Helper()
	c, err := catalog.Default()
	require.NoError(t, err)
	return c
}

func TestResolver_ResolveOAuth(t *testing.T) {
	source := Static{
		"GITHUB_CLIENT_ID":     "iv1.abc",
		"GITHUB_CLIENT_SECRET": "shhh",
	}
	r := NewResolver(testCatalog(t), source)

	resolved, err := r.ResolveOAuth("github")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "github", resolved.Provider)
	assert.Equal(t, "https://github.com/login/oauth/authorize", resolved.AuthorizeURL)
	assert.Equal(t, "iv1.abc", resolved.ClientID)
	assert.Equal(t, "shhh", resolved.ClientSecret)
	assert.True(t, resolved.Usable())
}

func TestResolver_ResolveOAuth_ProcessServerHasNoConfig(t *testing.T) {
	r := NewResolver(testCatalog(t), Static{})

	resolved, err := r.ResolveOAuth("postgres")
	require.NoError(t, err)
	assert.Nil(t, resolved)
}

func TestResolver_ResolveOAuth_UnknownServer(t *testing.T) {
	r := NewResolver(testCatalog(t), Static{})

	_, err := r.ResolveOAuth("nope")
	assert.ErrorIs(t, err, catalog.ErrNotFound)
}

func TestResolver_MissingSecretIsNotAnError(t *testing.T) {
	// Only the id is set; the secret's variable is absent.
	r := NewResolver(testCatalog(t), Static{"SLACK_CLIENT_ID": "A123"})

	resolved, err := r.ResolveOAuth("slack")
	require.NoError(t, err)
	require.NotNil(t, resolved)
	assert.Equal(t, "A123", resolved.ClientID)
	assert.Empty(t, resolved.ClientSecret)
	assert.False(t, resolved.Usable())
}

func TestResolver_EmptyValueCountsAsUnset(t *testing.T) {
	r := NewResolver(testCatalog(t), Static{
		"GITHUB_CLIENT_ID":     "iv1.abc",
		"GITHUB_CLIENT_SECRET": "",
	})

	assert.False(t, r.HasUsableCredentials("github"))
}

func TestResolver_HasUsableCredentials_TracksSourceBetweenCalls(t *testing.T) {
	// Resolution happens per call, so a rotated secret is visible
	// immediately without any reload.
	source := Static{}
	r := NewResolver(testCatalog(t), source)

	assert.False(t, r.HasUsableCredentials("github"))

	source["GITHUB_CLIENT_ID"] = "iv1.abc"
	source["GITHUB_CLIENT_SECRET"] = "shhh"
	assert.True(t, r.HasUsableCredentials("github"))

	delete(source, "GITHUB_CLIENT_SECRET")
	assert.False(t, r.HasUsableCredentials("github"))
}

func TestResolver_HasUsableCredentials_FalseCases(t *testing.T) {
	r := NewResolver(testCatalog(t), Static{})

	assert.False(t, r.HasUsableCredentials("nope"), "unknown server")
	assert.False(t, r.HasUsableCredentials("postgres"), "no oauth template")
	assert.False(t, r.HasUsableCredentials("github"), "no secrets set")
}

func TestOSEnv_EmptyTreatedAsUnset(t *testing.T) {
	t.Setenv("DOCKHAND_TEST_SECRET", "")
	_, ok := OSEnv{}.Get("DOCKHAND_TEST_SECRET")
	assert.False(t, ok)

	t.Setenv("DOCKHAND_TEST_SECRET", "value")
	v, ok := OSEnv{}.Get("DOCKHAND_TEST_SECRET")
	assert.True(t, ok)
	assert.Equal(t, "value", v)
}
