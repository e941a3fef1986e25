package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

func TestExtractTokenBundleFromQuery(t *testing.T) {
	bundle := identity.ExtractTokenBundle("https://app.example.com/auth/callback?token_hash=abc123&type=signup")

	assert.Equal(t, "abc123", bundle.TokenHash)
	assert.Equal(t, "signup", bundle.Type)
	assert.True(t, bundle.HasVerification())
	assert.False(t, bundle.HasSessionPair())
	assert.Equal(t, "abc123", bundle.VerificationToken())
}

func TestExtractTokenBundleFromFragment(t *testing.T) {
	bundle := identity.ExtractTokenBundle("https://app.example.com/#access_token=at1&refresh_token=rt1&type=magiclink")

	assert.Equal(t, "at1", bundle.AccessToken)
	assert.Equal(t, "rt1", bundle.RefreshToken)
	assert.True(t, bundle.HasSessionPair())
	assert.False(t, bundle.HasVerification())
}

func TestExtractTokenBundleLocationInvariance(t *testing.T) {
	fromQuery := identity.ExtractTokenBundle("https://app.example.com/cb?access_token=at&refresh_token=rt&type=signup")
	fromFragment := identity.ExtractTokenBundle("https://app.example.com/cb#access_token=at&refresh_token=rt&type=signup")

	assert.Equal(t, fromQuery, fromFragment)
}

func TestExtractTokenBundleFragmentWinsPerField(t *testing.T) {
	bundle := identity.ExtractTokenBundle("https://app.example.com/cb?access_token=query-at&type=recovery#access_token=frag-at")

	assert.Equal(t, "frag-at", bundle.AccessToken)
	// the query fills fields the fragment lacks
	assert.Equal(t, "recovery", bundle.Type)
}

func TestExtractTokenBundleMalformedInput(t *testing.T) {
	assert.True(t, identity.ExtractTokenBundle("").IsZero())
	assert.True(t, identity.ExtractTokenBundle("://not-a-url").IsZero())
	assert.True(t, identity.ExtractTokenBundle("https://app.example.com/#just-an-anchor").IsZero())
}

func TestStripTokenParams(t *testing.T) {
	stripped := identity.StripTokenParams("https://app.example.com/cb?token_hash=abc&type=signup&next=/dashboard")

	require.NotContains(t, stripped, "token_hash")
	require.NotContains(t, stripped, "type=signup")
	assert.Contains(t, stripped, "next=")
}

func TestStripTokenParamsFragment(t *testing.T) {
	stripped := identity.StripTokenParams("https://app.example.com/cb#access_token=at&refresh_token=rt")

	assert.NotContains(t, stripped, "access_token")
	assert.NotContains(t, stripped, "refresh_token")
}

func TestStripTokenParamsIdempotent(t *testing.T) {
	clean := "https://app.example.com/dashboard"
	assert.Equal(t, clean, identity.StripTokenParams(clean))
}
