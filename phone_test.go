package identity_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	identity "github.com/Hasitha0/EcoTech-sub000"
)

func TestNormalizePhone(t *testing.T) {
	got, err := identity.NormalizePhone("0771234567", "LK")
	require.NoError(t, err)
	assert.Equal(t, "+94771234567", got)

	// already international input keeps its region
	got, err = identity.NormalizePhone("+94 71 234 5678", "US")
	require.NoError(t, err)
	assert.Equal(t, "+94712345678", got)

	// empty passes through untouched
	got, err = identity.NormalizePhone("", "LK")
	require.NoError(t, err)
	assert.Empty(t, got)

	_, err = identity.NormalizePhone("not-a-phone", "LK")
	assert.Error(t, err)
}
