package auth_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/auth"
)

func TestPrincipalsAnonymous(t *testing.T) {
	ps, err := auth.Principals("", auth.KeyTable{})
	require.NoError(t, err)
	assert.Equal(t, []string{auth.Everyone}, ps)
}

func TestPrincipalsRecognizedKey(t *testing.T) {
	table := auth.KeyTable{"secret123": "myapp"}
	ps, err := auth.Principals("Application secret123", table)
	require.NoError(t, err)
	assert.Contains(t, ps, "app:myapp")
	assert.Contains(t, ps, auth.Everyone)
	assert.Equal(t, "myapp", auth.ApplicationOf(ps))
}

func TestPrincipalsUnrecognizedKeyFails(t *testing.T) {
	_, err := auth.Principals("Application nope", auth.KeyTable{})
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidApplicationKey, ae.Kind)
}

func TestPrincipalsMultipleLinesPicksApplicationLine(t *testing.T) {
	table := auth.KeyTable{"k": "myapp"}
	ps, err := auth.Principals("Other foo; Application k", table)
	require.NoError(t, err)
	assert.Contains(t, ps, "app:myapp")
}
