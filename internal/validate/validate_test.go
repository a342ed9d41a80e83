package validate_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/validate"
)

func TestQueueNameBoundaries(t *testing.T) {
	require.NoError(t, validate.QueueName(""))
	require.NoError(t, validate.QueueName(repeat("a", 50)))

	err := validate.QueueName(repeat("a", 51))
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidQueueName, ae.Kind)

	require.Error(t, validate.QueueName("Has-Upper"))
}

func TestPartitionsBoundaries(t *testing.T) {
	n, err := validate.Partitions("200")
	require.NoError(t, err)
	assert.Equal(t, 200, n)

	_, err = validate.Partitions("201")
	require.Error(t, err)

	_, err = validate.Partitions("not-a-number")
	require.Error(t, err)
}

func TestTTLBoundaries(t *testing.T) {
	n, err := validate.TTL("")
	require.NoError(t, err)
	assert.Equal(t, validate.DefaultTTLSeconds, n)

	n, err = validate.TTL("1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	n, err = validate.TTL("33554432") // 2^25
	require.NoError(t, err)
	assert.Equal(t, 1<<25, n)

	_, err = validate.TTL("0")
	require.Error(t, err)
}

func TestPrincipals(t *testing.T) {
	ps, err := validate.Principals("app:foo,bid:bar@example.com")
	require.NoError(t, err)
	assert.Equal(t, []string{"app:foo", "bid:bar@example.com"}, ps)

	_, err = validate.Principals("not-a-principal")
	require.Error(t, err)
}

func TestOrderDefault(t *testing.T) {
	o, err := validate.Order("", storage.Descending)
	require.NoError(t, err)
	assert.Equal(t, storage.Descending, o)

	o, err = validate.Order("ascending", storage.Descending)
	require.NoError(t, err)
	assert.Equal(t, storage.Ascending, o)

	_, err = validate.Order("sideways", storage.Descending)
	require.Error(t, err)
}

func TestMessageIDTokenDefaultsPartitionToOne(t *testing.T) {
	hex := repeat("a1", 16)
	tok, err := validate.MessageIDToken(hex)
	require.NoError(t, err)
	assert.Equal(t, 1, tok.Partition)

	tok, err = validate.MessageIDToken("5:" + hex)
	require.NoError(t, err)
	assert.Equal(t, 5, tok.Partition)

	_, err = validate.MessageIDToken("not-a-valid-token")
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidMessageID, ae.Kind)
}

func TestSinceDisambiguatesDecimalVsID(t *testing.T) {
	at, err := validate.Since("1234567890.1234567")
	require.NoError(t, err)
	require.NotNil(t, at.Decimal)
	assert.Nil(t, at.ID)

	hex := repeat("b2", 16)
	at, err = validate.Since(hex)
	require.NoError(t, err)
	require.NotNil(t, at.ID)
	assert.Nil(t, at.Decimal)
}

func repeat(s string, n int) string {
	out := make([]byte, 0, len(s)*n)
	for i := 0; i < n; i++ {
		out = append(out, s...)
	}
	return string(out)
}
