package memory

import (
	"context"
	"testing"

	"github.com/queuey-io/queuey/internal/metadata"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func intp(i int) *int          { return &i }
func strp(s string) *string    { return &s }

func TestRegisterQueueDefaultsThenMerges(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.RegisterQueue(ctx, "app1", "q1", metadata.Update{}))

	info, err := b.QueueInformation(ctx, "app1", []string{"q1"})
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.Equal(t, 1, info[0].Partitions)
	assert.Equal(t, "user", info[0].Type)
	assert.Equal(t, "weak", info[0].Consistency)
	assert.Equal(t, "app1", info[0].Application)

	require.NoError(t, b.RegisterQueue(ctx, "app1", "q1", metadata.Update{Type: strp("public")}))
	info, err = b.QueueInformation(ctx, "app1", []string{"q1"})
	require.NoError(t, err)
	assert.Equal(t, "public", info[0].Type)
	assert.Equal(t, 1, info[0].Partitions, "unsupplied fields must not be clobbered on merge")
}

func TestPartitionsMonotonicityIsEnforcedByCaller(t *testing.T) {
	// metadata.Backend itself has no opinion on monotonicity -- that
	// invariant lives in the queue engine, which consults
	// QueueInformation before calling RegisterQueue. This test only
	// pins down that the backend faithfully stores whatever it's told.
	b := New()
	ctx := context.Background()
	require.NoError(t, b.RegisterQueue(context.Background(), "app1", "q1", metadata.Update{Partitions: intp(4)}))
	require.NoError(t, b.RegisterQueue(ctx, "app1", "q1", metadata.Update{Partitions: intp(2)}))
	info, err := b.QueueInformation(ctx, "app1", []string{"q1"})
	require.NoError(t, err)
	assert.Equal(t, 2, info[0].Partitions)
}

func TestQueueCountTracksLiveQueues(t *testing.T) {
	b := New()
	ctx := context.Background()
	require.NoError(t, b.RegisterQueue(ctx, "app1", "q1", metadata.Update{}))
	require.NoError(t, b.RegisterQueue(ctx, "app1", "q2", metadata.Update{}))
	n, err := b.QueueCount(ctx, "app1")
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	removed, err := b.RemoveQueue(ctx, "app1", "q1")
	require.NoError(t, err)
	assert.True(t, removed)

	n, err = b.QueueCount(ctx, "app1")
	require.NoError(t, err)
	assert.Equal(t, 1, n)

	removed, err = b.RemoveQueue(ctx, "app1", "q1")
	require.NoError(t, err)
	assert.False(t, removed)
}

func TestQueueListOrderingAndOffset(t *testing.T) {
	b := New()
	ctx := context.Background()
	for _, q := range []string{"c", "a", "b"} {
		require.NoError(t, b.RegisterQueue(ctx, "app1", q, metadata.Update{}))
	}
	list, err := b.QueueList(ctx, "app1", 100, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "b", "c"}, list)

	page, err := b.QueueList(ctx, "app1", 100, "b")
	require.NoError(t, err)
	assert.Equal(t, []string{"b", "c"}, page)

	limited, err := b.QueueList(ctx, "app1", 1, "")
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, limited)
}

func TestQueueInformationMissingQueueIsZero(t *testing.T) {
	b := New()
	ctx := context.Background()
	info, err := b.QueueInformation(ctx, "app1", []string{"nope"})
	require.NoError(t, err)
	require.Len(t, info, 1)
	assert.True(t, info[0].IsZero())
}
