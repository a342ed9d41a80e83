package queue_test

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/metadata"
	metamem "github.com/queuey-io/queuey/internal/metadata/memory"
	"github.com/queuey-io/queuey/internal/queue"
	storemem "github.com/queuey-io/queuey/internal/storage/memory"
	"github.com/queuey-io/queuey/internal/timeuuid"
)

func newEngine() *queue.Engine {
	return queue.New(storemem.New(), metamem.New(), queue.Config{Replicas: 1}, nil)
}

func intp(i int) *int       { return &i }
func strp(s string) *string { return &s }

func TestEngineCreateQueueDefaults(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	attrs, err := e.CreateQueue(ctx, "myapp", "", metadata.Update{})
	require.NoError(t, err)
	assert.NotEmpty(t, attrs.QueueName)
	assert.Len(t, attrs.QueueName, 32)
	assert.Equal(t, "myapp", attrs.Application)
	assert.Equal(t, 1, attrs.Partitions)
	assert.Equal(t, "user", attrs.Type)
	assert.Equal(t, "weak", attrs.Consistency)
}

func TestEngineLifecycle(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	attrs, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{
		Partitions: intp(4), Type: strp("user"), Consistency: strp("weak"),
	})
	require.NoError(t, err)
	assert.Equal(t, 4, attrs.Partitions)
	assert.Equal(t, "myapp", attrs.Application)

	got, err := e.QueueAttrs(ctx, "myapp", "orders")
	require.NoError(t, err)
	assert.Equal(t, attrs, got)

	_, err = e.QueueAttrs(ctx, "myapp", "missing")
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidQueueName, ae.Kind)
}

func TestEngineListQueues(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	for _, name := range []string{"alpha", "beta", "gamma"} {
		_, err := e.CreateQueue(ctx, "myapp", name, metadata.Update{})
		require.NoError(t, err)
	}

	views, count, err := e.ListQueues(ctx, "myapp", queue.ListOptions{Limit: 10, IncludeCount: true})
	require.NoError(t, err)
	assert.Equal(t, 3, count)
	names := []string{views[0].Name, views[1].Name, views[2].Name}
	assert.Equal(t, []string{"alpha", "beta", "gamma"}, names)
}

func TestEngineUpdateQueuePartitionsMustNotDecrease(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(4)})
	require.NoError(t, err)

	_, err = e.UpdateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(2)})
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidUpdate, ae.Kind)

	attrs, err := e.UpdateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(8)})
	require.NoError(t, err)
	assert.Equal(t, 8, attrs.Partitions)
}

func TestEnginePushAndGetMessages(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1)})
	require.NoError(t, err)

	results, err := e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{
		{Body: []byte("one")},
		{Body: []byte("two")},
	})
	require.NoError(t, err)
	require.Len(t, results, 2)
	for _, r := range results {
		assert.NotEmpty(t, r.Key)
		assert.Equal(t, 1, r.Partition)
	}

	msgs, err := e.GetMessages(ctx, "myapp", "orders", queue.GetOptions{Limit: 10})
	require.NoError(t, err)
	require.Len(t, msgs, 2)
	assert.Equal(t, []byte("one"), msgs[0].Body)
	assert.Equal(t, []byte("two"), msgs[1].Body)
}

func TestEnginePushRejectsOutOfRangePartition(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(2)})
	require.NoError(t, err)

	_, err = e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{{Body: []byte("x"), Partition: 5}})
	require.Error(t, err)
	ae, ok := apierr.As(err)
	require.True(t, ok)
	assert.Equal(t, apierr.InvalidParameter, ae.Kind)
}

func TestEngineDeleteQueueTruncatesMessages(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1)})
	require.NoError(t, err)
	_, err = e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{{Body: []byte("x")}})
	require.NoError(t, err)

	require.NoError(t, e.DeleteQueue(ctx, "myapp", "orders"))

	_, err = e.QueueAttrs(ctx, "myapp", "orders")
	require.Error(t, err)
}

func TestEngineDeleteMessagesByID(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1)})
	require.NoError(t, err)
	results, err := e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{{Body: []byte("x")}})
	require.NoError(t, err)

	id, err := timeuuid.Parse(results[0].Key)
	require.NoError(t, err)
	tok := queue.MessageIDToken{Partition: results[0].Partition, ID: id}

	require.NoError(t, e.DeleteMessages(ctx, "myapp", "orders", []queue.MessageIDToken{tok}))

	msgs, err := e.GetMessages(ctx, "myapp", "orders", queue.GetOptions{Limit: 10})
	require.NoError(t, err)
	assert.Empty(t, msgs)
}

func TestEngineGetMessagesByIDs(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1)})
	require.NoError(t, err)
	results, err := e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{{Body: []byte("x")}})
	require.NoError(t, err)

	id, err := timeuuid.Parse(results[0].Key)
	require.NoError(t, err)
	tok := queue.MessageIDToken{Partition: results[0].Partition, ID: id}

	msgs, err := e.GetMessagesByIDs(ctx, "myapp", "orders", []queue.MessageIDToken{tok})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("x"), msgs[0].Body)
}

func TestEngineUpdateMessages(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	_, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1)})
	require.NoError(t, err)
	results, err := e.PushBatch(ctx, "myapp", "orders", []queue.PushMessage{{Body: []byte("x")}})
	require.NoError(t, err)

	id, err := timeuuid.Parse(results[0].Key)
	require.NoError(t, err)
	tok := queue.MessageIDToken{Partition: results[0].Partition, ID: id}

	require.NoError(t, e.UpdateMessages(ctx, "myapp", "orders", []queue.MessageIDToken{tok}, []byte("updated"), 0))

	msgs, err := e.GetMessagesByIDs(ctx, "myapp", "orders", []queue.MessageIDToken{tok})
	require.NoError(t, err)
	require.Len(t, msgs, 1)
	assert.Equal(t, []byte("updated"), msgs[0].Body)
	assert.Equal(t, timeuuid.Hex(tok.ID), msgs[0].MessageID)
}

func TestEngineACLAssembly(t *testing.T) {
	e := newEngine()
	ctx := context.Background()

	attrs, err := e.CreateQueue(ctx, "myapp", "orders", metadata.Update{Partitions: intp(1), Type: strp("public")})
	require.NoError(t, err)

	acl := e.ACL(attrs)
	assert.True(t, acl.Allows([]string{"app:myapp"}, queue.PermDeleteQueue))
	assert.True(t, acl.Allows(nil, queue.PermView)) // public: everyone may view
}
