package sqlcatalog_test

import (
	"context"
	"database/sql"
	"os"
	"testing"

	_ "github.com/go-sql-driver/mysql"
	"github.com/stretchr/testify/require"

	"github.com/queuey-io/queuey/internal/metadata"
	"github.com/queuey-io/queuey/internal/metadata/sqlcatalog"
)

func openTestDB(t *testing.T) *sql.DB {
	t.Helper()
	dsn := os.Getenv("QUEUEY_TEST_MYSQL_DSN")
	if dsn == "" {
		t.Skip("QUEUEY_TEST_MYSQL_DSN not set; skipping sqlcatalog integration test")
	}
	db, err := sql.Open("mysql", dsn)
	require.NoError(t, err)
	_, err = db.Exec(sqlcatalog.Schema)
	require.NoError(t, err)
	return db
}

func intp(i int) *int { return &i }

func TestRegisterAndFetchQueue(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	b := sqlcatalog.New(db)
	ctx := context.Background()

	require.NoError(t, b.RegisterQueue(ctx, "itest", "orders", metadata.Update{Partitions: intp(4)}))

	infos, err := b.QueueInformation(ctx, "itest", []string{"orders"})
	require.NoError(t, err)
	require.Len(t, infos, 1)
	require.Equal(t, 4, infos[0].Partitions)

	count, err := b.QueueCount(ctx, "itest")
	require.NoError(t, err)
	require.GreaterOrEqual(t, count, 1)
}

func TestRemoveQueue(t *testing.T) {
	db := openTestDB(t)
	defer db.Close()
	b := sqlcatalog.New(db)
	ctx := context.Background()

	require.NoError(t, b.RegisterQueue(ctx, "itest", "to-remove", metadata.Update{}))
	removed, err := b.RemoveQueue(ctx, "itest", "to-remove")
	require.NoError(t, err)
	require.True(t, removed)

	removed, err = b.RemoveQueue(ctx, "itest", "to-remove")
	require.NoError(t, err)
	require.False(t, removed)
}
