// Package sqlcolumn implements storage.Backend on top of database/sql,
// the wide-column-over-SQL stand-in spec §4.B allows for any concrete
// storage product. It accepts either the go-sql-driver/mysql or
// dolthub/driver drivers interchangeably -- both speak the MySQL wire
// protocol -- and models a partition as a table row keyed by
// (partition_key, message_id), the closest relational analogue to an
// ordered column family. Transient connection errors are retried with
// exponential backoff, mirroring the teacher's dolt store retry wrapper
// (internal/storage/dolt/store.go's withRetry), before surfacing
// storage.StorageUnavailable.
package sqlcolumn

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/cenkalti/backoff/v4"
	"golang.org/x/sync/errgroup"

	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/timeuuid"
	"github.com/shopspring/decimal"
)

// Backend is a database/sql-backed storage.Backend. Callers open db
// with whichever driver ("mysql" or "dolt") their deployment uses and
// are responsible for having applied Schema.
type Backend struct {
	db *sql.DB
}

// New wraps db as a storage.Backend.
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Schema is the DDL Backend expects. Callers apply it once at
// provisioning time (it is intentionally not run automatically, the
// same "migrations are an operational concern" stance the teacher's
// sqlite/dolt stores take for their own schema files).
const Schema = `
CREATE TABLE IF NOT EXISTS queuey_messages (
	application  VARCHAR(255) NOT NULL,
	queue_name   VARCHAR(50)  NOT NULL,
	partition_ix INT          NOT NULL,
	message_id   BINARY(16)   NOT NULL,
	ticks        BIGINT       NOT NULL,
	body         MEDIUMBLOB,
	expires_at   DATETIME NULL,
	PRIMARY KEY (application, queue_name, partition_ix, message_id)
);

CREATE TABLE IF NOT EXISTS queuey_message_metadata (
	application  VARCHAR(255) NOT NULL,
	queue_name   VARCHAR(50)  NOT NULL,
	partition_ix INT          NOT NULL,
	message_id   BINARY(16)   NOT NULL,
	meta_key     VARCHAR(255) NOT NULL,
	meta_value   TEXT,
	PRIMARY KEY (application, queue_name, partition_ix, message_id, meta_key)
);
`

func retryBackoff() backoff.BackOff {
	bo := backoff.NewExponentialBackOff()
	bo.MaxElapsedTime = 15 * time.Second
	return bo
}

func isRetryable(err error) bool {
	if err == nil {
		return false
	}
	s := strings.ToLower(err.Error())
	for _, needle := range []string{
		"connection refused", "broken pipe", "connection reset",
		"bad connection", "invalid connection", "i/o timeout", "gone away",
	} {
		if strings.Contains(s, needle) {
			return true
		}
	}
	return false
}

// withRetry executes op, retrying transient connection failures with
// exponential backoff; a non-transient error stops the retry loop
// immediately and is returned as-is.
func withRetry(ctx context.Context, op func() error) error {
	return backoff.Retry(func() error {
		err := op()
		if err == nil {
			return nil
		}
		if isRetryable(err) {
			return err
		}
		return backoff.Permanent(err)
	}, backoff.WithContext(retryBackoff(), ctx))
}

func (b *Backend) Push(ctx context.Context, cl storage.ConsistencyLevel, app string, item storage.PushItem) (storage.PushResult, error) {
	results, err := b.PushBatch(ctx, cl, app, []storage.PushItem{item})
	if err != nil {
		return storage.PushResult{}, err
	}
	return results[0], nil
}

func (b *Backend) PushBatch(ctx context.Context, cl storage.ConsistencyLevel, app string, items []storage.PushItem) ([]storage.PushResult, error) {
	results := make([]storage.PushResult, len(items))
	err := withRetry(ctx, func() error {
		tx, err := b.db.BeginTx(ctx, nil)
		if err != nil {
			return fmt.Errorf("sqlcolumn: begin tx: %w", err)
		}
		defer tx.Rollback() //nolint:errcheck

		for i, item := range items {
			id, ts, err := resolveID(item)
			if err != nil {
				return err
			}
			expiresAt := sql.NullTime{}
			if item.TTL > 0 {
				expiresAt = sql.NullTime{Time: time.Now().Add(item.TTL), Valid: true}
			}

			idBytes, _ := id.MarshalBinary()
			_, err = tx.ExecContext(ctx, `
				REPLACE INTO queuey_messages
					(application, queue_name, partition_ix, message_id, ticks, body, expires_at)
				VALUES (?, ?, ?, ?, ?, ?, ?)`,
				app, item.Queue, item.Partition, idBytes, timeuuid.Ticks(id), item.Body, expiresAt)
			if err != nil {
				return fmt.Errorf("sqlcolumn: insert message: %w", err)
			}

			if _, err := tx.ExecContext(ctx, `
				DELETE FROM queuey_message_metadata
				WHERE application=? AND queue_name=? AND partition_ix=? AND message_id=?`,
				app, item.Queue, item.Partition, idBytes); err != nil {
				return fmt.Errorf("sqlcolumn: clear metadata: %w", err)
			}
			for k, v := range item.Metadata {
				if _, err := tx.ExecContext(ctx, `
					INSERT INTO queuey_message_metadata
						(application, queue_name, partition_ix, message_id, meta_key, meta_value)
					VALUES (?, ?, ?, ?, ?, ?)`,
					app, item.Queue, item.Partition, idBytes, k, v); err != nil {
					return fmt.Errorf("sqlcolumn: insert metadata: %w", err)
				}
			}

			results[i] = storage.PushResult{MessageID: id, Timestamp: ts}
		}
		return tx.Commit()
	})
	if err != nil {
		return nil, &storage.StorageUnavailable{Cause: err}
	}
	return results, nil
}

func resolveID(item storage.PushItem) (timeuuid.ID, decimal.Decimal, error) {
	switch {
	case item.Timestamp != nil && item.Timestamp.ID != nil:
		id := *item.Timestamp.ID
		return id, timeuuid.TimestampOf(id), nil
	case item.Timestamp != nil && item.Timestamp.Decimal != nil:
		id, err := timeuuid.FromDecimal(*item.Timestamp.Decimal, false, true)
		return id, timeuuid.TimestampOf(id), err
	default:
		return timeuuid.Now()
	}
}

// RetrieveBatch fans the multi-get out across keys concurrently via
// errgroup, one goroutine per partition key, and joins the results --
// the concurrent-fan-out cost model spec §4.D calls for living at the
// storage layer rather than the queue engine.
func (b *Backend) RetrieveBatch(ctx context.Context, cl storage.ConsistencyLevel, app string, keys []storage.PartitionKey, opts storage.RetrieveOptions) ([]storage.Record, error) {
	perKey := make([][]storage.Record, len(keys))
	g, gctx := errgroup.WithContext(ctx)
	for i, k := range keys {
		i, k := i, k
		g.Go(func() error {
			recs, err := b.retrieveOne(gctx, app, k, opts)
			if err != nil {
				return err
			}
			perKey[i] = recs
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, &storage.StorageUnavailable{Cause: err}
	}

	var out []storage.Record
	for _, recs := range perKey {
		out = append(out, recs...)
	}
	return out, nil
}

func (b *Backend) retrieveOne(ctx context.Context, app string, k storage.PartitionKey, opts storage.RetrieveOptions) ([]storage.Record, error) {
	query := `
		SELECT message_id, ticks, body
		FROM queuey_messages
		WHERE application = ? AND queue_name = ? AND partition_ix = ?
		  AND (expires_at IS NULL OR expires_at > NOW())`
	args := []interface{}{app, k.Queue, k.Partition}

	if opts.Delay > 0 {
		cutoff := decimal.New(time.Now().Add(-opts.Delay).UnixNano(), -9)
		cutoffID, err := timeuuid.FromDecimal(cutoff, true, false)
		if err != nil {
			return nil, err
		}
		query += " AND ticks < ?"
		args = append(args, timeuuid.Ticks(cutoffID))
	}
	if opts.Since != nil {
		sinceID, err := sinceID(*opts.Since)
		if err != nil {
			return nil, err
		}
		query += " AND ticks >= ?"
		args = append(args, timeuuid.Ticks(sinceID))
	}

	if opts.Order == storage.Descending {
		query += " ORDER BY ticks DESC, message_id DESC"
	} else {
		query += " ORDER BY ticks ASC, message_id ASC"
	}
	if opts.Limit > 0 {
		query += " LIMIT ?"
		args = append(args, opts.Limit)
	}

	var out []storage.Record
	err := withRetry(ctx, func() error {
		out = nil
		rows, err := b.db.QueryContext(ctx, query, args...)
		if err != nil {
			return fmt.Errorf("sqlcolumn: query: %w", err)
		}
		defer rows.Close()

		for rows.Next() {
			var idBytes []byte
			var ticks int64
			var body []byte
			if err := rows.Scan(&idBytes, &ticks, &body); err != nil {
				return fmt.Errorf("sqlcolumn: scan: %w", err)
			}
			var id timeuuid.ID
			if err := id.UnmarshalBinary(idBytes); err != nil {
				return fmt.Errorf("sqlcolumn: decode id: %w", err)
			}
			rec := storage.Record{
				MessageID: id,
				Timestamp: timeuuid.TimestampOf(id),
				Body:      body,
				QueueName: fmt.Sprintf("%s:%d", k.Queue, k.Partition),
			}
			if opts.IncludeMetadata {
				meta, err := b.metadataFor(ctx, app, k.Queue, k.Partition, idBytes)
				if err != nil {
					return err
				}
				rec.Metadata = meta
			}
			out = append(out, rec)
		}
		return rows.Err()
	})
	return out, err
}

func (b *Backend) metadataFor(ctx context.Context, app, queue string, partition int, idBytes []byte) (map[string]string, error) {
	rows, err := b.db.QueryContext(ctx, `
		SELECT meta_key, meta_value FROM queuey_message_metadata
		WHERE application=? AND queue_name=? AND partition_ix=? AND message_id=?`,
		app, queue, partition, idBytes)
	if err != nil {
		return nil, fmt.Errorf("sqlcolumn: metadata query: %w", err)
	}
	defer rows.Close()
	meta := map[string]string{}
	for rows.Next() {
		var k, v string
		if err := rows.Scan(&k, &v); err != nil {
			return nil, err
		}
		meta[k] = v
	}
	return meta, rows.Err()
}

func sinceID(at storage.At) (timeuuid.ID, error) {
	if at.ID != nil {
		return *at.ID, nil
	}
	if at.Decimal != nil {
		return timeuuid.FromDecimal(*at.Decimal, true, false)
	}
	return timeuuid.Nil, fmt.Errorf("sqlcolumn: empty since cursor")
}

func (b *Backend) Retrieve(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int, id timeuuid.ID, includeMetadata bool) (storage.Record, bool, error) {
	idBytes, _ := id.MarshalBinary()
	var body []byte
	var found bool
	err := withRetry(ctx, func() error {
		row := b.db.QueryRowContext(ctx, `
			SELECT body FROM queuey_messages
			WHERE application=? AND queue_name=? AND partition_ix=? AND message_id=?
			  AND (expires_at IS NULL OR expires_at > NOW())`,
			app, queue, partition, idBytes)
		switch err := row.Scan(&body); err {
		case nil:
			found = true
			return nil
		case sql.ErrNoRows:
			found = false
			return nil
		default:
			return fmt.Errorf("sqlcolumn: scan: %w", err)
		}
	})
	if err != nil {
		return storage.Record{}, false, &storage.StorageUnavailable{Cause: err}
	}
	if !found {
		return storage.Record{}, false, nil
	}
	rec := storage.Record{
		MessageID: id,
		Timestamp: timeuuid.TimestampOf(id),
		Body:      body,
		QueueName: fmt.Sprintf("%s:%d", queue, partition),
	}
	if includeMetadata {
		meta, err := b.metadataFor(ctx, app, queue, partition, idBytes)
		if err != nil {
			return storage.Record{}, false, &storage.StorageUnavailable{Cause: err}
		}
		rec.Metadata = meta
	}
	return rec, true, nil
}

func (b *Backend) Delete(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int, ids ...timeuuid.ID) error {
	err := withRetry(ctx, func() error {
		for _, id := range ids {
			idBytes, _ := id.MarshalBinary()
			if _, err := b.db.ExecContext(ctx, `
				DELETE FROM queuey_messages
				WHERE application=? AND queue_name=? AND partition_ix=? AND message_id=?`,
				app, queue, partition, idBytes); err != nil {
				return fmt.Errorf("sqlcolumn: delete: %w", err)
			}
			if _, err := b.db.ExecContext(ctx, `
				DELETE FROM queuey_message_metadata
				WHERE application=? AND queue_name=? AND partition_ix=? AND message_id=?`,
				app, queue, partition, idBytes); err != nil {
				return fmt.Errorf("sqlcolumn: delete metadata: %w", err)
			}
		}
		return nil
	})
	if err != nil {
		return &storage.StorageUnavailable{Cause: err}
	}
	return nil
}

func (b *Backend) Truncate(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int) error {
	err := withRetry(ctx, func() error {
		if _, err := b.db.ExecContext(ctx, `
			DELETE FROM queuey_messages WHERE application=? AND queue_name=? AND partition_ix=?`,
			app, queue, partition); err != nil {
			return fmt.Errorf("sqlcolumn: truncate: %w", err)
		}
		_, err := b.db.ExecContext(ctx, `
			DELETE FROM queuey_message_metadata WHERE application=? AND queue_name=? AND partition_ix=?`,
			app, queue, partition)
		return err
	})
	if err != nil {
		return &storage.StorageUnavailable{Cause: err}
	}
	return nil
}

func (b *Backend) Count(ctx context.Context, cl storage.ConsistencyLevel, app, queue string, partition int) (int, error) {
	var n int
	err := withRetry(ctx, func() error {
		return b.db.QueryRowContext(ctx, `
			SELECT COUNT(*) FROM queuey_messages
			WHERE application=? AND queue_name=? AND partition_ix=?
			  AND (expires_at IS NULL OR expires_at > NOW())`,
			app, queue, partition).Scan(&n)
	})
	if err != nil {
		return 0, &storage.StorageUnavailable{Cause: err}
	}
	return n, nil
}

var _ storage.Backend = (*Backend)(nil)
