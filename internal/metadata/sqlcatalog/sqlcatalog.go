// Package sqlcatalog implements metadata.Backend on top of database/sql,
// the SQL-backed counterpart to metadata/memory (spec §4.C). It accepts
// the same driver pair as storage/sqlcolumn (mysql, dolt) and stores the
// queue registry as a single table indexed by (application, queue_name)
// with a secondary index on application for queue_list/queue_count.
package sqlcatalog

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"time"

	"github.com/queuey-io/queuey/internal/metadata"
)

// Backend is a database/sql-backed metadata.Backend.
type Backend struct {
	db *sql.DB
}

// New wraps db as a metadata.Backend.
func New(db *sql.DB) *Backend {
	return &Backend{db: db}
}

// Schema is the DDL Backend expects; see storage/sqlcolumn.Schema for
// the message-table counterpart.
const Schema = `
CREATE TABLE IF NOT EXISTS queuey_queues (
	application VARCHAR(255) NOT NULL,
	queue_name  VARCHAR(50)  NOT NULL,
	partitions  INT          NOT NULL,
	type        VARCHAR(16)  NOT NULL,
	consistency VARCHAR(16)  NOT NULL,
	principals  TEXT,
	created     DOUBLE       NOT NULL,
	PRIMARY KEY (application, queue_name),
	INDEX idx_queuey_queues_app (application, queue_name)
);
`

func (b *Backend) RegisterQueue(ctx context.Context, app, queue string, upd metadata.Update) error {
	existing, err := b.queueRow(ctx, app, queue)
	if err != nil {
		return err
	}

	if existing == nil {
		attrs := metadata.Attrs{
			QueueName: queue, Application: app,
			Partitions: 1, Type: "user", Consistency: "weak",
			Created: float64(time.Now().UnixNano()) / 1e9,
		}
		applyUpdate(&attrs, upd)
		if upd.Created != nil {
			attrs.Created = *upd.Created
		}
		_, err := b.db.ExecContext(ctx, `
			INSERT INTO queuey_queues
				(application, queue_name, partitions, type, consistency, principals, created)
			VALUES (?, ?, ?, ?, ?, ?, ?)`,
			app, queue, attrs.Partitions, attrs.Type, attrs.Consistency,
			encodePrincipals(attrs.Principals), attrs.Created)
		if err != nil {
			return fmt.Errorf("sqlcatalog: insert queue: %w", err)
		}
		return nil
	}

	applyUpdate(existing, upd)
	_, err = b.db.ExecContext(ctx, `
		UPDATE queuey_queues
		SET partitions=?, type=?, consistency=?, principals=?
		WHERE application=? AND queue_name=?`,
		existing.Partitions, existing.Type, existing.Consistency,
		encodePrincipals(existing.Principals), app, queue)
	if err != nil {
		return fmt.Errorf("sqlcatalog: update queue: %w", err)
	}
	return nil
}

func applyUpdate(attrs *metadata.Attrs, upd metadata.Update) {
	if upd.Partitions != nil {
		attrs.Partitions = *upd.Partitions
	}
	if upd.Type != nil {
		attrs.Type = *upd.Type
	}
	if upd.Consistency != nil {
		attrs.Consistency = *upd.Consistency
	}
	if upd.Principals != nil {
		attrs.Principals = *upd.Principals
	}
}

func (b *Backend) queueRow(ctx context.Context, app, queue string) (*metadata.Attrs, error) {
	var a metadata.Attrs
	var principals string
	row := b.db.QueryRowContext(ctx, `
		SELECT queue_name, application, partitions, type, consistency, principals, created
		FROM queuey_queues WHERE application=? AND queue_name=?`, app, queue)
	switch err := row.Scan(&a.QueueName, &a.Application, &a.Partitions, &a.Type, &a.Consistency, &principals, &a.Created); err {
	case nil:
		a.Principals = decodePrincipals(principals)
		return &a, nil
	case sql.ErrNoRows:
		return nil, nil
	default:
		return nil, fmt.Errorf("sqlcatalog: query queue: %w", err)
	}
}

func encodePrincipals(ps []string) string { return strings.Join(ps, ",") }

func decodePrincipals(s string) []string {
	if s == "" {
		return nil
	}
	return strings.Split(s, ",")
}

func (b *Backend) RemoveQueue(ctx context.Context, app, queue string) (bool, error) {
	res, err := b.db.ExecContext(ctx, `DELETE FROM queuey_queues WHERE application=? AND queue_name=?`, app, queue)
	if err != nil {
		return false, fmt.Errorf("sqlcatalog: delete queue: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("sqlcatalog: rows affected: %w", err)
	}
	return n > 0, nil
}

func (b *Backend) QueueList(ctx context.Context, app string, limit int, offset string) ([]string, error) {
	query := `SELECT queue_name FROM queuey_queues WHERE application=?`
	args := []interface{}{app}
	if offset != "" {
		query += " AND queue_name >= ?"
		args = append(args, offset)
	}
	query += " ORDER BY queue_name ASC"
	if limit > 0 {
		query += " LIMIT ?"
		args = append(args, limit)
	}

	rows, err := b.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("sqlcatalog: list queues: %w", err)
	}
	defer rows.Close()

	var names []string
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("sqlcatalog: scan queue name: %w", err)
		}
		names = append(names, name)
	}
	return names, rows.Err()
}

func (b *Backend) QueueInformation(ctx context.Context, app string, queues []string) ([]metadata.Attrs, error) {
	out := make([]metadata.Attrs, len(queues))
	for i, name := range queues {
		a, err := b.queueRow(ctx, app, name)
		if err != nil {
			return nil, err
		}
		if a != nil {
			out[i] = *a
		}
	}
	return out, nil
}

func (b *Backend) QueueCount(ctx context.Context, app string) (int, error) {
	var n int
	err := b.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM queuey_queues WHERE application=?`, app).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("sqlcatalog: count queues: %w", err)
	}
	return n, nil
}

var _ metadata.Backend = (*Backend)(nil)
