// Package validate implements the declarative schema checks every write
// endpoint runs before touching the queue engine (spec §4.E): integer
// coercion, enum membership, CSV parsing of principals and message-id
// batches, and the range/grammar constraints on queue and message
// attributes. Every failure returns an *apierr.Error of kind
// invalid-parameter (or a more specific kind where the table calls for
// one), so the HTTP layer never needs its own validation logic.
package validate

import (
	"regexp"
	"strconv"
	"strings"

	"github.com/queuey-io/queuey/internal/apierr"
	"github.com/queuey-io/queuey/internal/metadata"
	"github.com/queuey-io/queuey/internal/queue"
	"github.com/queuey-io/queuey/internal/storage"
	"github.com/queuey-io/queuey/internal/timeuuid"
	"github.com/shopspring/decimal"
)

const (
	// MinLimit and MaxLimit bound the `limit` query parameter for range reads.
	MinLimit = 1
	MaxLimit = 1000
	// DefaultLimit is used when a range read omits `limit`.
	DefaultLimit = 100

	// MaxQueueNameLen bounds queue_name (spec §3).
	MaxQueueNameLen = 50
	// MinPartitions and MaxPartitions bound the `partitions` attribute.
	MinPartitions = 1
	MaxPartitions = 200

	// MinTTLSeconds and MaxTTLSeconds bound the `ttl` attribute (2^25).
	MinTTLSeconds = 1
	MaxTTLSeconds = 1 << 25
	// DefaultTTLSeconds is used when a push omits `ttl` (3 days).
	DefaultTTLSeconds = 3 * 86400
)

var (
	queueNameRe   = regexp.MustCompile(`^[a-z0-9]+$`)
	principalRe   = regexp.MustCompile(`^(bid:\w+@\w+\.\w+|app:\w+)$`)
	messageIDRe   = regexp.MustCompile(`^(?:(\d{1,3}):)?([a-z0-9]{32})$`)
	decimalSinceRe = regexp.MustCompile(`^\d+(\.\d+)?$`)
)

// QueueName validates a caller-supplied queue_name. An empty string is
// valid (the engine generates a fresh one); only a non-empty, too-long,
// or malformed name is rejected.
func QueueName(name string) error {
	if name == "" {
		return nil
	}
	if len(name) > MaxQueueNameLen {
		return apierr.New(apierr.InvalidQueueName, "queue_name exceeds %d characters", MaxQueueNameLen)
	}
	if !queueNameRe.MatchString(name) {
		return apierr.Field("queue_name", "must match [a-z0-9]+")
	}
	return nil
}

// Partitions coerces and range-checks the `partitions` form field.
func Partitions(raw string) (int, error) {
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Field("partitions", "must be an integer")
	}
	if n < MinPartitions || n > MaxPartitions {
		return 0, apierr.Field("partitions", "must be between %d and %d", MinPartitions, MaxPartitions)
	}
	return n, nil
}

// Type validates the `type` attribute.
func Type(raw string) (string, error) {
	switch raw {
	case "user", "public":
		return raw, nil
	default:
		return "", apierr.Field("type", "must be \"user\" or \"public\"")
	}
}

// Consistency validates the `consistency` attribute.
func Consistency(raw string) (string, error) {
	switch raw {
	case "weak", "strong", "very_strong":
		return raw, nil
	default:
		return "", apierr.Field("consistency", "must be one of weak, strong, very_strong")
	}
}

// Principals parses a CSV of principal grants, each matching
// `app:<name>` or `bid:<local>@<domain>`.
func Principals(csv string) ([]string, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		p = strings.TrimSpace(p)
		if !principalRe.MatchString(p) {
			return nil, apierr.Field("principals", "invalid principal %q", p)
		}
		out = append(out, p)
	}
	return out, nil
}

// QueueUpdate assembles a metadata.Update from the subset of form fields
// that were actually supplied, validating each one present.
func QueueUpdate(partitions, typ, consistency, principals string) (metadata.Update, error) {
	var upd metadata.Update
	if partitions != "" {
		n, err := Partitions(partitions)
		if err != nil {
			return upd, err
		}
		upd.Partitions = &n
	}
	if typ != "" {
		t, err := Type(typ)
		if err != nil {
			return upd, err
		}
		upd.Type = &t
	}
	if consistency != "" {
		c, err := Consistency(consistency)
		if err != nil {
			return upd, err
		}
		upd.Consistency = &c
	}
	if principals != "" {
		ps, err := Principals(principals)
		if err != nil {
			return upd, err
		}
		upd.Principals = &ps
	}
	return upd, nil
}

// Limit coerces and range-checks the `limit` query parameter, defaulting
// to DefaultLimit when raw is empty.
func Limit(raw string) (int, error) {
	if raw == "" {
		return DefaultLimit, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Field("limit", "must be an integer")
	}
	if n < MinLimit || n > MaxLimit {
		return 0, apierr.Field("limit", "must be between %d and %d", MinLimit, MaxLimit)
	}
	return n, nil
}

// Order parses the `order` query parameter, defaulting to def (spec §9:
// "descending" for message reads, "ascending" for since-bounded scans).
func Order(raw string, def storage.Order) (storage.Order, error) {
	switch raw {
	case "":
		return def, nil
	case string(storage.Ascending):
		return storage.Ascending, nil
	case string(storage.Descending):
		return storage.Descending, nil
	default:
		return "", apierr.Field("order", "must be \"ascending\" or \"descending\"")
	}
}

// QueuePartitions parses a CSV `partitions` query parameter into a list
// of partition indices for GetMessages.
func QueuePartitions(csv string) ([]int, error) {
	if csv == "" {
		return nil, nil
	}
	parts := strings.Split(csv, ",")
	out := make([]int, 0, len(parts))
	for _, p := range parts {
		n, err := strconv.Atoi(strings.TrimSpace(p))
		if err != nil || n < 1 {
			return nil, apierr.Field("partitions", "invalid partition %q", p)
		}
		out = append(out, n)
	}
	return out, nil
}

// Since parses the `since` query parameter, which is either a 32-hex
// message id or a decimal-seconds literal; the two forms are
// disambiguated by regex match on the decimal shape (spec §6).
func Since(raw string) (*storage.At, error) {
	if raw == "" {
		return nil, nil
	}
	if decimalSinceRe.MatchString(raw) {
		d, err := decimal.NewFromString(raw)
		if err != nil {
			return nil, apierr.Field("since", "malformed decimal timestamp")
		}
		return &storage.At{Decimal: &d}, nil
	}
	id, err := timeuuid.Parse(raw)
	if err != nil {
		return nil, apierr.Field("since", "malformed message id")
	}
	return &storage.At{ID: &id}, nil
}

// TTL coerces and range-checks the `ttl` form/header field, defaulting
// to DefaultTTLSeconds when raw is empty.
func TTL(raw string) (int, error) {
	if raw == "" {
		return DefaultTTLSeconds, nil
	}
	n, err := strconv.Atoi(raw)
	if err != nil {
		return 0, apierr.Field("ttl", "must be an integer")
	}
	if n < MinTTLSeconds || n > MaxTTLSeconds {
		return 0, apierr.Field("ttl", "must be between %d and %d", MinTTLSeconds, MaxTTLSeconds)
	}
	return n, nil
}

// Body validates a single-message push body is non-empty.
func Body(body []byte) error {
	if len(body) == 0 {
		return apierr.Field("body", "must not be empty")
	}
	return nil
}

// MessageIDToken parses one `[<partition>:]<32-hex>` token (spec §4.D
// "Delete semantics"); a missing partition prefix defaults to 1.
func MessageIDToken(token string) (queue.MessageIDToken, error) {
	m := messageIDRe.FindStringSubmatch(token)
	if m == nil {
		return queue.MessageIDToken{}, apierr.New(apierr.InvalidMessageID, "malformed message id token %q", token)
	}
	partition := 1
	if m[1] != "" {
		n, err := strconv.Atoi(m[1])
		if err != nil {
			return queue.MessageIDToken{}, apierr.New(apierr.InvalidMessageID, "malformed partition prefix in %q", token)
		}
		partition = n
	}
	id, err := timeuuid.Parse(m[2])
	if err != nil {
		return queue.MessageIDToken{}, apierr.New(apierr.InvalidMessageID, "malformed message id in %q", token)
	}
	return queue.MessageIDToken{Partition: partition, ID: id}, nil
}

// MessageIDBatch parses a comma-joined list of message-id tokens.
func MessageIDBatch(csv string) ([]queue.MessageIDToken, error) {
	parts := strings.Split(csv, ",")
	out := make([]queue.MessageIDToken, 0, len(parts))
	for _, p := range parts {
		tok, err := MessageIDToken(strings.TrimSpace(p))
		if err != nil {
			return nil, err
		}
		out = append(out, tok)
	}
	return out, nil
}
