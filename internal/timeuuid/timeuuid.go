// Package timeuuid implements the time-ordered identifier scheme Queuey
// uses as both primary key and sort key for messages: a version-1 UUID
// whose leading 60 bits are a 100-nanosecond-tick count since the UUID
// epoch (1582-10-15), plus 62 bits of clock-sequence/node used either to
// disambiguate concurrent writers or to synthesize range-query bounds.
//
// The identifier itself is a github.com/google/uuid.UUID (a plain
// [16]byte); this package adds the timestamp packing/unpacking, the
// lowest/highest tie-break construction used for slice-query bounds, and
// a decimal-backed timestamp representation. Binary floats lose 100-ns
// precision above roughly two years' worth of seconds, so every
// timestamp that needs to round-trip exactly is a shopspring/decimal
// value, never a float64.
package timeuuid

import (
	"crypto/rand"
	"fmt"
	"math/big"
	"time"

	"github.com/google/uuid"
	"github.com/shopspring/decimal"
)

// gregorianOffset100ns is the number of 100-ns intervals between the
// Gregorian calendar epoch (1582-10-15 00:00:00 UTC) and the Unix epoch
// (1970-01-01 00:00:00 UTC).
const gregorianOffset100ns uint64 = 0x01b21dd213814000

// ticksPerSecond is the canonical 100-ns-tick divisor. Historical
// revisions of the source mixed a 1e9/100 factor with a 1e7 factor;
// 10^7 ticks-per-second is the one true conversion.
var ticksPerSecond = decimal.New(1, 7)

// ID is a time-ordered Queuey message identifier.
type ID = uuid.UUID

// Nil is the zero-value ID, used as a sentinel for "no id".
var Nil ID

// Now returns a fresh id for the current wall-clock time together with
// its exact decimal timestamp, using a randomized clock-sequence and
// node so concurrent callers never collide even on a timestamp tie.
func Now() (ID, decimal.Decimal, error) {
	id, err := FromDecimal(nowDecimal(), true, true)
	if err != nil {
		return Nil, decimal.Decimal{}, err
	}
	return id, TimestampOf(id), nil
}

// FromDecimal builds an id encoding t, a decimal count of seconds since
// the Unix epoch.
//
// If randomize is true, the clock-sequence and node bits are sampled
// uniformly at random (fresh messages, and "new message at an explicit
// decimal timestamp" updates). Otherwise the lowest or highest tie-break
// bytes are used, chosen so a signed byte-wise comparison of two ids
// sharing a timestamp orders them as a half-open range bound: the lowest
// id sorts before every other id at that instant, the highest sorts
// after every other id at that instant.
func FromDecimal(t decimal.Decimal, lowest bool, randomize bool) (ID, error) {
	ns100 := t.Mul(ticksPerSecond).Round(0).BigInt()
	timestamp := new(big.Int).Add(ns100, new(big.Int).SetUint64(gregorianOffset100ns))
	return fromTimestampBits(timestamp, lowest, randomize)
}

func fromTimestampBits(timestamp *big.Int, lowest bool, randomize bool) (ID, error) {
	mask32 := big.NewInt(0xffffffff)
	timeLow := uint32(new(big.Int).And(timestamp, mask32).Uint64())
	timeMid := uint16(new(big.Int).And(new(big.Int).Rsh(timestamp, 32), big.NewInt(0xffff)).Uint64())
	timeHi := uint16(new(big.Int).And(new(big.Int).Rsh(timestamp, 48), big.NewInt(0x0fff)).Uint64())
	timeHiVer := timeHi | (1 << 12) // version 1

	var id ID
	id[0] = byte(timeLow >> 24)
	id[1] = byte(timeLow >> 16)
	id[2] = byte(timeLow >> 8)
	id[3] = byte(timeLow)
	id[4] = byte(timeMid >> 8)
	id[5] = byte(timeMid)
	id[6] = byte(timeHiVer >> 8)
	id[7] = byte(timeHiVer)

	switch {
	case randomize:
		buf := make([]byte, 8)
		if _, err := rand.Read(buf); err != nil {
			return Nil, fmt.Errorf("timeuuid: generating random bits: %w", err)
		}
		// clock_seq_hi_and_reserved: top two bits are the RFC4122
		// variant (10), the rest random.
		id[8] = (buf[0] & 0x3f) | 0x80
		id[9] = buf[1]
		copy(id[10:16], buf[2:8])
	case lowest:
		// Lowest-value id sharing this timestamp: clock_seq_hi's
		// variant bits are fixed at 10, so 0x80 (signed -128) is the
		// smallest value it can take; clock_seq_low and node are
		// pinned to 0x80 as well, the minimum signed byte (-128).
		id[8] = 0x80
		id[9] = 0x80
		for i := 10; i < 16; i++ {
			id[i] = 0x80
		}
	default:
		// Highest-value id sharing this timestamp.
		id[8] = 0xbf
		id[9] = 0x7f
		for i := 10; i < 16; i++ {
			id[i] = 0x7f
		}
	}
	return id, nil
}

// Ticks returns the raw 100-ns-tick count encoded in id, counted from the
// Gregorian epoch.
func Ticks(id ID) uint64 {
	timeLow := uint64(id[0])<<24 | uint64(id[1])<<16 | uint64(id[2])<<8 | uint64(id[3])
	timeMid := uint64(id[4])<<8 | uint64(id[5])
	timeHiVer := uint64(id[6])<<8 | uint64(id[7])
	timeHi := timeHiVer & 0x0fff
	return timeLow | (timeMid << 32) | (timeHi << 48)
}

// TimestampOf returns the exact decimal seconds-since-epoch encoded in
// id. Division by 10^7 always terminates within 7 decimal places, so
// this is the exact inverse of FromDecimal for any tick-aligned input.
func TimestampOf(id ID) decimal.Decimal {
	ns100 := int64(Ticks(id) - gregorianOffset100ns)
	return decimal.New(ns100, 0).DivRound(ticksPerSecond, 7)
}

// Compare orders two ids the way a wide-column store does on a
// timestamp tie: first by timestamp, then by a signed byte-wise
// comparison of the remaining bytes. Returns -1, 0, or 1.
func Compare(a, b ID) int {
	ta, tb := Ticks(a), Ticks(b)
	if ta != tb {
		if ta < tb {
			return -1
		}
		return 1
	}
	for i := 8; i < 16; i++ {
		sa, sb := int8(a[i]), int8(b[i])
		if sa != sb {
			if sa < sb {
				return -1
			}
			return 1
		}
	}
	return 0
}

// Parse parses a 32-character lowercase hex id (no dashes), the wire
// format Queuey uses for message ids.
func Parse(hexStr string) (ID, error) {
	if len(hexStr) != 32 {
		return Nil, fmt.Errorf("timeuuid: id must be 32 hex characters, got %d", len(hexStr))
	}
	full := hexStr[0:8] + "-" + hexStr[8:12] + "-" + hexStr[12:16] + "-" + hexStr[16:20] + "-" + hexStr[20:32]
	return uuid.Parse(full)
}

// Hex renders id as a 32-character lowercase hex string with no dashes.
func Hex(id ID) string {
	s := id.String()
	out := make([]byte, 0, 32)
	for _, r := range s {
		if r != '-' {
			out = append(out, byte(r))
		}
	}
	return string(out)
}

func nowDecimal() decimal.Decimal {
	return decimal.New(time.Now().UnixNano(), -9)
}

// RandomPartition returns a uniformly distributed partition index in
// [1, count], used by the queue engine when a push doesn't specify a
// partition explicitly.
func RandomPartition(count int) (int, error) {
	if count < 1 {
		return 0, fmt.Errorf("timeuuid: partition count must be >= 1, got %d", count)
	}
	n, err := rand.Int(rand.Reader, big.NewInt(int64(count)))
	if err != nil {
		return 0, fmt.Errorf("timeuuid: generating random partition: %w", err)
	}
	return int(n.Int64()) + 1, nil
}
