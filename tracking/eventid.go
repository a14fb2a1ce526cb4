package tracking

import (
	"crypto/rand"
	"strconv"
	"strings"
	"time"
)

const (
	idAlphabet   = "0123456789abcdefghijklmnopqrstuvwxyz"
	idRandomSize = 10
	// Bytes at or above this are rejected so every symbol is equally likely.
	idByteLimit = 256 - 256%len(idAlphabet)
)

// NewEventID returns <prefix>_<10 random base36 chars>_<unix millis>. The
// prefix makes ids recognisable, the timestamp makes them sortable.
func NewEventID(prefix string) string {
	return newEventID(prefix, time.Now())
}

func newEventID(prefix string, now time.Time) string {
	var b strings.Builder
	b.Grow(len(prefix) + idRandomSize + 16)
	b.WriteString(prefix)
	b.WriteByte('_')
	b.WriteString(randomSymbols(idRandomSize, rand.Read))
	b.WriteByte('_')
	b.WriteString(strconv.FormatInt(now.UnixMilli(), 10))
	return b.String()
}

// randomSymbols draws n base36 symbols by rejection sampling over random
// bytes from read.
func randomSymbols(n int, read func([]byte) (int, error)) string {
	out := make([]byte, 0, n)
	buf := make([]byte, n+n/2)
	for len(out) < n {
		if _, err := read(buf); err != nil {
			panic("tracking: crypto/rand unavailable: " + err.Error())
		}
		for _, c := range buf {
			if int(c) >= idByteLimit {
				continue
			}
			out = append(out, idAlphabet[int(c)%len(idAlphabet)])
			if len(out) == n {
				break
			}
		}
	}
	return string(out)
}

// ParsedEventID is an event id split into its parts.
type ParsedEventID struct {
	Prefix string
	Random string
	Time   time.Time
}

// ParseEventID checks the shape of an id minted by NewEventID (or by the
// page's inline pixel snippet, which uses the same format).
func ParseEventID(id string) (ParsedEventID, bool) {
	parts := strings.Split(id, "_")
	if len(parts) != 3 || parts[0] == "" || len(parts[1]) != idRandomSize {
		return ParsedEventID{}, false
	}
	for _, r := range parts[1] {
		if !strings.ContainsRune(idAlphabet, r) {
			return ParsedEventID{}, false
		}
	}
	ms, err := strconv.ParseInt(parts[2], 10, 64)
	if err != nil || ms <= 0 {
		return ParsedEventID{}, false
	}
	return ParsedEventID{Prefix: parts[0], Random: parts[1], Time: time.UnixMilli(ms)}, true
}
