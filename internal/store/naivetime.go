package store

import (
	"fmt"
	"strings"
	"time"
)

// naiveLayout is the ISO-8601 layout used for wire and on-disk timestamps.
// Every instant in this system is UTC; the layout deliberately carries no
// zone offset, matching the "naive-UTC" convention described by the
// scheduling domain.
const naiveLayout = "2006-01-02T15:04:05.999999"

// NaiveTime is a UTC instant serialized without a zone suffix. The zero
// value marshals to null and is treated as "not set" by callers that model
// optional timestamps as pointers instead.
type NaiveTime struct {
	time.Time
}

// NewNaiveTime wraps t, normalizing it to UTC.
func NewNaiveTime(t time.Time) NaiveTime {
	return NaiveTime{t.UTC()}
}

// MarshalJSON implements json.Marshaler.
func (t NaiveTime) MarshalJSON() ([]byte, error) {
	if t.IsZero() {
		return []byte("null"), nil
	}
	return []byte(`"` + t.UTC().Format(naiveLayout) + `"`), nil
}

// UnmarshalJSON implements json.Unmarshaler. It accepts both naive
// timestamps and RFC3339 timestamps carrying an explicit zone, converting
// the latter to UTC, so upstream services that forget to strip their zone
// offset do not break decoding.
func (t *NaiveTime) UnmarshalJSON(data []byte) error {
	s := strings.Trim(string(data), `"`)
	if s == "null" || s == "" {
		t.Time = time.Time{}
		return nil
	}
	if parsed, err := time.Parse(naiveLayout, s); err == nil {
		t.Time = parsed.UTC()
		return nil
	}
	parsed, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return fmt.Errorf("parsing naive timestamp %q: %w", s, err)
	}
	t.Time = parsed.UTC()
	return nil
}
