package filecache

import (
	"encoding/json"
	"fmt"
	"time"
)

// Layout is the on-disk datetime format. The trailing Z is literal;
// records never use a +00:00 or UTC suffix.
const Layout = "2006-01-02T15:04:05Z"

// Time marshals as UTC with the literal-Z layout. Reads also accept
// RFC 3339 timestamps written by other tools.
type Time struct {
	time.Time
}

// NewTime converts a time.Time to a cache timestamp.
func NewTime(t time.Time) Time {
	return Time{t.UTC().Truncate(time.Second)}
}

func (t Time) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.UTC().Format(Layout))
}

func (t *Time) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}
	parsed, err := time.Parse(Layout, s)
	if err != nil {
		parsed, err = time.Parse(time.RFC3339, s)
		if err != nil {
			return fmt.Errorf("parsing timestamp %q: %w", s, err)
		}
	}
	t.Time = parsed.UTC()
	return nil
}
