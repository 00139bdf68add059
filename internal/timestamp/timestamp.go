// Package timestamp parses HH:MM:SS.mmm clip markers.
package timestamp

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"time"
)

var (
	ErrInvalidTimestamp = errors.New("invalid timestamp")
	ErrInvalidRange     = errors.New("invalid range")
)

// Layout is the accepted marker layout, kept for error messages.
const Layout = "HH:MM:SS.mmm"

var pattern = regexp.MustCompile(`^(\d{2}):(\d{2}):(\d{2})\.(\d{3})$`)

// Mark is an offset into a source video with millisecond precision.
type Mark time.Duration

// Parse converts an HH:MM:SS.mmm string into a Mark.
func Parse(s string) (Mark, error) {
	m := pattern.FindStringSubmatch(s)
	if m == nil {
		return 0, fmt.Errorf("%w: %q does not match %s", ErrInvalidTimestamp, s, Layout)
	}

	// The pattern admits digits only, so Atoi cannot fail or go negative.
	h, _ := strconv.Atoi(m[1])
	mins, _ := strconv.Atoi(m[2])
	secs, _ := strconv.Atoi(m[3])
	ms, _ := strconv.Atoi(m[4])

	if mins > 59 {
		return 0, fmt.Errorf("%w: minutes out of range in %q", ErrInvalidTimestamp, s)
	}
	if secs > 59 {
		return 0, fmt.Errorf("%w: seconds out of range in %q", ErrInvalidTimestamp, s)
	}

	d := time.Duration(h)*time.Hour +
		time.Duration(mins)*time.Minute +
		time.Duration(secs)*time.Second +
		time.Duration(ms)*time.Millisecond
	return Mark(d), nil
}

func (m Mark) Duration() time.Duration { return time.Duration(m) }

func (m Mark) Seconds() float64 { return time.Duration(m).Seconds() }

func (m Mark) Milliseconds() int64 { return time.Duration(m).Milliseconds() }

// FromMilliseconds is the inverse of Milliseconds.
func FromMilliseconds(ms int64) Mark { return Mark(time.Duration(ms) * time.Millisecond) }

// String formats the mark as HH:MM:SS.mmm, truncating below a millisecond.
func (m Mark) String() string {
	ms := m.Milliseconds()
	if ms < 0 {
		ms = 0
	}
	return fmt.Sprintf("%02d:%02d:%02d.%03d",
		ms/3_600_000, ms/60_000%60, ms/1000%60, ms%1000)
}

func (m Mark) MarshalJSON() ([]byte, error) {
	return json.Marshal(m.String())
}

func (m *Mark) UnmarshalJSON(b []byte) error {
	var s string
	if err := json.Unmarshal(b, &s); err != nil {
		return err
	}
	parsed, err := Parse(s)
	if err != nil {
		return err
	}
	*m = parsed
	return nil
}

// Range is a validated [In, Out) span.
type Range struct {
	In  Mark
	Out Mark
}

// ParseRange parses both markers and requires out > in.
func ParseRange(in, out string) (Range, error) {
	start, err := Parse(in)
	if err != nil {
		return Range{}, fmt.Errorf("input: %w", err)
	}
	end, err := Parse(out)
	if err != nil {
		return Range{}, fmt.Errorf("output: %w", err)
	}
	if end <= start {
		return Range{}, fmt.Errorf("%w: output %s must be after input %s", ErrInvalidRange, end, start)
	}
	return Range{In: start, Out: end}, nil
}

func (r Range) Duration() time.Duration { return time.Duration(r.Out - r.In) }
