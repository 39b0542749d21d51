package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Window is the inclusive day-of-year range the campaign accepts requests in.
type Window struct {
	Start int
	End   int
}

// ParseWindow parses the "<startDay>-<endDay>" configuration form, e.g.
// "119-130". A malformed value is a startup fault, not a request error.
func ParseWindow(raw string) (Window, error) {
	first, second, ok := strings.Cut(raw, "-")
	if !ok {
		return Window{}, fmt.Errorf("active days %q: want <startDay>-<endDay>", raw)
	}
	start, err := strconv.Atoi(first)
	if err != nil {
		return Window{}, fmt.Errorf("active days %q: start day: %w", raw, err)
	}
	end, err := strconv.Atoi(second)
	if err != nil {
		return Window{}, fmt.Errorf("active days %q: end day: %w", raw, err)
	}
	if start < 1 || end > 366 || start > end {
		return Window{}, fmt.Errorf("active days %q: range outside 1-366 or reversed", raw)
	}
	return Window{Start: start, End: end}, nil
}

// Contains reports whether day falls inside the window, both ends inclusive.
func (w Window) Contains(day int) bool {
	return day >= w.Start && day <= w.End
}
