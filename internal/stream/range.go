package stream

import (
	"errors"
	"math"
	"strconv"
	"strings"
)

type Kind int

const (
	NoRange Kind = iota
	SingleRange
	Unsatisfiable
)

func (k Kind) String() string {
	switch k {
	case SingleRange:
		return "single"
	case Unsatisfiable:
		return "unsatisfiable"
	default:
		return "none"
	}
}

// Window is the inclusive byte window selected by a Range header.
// Start and End are only meaningful for SingleRange.
type Window struct {
	Kind  Kind
	Start int64
	End   int64
	Total int64
}

func (w Window) Length() int64 {
	if w.Kind != SingleRange {
		return w.Total
	}
	return w.End - w.Start + 1
}

// ParseRange interprets a Range header against a resource of total bytes.
//
// Only a single "bytes" range is honored. Headers that are malformed, use
// another unit, or list several ranges are ignored (NoRange), so the caller
// serves the full content. A range starting at or past the end of the
// resource, or a zero-length suffix, is Unsatisfiable.
func ParseRange(header string, total int64) Window {
	full := Window{Kind: NoRange, Total: total}

	header = strings.TrimSpace(header)
	if header == "" {
		return full
	}
	unit, set, ok := strings.Cut(header, "=")
	if !ok || !strings.EqualFold(strings.TrimSpace(unit), "bytes") {
		return full
	}
	set = strings.TrimSpace(set)
	if set == "" || strings.Contains(set, ",") {
		return full
	}
	startStr, endStr, ok := strings.Cut(set, "-")
	if !ok {
		return full
	}
	startStr = strings.TrimSpace(startStr)
	endStr = strings.TrimSpace(endStr)

	if startStr == "" {
		n, ok := parseOffset(endStr)
		if !ok {
			return full
		}
		if n == 0 || total == 0 {
			return Window{Kind: Unsatisfiable, Total: total}
		}
		if n >= total {
			return Window{Kind: SingleRange, Start: 0, End: total - 1, Total: total}
		}
		return Window{Kind: SingleRange, Start: total - n, End: total - 1, Total: total}
	}

	start, ok := parseOffset(startStr)
	if !ok {
		return full
	}
	end := total - 1
	if endStr != "" {
		e, ok := parseOffset(endStr)
		if !ok || e < start {
			return full
		}
		end = e
	}
	if start >= total {
		return Window{Kind: Unsatisfiable, Total: total}
	}
	if end > total-1 {
		end = total - 1
	}
	return Window{Kind: SingleRange, Start: start, End: end, Total: total}
}

func parseOffset(s string) (int64, bool) {
	if s == "" {
		return 0, false
	}
	for i := 0; i < len(s); i++ {
		if s[i] < '0' || s[i] > '9' {
			return 0, false
		}
	}
	n, err := strconv.ParseInt(s, 10, 64)
	if errors.Is(err, strconv.ErrRange) {
		// too many digits for int64, but still a position past any real file
		return math.MaxInt64, true
	}
	if err != nil {
		return 0, false
	}
	return n, true
}
