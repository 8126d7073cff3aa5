// Package zipcode expands numeric zip code ranges into grid query keys.
package zipcode

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/rotisserie/eris"
)

const (
	// MaxSpan bounds end - start for a single range.
	MaxSpan = 1000
	// Width is the zero-padded length of every generated code.
	Width = 5
)

var (
	ErrInvalidRange  = eris.New("zipcode: invalid range")
	ErrRangeTooLarge = eris.New("zipcode: range too large")
)

// GenerateRange returns every code from start to end inclusive, ascending
// and zero-padded to Width digits.
func GenerateRange(start, end string) ([]string, error) {
	lo, err := strconv.Atoi(strings.TrimSpace(start))
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidRange, "start %q is not a number", start)
	}
	hi, err := strconv.Atoi(strings.TrimSpace(end))
	if err != nil {
		return nil, eris.Wrapf(ErrInvalidRange, "end %q is not a number", end)
	}
	if lo < 0 || lo > hi {
		return nil, eris.Wrapf(ErrInvalidRange, "start %d must not exceed end %d", lo, hi)
	}
	if hi-lo > MaxSpan {
		return nil, eris.Wrapf(ErrRangeTooLarge, "span %d exceeds %d", hi-lo, MaxSpan)
	}

	codes := make([]string, 0, hi-lo+1)
	for n := lo; n <= hi; n++ {
		codes = append(codes, fmt.Sprintf("%0*d", Width, n))
	}
	return codes, nil
}
