package httpx

import (
	"errors"
	"fmt"
	"io"
)

var ErrTooLarge = errors.New("payload too large")

// ReadAllLimit reads at most limit bytes and fails with ErrTooLarge when
// the body is larger.
func ReadAllLimit(r io.Reader, limit int64) ([]byte, error) {
	b, err := io.ReadAll(io.LimitReader(r, limit+1))
	if err != nil {
		return nil, err
	}
	if int64(len(b)) > limit {
		return nil, fmt.Errorf("%w: over %d bytes", ErrTooLarge, limit)
	}
	return b, nil
}
