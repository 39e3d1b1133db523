package vault

import (
	"fmt"
	"io"
	"strings"
)

// validateKey rejects keys that could escape a directory or bucket prefix.
func validateKey(key string) error {
	if key == "" {
		return fmt.Errorf("empty vault key")
	}
	if strings.ContainsAny(key, `/\`) || strings.HasPrefix(key, ".") {
		return fmt.Errorf("invalid vault key: %q", key)
	}
	return nil
}

// countingReader tracks how many bytes were read, for size checks on
// backends that consume the stream themselves.
type countingReader struct {
	r io.Reader
	n int64
}

func (c *countingReader) Read(p []byte) (int, error) {
	n, err := c.r.Read(p)
	c.n += int64(n)
	return n, err
}
