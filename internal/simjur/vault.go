package simjur

import (
	"context"
	"io"
)

// Vault stores document payloads by key (file-{TOR|LPJ}-{proposalID}).
// Payloads are streamed so large scans never sit in memory twice.
type Vault interface {
	// Put stores size bytes read from r under key, replacing any previous blob.
	Put(ctx context.Context, key string, r io.Reader, size int64) error

	// Get writes the blob stored under key to w. A missing key is not an
	// error: found is false and nothing is written.
	Get(ctx context.Context, key string, w io.Writer) (found bool, err error)

	// Delete removes the blob under key. Deleting a missing key succeeds.
	Delete(ctx context.Context, key string) error

	// ValidateSetup verifies that the backend is reachable and configured.
	ValidateSetup(ctx context.Context) error
}
