// Package archive provides durable sinks for complete message bytes.
package archive

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"fmt"
	"time"
)

// Store accepts the full raw bytes of one message under a namespace and
// returns an opaque location key. The message must be durable before Store
// returns without error.
type Store interface {
	Store(ctx context.Context, raw []byte, namespace string) (string, error)
}

// WriteError reports a failed archive write. The engine never advances the
// watermark past the affected message; a recoverable failure lets the rest
// of the folder proceed, anything else aborts the folder.
type WriteError struct {
	Namespace   string
	Recoverable bool
	Err         error
}

func (e *WriteError) Error() string {
	return fmt.Sprintf("archive write to %q failed: %v", e.Namespace, e.Err)
}

func (e *WriteError) Unwrap() error { return e.Err }

// newKey generates a location key unique within a namespace.
func newKey() string {
	suffix := make([]byte, 4)
	_, _ = rand.Read(suffix)
	return fmt.Sprintf("%d.%s.eml", time.Now().UnixNano(), hex.EncodeToString(suffix))
}
