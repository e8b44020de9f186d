package session

import (
	"context"
	"encoding/json"
)

func jsonUnmarshal(raw []byte, v any) error {
	return json.Unmarshal(raw, v)
}

// backgroundContext is the root context each session's capture/decode
// worker goroutine runs under; the Controller's Close stops them via
// their own pipeline.Close() rather than context cancellation, so a
// plain Background is sufficient here.
func backgroundContext() context.Context {
	return context.Background()
}
