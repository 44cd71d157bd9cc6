package publisher

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sync"

	"github.com/de-tools/egress-meter/pkg/models/domain"
)

type writerSink struct {
	mu  sync.Mutex
	enc *json.Encoder
}

// NewWriterSink emits one JSON event per line. It backs the stdout
// sink used for local runs and dry-run inspection.
func NewWriterSink(w io.Writer) Sink {
	return &writerSink{enc: json.NewEncoder(w)}
}

func (s *writerSink) Publish(_ context.Context, event domain.BillingEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err := s.enc.Encode(event); err != nil {
		return fmt.Errorf("failed to write billing event %s: %w", event.ID, err)
	}
	return nil
}

func (s *writerSink) Close() error {
	return nil
}
