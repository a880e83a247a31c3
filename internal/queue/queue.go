// Package queue holds the wire codec and settlement helpers shared by the job
// queue backends in its subpackages.
package queue

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/propagation"

	"github.com/JakeFAU/class-reports/internal/report"
)

// ErrClosed is returned by Enqueue and Dequeue after Close.
var ErrClosed = errors.New("queue closed")

// Envelope is the JSON body of a queued job. Trace is only populated by
// backends without message attributes.
type Envelope struct {
	report.JobMessage
	Trace map[string]string `json:"traceContext,omitempty"`
}

// Encode marshals msg into its wire form.
func Encode(msg report.JobMessage, trace map[string]string) ([]byte, error) {
	if err := Validate(msg); err != nil {
		return nil, err
	}
	data, err := json.Marshal(Envelope{JobMessage: msg, Trace: trace})
	if err != nil {
		return nil, fmt.Errorf("marshal job message: %w", err)
	}
	return data, nil
}

// Decode parses a wire payload and rejects messages missing identifiers.
func Decode(data []byte) (Envelope, error) {
	var env Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return Envelope{}, fmt.Errorf("unmarshal job message: %w", err)
	}
	if err := Validate(env.JobMessage); err != nil {
		return Envelope{}, err
	}
	return env, nil
}

// Validate checks that msg identifies a request.
func Validate(msg report.JobMessage) error {
	if strings.TrimSpace(msg.ClassID) == "" || strings.TrimSpace(msg.RequestID) == "" {
		return fmt.Errorf("job message requires classId and requestId")
	}
	return nil
}

// InjectTrace captures the trace context of ctx as a string map.
func InjectTrace(ctx context.Context) map[string]string {
	carrier := propagation.MapCarrier{}
	otel.GetTextMapPropagator().Inject(ctx, carrier)
	if len(carrier) == 0 {
		return nil
	}
	return carrier
}

// Settlement builds Ack and Nack funcs of which only the first call has any effect.
func Settlement(ack, nack func()) (func(), func()) {
	var once sync.Once
	return func() { once.Do(ack) }, func() { once.Do(nack) }
}
