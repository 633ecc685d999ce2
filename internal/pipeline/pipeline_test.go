package pipeline_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/septivank/raven-tracer/internal/pipeline"
	"github.com/septivank/raven-tracer/internal/raven"
	"github.com/septivank/raven-tracer/internal/serial"
	"go.uber.org/zap"
)

func demandStanza(value int) string {
	return fmt.Sprintf("<InstantaneousDemand>"+
		"<DeviceMacId>0xd8d5001122334455</DeviceMacId>"+
		"<MeterMacId>0x000013AABBCCDDEEFF</MeterMacId>"+
		"<TimeStamp>0x3c</TimeStamp>"+
		"<Demand>0x%x</Demand>"+
		"</InstantaneousDemand>", value)
}

// fakeSource hands out its stanzas, then either fails with err or times out forever
type fakeSource struct {
	mu        sync.Mutex
	stanzas   []string
	err       error
	exhausted chan struct{}
	once      sync.Once
}

func newFakeSource(err error, stanzas ...string) *fakeSource {
	return &fakeSource{stanzas: stanzas, err: err, exhausted: make(chan struct{})}
}

func (f *fakeSource) Read() (string, error) {
	f.mu.Lock()
	if len(f.stanzas) > 0 {
		s := f.stanzas[0]
		f.stanzas = f.stanzas[1:]
		f.mu.Unlock()
		return s, nil
	}
	f.mu.Unlock()

	f.once.Do(func() { close(f.exhausted) })
	if f.err != nil {
		return "", f.err
	}
	time.Sleep(time.Millisecond)
	return "", serial.ErrReadTimeout
}

type recordingHandler struct {
	mu      sync.Mutex
	gate    chan struct{}
	handled []raven.Reading
	closes  int
	failOn  int
}

func (h *recordingHandler) Handle(_ context.Context, r raven.Reading) error {
	if h.gate != nil {
		<-h.gate
	}
	h.mu.Lock()
	defer h.mu.Unlock()
	h.handled = append(h.handled, r)
	if h.failOn > 0 && len(h.handled) == h.failOn {
		return errors.New("database is locked")
	}
	return nil
}

func (h *recordingHandler) Close(context.Context) error {
	h.mu.Lock()
	defer h.mu.Unlock()
	h.closes++
	return nil
}

func (h *recordingHandler) snapshot() ([]raven.Reading, int) {
	h.mu.Lock()
	defer h.mu.Unlock()
	return append([]raven.Reading(nil), h.handled...), h.closes
}

type recordingSink struct {
	mu    sync.Mutex
	kinds []raven.Kind
}

func (s *recordingSink) Observe(_ context.Context, r raven.Reading) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.kinds = append(s.kinds, r.Kind())
	return errors.New("sink unavailable")
}

func waitFor(t *testing.T, run *pipeline.Run) error {
	t.Helper()
	select {
	case <-run.Done():
	case <-time.After(5 * time.Second):
		t.Fatal("pipeline did not finish")
	}
	return run.Wait()
}

func TestPipeline_CancelDrainsBufferedReadingsBeforeStop(t *testing.T) {
	const n = 5
	stanzas := make([]string, n)
	for i := range stanzas {
		stanzas[i] = demandStanza(100 + i)
	}
	source := newFakeSource(nil, stanzas...)
	handler := &recordingHandler{gate: make(chan struct{})}

	p := pipeline.New(source, raven.NewDecoder(zap.NewNop()), handler,
		pipeline.Config{QueueSize: 16, ConsumerTimeout: time.Minute}, zap.NewNop())
	run := p.Start(context.Background())

	// every stanza is queued while the consumer is held up on the first one
	<-source.exhausted
	run.Cancel()
	close(handler.gate)

	if err := waitFor(t, run); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	handled, closes := handler.snapshot()
	if len(handled) != n {
		t.Fatalf("Expected %d readings before stop, got %d", n, len(handled))
	}
	for i, r := range handled {
		demand, ok := r.(raven.InstantaneousDemand)
		if !ok {
			t.Fatalf("Expected InstantaneousDemand at %d, got %T", i, r)
		}
		if demand.Demand != uint64(100+i) {
			t.Errorf("Expected FIFO order, reading %d has demand %d", i, demand.Demand)
		}
	}
	if closes != 1 {
		t.Errorf("Expected exactly 1 close, got %d", closes)
	}
}

func TestPipeline_TransportErrorFallsBackToTimeout(t *testing.T) {
	source := newFakeSource(io.ErrUnexpectedEOF, demandStanza(1), demandStanza(2))
	handler := &recordingHandler{}

	p := pipeline.New(source, raven.NewDecoder(zap.NewNop()), handler,
		pipeline.Config{QueueSize: 4, ConsumerTimeout: 50 * time.Millisecond}, zap.NewNop())
	run := p.Start(context.Background())

	err := waitFor(t, run)
	if !errors.Is(err, io.ErrUnexpectedEOF) {
		t.Fatalf("Expected transport error from Wait, got %v", err)
	}
	if run.Consumer.Wait() != nil {
		t.Errorf("Expected consumer to finish cleanly, got %v", run.Consumer.Wait())
	}

	handled, closes := handler.snapshot()
	if len(handled) != 2 {
		t.Errorf("Expected 2 readings, got %d", len(handled))
	}
	if closes != 1 {
		t.Errorf("Expected exactly 1 close, got %d", closes)
	}
}

func TestPipeline_QuietPortEndsOnTimeout(t *testing.T) {
	handler := &recordingHandler{}

	p := pipeline.New(newFakeSource(nil), raven.NewDecoder(zap.NewNop()), handler,
		pipeline.Config{QueueSize: 1, ConsumerTimeout: 30 * time.Millisecond}, zap.NewNop())
	run := p.Start(context.Background())

	if err := waitFor(t, run); err != nil {
		t.Fatalf("Unexpected error: %v", err)
	}

	_, closes := handler.snapshot()
	if closes != 1 {
		t.Errorf("Expected exactly 1 close, got %d", closes)
	}
}

func TestPipeline_HandlerFailureStopsConsumer(t *testing.T) {
	stanzas := []string{demandStanza(1), demandStanza(2), demandStanza(3)}
	handler := &recordingHandler{failOn: 2}

	p := pipeline.New(newFakeSource(nil, stanzas...), raven.NewDecoder(zap.NewNop()), handler,
		pipeline.Config{QueueSize: 1, ConsumerTimeout: time.Minute}, zap.NewNop())
	run := p.Start(context.Background())

	err := waitFor(t, run)
	if err == nil {
		t.Fatal("Expected consumer failure to surface from Wait")
	}
	if run.Consumer.Wait() == nil {
		t.Error("Expected the consumer task to carry the error")
	}
	if run.Producer.Wait() != nil {
		t.Errorf("Expected producer to exit cleanly, got %v", run.Producer.Wait())
	}

	handled, closes := handler.snapshot()
	if len(handled) != 2 {
		t.Errorf("Expected handling to stop at the failing reading, got %d", len(handled))
	}
	if closes != 1 {
		t.Errorf("Expected exactly 1 close, got %d", closes)
	}
}

func TestPipeline_SinksSeeAcceptedReadings(t *testing.T) {
	source := newFakeSource(nil, "garbage<", demandStanza(7), "<Unknown></Unknown>")
	handler := &recordingHandler{}
	sink := &recordingSink{}

	ctx, cancel := context.WithCancel(context.Background())
	p := pipeline.New(source, raven.NewDecoder(zap.NewNop()), handler,
		pipeline.Config{QueueSize: 8, ConsumerTimeout: time.Minute}, zap.NewNop(), sink)
	run := p.Start(ctx)

	<-source.exhausted
	cancel()

	if err := waitFor(t, run); err != nil {
		t.Fatalf("Sink errors must not fail the run: %v", err)
	}

	handled, _ := handler.snapshot()
	if len(handled) != 3 {
		t.Errorf("Expected skips to reach the handler too, got %d readings", len(handled))
	}

	sink.mu.Lock()
	defer sink.mu.Unlock()
	if len(sink.kinds) != 1 || sink.kinds[0] != raven.KindInstantaneousDemand {
		t.Errorf("Expected sink to see only the demand reading, got %v", sink.kinds)
	}
}
