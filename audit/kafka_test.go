package audit

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/twmb/franz-go/pkg/kgo"
)

type fakeProducer struct {
	mu      sync.Mutex
	records []*kgo.Record
	fail    error
	flushed bool
	closed  bool
}

func (p *fakeProducer) Produce(_ context.Context, r *kgo.Record, promise func(*kgo.Record, error)) {
	p.mu.Lock()
	p.records = append(p.records, r)
	err := p.fail
	p.mu.Unlock()
	if promise != nil {
		promise(r, err)
	}
}

func (p *fakeProducer) Flush(context.Context) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.flushed = true
	return nil
}

func (p *fakeProducer) Close() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.closed = true
}

func (p *fakeProducer) count() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.records)
}

func TestKafkaSink_BatchFlush(t *testing.T) {
	p := &fakeProducer{}
	s := newKafkaSink(p, KafkaConfig{Topic: "predictions", BatchSize: 2, FlushInterval: time.Hour}, nil)
	defer s.Close(context.Background())

	ctx := context.Background()
	pred := 1234.5
	s.Record(ctx, Entry{RequestID: "r1", Record: map[string]any{"age": 30}, Prediction: &pred, Status: "success"})
	if p.count() != 0 {
		t.Fatalf("flushed before batch was full: %d", p.count())
	}
	s.Record(ctx, Entry{RequestID: "r2", Record: map[string]any{}, Status: "error", Code: "MISSING_FEATURE"})
	if p.count() != 2 {
		t.Fatalf("records = %d, want 2", p.count())
	}

	r := p.records[0]
	if r.Topic != "predictions" || string(r.Key) != "r1" {
		t.Errorf("record topic/key = %s/%s", r.Topic, r.Key)
	}
	var ev map[string]any
	if err := json.Unmarshal(r.Value, &ev); err != nil {
		t.Fatal(err)
	}
	if ev["prediction"] != 1234.5 || ev["status"] != "success" {
		t.Errorf("event = %v", ev)
	}
	if _, has := ev["code"]; has {
		t.Errorf("success event carries code: %v", ev)
	}
}

func TestKafkaSink_IntervalFlush(t *testing.T) {
	p := &fakeProducer{}
	s := newKafkaSink(p, KafkaConfig{Topic: "t", BatchSize: 100, FlushInterval: 10 * time.Millisecond}, nil)
	defer s.Close(context.Background())

	s.Record(context.Background(), Entry{RequestID: "r1", Status: "success"})
	deadline := time.Now().Add(2 * time.Second)
	for p.count() == 0 && time.Now().Before(deadline) {
		time.Sleep(5 * time.Millisecond)
	}
	if p.count() != 1 {
		t.Fatalf("records = %d, want 1", p.count())
	}
}

func TestKafkaSink_CloseFlushesAndDrops(t *testing.T) {
	p := &fakeProducer{}
	s := newKafkaSink(p, KafkaConfig{Topic: "t", BatchSize: 100, FlushInterval: time.Hour}, nil)

	s.Record(context.Background(), Entry{RequestID: "r1", Status: "success"})
	if err := s.Close(context.Background()); err != nil {
		t.Fatal(err)
	}
	if p.count() != 1 || !p.flushed || !p.closed {
		t.Fatalf("count=%d flushed=%v closed=%v", p.count(), p.flushed, p.closed)
	}

	// 关闭后的写入被丢弃
	s.Record(context.Background(), Entry{RequestID: "r2"})
	if p.count() != 1 {
		t.Fatalf("record after close was sent")
	}
	if err := s.Close(context.Background()); err != nil {
		t.Fatalf("second Close: %v", err)
	}
}

func TestKafkaSink_ProduceFailureCounted(t *testing.T) {
	p := &fakeProducer{fail: errors.New("broker down")}
	s := newKafkaSink(p, KafkaConfig{Topic: "t", BatchSize: 1, FlushInterval: time.Hour}, nil)
	defer s.Close(context.Background())

	s.Record(context.Background(), Entry{RequestID: "r1"})
	s.Record(context.Background(), Entry{RequestID: "r2"})
	if got := s.Dropped(); got != 2 {
		t.Fatalf("Dropped() = %d, want 2", got)
	}
}

func TestNewKafkaSink_Validation(t *testing.T) {
	tests := []struct {
		name string
		cfg  KafkaConfig
	}{
		{"no brokers", KafkaConfig{Topic: "t"}},
		{"no topic", KafkaConfig{Brokers: []string{"localhost:9092"}}},
		{"bad compression", KafkaConfig{Brokers: []string{"localhost:9092"}, Topic: "t", Compression: "brotli"}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewKafkaSink(tt.cfg, nil); err == nil {
				t.Fatal("expected error")
			}
		})
	}
}

type recorderFunc func(context.Context, Entry) error

func (f recorderFunc) Record(ctx context.Context, e Entry) error { return f(ctx, e) }

func TestMulti(t *testing.T) {
	var calls int
	ok := recorderFunc(func(context.Context, Entry) error { calls++; return nil })
	bad := recorderFunc(func(context.Context, Entry) error { calls++; return errors.New("disk full") })

	err := Multi{ok, bad, ok}.Record(context.Background(), Entry{})
	if calls != 3 {
		t.Fatalf("calls = %d, want 3", calls)
	}
	if err == nil || err.Error() != "disk full" {
		t.Fatalf("err = %v", err)
	}
}
