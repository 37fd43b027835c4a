package events

import (
	"context"
	"errors"
	"strings"
	"testing"

	k "github.com/segmentio/kafka-go"
)

func TestNewKafkaPublisher(t *testing.T) {
	p := NewKafkaPublisher([]string{"k1:9092", "k2:9092"}, "messages.created", nil)
	w, ok := p.w.(*k.Writer)
	if !ok {
		t.Fatalf("writer = %T", p.w)
	}

	if w.Topic != "messages.created" {
		t.Errorf("topic = %q", w.Topic)
	}
	if !w.Async {
		t.Error("writer must be async so sends never wait on the broker")
	}
	if _, ok := w.Balancer.(*k.Hash); !ok {
		t.Errorf("balancer = %T, want key hashing", w.Balancer)
	}
	if got := strings.Split(w.Addr.String(), ","); len(got) != 2 || got[0] != "k1:9092" || got[1] != "k2:9092" {
		t.Errorf("addr = %q", w.Addr.String())
	}
	for _, n := range strings.Split(w.Addr.Network(), ",") {
		if n != "tcp" {
			t.Errorf("network = %q", w.Addr.Network())
		}
	}
}

func TestCompletionReportsErrors(t *testing.T) {
	var got []error
	p := NewKafkaPublisher([]string{"k1:9092"}, "t", func(err error) { got = append(got, err) })
	w := p.w.(*k.Writer)

	w.Completion(nil, nil)
	w.Completion([]k.Message{{}}, errors.New("leader not available"))
	if len(got) != 1 {
		t.Errorf("onError called %d times, want 1", len(got))
	}

	// A nil callback is allowed.
	NewKafkaPublisher([]string{"k1:9092"}, "t", nil).w.(*k.Writer).Completion(nil, errors.New("x"))
}

type stubWriter struct {
	msgs   []k.Message
	err    error
	closed bool
}

func (s *stubWriter) WriteMessages(_ context.Context, msgs ...k.Message) error {
	if s.err != nil {
		return s.err
	}
	s.msgs = append(s.msgs, msgs...)
	return nil
}

func (s *stubWriter) Close() error {
	s.closed = true
	return nil
}

func TestPublishKeysByConversation(t *testing.T) {
	w := &stubWriter{}
	p := &KafkaPublisher{w: w}

	if err := p.Publish(context.Background(), "3:7", []byte(`{"id":1}`)); err != nil {
		t.Fatal(err)
	}
	if len(w.msgs) != 1 {
		t.Fatalf("wrote %d messages", len(w.msgs))
	}
	m := w.msgs[0]
	if string(m.Key) != "3:7" || string(m.Value) != `{"id":1}` {
		t.Errorf("message = key %q value %q", m.Key, m.Value)
	}
	if m.Time.IsZero() {
		t.Error("message time not set")
	}

	w.err = errors.New("broker down")
	if err := p.Publish(context.Background(), "3:7", nil); !errors.Is(err, w.err) {
		t.Errorf("err = %v, want writer error", err)
	}

	if err := p.Close(); err != nil || !w.closed {
		t.Errorf("Close = %v, closed = %v", err, w.closed)
	}
}
