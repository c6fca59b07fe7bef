package transcribe

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/yoockh/yooprep/internal/providers/stt"
	"github.com/yoockh/yooprep/internal/ratelimit"
)

type frame struct {
	msgType int
	data    []byte
	err     error
}

type fakeConn struct {
	mu      sync.Mutex
	reads   chan frame
	written []Event
	closed  int
}

func newFakeConn() *fakeConn {
	return &fakeConn{reads: make(chan frame, 16)}
}

func (c *fakeConn) ReadMessage() (int, []byte, error) {
	f, ok := <-c.reads
	if !ok {
		return 0, nil, io.EOF
	}
	return f.msgType, f.data, f.err
}

func (c *fakeConn) WriteMessage(messageType int, data []byte) error {
	var ev Event
	if err := json.Unmarshal(data, &ev); err != nil {
		return err
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	c.written = append(c.written, ev)
	return nil
}

func (c *fakeConn) SetReadDeadline(t time.Time) error { return nil }

func (c *fakeConn) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closed++
	return nil
}

func (c *fakeConn) events() []Event {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make([]Event, len(c.written))
	copy(out, c.written)
	return out
}

type fakeLiveStream struct {
	mu     sync.Mutex
	events chan *stt.LiveEvent
	sent   [][]byte
	closed bool
}

func (s *fakeLiveStream) Send(audio []byte) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed {
		return errors.New("stream closed")
	}
	s.sent = append(s.sent, audio)
	return nil
}

func (s *fakeLiveStream) Recv() (*stt.LiveEvent, error) {
	ev, ok := <-s.events
	if !ok {
		return nil, io.EOF
	}
	return ev, nil
}

func (s *fakeLiveStream) CloseSend() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.closed = true
	return nil
}

type fakeLiveProvider struct {
	stream  *fakeLiveStream
	openErr error
}

func (p *fakeLiveProvider) OpenStream(ctx context.Context, language string) (stt.LiveStream, error) {
	if p.openErr != nil {
		return nil, p.openErr
	}
	return p.stream, nil
}

func testCoordinator(live stt.LiveProvider, streamingCap int) (*Coordinator, *ratelimit.Fabric) {
	log := logrus.New()
	log.SetLevel(logrus.PanicLevel)
	fabric := ratelimit.New(map[string]int{ratelimit.ProviderStreaming: streamingCap}, 50*time.Millisecond, log)
	return NewCoordinator(fabric, live, nil, time.Second, log), fabric
}

func eventTypes(events []Event) []string {
	out := make([]string, len(events))
	for i, ev := range events {
		out[i] = ev.Type
	}
	return out
}

func TestStreamTranslatesEvents(t *testing.T) {
	stream := &fakeLiveStream{events: make(chan *stt.LiveEvent, 8)}
	coord, fabric := testCoordinator(&fakeLiveProvider{stream: stream}, 2)

	stream.events <- &stt.LiveEvent{Type: stt.LiveSpeechStarted}
	stream.events <- &stt.LiveEvent{Type: stt.LiveTranscript, Text: "hello", IsFinal: false}
	stream.events <- &stt.LiveEvent{Type: stt.LiveTranscript, Text: "hello world", IsFinal: true, Confidence: 0.92}
	stream.events <- &stt.LiveEvent{Type: stt.LiveUtteranceEnd}
	close(stream.events)

	conn := newFakeConn()
	conn.reads <- frame{msgType: websocket.BinaryMessage, data: []byte{1, 2, 3}}
	close(conn.reads)

	coord.Handle(context.Background(), conn, "sess-1", "")

	got := conn.events()
	require.NotEmpty(t, got)
	assert.Equal(t, "connected", got[0].Type)
	assert.Subset(t, eventTypes(got), []string{"speech_started", "transcript", "utterance_end"})

	var finals []Event
	for _, ev := range got {
		if ev.Type == "transcript" && ev.IsFinal {
			finals = append(finals, ev)
		}
	}
	require.Len(t, finals, 1)
	assert.Equal(t, "hello world", finals[0].Text)
	assert.InDelta(t, 0.92, finals[0].Confidence, 0.001)

	// slot returned after teardown
	usage := fabric.Usage()[ratelimit.ProviderStreaming]
	assert.Equal(t, 0, usage.Active)
	assert.Equal(t, 2, usage.Available)
}

func TestSlotReleasedOnceOnClientDrop(t *testing.T) {
	stream := &fakeLiveStream{events: make(chan *stt.LiveEvent)}
	coord, fabric := testCoordinator(&fakeLiveProvider{stream: stream}, 1)

	conn := newFakeConn()
	done := make(chan struct{})
	go func() {
		coord.Handle(context.Background(), conn, "", "")
		close(done)
	}()

	// abrupt client drop; provider stream then ends too
	close(conn.reads)
	close(stream.events)
	<-done

	usage := fabric.Usage()[ratelimit.ProviderStreaming]
	assert.Equal(t, 0, usage.Active)
	assert.Equal(t, 1, usage.Available)

	// cap 1: the freed slot is immediately acquirable
	release, err := fabric.Acquire(context.Background(), ratelimit.ProviderStreaming)
	require.NoError(t, err)
	release()
}

func TestSlotReleasedOnProviderError(t *testing.T) {
	coord, fabric := testCoordinator(&fakeLiveProvider{openErr: errors.New("provider down")}, 1)

	conn := newFakeConn()
	coord.Handle(context.Background(), conn, "", "")

	got := conn.events()
	require.NotEmpty(t, got)
	assert.Equal(t, "error", got[len(got)-1].Type)

	usage := fabric.Usage()[ratelimit.ProviderStreaming]
	assert.Equal(t, 1, usage.Available)
}

func TestCapacityExhaustedEmitsErrorAndCloses(t *testing.T) {
	stream := &fakeLiveStream{events: make(chan *stt.LiveEvent)}
	coord, fabric := testCoordinator(&fakeLiveProvider{stream: stream}, 2)

	// occupy both slots
	r1, err := fabric.Acquire(context.Background(), ratelimit.ProviderStreaming)
	require.NoError(t, err)
	r2, err := fabric.Acquire(context.Background(), ratelimit.ProviderStreaming)
	require.NoError(t, err)

	conn := newFakeConn()
	coord.Handle(context.Background(), conn, "", "")

	got := conn.events()
	require.Len(t, got, 1)
	assert.Equal(t, "error", got[0].Type)
	assert.EqualValues(t, "CAPACITY_EXHAUSTED", got[0].Code)
	assert.Equal(t, 1, conn.closed)

	// freeing a slot lets the next connection through
	r1()
	stream2 := &fakeLiveStream{events: make(chan *stt.LiveEvent, 1)}
	coord2 := NewCoordinator(fabric, &fakeLiveProvider{stream: stream2}, nil, time.Second, logrus.New())
	close(stream2.events)

	conn2 := newFakeConn()
	close(conn2.reads)
	coord2.Handle(context.Background(), conn2, "", "")

	types := eventTypes(conn2.events())
	assert.Contains(t, types, "connected")

	r2()
}
