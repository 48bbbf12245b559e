package realtime

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nopLogger struct{}

func (nopLogger) Debug(context.Context, string, ...any) {}
func (nopLogger) Info(context.Context, string, ...any)  {}
func (nopLogger) Warn(context.Context, string, ...any)  {}
func (nopLogger) Error(context.Context, string, ...any) {}
func (l nopLogger) With(...any) logging.Logger          { return l }

type fakeTransport struct {
	mu      sync.Mutex
	sent    []Message
	closed  int
	sendErr error
}

func (f *fakeTransport) Send(_ context.Context, msg Message) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.sendErr != nil {
		return f.sendErr
	}
	f.sent = append(f.sent, msg)
	return nil
}

func (f *fakeTransport) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed++
	return nil
}

func (f *fakeTransport) closeCount() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.closed
}

func (f *fakeTransport) messages() []Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]Message(nil), f.sent...)
}

var fixedNow = time.Date(2026, 3, 1, 12, 0, 0, 0, time.UTC)

func newTestHub(queue int) *Hub {
	return NewHub(queue, nopLogger{}).WithClock(func() time.Time { return fixedNow })
}

// drain empties the client's outbound queue without a write goroutine.
func drain(c *Client) []Message {
	var out []Message
	for {
		select {
		case m := <-c.send:
			out = append(out, m)
		default:
			return out
		}
	}
}

func eventsOf(msgs []Message) []string {
	names := make([]string, 0, len(msgs))
	for _, m := range msgs {
		names = append(names, m.Event)
	}
	return names
}

func decode(t *testing.T, m Message) map[string]any {
	t.Helper()
	var v map[string]any
	require.NoError(t, json.Unmarshal(m.Data, &v))
	return v
}

func TestRelay_ReachesOthersButNotSender(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("user-a", &fakeTransport{})
	b := h.register("user-b", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))
	drain(a)
	drain(b)

	payload := json.RawMessage(`{"projectId":"P","x":10,"y":20,"meta":{"color":"red"}}`)
	require.NoError(t, h.Relay(ctx, a, "cursor-move", payload))

	got := drain(b)
	require.Len(t, got, 1)
	assert.Equal(t, "cursor-moved", got[0].Event)

	data := decode(t, got[0])
	assert.Equal(t, "P", data["projectId"])
	assert.Equal(t, float64(10), data["x"])
	assert.Equal(t, map[string]any{"color": "red"}, data["meta"])
	assert.Equal(t, a.ID, data["senderId"])
	assert.Equal(t, "2026-03-01T12:00:00.000Z", data["timestamp"])

	assert.Empty(t, drain(a))

	require.NoError(t, h.Leave(ctx, b, "P"))
	require.NoError(t, h.Relay(ctx, a, "cursor-move", payload))
	assert.Empty(t, drain(b))
}

func TestRelay_EventMapping(t *testing.T) {
	h := newTestHub(32)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	b := h.register("b", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))
	drain(b)

	for in, out := range relayEvents {
		require.NoError(t, h.Relay(ctx, a, in, json.RawMessage(`{"projectId":"P"}`)), in)
		got := drain(b)
		require.Len(t, got, 1, in)
		assert.Equal(t, out, got[0].Event)
	}
}

func TestRelay_IsScopedToRoom(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	b := h.register("b", &fakeTransport{})
	c := h.register("c", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, a, "Q"))
	require.NoError(t, h.Join(ctx, b, "P"))
	require.NoError(t, h.Join(ctx, c, "Q"))
	drain(b)
	drain(c)

	require.NoError(t, h.Relay(ctx, a, "typing-start", json.RawMessage(`{"projectId":"Q","sceneId":"s1"}`)))

	assert.Empty(t, drain(b))
	assert.Equal(t, []string{"user-typing"}, eventsOf(drain(c)))
}

func TestRelay_Rejections(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()
	a := h.register("a", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))

	tests := []struct {
		name  string
		event string
		data  string
		want  error
	}{
		{"unknown event", "self-destruct", `{"projectId":"P"}`, ErrUnknownEvent},
		{"array payload", "cursor-move", `[1,2]`, ErrBadPayload},
		{"null payload", "cursor-move", `null`, ErrBadPayload},
		{"no project", "cursor-move", `{"x":1}`, ErrMissingProject},
		{"not a member", "cursor-move", `{"projectId":"other"}`, ErrNotInRoom},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := h.Relay(ctx, a, tt.event, json.RawMessage(tt.data))
			assert.ErrorIs(t, err, tt.want)
		})
	}
}

func TestJoin_NotifiesOthersOnly(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("user-a", &fakeTransport{})
	b := h.register("user-b", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	assert.Empty(t, drain(a), "first joiner has nobody to notify")

	require.NoError(t, h.Join(ctx, b, "P"))
	assert.Empty(t, drain(b))

	got := drain(a)
	require.Len(t, got, 1)
	assert.Equal(t, EventUserJoined, got[0].Event)

	var p Presence
	require.NoError(t, json.Unmarshal(got[0].Data, &p))
	assert.Equal(t, Presence{SocketID: b.ID, UserID: "user-b", ProjectID: "P", Timestamp: "2026-03-01T12:00:00.000Z"}, p)

	require.NoError(t, h.Join(ctx, b, "P"))
	assert.Empty(t, drain(a), "rejoining is a no-op")
}

func TestLeave_RemovesEmptyRoom(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	b := h.register("b", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))
	drain(a)

	require.NoError(t, h.Leave(ctx, b, "P"))
	assert.Equal(t, []string{EventUserLeft}, eventsOf(drain(a)))
	assert.Equal(t, []string{a.ID}, h.Members("P"))

	require.NoError(t, h.Leave(ctx, b, "P"))
	assert.Empty(t, drain(a), "leaving twice is a no-op")

	require.NoError(t, h.Leave(ctx, a, "P"))
	_, rooms := h.Stats()
	assert.Equal(t, 0, rooms)
}

func TestDisconnect_LeavesEveryRoom(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	ta := &fakeTransport{}
	a := h.register("a", ta)
	b := h.register("b", &fakeTransport{})
	c := h.register("c", &fakeTransport{})
	for _, p := range []string{"P", "Q"} {
		require.NoError(t, h.Join(ctx, a, p))
	}
	require.NoError(t, h.Join(ctx, b, "P"))
	require.NoError(t, h.Join(ctx, c, "Q"))
	drain(a)
	drain(b)
	drain(c)

	h.Disconnect(ctx, a)

	assert.Equal(t, []string{EventUserLeft}, eventsOf(drain(b)))
	assert.Equal(t, []string{EventUserLeft}, eventsOf(drain(c)))
	assert.Equal(t, []string{b.ID}, h.Members("P"))
	assert.Equal(t, []string{c.ID}, h.Members("Q"))
	require.Eventually(t, func() bool { return ta.closeCount() == 1 }, time.Second, 5*time.Millisecond)

	select {
	case <-a.Done():
	default:
		t.Fatal("client not marked done")
	}

	require.NoError(t, h.Relay(ctx, b, "cursor-move", json.RawMessage(`{"projectId":"P"}`)))
	assert.Empty(t, drain(a))

	h.Disconnect(ctx, a)
	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, 1, ta.closeCount(), "second disconnect is a no-op")
	assert.ErrorIs(t, h.Join(ctx, a, "P"), ErrUnknownClient)
}

func TestDispatch(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	b := h.register("b", &fakeTransport{})

	h.Dispatch(ctx, a, Message{Event: EventJoin, Data: json.RawMessage(`"P"`)})
	h.Dispatch(ctx, b, Message{Event: EventJoin, Data: json.RawMessage(`{"projectId":"P"}`)})
	assert.ElementsMatch(t, []string{a.ID, b.ID}, h.Members("P"))
	drain(a)

	h.Dispatch(ctx, b, Message{Event: "canvas-update", Data: json.RawMessage(`{"projectId":"P","zoom":1.5}`)})
	assert.Equal(t, []string{"canvas-updated"}, eventsOf(drain(a)))

	h.Dispatch(ctx, b, Message{Event: "bogus"})
	assert.Empty(t, drain(a))
	errs := drain(b)
	require.Len(t, errs, 1)
	assert.Equal(t, EventError, errs[0].Event)
	assert.Equal(t, "bogus", decode(t, errs[0])["event"])

	h.Dispatch(ctx, b, Message{Event: EventJoin, Data: json.RawMessage(`42`)})
	assert.Equal(t, []string{EventError}, eventsOf(drain(b)))

	h.Dispatch(ctx, b, Message{Event: EventLeave, Data: json.RawMessage(`"P"`)})
	assert.Equal(t, []string{EventUserLeft}, eventsOf(drain(a)))
}

func TestEmit_ReachesWholeRoom(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	b := h.register("b", &fakeTransport{})
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))
	drain(a)

	n, err := h.Emit(ctx, "P", "project-updated", map[string]any{"projectId": "P", "action": "deleted"})
	require.NoError(t, err)
	assert.Equal(t, 2, n)

	for _, c := range []*Client{a, b} {
		got := drain(c)
		require.Len(t, got, 1)
		assert.Equal(t, ServerSenderID, decode(t, got[0])["senderId"])
	}

	_, err = h.Emit(ctx, "P", "x", []int{1})
	assert.ErrorIs(t, err, ErrBadPayload)
	_, err = h.Emit(ctx, "", "x", map[string]any{})
	assert.ErrorIs(t, err, ErrMissingProject)
}

func TestSlowPeerIsDropped(t *testing.T) {
	h := newTestHub(2)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	slow := h.register("slow", &fakeTransport{})
	fast := h.register("fast", &fakeTransport{})
	for _, c := range []*Client{a, slow, fast} {
		require.NoError(t, h.Join(ctx, c, "P"))
		drain(a)
		drain(slow)
		drain(fast)
	}
	slow.send <- Message{Event: "filler"}
	slow.send <- Message{Event: "filler"}

	require.NoError(t, h.Relay(ctx, a, "cursor-move", json.RawMessage(`{"projectId":"P"}`)))

	assert.Contains(t, eventsOf(drain(fast)), "cursor-moved")
	assert.NotContains(t, h.Members("P"), slow.ID)
	assert.ElementsMatch(t, []string{a.ID, fast.ID}, h.Members("P"))
	select {
	case <-slow.Done():
	default:
		t.Fatal("slow peer was not disconnected")
	}
}

func TestAttach_WritePumpPreservesOrder(t *testing.T) {
	h := newTestHub(64)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	a := h.register("a", &fakeTransport{})
	tb := &fakeTransport{}
	b := h.Attach(ctx, "b", tb)
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))

	for i := 0; i < 20; i++ {
		data, _ := json.Marshal(map[string]any{"projectId": "P", "seq": i})
		require.NoError(t, h.Relay(ctx, a, "cursor-move", data))
	}

	require.Eventually(t, func() bool { return len(tb.messages()) == 20 }, time.Second, 5*time.Millisecond)
	for i, m := range tb.messages() {
		assert.Equal(t, float64(i), decode(t, m)["seq"])
	}
}

func TestAttach_SendFailureDisconnects(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	a := h.register("a", &fakeTransport{})
	broken := &fakeTransport{sendErr: errors.New("broken pipe")}
	b := h.Attach(ctx, "b", broken)
	require.NoError(t, h.Join(ctx, a, "P"))
	require.NoError(t, h.Join(ctx, b, "P"))

	require.NoError(t, h.Relay(ctx, a, "cursor-move", json.RawMessage(`{"projectId":"P"}`)))

	select {
	case <-b.Done():
	case <-time.After(time.Second):
		t.Fatal("broken connection was not dropped")
	}
	assert.Equal(t, []string{a.ID}, h.Members("P"))
}

func TestRun_DisconnectsWhenReaderEnds(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	peer := h.register("peer", &fakeTransport{})
	require.NoError(t, h.Join(ctx, peer, "P"))

	c := h.register("c", &fakeTransport{})
	inbound := []Message{
		{Event: EventJoin, Data: json.RawMessage(`"P"`)},
		{Event: "scene-edit-start", Data: json.RawMessage(`{"projectId":"P","sceneId":"s1"}`)},
	}
	next := func(context.Context) (Message, error) {
		if len(inbound) == 0 {
			return Message{}, io.EOF
		}
		m := inbound[0]
		inbound = inbound[1:]
		return m, nil
	}

	err := h.Run(ctx, c, next)
	assert.ErrorIs(t, err, io.EOF)

	assert.Equal(t, []string{EventUserJoined, "scene-edit-started", EventUserLeft}, eventsOf(drain(peer)))
	conns, _ := h.Stats()
	assert.Equal(t, 1, conns)
}

func TestClose_DisconnectsEveryone(t *testing.T) {
	h := newTestHub(8)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		c := h.register("u", &fakeTransport{})
		require.NoError(t, h.Join(ctx, c, "P"))
	}
	h.Close(ctx)

	conns, rooms := h.Stats()
	assert.Equal(t, 0, conns)
	assert.Equal(t, 0, rooms)
}

func TestConcurrentJoinRelayDisconnect(t *testing.T) {
	h := newTestHub(1024)
	ctx := context.Background()

	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c := h.register("u", &fakeTransport{})
			_ = h.Join(ctx, c, "P")
			_ = h.Relay(ctx, c, "cursor-move", json.RawMessage(`{"projectId":"P"}`))
			h.Disconnect(ctx, c)
		}()
	}
	wg.Wait()

	conns, rooms := h.Stats()
	assert.Equal(t, 0, conns)
	assert.Equal(t, 0, rooms)
}

// stuckTransport blocks in Send until release is closed, and its Close
// waits for the in-flight Send like the real transports do.
type stuckTransport struct {
	mu       sync.Mutex
	inSend   chan struct{}
	release  chan struct{}
	sendOnce sync.Once
}

func newStuckTransport() *stuckTransport {
	return &stuckTransport{inSend: make(chan struct{}), release: make(chan struct{})}
}

func (s *stuckTransport) Send(context.Context, Message) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.sendOnce.Do(func() { close(s.inSend) })
	<-s.release
	return nil
}

func (s *stuckTransport) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return nil
}

func TestSlowPeerCloseDoesNotStallSender(t *testing.T) {
	h := newTestHub(2)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	stuck := newStuckTransport()
	defer close(stuck.release)

	a := h.register("a", &fakeTransport{})
	slow := h.Attach(ctx, "slow", stuck)
	c := h.register("c", &fakeTransport{})
	for _, cl := range []*Client{a, slow, c} {
		require.NoError(t, h.Join(ctx, cl, "P"))
	}
	drain(a)
	drain(c)

	<-stuck.inSend

	done := make(chan struct{})
	go func() {
		defer close(done)
		for i := 0; i < 4; i++ {
			_ = h.Relay(ctx, a, "cursor-move", json.RawMessage(`{"projectId":"P"}`))
			drain(a)
			drain(c)
		}
	}()

	select {
	case <-done:
	case <-time.After(500 * time.Millisecond):
		t.Fatal("relay blocked on a slow peer's transport")
	}

	select {
	case <-slow.Done():
	default:
		t.Fatal("slow peer was not dropped")
	}
	assert.ElementsMatch(t, []string{a.ID, c.ID}, h.Members("P"))
}
