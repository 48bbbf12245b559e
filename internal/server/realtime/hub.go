// Package realtime relays collaboration events between connections that
// joined the same project room. Delivery is best effort and at most once:
// nothing is persisted, and a peer that cannot keep up is dropped.
package realtime

import (
	"context"
	"encoding/json"
	"sort"
	"sync"
	"time"

	"github.com/dmitrijs2005/plotroom/internal/logging"
	"github.com/google/uuid"
)

// Transport is the write side of one connection. Send is only ever called
// from the connection's own write goroutine.
type Transport interface {
	Send(ctx context.Context, msg Message) error
	Close() error
}

// Client is one attached connection.
type Client struct {
	ID     string
	UserID string

	transport Transport
	send      chan Message
	done      chan struct{}
	closeOnce sync.Once

	// rooms is guarded by Hub.mu.
	rooms map[string]struct{}
}

// Done is closed once the client has been disconnected.
func (c *Client) Done() <-chan struct{} {
	return c.done
}

// close marks c done and closes its transport in the background. A
// transport may block in Close until its in-flight Send returns, and the
// caller is often another client's broadcast.
func (c *Client) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		go func() { _ = c.transport.Close() }()
	})
}

type Hub struct {
	mu      sync.RWMutex
	clients map[string]*Client
	rooms   map[string]map[string]*Client

	queueSize int
	now       func() time.Time
	logger    logging.Logger
}

func NewHub(queueSize int, logger logging.Logger) *Hub {
	return &Hub{
		clients:   make(map[string]*Client),
		rooms:     make(map[string]map[string]*Client),
		queueSize: queueSize,
		now:       time.Now,
		logger:    logger.With("module", "realtime"),
	}
}

// WithClock replaces the time source used for event timestamps.
func (h *Hub) WithClock(now func() time.Time) *Hub {
	h.now = now
	return h
}

func (h *Hub) register(userID string, t Transport) *Client {
	c := &Client{
		ID:        uuid.NewString(),
		UserID:    userID,
		transport: t,
		send:      make(chan Message, h.queueSize),
		done:      make(chan struct{}),
		rooms:     make(map[string]struct{}),
	}

	h.mu.Lock()
	h.clients[c.ID] = c
	h.mu.Unlock()

	return c
}

// Attach registers a connection for userID and starts its write goroutine.
func (h *Hub) Attach(ctx context.Context, userID string, t Transport) *Client {
	c := h.register(userID, t)
	h.logger.Info(ctx, "connection opened", "conn_id", c.ID, "user_id", userID)
	go h.writePump(ctx, c)
	return c
}

func (h *Hub) writePump(ctx context.Context, c *Client) {
	for {
		select {
		case msg := <-c.send:
			if err := c.transport.Send(ctx, msg); err != nil {
				h.logger.Warn(ctx, "send failed, dropping connection", "conn_id", c.ID, "error", err)
				h.Disconnect(ctx, c)
				return
			}
		case <-c.done:
			return
		case <-ctx.Done():
			h.Disconnect(context.WithoutCancel(ctx), c)
			return
		}
	}
}

// Run feeds messages from next into Dispatch until next fails, then
// disconnects c. It returns the error that ended the loop.
func (h *Hub) Run(ctx context.Context, c *Client, next func(context.Context) (Message, error)) error {
	defer h.Disconnect(ctx, c)

	for {
		msg, err := next(ctx)
		if err != nil {
			return err
		}
		h.Dispatch(ctx, c, msg)
	}
}

// enqueue never blocks. A peer whose queue is full is disconnected.
func (h *Hub) enqueue(ctx context.Context, c *Client, msg Message) {
	select {
	case <-c.done:
		return
	default:
	}

	select {
	case c.send <- msg:
	default:
		h.logger.Warn(ctx, "outbound queue full, dropping slow connection", "conn_id", c.ID)
		h.Disconnect(ctx, c)
	}
}

// broadcast delivers msg to every member of projectID except skip.
func (h *Hub) broadcast(ctx context.Context, projectID string, skip *Client, msg Message) int {
	h.mu.RLock()
	targets := make([]*Client, 0, len(h.rooms[projectID]))
	for _, member := range h.rooms[projectID] {
		if member != skip {
			targets = append(targets, member)
		}
	}
	h.mu.RUnlock()

	for _, t := range targets {
		h.enqueue(ctx, t, msg)
	}
	return len(targets)
}

func (h *Hub) presence(ctx context.Context, event string, c *Client, projectID string) {
	h.broadcast(ctx, projectID, c, encode(event, Presence{
		SocketID:  c.ID,
		UserID:    c.UserID,
		ProjectID: projectID,
		Timestamp: timestamp(h.now()),
	}))
}

// Join adds c to the room of projectID and tells the other members.
// Joining a room twice is a no-op.
func (h *Hub) Join(ctx context.Context, c *Client, projectID string) error {
	if projectID == "" {
		return ErrMissingProject
	}

	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return ErrUnknownClient
	}
	if _, ok := c.rooms[projectID]; ok {
		h.mu.Unlock()
		return nil
	}
	room, ok := h.rooms[projectID]
	if !ok {
		room = make(map[string]*Client)
		h.rooms[projectID] = room
	}
	room[c.ID] = c
	c.rooms[projectID] = struct{}{}
	h.mu.Unlock()

	h.logger.Info(ctx, "joined project room", "conn_id", c.ID, "project_id", projectID)
	h.presence(ctx, EventUserJoined, c, projectID)
	return nil
}

// removeLocked drops c from one room and deletes the room when it empties.
// Caller holds h.mu.
func (h *Hub) removeLocked(c *Client, projectID string) {
	delete(c.rooms, projectID)
	if room, ok := h.rooms[projectID]; ok {
		delete(room, c.ID)
		if len(room) == 0 {
			delete(h.rooms, projectID)
		}
	}
}

// Leave removes c from the room of projectID and tells the remaining
// members. Leaving a room c is not in is a no-op.
func (h *Hub) Leave(ctx context.Context, c *Client, projectID string) error {
	if projectID == "" {
		return ErrMissingProject
	}

	h.mu.Lock()
	if _, ok := c.rooms[projectID]; !ok {
		h.mu.Unlock()
		return nil
	}
	h.removeLocked(c, projectID)
	h.mu.Unlock()

	h.logger.Info(ctx, "left project room", "conn_id", c.ID, "project_id", projectID)
	h.presence(ctx, EventUserLeft, c, projectID)
	return nil
}

// Disconnect removes c from every room, notifies those rooms and closes
// the transport. It is safe to call more than once.
func (h *Hub) Disconnect(ctx context.Context, c *Client) {
	h.mu.Lock()
	if _, ok := h.clients[c.ID]; !ok {
		h.mu.Unlock()
		return
	}
	delete(h.clients, c.ID)

	left := make([]string, 0, len(c.rooms))
	for projectID := range c.rooms {
		left = append(left, projectID)
	}
	for _, projectID := range left {
		h.removeLocked(c, projectID)
	}
	h.mu.Unlock()

	c.close()
	h.logger.Info(ctx, "connection closed", "conn_id", c.ID, "rooms_left", len(left))

	for _, projectID := range left {
		h.presence(ctx, EventUserLeft, c, projectID)
	}
}

// Relay fans a collaboration event out to the other members of the room
// named by the payload's projectId. The payload is opaque apart from the
// added timestamp and senderId.
func (h *Hub) Relay(ctx context.Context, c *Client, event string, data json.RawMessage) error {
	out, ok := relayEvents[event]
	if !ok {
		return ErrUnknownEvent
	}

	payload, projectID, err := stamp(data, h.now(), c.ID)
	if err != nil {
		return err
	}
	if projectID == "" {
		return ErrMissingProject
	}

	h.mu.RLock()
	_, member := c.rooms[projectID]
	h.mu.RUnlock()
	if !member {
		return ErrNotInRoom
	}

	n := h.broadcast(ctx, projectID, c, Message{Event: out, Data: payload})
	h.logger.Debug(ctx, "relayed event", "conn_id", c.ID, "event", out, "project_id", projectID, "recipients", n)
	return nil
}

// Dispatch routes one inbound message. Failures are reported to c alone as
// an error event.
func (h *Hub) Dispatch(ctx context.Context, c *Client, msg Message) {
	var err error

	switch msg.Event {
	case EventJoin, EventLeave:
		var projectID string
		projectID, err = projectIDFrom(msg.Data)
		if err != nil {
			break
		}
		if msg.Event == EventJoin {
			err = h.Join(ctx, c, projectID)
		} else {
			err = h.Leave(ctx, c, projectID)
		}
	default:
		err = h.Relay(ctx, c, msg.Event, msg.Data)
	}

	if err != nil {
		h.Reject(ctx, c, msg.Event, err)
	}
}

// Reject reports err to c alone as an error event.
func (h *Hub) Reject(ctx context.Context, c *Client, event string, err error) {
	h.logger.Debug(ctx, "rejected message", "conn_id", c.ID, "event", event, "error", err)
	h.enqueue(ctx, c, encode(EventError, errorPayload{Event: event, Message: err.Error()}))
}

// Emit broadcasts a server-originated event to every member of projectID.
// payload must encode to a JSON object.
func (h *Hub) Emit(ctx context.Context, projectID, event string, payload any) (int, error) {
	if projectID == "" {
		return 0, ErrMissingProject
	}
	raw, err := json.Marshal(payload)
	if err != nil {
		return 0, err
	}
	data, _, err := stamp(raw, h.now(), ServerSenderID)
	if err != nil {
		return 0, err
	}
	return h.broadcast(ctx, projectID, nil, Message{Event: event, Data: data}), nil
}

// Members returns the connection ids in the room of projectID, sorted.
func (h *Hub) Members(projectID string) []string {
	h.mu.RLock()
	defer h.mu.RUnlock()

	ids := make([]string, 0, len(h.rooms[projectID]))
	for id := range h.rooms[projectID] {
		ids = append(ids, id)
	}
	sort.Strings(ids)
	return ids
}

// Stats reports the number of attached connections and live rooms.
func (h *Hub) Stats() (connections, rooms int) {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.clients), len(h.rooms)
}

// Close disconnects every client.
func (h *Hub) Close(ctx context.Context) {
	h.mu.RLock()
	all := make([]*Client, 0, len(h.clients))
	for _, c := range h.clients {
		all = append(all, c)
	}
	h.mu.RUnlock()

	for _, c := range all {
		h.Disconnect(ctx, c)
	}
}
