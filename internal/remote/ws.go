package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/geofield/fieldsync/internal/model"
)

// Config holds websocket connection settings.
type Config struct {
	// URL is the ws:// or wss:// endpoint of the remote store.
	URL string

	DialTimeout  time.Duration
	WriteTimeout time.Duration
	// PingInterval is the keepalive period. The read side tolerates two
	// missed pongs before declaring the connection dead.
	PingInterval time.Duration
}

func (c Config) withDefaults() Config {
	if c.DialTimeout == 0 {
		c.DialTimeout = 10 * time.Second
	}
	if c.WriteTimeout == 0 {
		c.WriteTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 20 * time.Second
	}
	return c
}

// WebSocketClient is the production DataSource: a single websocket
// connection carrying mutation pushes (request/ack) and the per-survey
// document change feed.
//
// The client does not reconnect by itself; the syncer treats a dead
// connection as a temporary push failure, and the caller is expected to
// dial again.
type WebSocketClient struct {
	cfg    Config
	conn   *websocket.Conn
	logger *slog.Logger

	writeMu sync.Mutex

	pendingMu sync.Mutex
	pending   map[int64]chan frame
	nextID    atomic.Int64

	subsMu sync.Mutex
	subs   map[string]chan ChangeEvent

	done      chan struct{}
	closeOnce sync.Once
	deadErr   atomic.Value // error set when the read loop exits
}

var _ DataSource = (*WebSocketClient)(nil)

// Dial connects to the remote store.
func Dial(ctx context.Context, cfg Config, logger *slog.Logger) (*WebSocketClient, error) {
	cfg = cfg.withDefaults()
	if logger == nil {
		logger = slog.Default()
	}

	dialer := websocket.Dialer{HandshakeTimeout: cfg.DialTimeout}
	conn, _, err := dialer.DialContext(ctx, cfg.URL, nil)
	if err != nil {
		return nil, &RemoteError{Op: "dial", Retryable: true, Err: err}
	}

	c := &WebSocketClient{
		cfg:     cfg,
		conn:    conn,
		logger:  logger,
		pending: make(map[int64]chan frame),
		subs:    make(map[string]chan ChangeEvent),
		done:    make(chan struct{}),
	}

	pongWait := 2 * cfg.PingInterval
	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	go c.readLoop()
	go c.pingLoop()

	logger.Debug("remote connected", "url", cfg.URL)
	return c, nil
}

// Close tears down the connection. Open subscriptions are closed and
// in-flight pushes fail as temporary.
func (c *WebSocketClient) Close() error {
	var err error
	c.closeOnce.Do(func() {
		close(c.done)
		c.writeMu.Lock()
		c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
		c.conn.WriteMessage(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
		c.writeMu.Unlock()
		err = c.conn.Close()
	})
	return err
}

// PushMutations uploads the batch and waits for the remote ack. The batch
// is acknowledged as a whole: a rejection of any mutation rejects all of
// them, keeping per-entity causal order intact.
func (c *WebSocketClient) PushMutations(ctx context.Context, mutations []model.Mutation) error {
	if len(mutations) == 0 {
		return nil
	}

	wire := make([]wireMutation, 0, len(mutations))
	for _, m := range mutations {
		w, err := encodeMutation(m)
		if err != nil {
			return &RemoteError{Op: "push", Retryable: false, Err: err}
		}
		wire = append(wire, w)
	}

	id := c.nextID.Add(1)
	ack := make(chan frame, 1)
	c.pendingMu.Lock()
	c.pending[id] = ack
	c.pendingMu.Unlock()
	defer func() {
		c.pendingMu.Lock()
		delete(c.pending, id)
		c.pendingMu.Unlock()
	}()

	if err := c.writeFrame(frame{Type: framePush, ID: id, Mutations: wire}); err != nil {
		return &RemoteError{Op: "push", Retryable: true, Err: err}
	}

	select {
	case f := <-ack:
		if !f.OK {
			return &RemoteError{
				Op:        "push",
				Retryable: f.Retryable,
				Err:       errors.New(f.Error),
			}
		}
		return nil
	case <-ctx.Done():
		return &RemoteError{Op: "push", Retryable: true, Err: ctx.Err()}
	case <-c.done:
		return &RemoteError{Op: "push", Retryable: true, Err: c.deadError()}
	}
}

// Subscribe opens the change feed for a survey. Events arrive on the
// returned channel until ctx is cancelled or the connection dies, after
// which the channel is closed.
func (c *WebSocketClient) Subscribe(ctx context.Context, surveyID string) (<-chan ChangeEvent, error) {
	events := make(chan ChangeEvent, 64)

	c.subsMu.Lock()
	if _, ok := c.subs[surveyID]; ok {
		c.subsMu.Unlock()
		return nil, &RemoteError{Op: "subscribe", Retryable: false,
			Err: fmt.Errorf("already subscribed to survey %s", surveyID)}
	}
	c.subs[surveyID] = events
	c.subsMu.Unlock()

	if err := c.writeFrame(frame{Type: frameSubscribe, SurveyID: surveyID}); err != nil {
		c.removeSub(surveyID)
		return nil, &RemoteError{Op: "subscribe", Retryable: true, Err: err}
	}

	go func() {
		select {
		case <-ctx.Done():
			c.closeSub(surveyID)
		case <-c.done:
			// readLoop closes the channel
		}
	}()

	return events, nil
}

func (c *WebSocketClient) removeSub(surveyID string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	delete(c.subs, surveyID)
}

// closeSub removes and closes a subscription channel. The subsMu lock
// orders the close against in-flight dispatches, which send while holding
// the same lock.
func (c *WebSocketClient) closeSub(surveyID string) {
	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	if ch, ok := c.subs[surveyID]; ok {
		close(ch)
		delete(c.subs, surveyID)
	}
}

func (c *WebSocketClient) writeFrame(f frame) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
	return c.conn.WriteJSON(f)
}

func (c *WebSocketClient) readLoop() {
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			c.deadErr.Store(err)
			c.closeOnce.Do(func() {
				close(c.done)
				c.conn.Close()
			})
			c.subsMu.Lock()
			for id, ch := range c.subs {
				close(ch)
				delete(c.subs, id)
			}
			c.subsMu.Unlock()
			return
		}

		var f frame
		if err := json.Unmarshal(data, &f); err != nil {
			// One bad frame must not kill the connection.
			c.logger.Warn("dropping malformed frame", "error", err)
			continue
		}

		switch f.Type {
		case frameAck:
			c.pendingMu.Lock()
			ch, ok := c.pending[f.ID]
			c.pendingMu.Unlock()
			if ok {
				ch <- f
			}
		case frameAdded, frameModified, frameRemoved:
			c.dispatchChange(f)
		default:
			c.logger.Warn("dropping frame of unknown type", "type", f.Type)
		}
	}
}

func (c *WebSocketClient) dispatchChange(f frame) {
	var ev ChangeEvent
	switch f.Type {
	case frameRemoved:
		ev = ChangeEvent{Kind: EventRemoved, Entity: model.Entity{ID: f.EntityID}}
	default:
		e, err := decodeEntity(f.Entity)
		if err != nil {
			ev = ChangeEvent{Kind: EventError, Err: err}
		} else {
			kind := EventAdded
			if f.Type == frameModified {
				kind = EventModified
			}
			ev = ChangeEvent{Kind: kind, Entity: e}
		}
	}

	c.subsMu.Lock()
	defer c.subsMu.Unlock()
	ch, ok := c.subs[f.SurveyID]
	if !ok {
		return
	}
	select {
	case ch <- ev:
	default:
		// Slow consumer: drop rather than stall acks behind feed events.
		c.logger.Warn("dropping change event, subscriber backlog full",
			"survey", f.SurveyID, "entity", ev.Entity.ID)
	}
}

func (c *WebSocketClient) pingLoop() {
	ticker := time.NewTicker(c.cfg.PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ticker.C:
			c.writeMu.Lock()
			c.conn.SetWriteDeadline(time.Now().Add(c.cfg.WriteTimeout))
			err := c.conn.WriteMessage(websocket.PingMessage, nil)
			c.writeMu.Unlock()
			if err != nil {
				c.conn.Close()
				return
			}
		case <-c.done:
			return
		}
	}
}

func (c *WebSocketClient) deadError() error {
	if err, ok := c.deadErr.Load().(error); ok {
		return err
	}
	return errors.New("connection closed")
}
