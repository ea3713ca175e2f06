package signal

import (
	"context"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

var ErrBackpressure = errors.New("backpressure")

const writeDeadline = 5 * time.Second

type Config struct {
	URL               string
	ReconnectAttempts int
	ReconnectBase     time.Duration
	ReconnectMax      time.Duration
}

func DefaultConfig(url string) Config {
	return Config{
		URL:               url,
		ReconnectAttempts: 10,
		ReconnectBase:     time.Second,
		ReconnectMax:      5 * time.Second,
	}
}

// Channel is the websocket signaling client. Connection loss is non-fatal:
// it redials within the attempt budget and reports EvChannelUp/Down so the
// session controller can re-announce presence.
type Channel struct {
	cfg Config

	room  domain.RoomID
	local domain.ParticipantID
	token string

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	pending chan []core.ParticipantLink

	send      chan []byte
	events    chan core.SignalEvent
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewChannel(cfg Config) *Channel {
	return &Channel{
		cfg:    cfg,
		send:   make(chan []byte, 32),
		events: make(chan core.SignalEvent, 64),
	}
}

func (c *Channel) Events() <-chan core.SignalEvent { return c.events }

func (c *Channel) Connect(ctx context.Context, room domain.RoomID, local domain.ParticipantID, authToken string) error {
	c.room, c.local, c.token = room, local, authToken

	// The channel outlives a single session: tear down any previous pump
	// pair and rebuild the queue state so a rejoin starts clean.
	if c.cancel != nil {
		c.cancel()
		c.closeOnce.Do(func() { close(c.send) })
		c.wg.Wait()
		c.cancel = nil
	}
	c.mu.Lock()
	c.closing = false
	c.conn = nil
	c.pending = nil
	c.mu.Unlock()
	c.send = make(chan []byte, 32)
	c.events = make(chan core.SignalEvent, 64)
	c.closeOnce = sync.Once{}

	conn, err := c.dial(ctx)
	if err != nil {
		return err
	}
	c.setConn(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(runCtx)
	go c.run(runCtx)
	log.Info().Str("module", "signal").Str("room", string(room)).Msg("signaling connected")
	return nil
}

// dial retries with a small growing delay, capped, within the budget.
func (c *Channel) dial(ctx context.Context) (*websocket.Conn, error) {
	delay := c.cfg.ReconnectBase
	var lastErr error
	for attempt := 1; attempt <= c.cfg.ReconnectAttempts; attempt++ {
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err == nil {
			return conn, nil
		}
		lastErr = err
		log.Warn().Err(err).Str("module", "signal").Int("attempt", attempt).Msg("dial failed")
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(delay):
		}
		delay *= 2
		if delay > c.cfg.ReconnectMax {
			delay = c.cfg.ReconnectMax
		}
	}
	return nil, lastErr
}

// run owns the read side across reconnects. When a read fails and the
// channel is not closing, it redials; spent budget means permanently down.
func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		err := c.readLoop(ctx)
		if c.isClosing() || ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "signal").Msg("connection lost")
		c.events <- core.EvChannelDown{Permanent: false}

		conn, err := c.dial(ctx)
		if err != nil {
			log.Error().Err(err).Str("module", "signal").Msg("reconnect budget spent")
			c.events <- core.EvChannelDown{Permanent: true}
			return
		}
		c.setConn(conn)
		c.events <- core.EvChannelUp{Resumed: true}
	}
}

func (c *Channel) readLoop(ctx context.Context) error {
	conn := c.current()
	if conn == nil {
		return errors.New("no connection")
	}
	for {
		if ctx.Err() != nil {
			return ctx.Err()
		}
		_, data, err := conn.ReadMessage()
		if err != nil {
			return err
		}
		ev, err := decodeEvent(data)
		if err != nil {
			log.Warn().Err(err).Str("module", "signal").Msg("dropped invalid message")
			continue
		}
		if parts, ok := ev.(core.EvParticipants); ok {
			if c.deliverPending(parts.Participants) {
				continue
			}
		}
		select {
		case c.events <- ev:
		default:
			log.Warn().Str("module", "signal").Msg("event buffer full, dropping")
		}
	}
}

func (c *Channel) writePump(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-c.send:
			if !ok {
				return
			}
			conn := c.current()
			if conn == nil {
				log.Warn().Str("module", "signal").Msg("writePump no connection, dropping")
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump set deadline")
				continue
			}
			if err := conn.WriteMessage(websocket.TextMessage, data); err != nil {
				log.Error().Err(err).Str("module", "signal").Msg("writePump write error")
			}
		}
	}
}

func (c *Channel) AnnounceJoin() error {
	return c.emit(envelope{
		Type:          typeJoinRoom,
		RoomID:        string(c.room),
		ParticipantID: string(c.local),
		AuthToken:     c.token,
	})
}

// RequestParticipants emits get-participants and waits for the reply.
// One request may be in flight at a time.
func (c *Channel) RequestParticipants(ctx context.Context) ([]core.ParticipantLink, error) {
	reply := make(chan []core.ParticipantLink, 1)
	c.mu.Lock()
	if c.pending != nil {
		c.mu.Unlock()
		return nil, errors.New("roster request already in flight")
	}
	c.pending = reply
	c.mu.Unlock()

	defer func() {
		c.mu.Lock()
		c.pending = nil
		c.mu.Unlock()
	}()

	if err := c.emit(envelope{Type: typeGetParticipants, RoomID: string(c.room)}); err != nil {
		return nil, err
	}
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case links := <-reply:
		return links, nil
	}
}

func (c *Channel) EmitSignal(to domain.ParticipantID, class core.MediaClass, payload []byte) error {
	return c.emit(envelope{
		Type:          typeSignal,
		RoomID:        string(c.room),
		ParticipantID: string(to),
		Signal:        json.RawMessage(payload),
		MediaClass:    string(class),
	})
}

func (c *Channel) EmitShareStart() error {
	return c.emit(envelope{Type: typeShareStart, RoomID: string(c.room), ParticipantID: string(c.local)})
}

func (c *Channel) EmitShareStop() error {
	return c.emit(envelope{Type: typeShareStop, RoomID: string(c.room), ParticipantID: string(c.local)})
}

func (c *Channel) Disconnect() error {
	c.mu.Lock()
	if c.closing {
		c.mu.Unlock()
		return nil
	}
	c.closing = true
	conn := c.conn
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		_ = conn.Close()
	}
	c.closeOnce.Do(func() { close(c.send) })
	c.wg.Wait()
	log.Info().Str("module", "signal").Msg("signaling disconnected")
	return nil
}

func (c *Channel) emit(env envelope) error {
	data, err := json.Marshal(env)
	if err != nil {
		return err
	}
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return errors.New("channel closed")
	}
	select {
	case c.send <- data:
		return nil
	default:
		return ErrBackpressure
	}
}

func (c *Channel) deliverPending(links []core.ParticipantLink) bool {
	c.mu.Lock()
	pending := c.pending
	c.pending = nil
	c.mu.Unlock()
	if pending == nil {
		return false
	}
	pending <- links
	return true
}

func (c *Channel) setConn(conn *websocket.Conn) {
	c.mu.Lock()
	c.conn = conn
	c.mu.Unlock()
}

func (c *Channel) current() *websocket.Conn {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.conn
}

func (c *Channel) isClosing() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.closing
}
