// Package translate is the streaming client for the translation backend.
// Control messages are JSON text frames; utterance audio travels as binary
// frames on the same socket.
package translate

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"sync"
	"time"

	"github.com/echobridge/meet/internal/core"
	"github.com/echobridge/meet/internal/domain"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog/log"
)

const writeDeadline = 5 * time.Second

type Config struct {
	URL            string
	ReconnectDelay time.Duration
}

func DefaultConfig(url string) Config {
	return Config{URL: url, ReconnectDelay: 2 * time.Second}
}

type serverMessage struct {
	Type      string            `json:"type"`
	Languages map[string]string `json:"languages,omitempty"`
	SpeakerID string            `json:"speaker_id,omitempty"`
	Audio     string            `json:"audio,omitempty"`
}

type languagesRequest struct {
	RequestParticipantsLanguages bool `json:"request_participants_languages"`
}

type outFrame struct {
	binary bool
	data   []byte
}

// Channel auto-reconnects after a fixed delay on unexpected close, then
// re-announces the last preferences and re-requests the language map.
type Channel struct {
	cfg Config

	mu      sync.Mutex
	conn    *websocket.Conn
	closing bool
	prefs   *domain.TranslationPreferences

	send      chan outFrame
	events    chan core.TranslateEvent
	cancel    context.CancelFunc
	closeOnce sync.Once
	wg        sync.WaitGroup
}

func NewChannel(cfg Config) *Channel {
	return &Channel{
		cfg:    cfg,
		send:   make(chan outFrame, 64),
		events: make(chan core.TranslateEvent, 64),
	}
}

func (c *Channel) Events() <-chan core.TranslateEvent { return c.events }

func (c *Channel) Connect(ctx context.Context) error {
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
	c.mu.Unlock()
	c.send = make(chan outFrame, 64)
	c.events = make(chan core.TranslateEvent, 64)
	c.closeOnce = sync.Once{}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
	if err != nil {
		return errors.Join(domain.ErrTranslationSocket, err)
	}
	c.setConn(conn)

	runCtx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.wg.Add(2)
	go c.writePump(runCtx)
	go c.run(runCtx)
	log.Info().Str("module", "translate").Msg("translation stream connected")
	return nil
}

func (c *Channel) run(ctx context.Context) {
	defer c.wg.Done()
	defer close(c.events)

	for {
		err := c.readLoop(ctx)
		if c.isClosing() || ctx.Err() != nil {
			return
		}
		log.Warn().Err(err).Str("module", "translate").Msg("stream lost, reconnecting")

		select {
		case <-ctx.Done():
			return
		case <-time.After(c.cfg.ReconnectDelay):
		}
		conn, _, err := websocket.DefaultDialer.DialContext(ctx, c.cfg.URL, nil)
		if err != nil {
			log.Warn().Err(err).Str("module", "translate").Msg("redial failed, retrying")
			continue
		}
		c.setConn(conn)
		c.resume()
		select {
		case c.events <- core.EvTranslateUp{Resumed: true}:
		default:
		}
	}
}

// resume re-announces current preferences and re-requests the map so the
// backend regains its per-connection state.
func (c *Channel) resume() {
	c.mu.Lock()
	prefs := c.prefs
	c.mu.Unlock()
	if prefs != nil {
		if err := c.AnnouncePrefs(*prefs); err != nil {
			log.Warn().Err(err).Str("module", "translate").Msg("re-announce prefs")
		}
	}
	if err := c.RequestLanguages(); err != nil {
		log.Warn().Err(err).Str("module", "translate").Msg("re-request languages")
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
		var msg serverMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			log.Warn().Err(err).Str("module", "translate").Msg("dropped invalid message")
			continue
		}
		switch msg.Type {
		case "participants_languages":
			langs := make(map[domain.ParticipantID]string, len(msg.Languages))
			for pid, lang := range msg.Languages {
				langs[domain.ParticipantID(pid)] = lang
			}
			c.deliver(core.EvLanguages{Languages: langs})
		case "audio":
			if msg.SpeakerID == "" || msg.Audio == "" {
				continue
			}
			audio, err := base64.StdEncoding.DecodeString(msg.Audio)
			if err != nil {
				log.Warn().Err(err).Str("module", "translate").Msg("bad audio payload")
				continue
			}
			c.deliver(core.EvTranslatedAudio{
				Speaker: domain.ParticipantID(msg.SpeakerID),
				Audio:   audio,
			})
		default:
			log.Warn().Str("module", "translate").Str("type", msg.Type).Msg("unknown message")
		}
	}
}

func (c *Channel) deliver(ev core.TranslateEvent) {
	select {
	case c.events <- ev:
	default:
		log.Warn().Str("module", "translate").Msg("event buffer full, dropping")
	}
}

func (c *Channel) writePump(ctx context.Context) {
	defer c.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case f, ok := <-c.send:
			if !ok {
				return
			}
			conn := c.current()
			if conn == nil {
				continue
			}
			if err := conn.SetWriteDeadline(time.Now().Add(writeDeadline)); err != nil {
				continue
			}
			kind := websocket.TextMessage
			if f.binary {
				kind = websocket.BinaryMessage
			}
			if err := conn.WriteMessage(kind, f.data); err != nil {
				log.Warn().Err(err).Str("module", "translate").Msg("write error")
			}
		}
	}
}

func (c *Channel) AnnouncePrefs(prefs domain.TranslationPreferences) error {
	c.mu.Lock()
	c.prefs = &prefs
	c.mu.Unlock()
	data, err := json.Marshal(prefs)
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{data: data})
}

func (c *Channel) RequestLanguages() error {
	data, err := json.Marshal(languagesRequest{RequestParticipantsLanguages: true})
	if err != nil {
		return err
	}
	return c.enqueue(outFrame{data: data})
}

// SendUtterance never waits for a translation response: segmentation and
// sending stay decoupled.
func (c *Channel) SendUtterance(audio []byte) error {
	return c.enqueue(outFrame{binary: true, data: audio})
}

func (c *Channel) enqueue(f outFrame) error {
	c.mu.Lock()
	closing := c.closing
	c.mu.Unlock()
	if closing {
		return domain.ErrTranslationSocket
	}
	select {
	case c.send <- f:
		return nil
	default:
		return domain.ErrTranslationSocket
	}
}

func (c *Channel) Close() error {
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
	log.Info().Str("module", "translate").Msg("translation stream closed")
	return nil
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
