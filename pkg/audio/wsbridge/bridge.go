// Package wsbridge provides [audio.Microphone] and [audio.Player]
// implementations backed by a browser connected over a WebSocket.
//
// The browser owns the real devices: it answers mic.open with getUserMedia and
// streams PCM back as binary frames, and it plays playback.load payloads with
// an audio element, reporting lifecycle changes as playback.event messages.
// The same socket carries UI traffic: [Bridge.Publish] pushes JSON events to
// the page and [Bridge.Commands] delivers the user's actions.
//
// Exactly one browser is attached at a time. A new connection replaces the old
// one; every handle opened through the old connection fails with
// [audio.ErrDeviceUnavailable].
package wsbridge

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"time"

	"github.com/coder/websocket"
	"github.com/google/uuid"

	"github.com/voxpersona/voxpersona/pkg/audio"
)

// Compile-time interface assertions.
var (
	_ audio.Microphone = (*Bridge)(nil)
	_ audio.Player     = (*Bridge)(nil)
	_ http.Handler     = (*Bridge)(nil)
)

// ErrNoClient is returned by [Bridge.Check] while no browser is attached.
var ErrNoClient = errors.New("wsbridge: no browser connected")

const (
	defaultWriteTimeout = 5 * time.Second
	defaultReadLimit    = 8 << 20 // playback.load carries a whole clip
	commandBuffer       = 32
	eventBuffer         = 64
	frameBuffer         = 128
)

// Option configures a [Bridge].
type Option func(*Bridge)

// WithOriginPatterns sets the host patterns accepted for cross-origin
// WebSocket upgrades. By default only same-origin requests are accepted.
func WithOriginPatterns(patterns ...string) Option {
	return func(b *Bridge) {
		b.origins = patterns
	}
}

// WithWriteTimeout bounds every write to the socket. Defaults to 5s.
func WithWriteTimeout(d time.Duration) Option {
	return func(b *Bridge) {
		b.writeTimeout = d
	}
}

// WithOnConnect registers fn to run in its own goroutine whenever a browser
// attaches. Use it to push an initial UI snapshot.
func WithOnConnect(fn func()) Option {
	return func(b *Bridge) {
		b.onConnect = fn
	}
}

// Bridge is an [http.Handler] that accepts the browser's WebSocket and exposes
// its devices as [audio.Microphone] and [audio.Player].
//
// Bridge is safe for concurrent use.
type Bridge struct {
	origins      []string
	writeTimeout time.Duration
	onConnect    func()

	commands chan Command

	mu     sync.Mutex
	client *client
	closed bool
}

// client is one attached browser and everything opened through it.
type client struct {
	conn   *websocket.Conn
	ctx    context.Context
	cancel context.CancelFunc
	remote string

	// Guarded by Bridge.mu.
	pending map[string]chan Message
	mic     *inputHandle
	handles map[string]*playbackHandle
	gone    bool
}

// New creates a Bridge with the given options applied.
func New(opts ...Option) *Bridge {
	b := &Bridge{
		writeTimeout: defaultWriteTimeout,
		commands:     make(chan Command, commandBuffer),
	}
	for _, o := range opts {
		o(b)
	}
	return b
}

// ─── Connection lifecycle ─────────────────────────────────────────────────────

// ServeHTTP upgrades the request and serves the browser until it disconnects,
// is replaced, or the bridge is closed.
func (b *Bridge) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	b.mu.Lock()
	closed := b.closed
	b.mu.Unlock()
	if closed {
		http.Error(w, "bridge closed", http.StatusServiceUnavailable)
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{OriginPatterns: b.origins})
	if err != nil {
		slog.Warn("wsbridge: accept failed", "remote", r.RemoteAddr, "err", err)
		return
	}
	conn.SetReadLimit(defaultReadLimit)

	ctx, cancel := context.WithCancel(context.Background())
	c := &client{
		conn:    conn,
		ctx:     ctx,
		cancel:  cancel,
		remote:  r.RemoteAddr,
		pending: make(map[string]chan Message),
		handles: make(map[string]*playbackHandle),
	}
	b.attach(c)
	defer b.detach(c)

	b.readLoop(c)
}

func (b *Bridge) attach(c *client) {
	b.mu.Lock()
	old := b.client
	b.client = c
	b.mu.Unlock()

	if old != nil {
		slog.Info("wsbridge: replacing browser connection", "old", old.remote, "new", c.remote)
		old.conn.Close(websocket.StatusPolicyViolation, "replaced by a newer connection")
		old.cancel()
	}
	slog.Info("wsbridge: browser connected", "remote", c.remote)
	if b.onConnect != nil {
		go b.onConnect()
	}
}

// detach fails everything opened through c and forgets it.
func (b *Bridge) detach(c *client) {
	b.mu.Lock()
	if b.client == c {
		b.client = nil
	}
	c.gone = true
	mic := c.mic
	c.mic = nil
	handles := make([]*playbackHandle, 0, len(c.handles))
	for _, h := range c.handles {
		handles = append(handles, h)
	}
	clear(c.handles)
	clear(c.pending)
	b.mu.Unlock()

	c.cancel()
	c.conn.Close(websocket.StatusNormalClosure, "")

	lost := fmt.Errorf("wsbridge: browser disconnected: %w", audio.ErrDeviceUnavailable)
	if mic != nil {
		mic.fail(lost)
	}
	for _, h := range handles {
		h.fail(lost)
	}
	slog.Info("wsbridge: browser disconnected", "remote", c.remote)
}

func (b *Bridge) readLoop(c *client) {
	for {
		typ, data, err := c.conn.Read(c.ctx)
		if err != nil {
			if c.ctx.Err() == nil && websocket.CloseStatus(err) == -1 {
				slog.Warn("wsbridge: read failed", "remote", c.remote, "err", err)
			}
			return
		}
		if typ == websocket.MessageBinary {
			b.mu.Lock()
			mic := c.mic
			b.mu.Unlock()
			if mic != nil {
				mic.push(data)
			}
			continue
		}

		var msg Message
		if err := json.Unmarshal(data, &msg); err != nil {
			slog.Debug("wsbridge: malformed message", "err", err)
			continue
		}
		b.dispatch(c, msg)
	}
}

func (b *Bridge) dispatch(c *client, msg Message) {
	switch msg.Type {
	case TypeMicOpened, TypeMicDenied, TypeMicUnavailable, TypePlaybackLoaded, TypePlaybackFailed:
		b.mu.Lock()
		reply, ok := c.pending[msg.ID]
		delete(c.pending, msg.ID)
		b.mu.Unlock()
		if !ok {
			slog.Debug("wsbridge: reply without request", "type", msg.Type, "id", msg.ID)
			return
		}
		reply <- msg

	case TypePlaybackEvent:
		b.mu.Lock()
		h := c.handles[msg.ID]
		b.mu.Unlock()
		if h == nil {
			return
		}
		var ev PlaybackEvent
		if err := json.Unmarshal(msg.Data, &ev); err != nil {
			slog.Debug("wsbridge: malformed playback event", "err", err)
			return
		}
		h.deliver(ev)

	case TypeCommand:
		var cmd Command
		if err := json.Unmarshal(msg.Data, &cmd); err != nil || cmd.Action == "" {
			slog.Debug("wsbridge: malformed command", "err", err)
			return
		}
		select {
		case b.commands <- cmd:
		default:
			slog.Warn("wsbridge: command buffer full, dropping", "action", cmd.Action)
		}

	default:
		slog.Debug("wsbridge: unknown message type", "type", msg.Type)
	}
}

// Close disconnects the attached browser and refuses new connections.
// Safe to call more than once.
func (b *Bridge) Close() error {
	b.mu.Lock()
	if b.closed {
		b.mu.Unlock()
		return nil
	}
	b.closed = true
	c := b.client
	b.mu.Unlock()

	if c != nil {
		c.conn.Close(websocket.StatusGoingAway, "shutting down")
		c.cancel()
	}
	return nil
}

// ─── UI channel ───────────────────────────────────────────────────────────────

// Commands returns the stream of user actions sent by the browser.
func (b *Bridge) Commands() <-chan Command {
	return b.commands
}

// Publish sends a UI event of the given type to the attached browser. Events
// published while no browser is attached are dropped.
func (b *Bridge) Publish(ctx context.Context, typ string, data any) error {
	c := b.current()
	if c == nil {
		return nil
	}
	return b.send(ctx, c, typ, "", data)
}

// Connected reports whether a browser is attached.
func (b *Bridge) Connected() bool {
	return b.current() != nil
}

// Check implements a health check: it fails while no browser is attached.
func (b *Bridge) Check(context.Context) error {
	if !b.Connected() {
		return ErrNoClient
	}
	return nil
}

func (b *Bridge) current() *client {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.client
}

func (b *Bridge) send(ctx context.Context, c *client, typ, id string, data any) error {
	payload, err := encode(typ, id, data)
	if err != nil {
		return fmt.Errorf("wsbridge: encode %s: %w", typ, err)
	}
	wctx, cancel := context.WithTimeout(ctx, b.writeTimeout)
	defer cancel()
	if err := c.conn.Write(wctx, websocket.MessageText, payload); err != nil {
		return fmt.Errorf("wsbridge: write %s: %w", typ, err)
	}
	return nil
}

// request registers a reply slot for id on the current client.
func (b *Bridge) request(id string) (*client, chan Message, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	c := b.client
	if c == nil {
		return nil, nil, fmt.Errorf("wsbridge: %w: no browser connected", audio.ErrDeviceUnavailable)
	}
	reply := make(chan Message, 1)
	c.pending[id] = reply
	return c, reply, nil
}

func (b *Bridge) forget(c *client, id string) {
	b.mu.Lock()
	delete(c.pending, id)
	b.mu.Unlock()
}

// await waits for the reply to a request, the caller's ctx, or the client
// going away.
func (b *Bridge) await(ctx context.Context, c *client, reply <-chan Message) (Message, error) {
	select {
	case msg := <-reply:
		return msg, nil
	case <-ctx.Done():
		return Message{}, ctx.Err()
	case <-c.ctx.Done():
		return Message{}, fmt.Errorf("wsbridge: browser disconnected: %w", audio.ErrDeviceUnavailable)
	}
}

// ─── Devices ──────────────────────────────────────────────────────────────────

// Open implements [audio.Microphone]. The browser prompts the user for
// permission; ctx bounds the wait for the answer.
func (b *Bridge) Open(ctx context.Context) (audio.InputHandle, error) {
	id := uuid.NewString()
	c, reply, err := b.request(id)
	if err != nil {
		return nil, err
	}
	defer b.forget(c, id)

	if err := b.send(ctx, c, TypeMicOpen, id, nil); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	msg, err := b.await(ctx, c, reply)
	if err != nil {
		if ctx.Err() != nil {
			// The prompt may still be answered; make sure the browser lets go.
			_ = b.send(context.Background(), c, TypeMicClose, id, nil)
		}
		return nil, err
	}

	switch msg.Type {
	case TypeMicOpened:
		var opened MicOpened
		if err := json.Unmarshal(msg.Data, &opened); err != nil || opened.SampleRate <= 0 || opened.Channels <= 0 {
			_ = b.send(context.Background(), c, TypeMicClose, id, nil)
			return nil, fmt.Errorf("wsbridge: bad mic.opened payload: %w", audio.ErrDeviceUnavailable)
		}
		h := newInputHandle(b, c, id, audio.Format{SampleRate: opened.SampleRate, Channels: opened.Channels})
		b.mu.Lock()
		if c.gone {
			b.mu.Unlock()
			return nil, fmt.Errorf("wsbridge: browser disconnected: %w", audio.ErrDeviceUnavailable)
		}
		c.mic = h
		b.mu.Unlock()
		return h, nil
	case TypeMicDenied:
		return nil, fmt.Errorf("wsbridge: %w%s", audio.ErrPermissionDenied, failureSuffix(msg))
	default:
		return nil, fmt.Errorf("wsbridge: %w%s", audio.ErrDeviceUnavailable, failureSuffix(msg))
	}
}

// Load implements [audio.Player]. The clip is shipped to the browser, which
// decodes it and answers with its duration.
func (b *Bridge) Load(ctx context.Context, clip audio.Clip) (audio.PlaybackHandle, error) {
	id := uuid.NewString()
	c, reply, err := b.request(id)
	if err != nil {
		return nil, err
	}
	defer b.forget(c, id)

	if err := b.send(ctx, c, TypePlaybackLoad, id, PlaybackLoad{Audio: clip.Data, MIMEType: clip.MIMEType}); err != nil {
		return nil, fmt.Errorf("%w: %w", audio.ErrDeviceUnavailable, err)
	}
	msg, err := b.await(ctx, c, reply)
	if err != nil {
		if ctx.Err() != nil {
			_ = b.send(context.Background(), c, TypePlaybackRelease, id, nil)
		}
		return nil, err
	}
	if msg.Type != TypePlaybackLoaded {
		return nil, fmt.Errorf("wsbridge: %w%s", audio.ErrDecode, failureSuffix(msg))
	}

	var loaded PlaybackLoaded
	if err := json.Unmarshal(msg.Data, &loaded); err != nil {
		// The duration is advisory; playback events will carry it.
		slog.Debug("wsbridge: malformed playback.loaded", "id", id, "err", err)
	}
	h := newPlaybackHandle(b, c, id, ms(loaded.DurationMS))
	b.mu.Lock()
	if c.gone {
		b.mu.Unlock()
		return nil, fmt.Errorf("wsbridge: browser disconnected: %w", audio.ErrDeviceUnavailable)
	}
	c.handles[id] = h
	b.mu.Unlock()
	return h, nil
}

func failureSuffix(msg Message) string {
	var f Failure
	if err := json.Unmarshal(msg.Data, &f); err != nil || f.Message == "" {
		return ""
	}
	return ": " + f.Message
}
