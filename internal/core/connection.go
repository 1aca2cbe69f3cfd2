// WAConnect Go - WhatsApp API Gateway
// Copyright (c) 2026 VertexHub
// Licensed under MIT License
// https://github.com/vertexhub/waconnect-go

package core

import (
	"context"
	"encoding/base64"
	"fmt"
	"strconv"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"nhooyr.io/websocket"

	"github.com/waconnect/waconnect-core/internal/core/binary"
)

// WhatsApp WebSocket endpoints
const (
	WAWebSocketURL = "wss://web.whatsapp.com/ws/chat"
	WAOrigin       = "https://web.whatsapp.com"
	WASubprotocol  = "chat"
)

// DefaultKeepAliveInterval is the cadence of the w:p keepalive ping.
const DefaultKeepAliveInterval = 20 * time.Second

// waBuildHash is the decoded md5 of the web client build this client
// presents during registration.
var waBuildHash, _ = base64.StdEncoding.DecodeString("S9Kdc4pc4EJryo21snc5cg==")

// ConnectionState represents the current connection state
type ConnectionState int

const (
	StateDisconnected ConnectionState = iota
	StateConnecting
	StateConnected
	StateAuthenticated
)

// LoginFailure is the server's <failure> node surfaced as an error. Only
// reason 401 (logged out elsewhere) is recoverable via reconnect.
type LoginFailure struct {
	Reason string
}

func (e *LoginFailure) Error() string {
	return fmt.Sprintf("login failure, reason %s", e.Reason)
}

// StreamError is the server's <stream:error> node surfaced as an error.
// Code 515 means "restart the stream" and is recovered via reconnect.
type StreamError struct {
	Code string
}

func (e *StreamError) Error() string {
	return fmt.Sprintf("stream error, code %s", e.Code)
}

// ErrDisconnected fails pending requests when the connection drops.
var ErrDisconnected = &TransportError{Message: "disconnected"}

// ConnectionConfig holds connection configuration
type ConnectionConfig struct {
	SessionID           string
	SessionDir          string
	ConnectTimeoutMs    int
	KeepAliveIntervalMs int
	QRTimeoutMs         int
	MaxRetries          int
	Logger              *zap.SugaredLogger
}

func (c ConnectionConfig) keepAliveInterval() time.Duration {
	if c.KeepAliveIntervalMs <= 0 {
		return DefaultKeepAliveInterval
	}
	return time.Duration(c.KeepAliveIntervalMs) * time.Millisecond
}

// Connection owns the single WebSocket to the WhatsApp relay: it drives the
// Noise handshake, hands completed frames to the transport cipher, decodes
// nodes, and dispatches them to the pairing machine or the correlator. All
// session state (counters, login flag, pending requests) is mutated from
// the read loop and the serialized send path only.
type Connection struct {
	ws     *websocket.Conn
	state  ConnectionState
	config ConnectionConfig
	logger *zap.SugaredLogger

	keys  *DeviceKeys
	store *KeyStore

	noise      *NoiseHandshake
	transport  *TransportCipher
	correlator *Correlator
	pairing    *Pairing
	frames     FrameReader

	loggedIn bool

	// serverHelloCh carries the one handshake frame the read loop sees
	// before the transport cipher takes over.
	serverHelloCh chan []byte

	idCounter     uint64
	keepaliveStop chan struct{}
	cancelRead    context.CancelFunc

	mu      sync.RWMutex
	writeMu sync.Mutex

	// Callbacks
	onQR          func(string)
	onPairSuccess func(binary.JID)
	onLoggedIn    func()
	onDisconnect  func(error)
}

// NewConnection creates a connection for a session, loading (or generating
// on first run) its persisted key material.
func NewConnection(config ConnectionConfig) (*Connection, error) {
	store := NewKeyStore(config.SessionDir, config.SessionID)
	keys, err := store.LoadOrGenerate()
	if err != nil {
		return nil, fmt.Errorf("load device keys: %w", err)
	}

	return &Connection{
		state:      StateDisconnected,
		config:     config,
		logger:     config.Logger,
		keys:       keys,
		store:      store,
		correlator: NewCorrelator(),
		pairing:    NewPairing(keys, config.Logger),
	}, nil
}

// Connect opens the WebSocket, completes the Noise handshake, and returns
// once the transport cipher is live. Pairing and login events arrive on the
// registered callbacks afterward.
func (c *Connection) Connect(ctx context.Context) error {
	c.mu.Lock()
	c.state = StateConnecting
	c.noise = nil
	c.transport = nil
	c.loggedIn = false
	c.frames = FrameReader{}
	c.serverHelloCh = make(chan []byte, 1)
	c.mu.Unlock()

	c.logger.Infow("connecting", "url", WAWebSocketURL)

	opts := &websocket.DialOptions{
		Subprotocols: []string{WASubprotocol},
		HTTPHeader: map[string][]string{
			"Origin": {WAOrigin},
		},
	}

	ws, _, err := websocket.Dial(ctx, WAWebSocketURL, opts)
	if err != nil {
		return &TransportError{Message: fmt.Sprintf("websocket dial failed: %v", err)}
	}
	ws.SetReadLimit(1 << 23)

	c.mu.Lock()
	c.ws = ws
	c.state = StateConnected
	c.mu.Unlock()

	readCtx, cancelRead := context.WithCancel(context.Background())
	c.cancelRead = cancelRead
	go c.receiveLoop(readCtx)

	if err := c.performHandshake(ctx); err != nil {
		cancelRead()
		ws.Close(websocket.StatusAbnormalClosure, "handshake failed")
		return err
	}

	c.logger.Info("noise handshake complete, transport cipher active")
	return nil
}

// performHandshake runs the XX round trip: ClientHello out, ServerHello in,
// ClientFinish out, then the final key split.
func (c *Connection) performHandshake(ctx context.Context) error {
	noise, err := NewNoiseHandshake(c.keys.NoiseKeyPair.Priv, c.keys.NoiseKeyPair.Pub)
	if err != nil {
		return err
	}
	c.mu.Lock()
	c.noise = noise
	c.mu.Unlock()

	hello, err := EncodeLengthFramed(noise.GenerateClientHello())
	if err != nil {
		return err
	}
	// The very first bytes on the wire are the WA prologue, glued onto the
	// ClientHello frame.
	if err := c.writeRaw(ctx, append([]byte(NoiseHeader), hello...)); err != nil {
		return fmt.Errorf("send client hello: %w", err)
	}

	timeout := 30 * time.Second
	if c.config.ConnectTimeoutMs > 0 {
		timeout = time.Duration(c.config.ConnectTimeoutMs) * time.Millisecond
	}

	var serverHello []byte
	select {
	case serverHello = <-c.serverHelloCh:
	case <-time.After(timeout):
		return &TransportError{Message: "timeout waiting for server hello"}
	case <-ctx.Done():
		return ctx.Err()
	}

	if err := noise.ProcessServerHello(serverHello); err != nil {
		return err
	}

	payload := c.buildClientPayload()
	finish, err := noise.GenerateClientFinish(payload)
	if err != nil {
		return err
	}
	framed, err := EncodeLengthFramed(finish)
	if err != nil {
		return err
	}
	if err := c.writeRaw(ctx, framed); err != nil {
		return fmt.Errorf("send client finish: %w", err)
	}

	transport, err := noise.Finish()
	if err != nil {
		return err
	}

	c.mu.Lock()
	c.transport = transport
	c.loggedIn = true
	c.mu.Unlock()

	if !c.keys.IsPaired() {
		c.pairing.Begin()
	}
	return nil
}

// buildClientPayload assembles the (to-be-encrypted) ClientPayload: full
// registration data on a first-run device, or the companion username and
// device id on a paired one.
func (c *Connection) buildClientPayload() []byte {
	opts := ClientPayloadOptions{
		Passive:       true,
		ConnectType:   1, // WIFI_UNKNOWN
		ConnectReason: 1, // USER_ACTIVATED
	}

	if c.keys.IsPaired() {
		if jid, err := binary.ParseJID(c.keys.CompanionJid); err == nil {
			if user, err := strconv.ParseUint(jid.User, 10, 64); err == nil {
				opts.Username = user
			}
			device := uint32(jid.Device)
			opts.Device = &device
		}
		return EncodeClientPayload(opts)
	}

	opts.Passive = false
	opts.RegData = &CompanionRegData{
		BuildHash:          waBuildHash,
		Companion:          EncodeCompanionProps("WAConnect", 1), // CHROME

		RegistrationID:     c.keys.RegistrationID,
		KeyType:            5,
		Identifier:         c.keys.IdentityKeyPair.Pub[:],
		SignatureID:        c.keys.SignedPreKey.ID,
		SignaturePublicKey: c.keys.SignedPreKey.KeyPair.Pub[:],
		Signature:          c.keys.SignedPreKey.Signature[:],
	}
	return EncodeClientPayload(opts)
}

// receiveLoop reads WebSocket messages, splits them into length-prefixed
// frames, and routes each to the handshake path or the transport path.
func (c *Connection) receiveLoop(ctx context.Context) {
	for {
		_, data, err := c.ws.Read(ctx)
		if err != nil {
			if ctx.Err() == nil {
				c.handleReadFailure(&TransportError{Message: fmt.Sprintf("websocket read: %v", err)})
			}
			return
		}

		frames, err := c.frames.Feed(data)
		if err != nil {
			// The in-band disconnect length: a soft close, not a failure.
			c.logger.Infow("server requested disconnect")
			c.Disconnect()
			return
		}

		for _, frame := range frames {
			c.handleFrame(ctx, frame)
		}
	}
}

func (c *Connection) handleFrame(ctx context.Context, frame []byte) {
	c.mu.RLock()
	loggedIn := c.loggedIn
	transport := c.transport
	c.mu.RUnlock()

	if !loggedIn || transport == nil {
		select {
		case c.serverHelloCh <- frame:
		default:
			c.logger.Warnw("dropping unexpected handshake frame", "bytes", len(frame))
		}
		return
	}

	plaintext, err := transport.DecryptFrame(frame)
	if err != nil {
		c.handleReadFailure(err)
		return
	}

	node, err := binary.Unmarshal(plaintext)
	if err != nil {
		c.handleReadFailure(err)
		return
	}

	c.digest(ctx, node)
}

// handleReadFailure tears the connection down on an unrecoverable inbound
// error: transport I/O, AEAD mismatch, or a malformed node.
func (c *Connection) handleReadFailure(err error) {
	c.logger.Errorw("connection failure", "error", err)
	c.teardown(err)
}

// digest is the inbound dispatch table, switching on the root tag.
func (c *Connection) digest(ctx context.Context, node binary.Node) {
	switch node.Tag {
	case "iq":
		c.digestIQ(ctx, node)

	case "success":
		c.logger.Info("logged in")
		go c.afterLogin(context.Background())

	case "failure":
		reason := node.Attrs.GetString("reason")
		if reason == "401" {
			c.logger.Warnw("login failure, reconnecting", "reason", reason)
			go c.Reconnect(context.Background())
			return
		}
		c.logger.Errorw("login failure", "reason", reason)
		c.teardown(&LoginFailure{Reason: reason})

	case "stream:error":
		code := node.Attrs.GetString("code")
		if code == "515" {
			c.logger.Infow("stream restart requested, reconnecting")
			go c.Reconnect(context.Background())
			return
		}
		c.logger.Warnw("stream error", "code", code)
		streamErr := &StreamError{Code: code}
		// Each child names a request the error applies to; anything the
		// children don't cover still fails so no waiter hangs.
		delivered := false
		for _, child := range node.Children() {
			if id := child.Attrs.GetString("id"); id != "" && c.correlator.Fail(id, streamErr) {
				delivered = true
			}
		}
		if !delivered {
			c.correlator.FailAll(streamErr)
		}

	case "xmlstreamend":
		c.Disconnect()

	default:
		if !c.correlator.Resolve(node) {
			c.logger.Debugw("unhandled node", "tag", node.Tag)
		}
	}
}

func (c *Connection) digestIQ(ctx context.Context, node binary.Node) {
	if _, ok := node.GetChild("pair-device"); ok {
		qrText, reply, err := c.pairing.HandlePairDevice(node)
		if err != nil {
			c.logger.Errorw("pair-device handling failed", "error", err)
			return
		}
		if err := c.SendNode(ctx, reply); err != nil {
			c.logger.Errorw("pair-device ack failed", "error", err)
			return
		}
		if c.onQR != nil {
			c.onQR(qrText)
		}
		return
	}

	if _, ok := node.GetChild("pair-success"); ok {
		reply, companionJid, err := c.pairing.HandlePairSuccess(node)
		if err != nil {
			c.logger.Errorw("pairing failed", "error", err)
			c.teardown(err)
			return
		}
		if err := c.SendNode(ctx, reply); err != nil {
			c.logger.Errorw("pair-device-sign send failed", "error", err)
			return
		}
		c.keys.CompanionJid = companionJid.String()
		if err := c.store.Save(c.keys); err != nil {
			c.logger.Errorw("persisting companion jid failed", "error", err)
		}
		if c.onPairSuccess != nil {
			c.onPairSuccess(companionJid)
		}
		return
	}

	if !c.correlator.Resolve(node) {
		c.logger.Debugw("unmatched iq", "id", node.Attrs.GetString("id"))
	}
}

// afterLogin runs the post-success sequence: upload the first pre-key batch
// if it hasn't been sent, leave passive mode, start the keepalive ticker,
// and notify listeners.
func (c *Connection) afterLogin(ctx context.Context) {
	c.mu.Lock()
	c.state = StateAuthenticated
	c.mu.Unlock()

	if !c.keys.PreKeysSent {
		if err := c.uploadPreKeys(ctx); err != nil {
			c.logger.Errorw("pre-key upload failed", "error", err)
		} else {
			c.keys.PreKeysSent = true
			if err := c.store.Save(c.keys); err != nil {
				c.logger.Errorw("persisting pre-key flag failed", "error", err)
			}
		}
	}

	if _, err := c.SendIQ(ctx, binary.Node{
		Tag: "iq",
		Attrs: binary.NewAttrList().
			SetString("to", binary.ServerDefault).
			SetString("xmlns", "passive").
			SetString("type", "set"),
		Content: []binary.Node{{Tag: "active"}},
	}); err != nil {
		c.logger.Warnw("passive=active failed", "error", err)
	}

	c.startKeepalive()

	if c.onLoggedIn != nil {
		c.onLoggedIn()
	}
}

func (c *Connection) uploadPreKeys(ctx context.Context) error {
	preKeys, err := GeneratePreKeys(1, PreKeyUploadCount)
	if err != nil {
		return err
	}
	node := BuildPreKeyUploadNode(c.keys, preKeys)
	_, err = c.SendIQ(ctx, node)
	return err
}

// startKeepalive schedules the w:p ping on the configured cadence.
func (c *Connection) startKeepalive() {
	c.mu.Lock()
	if c.keepaliveStop != nil {
		c.mu.Unlock()
		return
	}
	stop := make(chan struct{})
	c.keepaliveStop = stop
	c.mu.Unlock()

	interval := c.config.keepAliveInterval()
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				ping := binary.Node{
					Tag: "iq",
					Attrs: binary.NewAttrList().
						SetString("to", binary.ServerDefault).
						SetString("xmlns", "w:p").
						SetString("type", "get"),
					Content: []binary.Node{{Tag: "ping"}},
				}
				if _, err := c.SendIQ(context.Background(), ping); err != nil {
					c.logger.Warnw("keepalive ping failed", "error", err)
				}
			case <-stop:
				return
			}
		}
	}()
}

func (c *Connection) stopKeepalive() {
	c.mu.Lock()
	if c.keepaliveStop != nil {
		close(c.keepaliveStop)
		c.keepaliveStop = nil
	}
	c.mu.Unlock()
}

// GenerateRequestID produces a unique request id: the connection epoch in
// lowercase hex plus a monotonically increasing counter.
func (c *Connection) GenerateRequestID() string {
	n := atomic.AddUint64(&c.idCounter, 1)
	return fmt.Sprintf("%x.%d", time.Now().Unix(), n)
}

// SendNode serializes, encrypts, frames, and writes a node.
func (c *Connection) SendNode(ctx context.Context, node binary.Node) error {
	c.mu.RLock()
	transport := c.transport
	c.mu.RUnlock()
	if transport == nil {
		return &TransportError{Message: "not connected"}
	}

	plaintext, err := binary.Marshal(node)
	if err != nil {
		return err
	}
	ciphertext, err := transport.EncryptFrame(plaintext)
	if err != nil {
		return err
	}
	framed, err := EncodeLengthFramed(ciphertext)
	if err != nil {
		return err
	}
	return c.writeRaw(ctx, framed)
}

// SendIQ sends a correlated request and blocks until its reply, the
// context deadline, or the default request timeout.
func (c *Connection) SendIQ(ctx context.Context, node binary.Node) (binary.Node, error) {
	id := node.Attrs.GetString("id")
	if id == "" {
		id = c.GenerateRequestID()
		node.Attrs.SetString("id", id)
	}

	if err := c.correlator.Register(id); err != nil {
		return binary.Node{}, err
	}
	if err := c.SendNode(ctx, node); err != nil {
		c.correlator.Cancel(id)
		return binary.Node{}, err
	}
	return c.correlator.Wait(ctx, id)
}

// writeRaw serializes all socket writes so the transport write counter
// advances in send order.
func (c *Connection) writeRaw(ctx context.Context, data []byte) error {
	c.mu.RLock()
	ws := c.ws
	c.mu.RUnlock()
	if ws == nil {
		return &TransportError{Message: "not connected"}
	}

	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	return ws.Write(ctx, websocket.MessageBinary, data)
}

// Reconnect drops the session state (keeping persisted keys), closes the
// socket, and dials again.
func (c *Connection) Reconnect(ctx context.Context) error {
	c.logger.Info("reconnecting")
	c.teardown(nil)
	return c.Connect(ctx)
}

// Disconnect closes the socket without resetting persisted state.
func (c *Connection) Disconnect() {
	c.teardown(nil)
}

// teardown closes the socket, fails all pending requests, and notifies the
// disconnect listener with the terminal cause (nil for a clean close).
func (c *Connection) teardown(cause error) {
	c.stopKeepalive()

	c.mu.Lock()
	if c.cancelRead != nil {
		c.cancelRead()
		c.cancelRead = nil
	}
	ws := c.ws
	c.ws = nil
	c.transport = nil
	c.noise = nil
	c.loggedIn = false
	wasConnected := c.state != StateDisconnected
	c.state = StateDisconnected
	c.mu.Unlock()

	if ws != nil {
		ws.Close(websocket.StatusNormalClosure, "closing")
	}
	c.correlator.FailAll(ErrDisconnected)

	if wasConnected && c.onDisconnect != nil {
		c.onDisconnect(cause)
	}
}

// Close is a synonym for Disconnect kept for callers managing the
// connection as an io.Closer.
func (c *Connection) Close() error {
	c.Disconnect()
	return nil
}

// GetState returns current connection state
func (c *Connection) GetState() ConnectionState {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// IsLoggedIn reports whether the transport cipher is active.
func (c *Connection) IsLoggedIn() bool {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.loggedIn
}

// DeviceKeys exposes the session's key material to the client layer.
func (c *Connection) DeviceKeys() *DeviceKeys {
	return c.keys
}

// PairingState reports where the enrollment exchange currently is.
func (c *Connection) PairingState() PairingState {
	return c.pairing.State()
}

// SetOnQR sets the QR-text callback for first-run pairing.
func (c *Connection) SetOnQR(fn func(string)) {
	c.onQR = fn
}

// SetOnPairSuccess sets the callback fired once pairing persists a
// companion JID.
func (c *Connection) SetOnPairSuccess(fn func(binary.JID)) {
	c.onPairSuccess = fn
}

// SetOnLoggedIn sets the callback fired after the server accepts the
// session.
func (c *Connection) SetOnLoggedIn(fn func()) {
	c.onLoggedIn = fn
}

// SetOnDisconnect sets the callback fired when the connection ends, with
// the terminal error or nil for a clean close.
func (c *Connection) SetOnDisconnect(fn func(error)) {
	c.onDisconnect = fn
}
