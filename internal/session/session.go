// Package session implements the bilateral WebSocket peering layer: one
// Session per peer URL, carrying the authentication handshake, request
// correlation, keep-alive, and reconnection-with-backoff logic described by
// the peering protocol.
package session

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"sync"
	"sync/atomic"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/gorilla/websocket"

	"github.com/kshinn/ilp-connector/internal/btp"
	"github.com/kshinn/ilp-connector/internal/ilp"
)

// InboundHandler is the capability a Session borrows to turn an inbound ILP
// Prepare into a Fulfill or Reject. It is passed in at construction time and
// never holds a reference back to the Session — the session calls it, not
// the other way around.
type InboundHandler interface {
	HandlePrepare(ctx context.Context, prepare *ilp.Prepare) (*ilp.Fulfill, *ilp.Reject)
}

// Config configures a Session.
type Config struct {
	URL    string
	PeerID string
	Secret string

	AuthTimeout           time.Duration
	DefaultRequestTimeout time.Duration
	PingInterval          time.Duration
	PongTimeout           time.Duration

	RetryBase  time.Duration
	RetryCap   time.Duration
	MaxRetries int

	// ResumeTokenEnabled opts into replaying a session resumption token
	// (issued by the peer in the auth RESPONSE) on subsequent reconnects.
	ResumeTokenEnabled bool
}

func (c Config) withDefaults() Config {
	if c.AuthTimeout == 0 {
		c.AuthTimeout = 10 * time.Second
	}
	if c.DefaultRequestTimeout == 0 {
		c.DefaultRequestTimeout = 10 * time.Second
	}
	if c.PingInterval == 0 {
		c.PingInterval = 25 * time.Second
	}
	if c.PongTimeout == 0 {
		c.PongTimeout = 60 * time.Second
	}
	if c.RetryBase == 0 {
		c.RetryBase = 500 * time.Millisecond
	}
	if c.RetryCap == 0 {
		c.RetryCap = 30 * time.Second
	}
	if c.MaxRetries == 0 {
		c.MaxRetries = 10
	}
	return c
}

type pendingRequest struct {
	resultCh chan sendResult
	timer    *time.Timer
}

type sendResult struct {
	fulfill *ilp.Fulfill
	reject  *ilp.Reject
	err     error
}

// Session is one bilateral WebSocket peering with a remote connector.
type Session struct {
	cfg     Config
	handler InboundHandler
	logger  *slog.Logger

	mu            sync.Mutex
	state         State
	conn          *websocket.Conn
	pending       map[uint32]*pendingRequest
	retryCount    int
	explicitClose bool
	resumeToken   string
	sendCh        chan []byte

	// closeCh is closed exactly once, by Disconnect, to wake a goroutine
	// that is sleeping out a reconnect backoff delay immediately instead of
	// making Disconnect block until that delay elapses.
	closeCh chan struct{}

	nextReqID atomic.Uint32

	wg sync.WaitGroup
}

// New creates a Session for the given peer. Connect must be called before
// SendPacket is usable.
func New(cfg Config, handler InboundHandler, logger *slog.Logger) *Session {
	if logger == nil {
		logger = slog.Default()
	}
	return &Session{
		cfg:     cfg.withDefaults(),
		handler: handler,
		logger:  logger,
		state:   Disconnected,
		pending: make(map[uint32]*pendingRequest),
		closeCh: make(chan struct{}),
	}
}

// IsConnected reports whether the session is in the Connected state.
func (s *Session) IsConnected() bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state == Connected
}

func (s *Session) setState(st State) {
	s.mu.Lock()
	s.state = st
	s.mu.Unlock()
}

// Connect dials the transport and performs the auth handshake. It is
// idempotent: calling it while already Connected is a no-op. Once the
// session has been explicitly Disconnect()-ed, Connect must not be called
// again.
func (s *Session) Connect(ctx context.Context) error {
	s.mu.Lock()
	if s.state == Connected {
		s.mu.Unlock()
		return nil
	}
	if s.state == Dead {
		s.mu.Unlock()
		return newConnectionError("session has been explicitly disconnected")
	}
	s.state = Connecting
	s.mu.Unlock()

	if err := s.connectOnce(ctx); err != nil {
		// A failed dial or auth handshake feeds the same reconnect-with-backoff
		// path as a later transport drop (see the state diagram's "transport
		// err"/"auth err/timeout" arrows, both landing on "schedule reconnect").
		s.onTransportClosed(err)
		return err
	}
	return nil
}

// connectOnce performs one dial + handshake attempt and, on success, starts
// the read/write pumps for the resulting connection.
func (s *Session) connectOnce(ctx context.Context) error {
	dialCtx, cancel := context.WithTimeout(ctx, s.cfg.AuthTimeout)
	defer cancel()

	conn, _, err := websocket.DefaultDialer.DialContext(dialCtx, s.cfg.URL, http.Header{})
	if err != nil {
		return newConnectionError(fmt.Sprintf("dial: %v", err))
	}

	s.mu.Lock()
	s.conn = conn
	s.state = Authenticating
	s.sendCh = make(chan []byte, 64)
	sendCh := s.sendCh
	s.mu.Unlock()

	if err := s.authenticate(conn); err != nil {
		conn.Close()
		s.setState(Disconnected)
		return err
	}

	s.mu.Lock()
	s.state = Connected
	s.retryCount = 0
	s.mu.Unlock()

	connCtx, connCancel := context.WithCancel(context.Background())
	s.wg.Add(2)
	go s.writePump(connCtx, conn, sendCh)
	go func() {
		defer s.wg.Done()
		s.readPump(conn)
		connCancel()
		s.onTransportClosed(newConnectionError("Connection closed"))
	}()

	return nil
}

// authenticate sends the auth MESSAGE frame and waits synchronously (on the
// dial goroutine, before the pumps start) for the matching RESPONSE/ERROR.
func (s *Session) authenticate(conn *websocket.Conn) error {
	authPayload := map[string]string{
		"peerId": s.cfg.PeerID,
		"secret": s.cfg.Secret,
	}
	if s.cfg.ResumeTokenEnabled && s.resumeToken != "" {
		authPayload["sessionToken"] = s.resumeToken
	}
	data, err := json.Marshal(authPayload)
	if err != nil {
		return &AuthenticationError{Reason: fmt.Sprintf("marshal auth payload: %v", err)}
	}

	reqID := s.nextReqID.Add(1)
	frame := &btp.Frame{
		Kind:      btp.KindMessage,
		RequestID: reqID,
		Data: &btp.DataPayload{
			SubProtocols: []btp.SubProtocolEntry{
				{Name: "auth", ContentType: 0, Data: data},
			},
		},
	}
	raw, err := btp.Serialize(frame)
	if err != nil {
		return &AuthenticationError{Reason: fmt.Sprintf("serialize auth frame: %v", err)}
	}

	conn.SetWriteDeadline(time.Now().Add(s.cfg.AuthTimeout))
	if err := conn.WriteMessage(websocket.BinaryMessage, raw); err != nil {
		return &AuthenticationError{Reason: fmt.Sprintf("send auth frame: %v", err)}
	}

	conn.SetReadDeadline(time.Now().Add(s.cfg.AuthTimeout))
	_, msg, err := conn.ReadMessage()
	conn.SetReadDeadline(time.Time{})
	if err != nil {
		return &AuthenticationError{Reason: fmt.Sprintf("waiting for auth response: %v", err)}
	}

	resp, err := btp.Parse(msg)
	if err != nil {
		return &AuthenticationError{Reason: fmt.Sprintf("malformed auth response: %v", err)}
	}
	if resp.RequestID != reqID {
		return &AuthenticationError{Reason: "auth response request id mismatch"}
	}

	switch resp.Kind {
	case btp.KindResponse:
		if s.cfg.ResumeTokenEnabled && resp.Data != nil {
			if sp, ok := resp.Data.SubProtocol("auth"); ok {
				var body struct {
					Token string `json:"token"`
				}
				if json.Unmarshal(sp.Data, &body) == nil && body.Token != "" {
					if verifyResumeToken(body.Token, []byte(s.cfg.Secret)) {
						s.mu.Lock()
						s.resumeToken = body.Token
						s.mu.Unlock()
					} else {
						s.logger.Warn("discarding resume token that failed HS256 verification")
					}
				}
			}
		}
		return nil
	case btp.KindError:
		name := ""
		if resp.Err != nil {
			name = resp.Err.Name
		}
		return &AuthenticationError{Reason: fmt.Sprintf("peer rejected auth: %s", name)}
	default:
		return &AuthenticationError{Reason: "unexpected response kind during auth"}
	}
}

// verifyResumeToken checks that a peer-issued resumption token is a
// well-formed, unexpired HS256 JWT signed with the shared peering secret
// before the session trusts it enough to cache and replay on reconnect.
// The peering secret doubles as the HMAC key since no separate signing key
// is negotiated for this purpose.
func verifyResumeToken(token string, secret []byte) bool {
	_, err := jwt.Parse(token, func(t *jwt.Token) (interface{}, error) {
		if _, ok := t.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", t.Header["alg"])
		}
		return secret, nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	return err == nil
}

// Disconnect performs explicit shutdown: cancels all pending requests,
// stops reconnection and keep-alive, and closes the transport. Connect must
// not be called again on this instance afterward.
func (s *Session) Disconnect() {
	s.mu.Lock()
	if s.state == Dead {
		s.mu.Unlock()
		return
	}
	s.explicitClose = true
	s.state = Closing
	conn := s.conn
	s.mu.Unlock()

	close(s.closeCh)
	s.failAllPending(newConnectionError("Disconnected"))
	if conn != nil {
		conn.Close()
	}
	s.wg.Wait()
	s.setState(Dead)
}

// SendPacket sends prepare as a MESSAGE frame and awaits the matching
// RESPONSE/ERROR, honoring prepare's expiry-derived deadline.
func (s *Session) SendPacket(ctx context.Context, prepare *ilp.Prepare) (*ilp.Fulfill, *ilp.Reject, error) {
	s.mu.Lock()
	if s.state != Connected {
		s.mu.Unlock()
		return nil, nil, newConnectionError("not connected")
	}
	sendCh := s.sendCh
	s.mu.Unlock()

	ilpBytes, err := ilp.EncodePrepare(prepare)
	if err != nil {
		return nil, nil, fmt.Errorf("encode prepare: %w", err)
	}

	reqID := s.nextReqID.Add(1)
	frame := &btp.Frame{
		Kind:      btp.KindMessage,
		RequestID: reqID,
		Data:      &btp.DataPayload{ILPPacket: ilpBytes},
	}
	raw, err := btp.Serialize(frame)
	if err != nil {
		return nil, nil, fmt.Errorf("serialize prepare frame: %w", err)
	}

	timeout := s.requestTimeout(prepare)
	resultCh := make(chan sendResult, 1)
	timer := time.AfterFunc(timeout, func() {
		s.resolvePending(reqID, sendResult{err: &TimeoutError{RequestID: reqID}})
	})

	// Register before sending to avoid the race where the RESPONSE arrives
	// before the entry exists.
	s.mu.Lock()
	s.pending[reqID] = &pendingRequest{resultCh: resultCh, timer: timer}
	s.mu.Unlock()

	select {
	case sendCh <- raw:
	default:
		s.removePending(reqID)
		timer.Stop()
		return nil, nil, newConnectionError("send queue full")
	}

	select {
	case res := <-resultCh:
		if res.err != nil {
			return nil, nil, res.err
		}
		return res.fulfill, res.reject, nil
	case <-ctx.Done():
		s.removePending(reqID)
		timer.Stop()
		return nil, nil, ctx.Err()
	}
}

// requestTimeout derives the SendPacket deadline: if prepare carries an
// expires_at, it is the time until expiry minus 500ms reserved for the
// peer's own reject-before-expiry margin, floored at 1s (so an already
// expired Prepare still gets 1s); a zero expires_at falls back to the
// configured default.
func (s *Session) requestTimeout(prepare *ilp.Prepare) time.Duration {
	if prepare.ExpiresAt.IsZero() {
		return s.cfg.DefaultRequestTimeout
	}
	margin := time.Until(prepare.ExpiresAt) - 500*time.Millisecond
	if margin < time.Second {
		return time.Second
	}
	return margin
}

func (s *Session) removePending(reqID uint32) *pendingRequest {
	s.mu.Lock()
	defer s.mu.Unlock()
	pr := s.pending[reqID]
	delete(s.pending, reqID)
	return pr
}

func (s *Session) resolvePending(reqID uint32, result sendResult) {
	pr := s.removePending(reqID)
	if pr == nil {
		s.logger.Warn("discarding response/error frame for unknown or already-resolved request", "request_id", reqID)
		return
	}
	pr.timer.Stop()
	select {
	case pr.resultCh <- result:
	default:
	}
}

func (s *Session) failAllPending(err error) {
	s.mu.Lock()
	toFail := s.pending
	s.pending = make(map[uint32]*pendingRequest)
	s.mu.Unlock()

	for _, pr := range toFail {
		pr.timer.Stop()
		select {
		case pr.resultCh <- sendResult{err: err}:
		default:
		}
	}
}

// writePump serializes all outbound frames (auth already sent synchronously
// before the pumps start) and drives the keep-alive ping ticker.
func (s *Session) writePump(ctx context.Context, conn *websocket.Conn, sendCh <-chan []byte) {
	defer s.wg.Done()

	ticker := time.NewTicker(s.cfg.PingInterval)
	defer ticker.Stop()

	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-sendCh:
			if !ok {
				return
			}
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.BinaryMessage, data); err != nil {
				s.logger.Debug("btp write failed", "err", err)
				return
			}
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(5 * time.Second))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				s.logger.Debug("btp ping failed", "err", err)
				return
			}
		}
	}
}

// readPump decodes inbound frames and dispatches them until the transport
// fails or is closed. It never blocks on handler execution: inbound Prepare
// packets are handed off to a fresh goroutine per message.
func (s *Session) readPump(conn *websocket.Conn) {
	conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	for {
		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))

		frame, err := btp.Parse(msg)
		if err != nil {
			s.logger.Warn("BTP message too short", "err", err)
			continue
		}

		switch frame.Kind {
		case btp.KindResponse:
			s.handleResponse(frame)
		case btp.KindError:
			s.handleError(frame)
		case btp.KindMessage:
			s.handleMessage(frame)
		default:
			s.logger.Debug("ignoring unknown frame kind", "kind", frame.Kind)
		}
	}
}

func (s *Session) handleResponse(frame *btp.Frame) {
	if frame.Data == nil || len(frame.Data.ILPPacket) == 0 {
		s.resolvePending(frame.RequestID, sendResult{err: newConnectionError("response carried no ilp_packet")})
		return
	}
	typ, err := ilp.PacketType(frame.Data.ILPPacket)
	if err != nil {
		s.resolvePending(frame.RequestID, sendResult{err: newConnectionError("malformed ilp_packet in response")})
		return
	}
	switch typ {
	case ilp.TypeFulfill:
		f, err := ilp.DecodeFulfill(frame.Data.ILPPacket)
		if err != nil {
			s.resolvePending(frame.RequestID, sendResult{err: newConnectionError("malformed fulfill in response")})
			return
		}
		s.resolvePending(frame.RequestID, sendResult{fulfill: f})
	case ilp.TypeReject:
		r, err := ilp.DecodeReject(frame.Data.ILPPacket)
		if err != nil {
			s.resolvePending(frame.RequestID, sendResult{err: newConnectionError("malformed reject in response")})
			return
		}
		s.resolvePending(frame.RequestID, sendResult{reject: r})
	default:
		s.resolvePending(frame.RequestID, sendResult{err: newConnectionError("unexpected ilp packet type in response")})
	}
}

func (s *Session) handleError(frame *btp.Frame) {
	code, name := "F00", "Error"
	if frame.Err != nil {
		code, name = frame.Err.Code, frame.Err.Name
	}
	s.resolvePending(frame.RequestID, sendResult{err: &ProtocolError{Code: code, Name: name}})
}

// handleMessage dispatches an inbound MESSAGE frame. A Prepare-carrying
// frame is handed to the business handler in its own goroutine so that
// additional ingress is not head-of-line blocked; the handler's outcome is
// sent back as a RESPONSE frame carrying the same request id.
func (s *Session) handleMessage(frame *btp.Frame) {
	if frame.Data == nil || len(frame.Data.ILPPacket) == 0 {
		return
	}
	typ, err := ilp.PacketType(frame.Data.ILPPacket)
	if err != nil || typ != ilp.TypePrepare {
		return
	}
	prepare, err := ilp.DecodePrepare(frame.Data.ILPPacket)
	if err != nil {
		s.logger.Warn("malformed inbound prepare", "err", err)
		return
	}

	requestID := frame.RequestID
	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), time.Until(prepare.ExpiresAt)+5*time.Second)
		defer cancel()

		fulfill, reject := s.handler.HandlePrepare(ctx, prepare)

		var ilpBytes []byte
		var encErr error
		switch {
		case fulfill != nil:
			ilpBytes, encErr = ilp.EncodeFulfill(fulfill)
		case reject != nil:
			ilpBytes, encErr = ilp.EncodeReject(reject)
		default:
			encErr = fmt.Errorf("handler returned neither fulfill nor reject")
		}
		if encErr != nil {
			s.logger.Error("failed to encode inbound response", "err", encErr)
			return
		}

		respFrame := &btp.Frame{
			Kind:      btp.KindResponse,
			RequestID: requestID,
			Data:      &btp.DataPayload{ILPPacket: ilpBytes},
		}
		raw, err := btp.Serialize(respFrame)
		if err != nil {
			s.logger.Error("failed to serialize inbound response", "err", err)
			return
		}

		s.mu.Lock()
		sendCh := s.sendCh
		connected := s.state == Connected
		s.mu.Unlock()
		if !connected || sendCh == nil {
			s.logger.Warn("dropping inbound response: session no longer connected", "request_id", requestID)
			return
		}
		select {
		case sendCh <- raw:
		default:
			s.logger.Warn("dropping inbound response: send queue full", "request_id", requestID)
		}
	}()
}

// onTransportClosed runs when the read pump exits (the transport failed or
// was closed by the peer). It fails all pending requests and, unless this
// was an explicit Disconnect, schedules a reconnect with backoff.
func (s *Session) onTransportClosed(err error) {
	s.mu.Lock()
	explicit := s.explicitClose
	if s.state != Dead && s.state != Closing {
		s.state = Disconnected
	}
	s.retryCount++
	retryCount := s.retryCount
	maxRetries := s.cfg.MaxRetries
	s.mu.Unlock()

	s.failAllPending(err)

	if explicit {
		return
	}
	if maxRetries > 0 && retryCount > maxRetries {
		s.logger.Warn("max reconnect retries reached, giving up automatic reconnection", "retries", retryCount)
		return
	}

	delay := backoffDelay(s.cfg.RetryBase, s.cfg.RetryCap, retryCount)
	s.logger.Info("scheduling reconnect", "delay", delay, "attempt", retryCount)

	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		timer := time.NewTimer(delay)
		defer timer.Stop()
		select {
		case <-timer.C:
		case <-s.closeCh:
			return
		}

		s.mu.Lock()
		dead := s.state == Dead || s.explicitClose
		s.mu.Unlock()
		if dead {
			return
		}
		if err := s.connectOnce(context.Background()); err != nil {
			s.logger.Warn("reconnect attempt failed", "err", err)
			s.onTransportClosed(err)
		}
	}()
}

// backoffDelay computes min(base * 2^(retry-1), cap).
func backoffDelay(base, cap time.Duration, retry int) time.Duration {
	if retry < 1 {
		retry = 1
	}
	d := base
	for i := 1; i < retry; i++ {
		d *= 2
		if d >= cap {
			return cap
		}
	}
	if d > cap {
		return cap
	}
	return d
}
