package clearing

import (
	"context"
	"crypto/rand"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"time"

	"auction_go/internal/domain"
	"auction_go/internal/infra"

	"github.com/gorilla/websocket"
)

const (
	defaultAuthTimeout    = 10 * time.Second
	defaultRequestTimeout = 30 * time.Second
	defaultMaxReconnects  = 10
	handshakeTimeout      = 10 * time.Second
	readTimeout           = 60 * time.Second
)

// State is the connection lifecycle position.
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateUnauthenticated
	StateChallenged
	StateAuthenticated
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateUnauthenticated:
		return "unauthenticated"
	case StateChallenged:
		return "challenged"
	case StateAuthenticated:
		return "authenticated"
	default:
		return "unknown"
	}
}

// Options configures the clearing-service client.
type Options struct {
	URL            string
	AppName        string
	Scope          string
	Identity       *Signer // long-lived identity key
	Allowances     []Allowance
	AuthTimeout    time.Duration
	RequestTimeout time.Duration
	MaxReconnects  int
}

type rpcResult struct {
	resp *Response
	err  error
}

type pendingRequest struct {
	done  chan rpcResult
	timer *time.Timer
}

// Client manages one persistent connection to the clearing service: connect,
// authenticate via challenge/response, send correlated requests, dispatch
// responses, reconnect with backoff. Each reconnect starts a fresh
// authentication state with a fresh session key; nothing is shared across
// reconnect cycles.
type Client struct {
	opts    Options
	logger  *slog.Logger
	metrics *infra.Metrics

	mu         sync.RWMutex
	conn       *websocket.Conn
	state      State
	sessionKey *Signer
	authExpire *big.Int // one expiry per connection attempt, signed and declared
	token      string
	authReady  chan struct{}
	authTimer  *time.Timer

	writeMu sync.Mutex

	pendingMu     sync.Mutex
	pending       map[uint64]*pendingRequest
	methodWaiters map[string][]*pendingRequest

	cancel    context.CancelFunc
	wg        sync.WaitGroup
	fatalOnce sync.Once
	fatalCh   chan struct{}
	fatalErr  error
	closeOnce sync.Once
}

// NewClient creates a clearing client. Connect must be called before use.
func NewClient(opts Options, metrics *infra.Metrics) *Client {
	if opts.AuthTimeout <= 0 {
		opts.AuthTimeout = defaultAuthTimeout
	}
	if opts.RequestTimeout <= 0 {
		opts.RequestTimeout = defaultRequestTimeout
	}
	if opts.MaxReconnects <= 0 {
		opts.MaxReconnects = defaultMaxReconnects
	}
	return &Client{
		opts:          opts,
		logger:        slog.Default().With("module", "clearing_client"),
		metrics:       metrics,
		state:         StateDisconnected,
		authReady:     make(chan struct{}),
		pending:       make(map[uint64]*pendingRequest),
		methodWaiters: make(map[string][]*pendingRequest),
		fatalCh:       make(chan struct{}),
	}
}

// Connect starts the connection-owning goroutine.
func (c *Client) Connect(ctx context.Context) error {
	if c.opts.Identity == nil {
		return domain.Validationf("identity", "identity signer is required")
	}
	ctx, c.cancel = context.WithCancel(ctx)
	c.wg.Add(1)
	go c.connectionLoop(ctx)
	return nil
}

func (c *Client) connectionLoop(ctx context.Context) {
	defer c.wg.Done()
	retryCount := 0
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		if err := c.connectAndAuth(ctx); err != nil {
			c.logger.Warn("clearing connection failed",
				slog.Any("error", err), slog.Int("retry", retryCount))
			retryCount++
			if retryCount > c.opts.MaxReconnects {
				c.setFatal(domain.ErrReconnectExhausted)
				return
			}
			if c.metrics != nil {
				c.metrics.RecordReconnect()
			}
			delay := infra.CalculateBackoff(retryCount - 1)
			select {
			case <-ctx.Done():
				return
			case <-time.After(delay):
				continue
			}
		}

		retryCount = 0
		c.readLoop(ctx)
		c.onDisconnect()
	}
}

// connectAndAuth dials the transport, installs a fresh session key and
// immediately opens the authentication handshake. The result arrives through
// the read loop; a bounded timer force-closes the socket if authentication
// does not complete in time.
func (c *Client) connectAndAuth(ctx context.Context) error {
	c.setState(StateConnecting)

	dialer := websocket.Dialer{HandshakeTimeout: handshakeTimeout}
	conn, _, err := dialer.DialContext(ctx, c.opts.URL, nil)
	if err != nil {
		c.setState(StateDisconnected)
		return domain.NewUpstreamError("clearing.dial", err)
	}

	sessionKey, err := NewSigner()
	if err != nil {
		conn.Close()
		c.setState(StateDisconnected)
		return domain.NewFatalUpstreamError("clearing.sessionkey", err)
	}

	expire := DefaultAuthExpiry()

	c.mu.Lock()
	c.conn = conn
	c.sessionKey = sessionKey
	c.token = ""
	c.state = StateUnauthenticated
	c.authExpire = expire
	// Wake goroutines parked on the pre-dial channel so they re-check state
	// and pick up the fresh one.
	select {
	case <-c.authReady:
	default:
		close(c.authReady)
	}
	c.authReady = make(chan struct{})
	c.mu.Unlock()

	if err := c.sendAuthRequest(sessionKey, expire); err != nil {
		c.closeConnection()
		return err
	}

	c.mu.Lock()
	c.authTimer = time.AfterFunc(c.opts.AuthTimeout, c.onAuthTimeout)
	c.mu.Unlock()

	c.logger.Info("clearing connected, authenticating",
		slog.String("session_key", sessionKey.Address().Hex()))
	return nil
}

func (c *Client) sendAuthRequest(sessionKey *Signer, expire *big.Int) error {
	params := []authRequestParams{{
		Address:     c.opts.Identity.Address().Hex(),
		SessionKey:  sessionKey.Address().Hex(),
		AppName:     c.opts.AppName,
		Allowances:  c.opts.Allowances,
		Expire:      expire.String(),
		Scope:       c.opts.Scope,
		Application: c.opts.AppName,
	}}
	return c.writeSigned(randomID(), MethodAuthRequest, params, sessionKey)
}

func (c *Client) onAuthTimeout() {
	c.mu.RLock()
	state := c.state
	c.mu.RUnlock()
	if state == StateAuthenticated {
		return
	}
	c.logger.Warn("authentication timed out, forcing reconnect")
	c.closeConnection()
}

func (c *Client) readLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		default:
		}

		c.mu.RLock()
		conn := c.conn
		c.mu.RUnlock()
		if conn == nil {
			return
		}
		conn.SetReadDeadline(time.Now().Add(readTimeout))

		_, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		c.handleMessage(msg)
	}
}

// handleMessage classifies one inbound frame: auth challenge, auth result, or
// a generic correlated response.
func (c *Client) handleMessage(msg []byte) {
	resp, err := decodeResponse(msg)
	if err != nil {
		c.logger.Debug("dropping malformed frame", slog.Any("error", err))
		return
	}

	switch resp.Method {
	case MethodAuthChallenge:
		c.handleAuthChallenge(resp)
	case MethodAuthVerify:
		c.handleAuthResult(resp)
	case MethodError:
		if !c.Authenticated() {
			c.failAuth(errors.New(resp.ErrorMessage()))
			return
		}
		c.dispatch(resp)
	default:
		c.dispatch(resp)
	}
}

// handleAuthChallenge answers the server nonce with a structured,
// domain-separated signature by the identity key (not the session key).
func (c *Client) handleAuthChallenge(resp *Response) {
	var challenge AuthChallenge
	if err := json.Unmarshal(resp.Data, &challenge); err != nil {
		c.failAuth(fmt.Errorf("malformed auth challenge: %w", err))
		return
	}

	c.mu.Lock()
	if c.state != StateUnauthenticated {
		c.mu.Unlock()
		return
	}
	c.state = StateChallenged
	sessionKey := c.sessionKey
	expire := c.authExpire
	c.mu.Unlock()

	policy := &AuthPolicy{
		Challenge:   challenge.ChallengeMessage,
		Scope:       c.opts.Scope,
		Wallet:      c.opts.Identity.Address(),
		Application: c.opts.AppName,
		Participant: sessionKey.Address(),
		Expire:      expire,
		Allowances:  c.opts.Allowances,
	}
	sig, err := c.opts.Identity.SignAuthPolicy(c.opts.AppName, policy)
	if err != nil {
		c.failAuth(fmt.Errorf("failed to sign challenge: %w", err))
		return
	}

	payload, err := encodePayload(resp.ID, MethodAuthVerify,
		[]authVerifyParams{{Challenge: challenge.ChallengeMessage}},
		uint64(time.Now().UnixMilli()))
	if err != nil {
		c.failAuth(err)
		return
	}
	data, err := encodeFrame(payload, []string{sig})
	if err != nil {
		c.failAuth(err)
		return
	}
	if err := c.threadSafeWrite(websocket.TextMessage, data); err != nil {
		c.failAuth(err)
	}
}

func (c *Client) handleAuthResult(resp *Response) {
	var result AuthResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		c.failAuth(fmt.Errorf("malformed auth result: %w", err))
		return
	}
	if !result.Success {
		c.failAuth(domain.ErrAuthenticationFailed)
		return
	}

	c.mu.Lock()
	if c.state == StateAuthenticated {
		c.mu.Unlock()
		return
	}
	c.state = StateAuthenticated
	c.token = result.JwtToken
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	close(c.authReady)
	sessionAddr := c.sessionKey.Address().Hex()
	c.mu.Unlock()

	if c.metrics != nil {
		c.metrics.SetClearingConnected(true)
	}
	c.logger.Info("clearing authenticated", slog.String("session_key", sessionAddr))
}

// failAuth is fatal for the current connection attempt: pending callers are
// rejected and the socket is closed, which sends the loop back through
// backoff and a fresh handshake.
func (c *Client) failAuth(err error) {
	c.logger.Error("authentication failed", slog.Any("error", err))
	c.failPending(domain.ErrAuthenticationFailed)
	c.closeConnection()
}

// dispatch routes a generic response: by request id first, then by method for
// request-scoped method listeners. Responses for unknown ids are dropped
// (already timed out or duplicate).
func (c *Client) dispatch(resp *Response) {
	c.pendingMu.Lock()
	if p, ok := c.pending[resp.ID]; ok {
		delete(c.pending, resp.ID)
		if p.timer != nil {
			p.timer.Stop()
		}
		c.pendingMu.Unlock()
		p.done <- rpcResult{resp: resp}
		return
	}
	if waiters := c.methodWaiters[resp.Method]; len(waiters) > 0 {
		w := waiters[0]
		c.methodWaiters[resp.Method] = waiters[1:]
		if w.timer != nil {
			w.timer.Stop()
		}
		c.pendingMu.Unlock()
		w.done <- rpcResult{resp: resp}
		return
	}
	c.pendingMu.Unlock()
	c.logger.Debug("dropping uncorrelated response",
		slog.Uint64("id", resp.ID), slog.String("method", resp.Method))
}

// SendRequest issues a session-key-signed request and waits for the response
// correlated by request id. Fails immediately with ErrNotAuthenticated before
// the handshake completes; a per-request timer rejects with ErrRequestTimeout
// and removes the pending entry.
func (c *Client) SendRequest(ctx context.Context, method string, params interface{}, timeout time.Duration) (*Response, error) {
	c.mu.RLock()
	state := c.state
	sessionKey := c.sessionKey
	c.mu.RUnlock()
	if state != StateAuthenticated {
		return nil, domain.ErrNotAuthenticated
	}
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}

	id := randomID()
	p := &pendingRequest{done: make(chan rpcResult, 1)}
	c.pendingMu.Lock()
	c.pending[id] = p
	c.pendingMu.Unlock()
	p.timer = time.AfterFunc(timeout, func() { c.expirePending(id) })

	start := time.Now()
	if err := c.writeSigned(id, method, params, sessionKey); err != nil {
		c.removePending(id)
		return nil, domain.NewUpstreamError("clearing."+method, err)
	}

	select {
	case <-ctx.Done():
		c.removePending(id)
		return nil, ctx.Err()
	case res := <-p.done:
		if res.err != nil {
			return nil, res.err
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRequest(time.Since(start).Nanoseconds())
		}
		if res.resp.Method == MethodError {
			return nil, domain.NewUpstreamError("clearing."+method, errors.New(res.resp.ErrorMessage()))
		}
		return res.resp, nil
	}
}

// RequestByMethod issues a request and waits for a response correlated by the
// echoed method name rather than the request id. The remote protocol echoes
// method + payload for session-level calls, so session open/close use this
// path. The listener is request-scoped and removed on completion or timeout.
func (c *Client) RequestByMethod(ctx context.Context, method string, params interface{}, timeout time.Duration) (*Response, error) {
	c.mu.RLock()
	state := c.state
	sessionKey := c.sessionKey
	c.mu.RUnlock()
	if state != StateAuthenticated {
		return nil, domain.ErrNotAuthenticated
	}
	if timeout <= 0 {
		timeout = c.opts.RequestTimeout
	}

	w := &pendingRequest{done: make(chan rpcResult, 1)}
	c.pendingMu.Lock()
	c.methodWaiters[method] = append(c.methodWaiters[method], w)
	c.pendingMu.Unlock()
	w.timer = time.AfterFunc(timeout, func() { c.expireWaiter(method, w) })

	start := time.Now()
	if err := c.writeSigned(randomID(), method, params, sessionKey); err != nil {
		c.removeWaiter(method, w)
		return nil, domain.NewUpstreamError("clearing."+method, err)
	}

	select {
	case <-ctx.Done():
		c.removeWaiter(method, w)
		return nil, ctx.Err()
	case res := <-w.done:
		if res.err != nil {
			return nil, res.err
		}
		if c.metrics != nil {
			c.metrics.RecordRPCRequest(time.Since(start).Nanoseconds())
		}
		if res.resp.Method == MethodError {
			return nil, domain.NewUpstreamError("clearing."+method, errors.New(res.resp.ErrorMessage()))
		}
		return res.resp, nil
	}
}

func (c *Client) writeSigned(id uint64, method string, params interface{}, signer *Signer) error {
	payload, err := encodePayload(id, method, params, uint64(time.Now().UnixMilli()))
	if err != nil {
		return err
	}
	sig, err := signer.SignPayload(payload)
	if err != nil {
		return err
	}
	data, err := encodeFrame(payload, []string{sig})
	if err != nil {
		return err
	}
	return c.threadSafeWrite(websocket.TextMessage, data)
}

func (c *Client) threadSafeWrite(msgType int, data []byte) error {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.conn == nil {
		return domain.ErrConnectionClosed
	}
	return c.conn.WriteMessage(msgType, data)
}

func (c *Client) expirePending(id uint64) {
	c.pendingMu.Lock()
	p, ok := c.pending[id]
	if ok {
		delete(c.pending, id)
	}
	c.pendingMu.Unlock()
	if !ok {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordRPCTimeout()
	}
	p.done <- rpcResult{err: domain.ErrRequestTimeout}
}

func (c *Client) removePending(id uint64) {
	c.pendingMu.Lock()
	if p, ok := c.pending[id]; ok {
		delete(c.pending, id)
		if p.timer != nil {
			p.timer.Stop()
		}
	}
	c.pendingMu.Unlock()
}

func (c *Client) expireWaiter(method string, w *pendingRequest) {
	if !c.removeWaiter(method, w) {
		return
	}
	if c.metrics != nil {
		c.metrics.RecordRPCTimeout()
	}
	w.done <- rpcResult{err: domain.ErrRequestTimeout}
}

func (c *Client) removeWaiter(method string, w *pendingRequest) bool {
	c.pendingMu.Lock()
	defer c.pendingMu.Unlock()
	waiters := c.methodWaiters[method]
	for i, cand := range waiters {
		if cand == w {
			c.methodWaiters[method] = append(waiters[:i], waiters[i+1:]...)
			if w.timer != nil {
				w.timer.Stop()
			}
			return true
		}
	}
	return false
}

// failPending rejects every in-flight request and method listener.
func (c *Client) failPending(err error) {
	c.pendingMu.Lock()
	pending := c.pending
	waiters := c.methodWaiters
	c.pending = make(map[uint64]*pendingRequest)
	c.methodWaiters = make(map[string][]*pendingRequest)
	c.pendingMu.Unlock()

	for _, p := range pending {
		if p.timer != nil {
			p.timer.Stop()
		}
		p.done <- rpcResult{err: err}
	}
	for _, ws := range waiters {
		for _, w := range ws {
			if w.timer != nil {
				w.timer.Stop()
			}
			w.done <- rpcResult{err: err}
		}
	}
}

// State returns the current connection state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

// Authenticated reports whether the handshake completed on the current
// connection.
func (c *Client) Authenticated() bool {
	return c.State() == StateAuthenticated
}

// SessionAddress returns the session-key address of the current connection.
func (c *Client) SessionAddress() string {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if c.sessionKey == nil {
		return ""
	}
	return c.sessionKey.Address().Hex()
}

// WaitReady blocks until the client is authenticated, the context ends, or
// the reconnect budget is exhausted.
func (c *Client) WaitReady(ctx context.Context) error {
	for {
		c.mu.RLock()
		if c.state == StateAuthenticated {
			c.mu.RUnlock()
			return nil
		}
		ready := c.authReady
		c.mu.RUnlock()

		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-c.fatalCh:
			return c.fatalErr
		case <-ready:
		}
	}
}

// HealthStatus reports the outcome of a HealthCheck probe.
type HealthStatus struct {
	Connected     bool
	Authenticated bool
	Latency       time.Duration
	Reason        string
}

// HealthCheck issues a lightweight authenticated listing call and reports
// connection, authentication and latency. It never mutates session state.
func (c *Client) HealthCheck(ctx context.Context) HealthStatus {
	state := c.State()
	status := HealthStatus{
		Connected:     state != StateDisconnected && state != StateConnecting,
		Authenticated: state == StateAuthenticated,
	}
	if !status.Authenticated {
		status.Reason = "state: " + state.String()
		return status
	}

	start := time.Now()
	_, err := c.SendRequest(ctx, MethodGetChannels, []struct{}{}, 5*time.Second)
	status.Latency = time.Since(start)
	if err != nil {
		status.Reason = err.Error()
	}
	return status
}

func (c *Client) onDisconnect() {
	c.logger.Warn("clearing connection lost")
	c.failPending(domain.ErrConnectionClosed)
	c.closeConnection()
}

func (c *Client) closeConnection() {
	c.mu.Lock()
	if c.authTimer != nil {
		c.authTimer.Stop()
	}
	if c.conn != nil {
		c.conn.Close()
		c.conn = nil
	}
	c.state = StateDisconnected
	c.mu.Unlock()
	if c.metrics != nil {
		c.metrics.SetClearingConnected(false)
	}
}

// Close shuts the client down: the connection goroutine is stopped and every
// pending caller is rejected with ErrConnectionClosed.
func (c *Client) Close() {
	c.closeOnce.Do(func() {
		if c.cancel != nil {
			c.cancel()
		}
		c.closeConnection()
		c.failPending(domain.ErrConnectionClosed)
		c.wg.Wait()
	})
}

// Done is closed when the client gives up reconnecting; Err then reports why.
func (c *Client) Done() <-chan struct{} {
	return c.fatalCh
}

// Err returns the fatal error after Done is closed.
func (c *Client) Err() error {
	return c.fatalErr
}

func (c *Client) setFatal(err error) {
	c.fatalOnce.Do(func() {
		c.fatalErr = err
		close(c.fatalCh)
	})
	c.logger.Error("clearing client giving up", slog.Any("error", err))
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// randomID returns a fresh random correlation id, kept under 2^53 so JSON
// peers that decode numbers as doubles keep it exact.
func randomID() uint64 {
	var b [8]byte
	if _, err := rand.Read(b[:]); err != nil {
		return uint64(time.Now().UnixNano()) >> 11
	}
	return binary.BigEndian.Uint64(b[:]) >> 11
}
