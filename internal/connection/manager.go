package connection

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/mglien/volt-data/internal/auth"
)

// Manager owns the feed connection and the subscription lifecycle. It keeps
// one websocket session alive, multiplexes per-home subscriptions over it,
// and transparently reconnects with a fresh credential when the session
// drops, replaying every active subscription exactly once.
type Manager interface {
	// Start validates the credential and launches the connection loop.
	Start(ctx context.Context) error

	// Stop gracefully shuts down the connection. The manager never
	// reconnects after Stop.
	Stop(ctx context.Context) error

	// Subscribe records intent to receive live events for a home. Before
	// Start, the intent is queued and honored on the first connection.
	// Subscribing the same home again replaces the previous callback.
	Subscribe(homeID string, cb EventCallback) (*Handle, error)

	// State returns the current connection state.
	State() State

	// Stats returns current subscription statistics.
	Stats() ManagerStats

	// Done is closed when the connection loop exits.
	Done() <-chan struct{}

	// Err returns the fatal error that stopped the loop, if any.
	Err() error
}

// ManagerStats provides statistics about the connection manager.
type ManagerStats struct {
	State               State
	ActiveRegistrations int
	WireSubscriptions   int
}

// session holds the per-connection state. A new session is built on every
// reconnect; wire subscription IDs are never reused across sessions.
type session struct {
	gen    uint64
	client Client

	mu       sync.Mutex
	subs     map[string]string // wire ID -> home ID
	byEntity map[string]string // home ID -> wire ID

	stale     chan error
	staleOnce sync.Once
}

// fail reports a session-fatal condition exactly once.
func (s *session) fail(err error) {
	s.staleOnce.Do(func() { s.stale <- err })
}

// manager implements the Manager interface.
type manager struct {
	cfg      ManagerConfig
	tokens   auth.TokenProvider
	registry *Registry
	logger   *slog.Logger

	// Swapped in tests to inject a fake transport.
	newClient func(ClientConfig, *slog.Logger) Client

	wd      *Watchdog
	backoff *Backoff

	ctx    context.Context
	cancel context.CancelFunc
	done   chan struct{}

	mu       sync.RWMutex
	state    State
	sess     *session
	started  bool
	err      error
	doneOnce sync.Once
}

func (m *manager) closeDone() {
	m.doneOnce.Do(func() { close(m.done) })
}

// NewManager creates a new connection manager.
func NewManager(cfg ManagerConfig, tokens auth.TokenProvider, logger *slog.Logger) Manager {
	if logger == nil {
		logger = slog.Default()
	}

	def := DefaultManagerConfig()
	if cfg.ReconnectBaseDelay <= 0 {
		cfg.ReconnectBaseDelay = def.ReconnectBaseDelay
	}
	if cfg.ReconnectMaxDelay <= 0 {
		cfg.ReconnectMaxDelay = def.ReconnectMaxDelay
	}
	if cfg.InactivityTimeout <= 0 {
		cfg.InactivityTimeout = def.InactivityTimeout
	}
	if cfg.HandshakeTimeout <= 0 {
		cfg.HandshakeTimeout = def.HandshakeTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = def.ReadTimeout
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = def.WriteTimeout
	}
	if cfg.BufferSize <= 0 {
		cfg.BufferSize = def.BufferSize
	}

	return &manager{
		cfg:       cfg,
		tokens:    tokens,
		registry:  NewRegistry(),
		logger:    logger,
		newClient: NewClient,
		done:      make(chan struct{}),
	}
}

// Start validates the credential and launches the connection loop.
func (m *manager) Start(ctx context.Context) error {
	if m.cfg.BuildPayload == nil {
		return errors.New("manager config: BuildPayload is required")
	}

	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return ErrManagerClosed
	}
	if m.started {
		m.mu.Unlock()
		return ErrAlreadyStarted
	}
	m.started = true
	m.mu.Unlock()

	// Fail loud on misconfigured credentials before going async. A
	// transient fetch error is left to the connection loop's backoff.
	if _, err := m.tokens.Token(ctx); err != nil {
		if auth.IsInvalidLogin(err) {
			m.fail(err)
			m.closeDone()
			return err
		}
		m.logger.Warn("initial credential fetch failed, retrying in background", "error", err)
	}

	m.mu.Lock()
	m.ctx, m.cancel = context.WithCancel(ctx)
	m.mu.Unlock()
	m.wd = NewWatchdog(m.cfg.InactivityTimeout, m.onWatchdogExpiry)
	m.backoff = NewBackoff(m.cfg.ReconnectBaseDelay, m.cfg.ReconnectMaxDelay)

	go m.run()

	m.logger.Info("connection manager started", "url", m.cfg.URL)
	return nil
}

// Stop gracefully shuts down.
func (m *manager) Stop(ctx context.Context) error {
	m.mu.Lock()
	started := m.started
	cancel := m.cancel
	m.state = StateClosed
	m.mu.Unlock()

	if !started || cancel == nil {
		m.closeDone()
		return nil
	}

	m.logger.Info("stopping connection manager")
	cancel()

	select {
	case <-m.done:
	case <-ctx.Done():
		m.logger.Warn("shutdown timeout, forcing close")
		return ctx.Err()
	}

	m.logger.Info("connection manager stopped")
	return nil
}

// Subscribe records intent to receive live events for a home.
func (m *manager) Subscribe(homeID string, cb EventCallback) (*Handle, error) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return nil, ErrManagerClosed
	}
	id := m.registry.Add(homeID, cb)
	sess := m.sess
	live := m.state == StateSubscribing || m.state == StateStreaming
	m.mu.Unlock()

	if live && sess != nil {
		// Send on the current session; the byEntity check in
		// sendSubscribe keeps this from racing the reconnect replay
		// into a duplicate.
		if err := m.sendSubscribe(sess, homeID); err != nil {
			m.logger.Warn("immediate subscribe failed, will retry on reconnect",
				"home", homeID,
				"error", err,
			)
		}
	}

	return &Handle{m: m, homeID: homeID, id: id}, nil
}

// State returns the current connection state.
func (m *manager) State() State {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.state
}

// Stats returns current statistics.
func (m *manager) Stats() ManagerStats {
	m.mu.RLock()
	state := m.state
	sess := m.sess
	m.mu.RUnlock()

	wired := 0
	if sess != nil {
		sess.mu.Lock()
		wired = len(sess.subs)
		sess.mu.Unlock()
	}

	return ManagerStats{
		State:               state,
		ActiveRegistrations: m.registry.ActiveCount(),
		WireSubscriptions:   wired,
	}
}

// Done is closed when the connection loop exits.
func (m *manager) Done() <-chan struct{} {
	return m.done
}

// Err returns the fatal error that stopped the loop, if any.
func (m *manager) Err() error {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.err
}

// run is the connection loop. One iteration per connection attempt; it exits
// only on shutdown or a fatal credential rejection.
func (m *manager) run() {
	defer m.closeDone()
	defer m.wd.Stop()

	authFailures := 0
	first := true

	for {
		if m.ctx.Err() != nil {
			m.fail(nil)
			return
		}

		var token string
		var err error
		if first {
			token, err = m.tokens.Token(m.ctx)
			first = false
		} else {
			// The old credential may have expired while the session
			// was up; never carry it into a new connection.
			token, err = m.tokens.ForceRefresh(m.ctx)
		}
		if err != nil {
			if auth.IsInvalidLogin(err) {
				m.fail(err)
				return
			}
			m.logger.Warn("credential fetch failed", "error", err)
			if !m.waitBackoff() {
				m.fail(nil)
				return
			}
			continue
		}

		err = m.runSession(token)
		switch {
		case m.ctx.Err() != nil:
			m.fail(nil)
			return
		case errors.Is(err, ErrUnauthorized):
			authFailures++
			if authFailures >= 2 {
				// The rejected token was freshly issued; retrying
				// with more of them will not help.
				m.fail(fmt.Errorf("credentials rejected after refresh: %w", err))
				return
			}
			m.logger.Warn("feed rejected token, refreshing credential", "error", err)
		default:
			authFailures = 0
			if err != nil {
				m.logger.Warn("feed session ended", "error", err)
			}
		}

		if !m.waitBackoff() {
			m.fail(nil)
			return
		}
	}
}

// runSession connects once, replays active subscriptions, and streams until
// the session dies. Returns the reason the session ended.
func (m *manager) runSession(token string) error {
	m.setState(StateConnecting)

	cli := m.newClient(ClientConfig{
		URL:              m.cfg.URL,
		Token:            token,
		UserAgent:        m.cfg.UserAgent,
		HandshakeTimeout: m.cfg.HandshakeTimeout,
		ReadTimeout:      m.cfg.ReadTimeout,
		WriteTimeout:     m.cfg.WriteTimeout,
		BufferSize:       m.cfg.BufferSize,
	}, m.logger)

	if err := cli.Connect(m.ctx); err != nil {
		return err
	}
	defer cli.Close()

	m.setState(StateAuthenticated)

	sess := &session{
		client:   cli,
		subs:     make(map[string]string),
		byEntity: make(map[string]string),
		stale:    make(chan error, 1),
	}

	m.mu.Lock()
	m.sess = sess
	m.mu.Unlock()

	defer func() {
		m.mu.Lock()
		if m.sess == sess {
			m.sess = nil
		}
		m.mu.Unlock()
	}()

	m.setState(StateSubscribing)
	for _, homeID := range m.registry.SnapshotActive() {
		if err := m.sendSubscribe(sess, homeID); err != nil {
			return fmt.Errorf("resubscribe %s: %w", homeID, err)
		}
	}

	m.setState(StateStreaming)
	m.backoff.Reset()

	gen := m.wd.Arm()
	defer m.wd.Stop()

	m.mu.Lock()
	sess.gen = gen
	m.mu.Unlock()

	for {
		select {
		case <-m.ctx.Done():
			return nil

		case err := <-sess.stale:
			return err

		case err := <-cli.Errors():
			return err

		case tf, ok := <-cli.Frames():
			if !ok {
				return ErrNotConnected
			}
			// Any traffic proves the connection is alive.
			m.wd.Reset()
			if err := m.handleFrame(sess, tf.Frame); err != nil {
				return err
			}
		}
	}
}

// onWatchdogExpiry forces a reconnect when the liveness window lapses.
// Expiries carrying a generation other than the current session's were armed
// against a connection that has since been replaced and are ignored.
func (m *manager) onWatchdogExpiry(gen uint64) {
	m.mu.RLock()
	sess := m.sess
	var cur uint64
	if sess != nil {
		cur = sess.gen
	}
	m.mu.RUnlock()

	if sess == nil || cur != gen {
		return
	}

	m.logger.Warn("no feed traffic within liveness window, forcing reconnect",
		"timeout", m.cfg.InactivityTimeout,
	)
	sess.fail(ErrStaleConnection)
}

// handleFrame dispatches one received frame.
func (m *manager) handleFrame(sess *session, f Frame) error {
	switch f.Type {
	case framePing, framePong, frameKeepAlive, frameConnectionAck:
		// Keepalive traffic already fed the watchdog; nothing to dispatch.
		return nil

	case frameNext:
		sess.mu.Lock()
		homeID, ok := sess.subs[f.ID]
		sess.mu.Unlock()
		if !ok {
			m.logger.Debug("event for unknown subscription, dropping", "id", f.ID)
			return nil
		}
		cb, active := m.registry.Lookup(homeID)
		if !active {
			// Unsubscribed while the event was in flight.
			return nil
		}
		cb(f.Payload)
		return nil

	case frameComplete:
		m.dropWireID(sess, f.ID)
		return nil

	case frameError:
		m.logger.Warn("subscription error from feed",
			"id", f.ID,
			"payload", string(f.Payload),
		)
		m.dropWireID(sess, f.ID)
		return nil

	case frameConnectionError:
		return fmt.Errorf("%w: %s", ErrUnauthorized, string(f.Payload))

	default:
		return fmt.Errorf("%w: unexpected frame type %q", ErrProtocol, f.Type)
	}
}

// dropWireID forgets a wire subscription the server has closed.
func (m *manager) dropWireID(sess *session, wireID string) {
	sess.mu.Lock()
	if homeID, ok := sess.subs[wireID]; ok {
		delete(sess.subs, wireID)
		if sess.byEntity[homeID] == wireID {
			delete(sess.byEntity, homeID)
		}
	}
	sess.mu.Unlock()
}

// sendSubscribe issues a subscribe frame for homeID on sess under a fresh
// wire ID. A home already subscribed on this session is left alone, which
// makes concurrent replay and Subscribe calls collapse to one frame.
func (m *manager) sendSubscribe(sess *session, homeID string) error {
	sess.mu.Lock()
	if _, ok := sess.byEntity[homeID]; ok {
		sess.mu.Unlock()
		return nil
	}
	wireID := uuid.NewString()
	sess.byEntity[homeID] = wireID
	sess.subs[wireID] = homeID
	sess.mu.Unlock()

	payload, err := m.cfg.BuildPayload(homeID)
	if err != nil {
		m.rollbackSubscribe(sess, homeID, wireID)
		return err
	}

	if err := sess.client.Send(Frame{ID: wireID, Type: frameSubscribe, Payload: payload}); err != nil {
		m.rollbackSubscribe(sess, homeID, wireID)
		return err
	}

	m.logger.Debug("subscribed", "home", homeID, "id", wireID)
	return nil
}

func (m *manager) rollbackSubscribe(sess *session, homeID, wireID string) {
	sess.mu.Lock()
	if sess.byEntity[homeID] == wireID {
		delete(sess.byEntity, homeID)
	}
	delete(sess.subs, wireID)
	sess.mu.Unlock()
}

// waitBackoff sleeps for the next backoff delay. Returns false on shutdown.
func (m *manager) waitBackoff() bool {
	m.setState(StateReconnecting)

	delay := m.backoff.Next()
	m.logger.Info("waiting before reconnect",
		"delay", delay,
		"attempt", m.backoff.Attempts(),
	)

	select {
	case <-m.ctx.Done():
		return false
	case <-time.After(delay):
		return true
	}
}

// fail transitions to the terminal state, recording err if fatal.
func (m *manager) fail(err error) {
	m.mu.Lock()
	m.state = StateClosed
	if m.err == nil {
		m.err = err
	}
	m.mu.Unlock()

	if err != nil {
		m.logger.Error("connection manager stopped permanently", "error", err)
	}
}

// setState updates the state unless already closed.
func (m *manager) setState(s State) {
	m.mu.Lock()
	if m.state == StateClosed {
		m.mu.Unlock()
		return
	}
	old := m.state
	m.state = s
	m.mu.Unlock()

	if old != s {
		m.logger.Debug("connection state changed", "from", old.String(), "to", s.String())
	}
}

// Handle identifies one subscription registration. Unsubscribe is idempotent
// and never errors; a handle left over from before a replacement Subscribe
// for the same home is inert.
type Handle struct {
	m      *manager
	homeID string
	id     uuid.UUID
	once   sync.Once
}

// HomeID returns the home this handle subscribes.
func (h *Handle) HomeID() string {
	return h.homeID
}

// Unsubscribe deactivates the registration and, when connected, tells the
// feed to stop the wire subscription. Safe to call multiple times.
func (h *Handle) Unsubscribe() {
	h.once.Do(func() {
		if h.m == nil || !h.m.registry.Remove(h.homeID, h.id) {
			return
		}

		h.m.mu.RLock()
		sess := h.m.sess
		h.m.mu.RUnlock()
		if sess == nil {
			return
		}

		sess.mu.Lock()
		wireID, ok := sess.byEntity[h.homeID]
		if ok {
			delete(sess.byEntity, h.homeID)
			delete(sess.subs, wireID)
		}
		sess.mu.Unlock()

		if ok {
			if err := sess.client.Send(Frame{ID: wireID, Type: frameComplete}); err != nil {
				h.m.logger.Debug("failed to close wire subscription",
					"home", h.homeID,
					"error", err,
				)
			}
		}
	})
}
