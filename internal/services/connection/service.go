package connection

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/sirupsen/logrus"

	"safechat/internal/channel"
	"safechat/internal/crypto"
	"safechat/internal/domain"
	"safechat/internal/metrics"
	"safechat/internal/protocol/handshake"
	"safechat/internal/transport"
)

var errStopped = fmt.Errorf("%w: connection stopped", domain.ErrChannelClosed)

// IdentityService hands out a fresh key pair for each connection attempt.
type IdentityService interface {
	GenerateIdentity() (*crypto.KeyStore, domain.Fingerprint, error)
}

// Options configures a Service. Zero values select defaults.
type Options struct {
	Identity         IdentityService
	Cipher           domain.Cipher
	Logger           logrus.FieldLogger
	Metrics          *metrics.Metrics
	DialTimeout      time.Duration
	HandshakeTimeout time.Duration
	MaxFrameSize     int
}

// Service owns at most one connection attempt at a time. It may be started
// again once the previous attempt is Closed or Faulted.
type Service struct {
	opts   Options
	events Events
	log    logrus.FieldLogger

	mu    sync.Mutex
	state domain.ConnectionState
	cur   *attempt
}

// attempt is everything owned by one StartConnection call.
type attempt struct {
	id     uuid.UUID
	role   domain.Role
	log    logrus.FieldLogger
	events *dispatcher

	ctx    context.Context
	cancel context.CancelFunc

	mu         sync.Mutex
	torn       bool
	keys       *crypto.KeyStore
	listener   *transport.Listener
	listenAddr net.Addr
	conn       *transport.Conn
	channel    *channel.Secure

	teardownOnce sync.Once
}

// New returns an idle Service.
func New(opts Options, events Events) (*Service, error) {
	if opts.Identity == nil {
		return nil, errors.New("connection: identity service is required")
	}
	if opts.Cipher == nil {
		opts.Cipher = crypto.CBC{}
	}
	if opts.Logger == nil {
		opts.Logger = logrus.StandardLogger()
	}
	if opts.MaxFrameSize <= 0 {
		opts.MaxFrameSize = transport.DefaultMaxFrameSize
	}
	return &Service{
		opts:   opts,
		events: events,
		log:    opts.Logger,
	}, nil
}

// State returns the lifecycle state of the current attempt.
func (s *Service) State() domain.ConnectionState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.state
}

// ID returns the identifier of the current attempt, or "" before the first.
func (s *Service) ID() string {
	a := s.current()
	if a == nil {
		return ""
	}
	return a.id.String()
}

// ListenAddr returns the bound address of an active server attempt once it
// is listening, and nil otherwise.
func (s *Service) ListenAddr() net.Addr {
	s.mu.Lock()
	a, active := s.cur, s.state.Active()
	s.mu.Unlock()
	if a == nil || !active {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.listenAddr
}

// LocalFingerprint returns the fingerprint of this attempt's public key.
func (s *Service) LocalFingerprint() domain.Fingerprint {
	if k := s.keys(); k != nil {
		return k.Fingerprint()
	}
	return ""
}

// PeerFingerprint returns the fingerprint of the peer's public key once the
// key exchange has received it.
func (s *Service) PeerFingerprint() domain.Fingerprint {
	if k := s.keys(); k != nil {
		return k.RemoteFingerprint()
	}
	return ""
}

func (s *Service) current() *attempt {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.cur
}

func (s *Service) keys() *crypto.KeyStore {
	a := s.current()
	if a == nil {
		return nil
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	return a.keys
}

// StartConnection opens a connection as role ("server" or "client") and
// blocks until it is Established or has failed.
//
// A server listens on host:port and accepts exactly one peer; a client dials
// host:port. On failure the attempt ends Faulted, OnClosed fires and the
// error is returned. ctx bounds the setup only; once established the
// connection lives until Stop or until the peer goes away.
func (s *Service) StartConnection(ctx context.Context, role string, host string, port int) error {
	r, err := domain.ParseRole(role)
	if err != nil {
		return err
	}
	if port < 0 || port > 65535 {
		return fmt.Errorf("%w: port %d out of range", domain.ErrTransport, port)
	}

	a, err := s.begin(r)
	if err != nil {
		return err
	}

	if err := s.establish(ctx, a, host, port); err != nil {
		if a.ctx.Err() != nil && !errors.Is(err, domain.ErrChannelClosed) {
			err = fmt.Errorf("%w: %w", errStopped, err)
		}
		s.teardown(a, domain.StateFaulted, err)
		return err
	}
	return nil
}

// begin registers a new attempt in the Connecting state.
func (s *Service) begin(role domain.Role) (*attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.state.Active() {
		return nil, domain.ErrAlreadyStarted
	}

	id := uuid.New()
	ctx, cancel := context.WithCancel(context.Background())
	a := &attempt{
		id:   id,
		role: role,
		log: s.log.WithFields(logrus.Fields{
			"conn_id": id.String(),
			"role":    role,
		}),
		events: newDispatcher(),
		ctx:    ctx,
		cancel: cancel,
	}
	s.cur = a
	s.setStateLocked(a, domain.StateConnecting)
	return a, nil
}

func (s *Service) establish(ctx context.Context, a *attempt, host string, port int) error {
	setupCtx, cancel := context.WithCancel(ctx)
	defer cancel()
	defer context.AfterFunc(a.ctx, cancel)()

	keys, fp, err := s.opts.Identity.GenerateIdentity()
	if err != nil {
		return err
	}
	a.mu.Lock()
	a.keys = keys
	a.mu.Unlock()
	a.log.WithField("fingerprint", fp).Info("connection identity ready")

	raw, err := s.open(setupCtx, a, host, port)
	if err != nil {
		return err
	}
	conn := transport.NewConn(raw, s.opts.MaxFrameSize)
	if !a.adopt(func() {
		a.conn = conn
		a.log = a.log.WithField("remote", conn.RemoteAddr().String())
	}) {
		_ = conn.Close()
		return errStopped
	}

	if !s.transition(a, domain.StateConnecting, domain.StateHandshaking) {
		return errStopped
	}

	hsCtx := setupCtx
	if s.opts.HandshakeTimeout > 0 {
		var hsCancel context.CancelFunc
		hsCtx, hsCancel = context.WithTimeout(setupCtx, s.opts.HandshakeTimeout)
		defer hsCancel()
	}
	key, err := handshake.New(a.role, keys,
		handshake.WithLogger(a.log),
		handshake.WithObserver(s.opts.Metrics),
	).Run(hsCtx, conn)
	if err != nil {
		return err
	}

	sec := channel.NewSecure(channel.NewPlain(conn, a.log), key,
		channel.WithCipher(s.opts.Cipher),
		channel.WithMetrics(s.opts.Metrics),
		channel.WithCloseHook(s.opts.Metrics.ConnectionClosed),
	)
	s.opts.Metrics.ConnectionOpened()
	if !a.adopt(func() { a.channel = sec }) {
		_ = sec.Close()
		return errStopped
	}

	if !s.transition(a, domain.StateHandshaking, domain.StateEstablished) {
		return errStopped
	}
	a.log.WithFields(logrus.Fields{
		"fingerprint":      keys.Fingerprint(),
		"peer_fingerprint": keys.RemoteFingerprint(),
		"cipher":           s.opts.Cipher.Name(),
	}).Info("secure channel established")

	go s.receive(a, sec)
	return nil
}

// open produces the raw TCP connection for a's role.
func (s *Service) open(ctx context.Context, a *attempt, host string, port int) (net.Conn, error) {
	if a.role.Initiator() {
		if s.opts.DialTimeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, s.opts.DialTimeout)
			defer cancel()
		}
		a.log.WithField("addr", net.JoinHostPort(host, strconv.Itoa(port))).Info("dialing peer")
		return transport.Dial(ctx, host, port)
	}

	ln, err := transport.Listen(ctx, host, port)
	if err != nil {
		return nil, err
	}
	if !a.adopt(func() {
		a.listener = ln
		a.listenAddr = ln.Addr()
	}) {
		_ = ln.Close()
		return nil, errStopped
	}
	a.log.WithField("addr", ln.Addr().String()).Info("waiting for peer")

	// One peer per attempt: stop listening as soon as it arrives.
	defer ln.Close()
	return ln.Accept(ctx)
}

// receive pumps inbound messages until the channel ends, then settles the
// attempt as Closed (orderly end) or Faulted.
func (s *Service) receive(a *attempt, sec *channel.Secure) {
	err := sec.Receive(a.ctx, func(text string) {
		if fn := s.events.OnMessage; fn != nil {
			a.events.post(func() { fn(text) })
		}
	})
	final := domain.StateClosed
	if err != nil {
		final = domain.StateFaulted
	}
	s.teardown(a, final, err)
}

// SendMessage encrypts text and sends it to the peer.
func (s *Service) SendMessage(text string) error {
	s.mu.Lock()
	a, state := s.cur, s.state
	s.mu.Unlock()
	if a == nil || state != domain.StateEstablished {
		return domain.ErrChannelNotEstablished
	}
	a.mu.Lock()
	sec := a.channel
	a.mu.Unlock()
	if sec == nil {
		return domain.ErrChannelNotEstablished
	}
	return sec.Send(text)
}

// Stop ends the current attempt, whatever its state. An attempt still
// connecting or handshaking is aborted. Stop is idempotent and safe to call
// concurrently and from event callbacks.
func (s *Service) Stop() error {
	a := s.current()
	if a == nil {
		return nil
	}
	s.teardown(a, domain.StateClosed, nil)
	return nil
}

// teardown releases everything a owns and publishes its final state. Only
// the first call per attempt has any effect.
func (s *Service) teardown(a *attempt, final domain.ConnectionState, cause error) {
	a.teardownOnce.Do(func() {
		a.cancel()

		a.mu.Lock()
		a.torn = true
		sec, conn, ln, log := a.channel, a.conn, a.listener, a.log
		a.mu.Unlock()

		switch {
		case sec != nil:
			_ = sec.Close()
		case conn != nil:
			_ = conn.Close()
		}
		if ln != nil {
			_ = ln.Close()
		}

		entry := log.WithField("state", final)
		if cause != nil {
			entry.WithError(cause).Warn("connection ended")
		} else {
			entry.Info("connection ended")
		}

		s.mu.Lock()
		if s.cur == a {
			s.state = final
		}
		if fn := s.events.OnStateChange; fn != nil {
			a.events.post(func() { fn(final) })
		}
		a.events.seal(s.events.OnClosed)
		s.mu.Unlock()
	})
}

// transition moves a from one state to the next unless it has been torn
// down in between.
func (s *Service) transition(a *attempt, from, to domain.ConnectionState) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.cur != a || s.state != from {
		return false
	}
	s.setStateLocked(a, to)
	if to == domain.StateEstablished {
		if fn := s.events.OnEstablished; fn != nil {
			a.events.post(fn)
		}
	}
	return true
}

func (s *Service) setStateLocked(a *attempt, to domain.ConnectionState) {
	s.state = to
	a.log.WithField("state", to).Debug("connection state changed")
	if fn := s.events.OnStateChange; fn != nil {
		a.events.post(func() { fn(to) })
	}
}

// adopt runs set under a's lock unless a has already been torn down.
func (a *attempt) adopt(set func()) bool {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.torn {
		return false
	}
	set()
	return true
}
