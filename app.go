package ircsync

import (
	"context"
	"crypto/tls"
	"errors"
	"fmt"
	"net"
	"net/http"
	"runtime/debug"
	"strings"
	"time"

	"github.com/golang/glog"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/net/proxy"

	"git.sr.ht/~delthas/ircsync/events"
	"git.sr.ht/~delthas/ircsync/irc"
	"git.sr.ht/~delthas/ircsync/tracking"
)

// ErrNoRegistry is returned by App.Snapshot while the network is not
// available.
var ErrNoRegistry = errors.New("network not available")

// App keeps one connection to the configured server alive and tracks its
// state.
type App struct {
	cfg      Config
	registry *prometheus.Registry
	metrics  *tracking.Metrics

	// snapshots carries requests to the goroutine owning the registry.
	snapshots chan chan snapshotResult
}

type snapshotResult struct {
	snapshot tracking.Snapshot
	err      error
}

// session is the state of one connection.
type session struct {
	client  *irc.Client
	bus     *events.Dispatcher
	tracker *tracking.Tracker
}

func NewApp(cfg Config) (*App, error) {
	if cfg.Addr == "" {
		return nil, errors.New("address is required")
	}
	if cfg.Nick == "" {
		return nil, errors.New("nickname is required")
	}
	if cfg.User == "" {
		cfg.User = cfg.Nick
	}
	if cfg.Real == "" {
		cfg.Real = cfg.Nick
	}
	reg := prometheus.NewRegistry()
	return &App{
		cfg:       cfg,
		registry:  reg,
		metrics:   tracking.NewMetrics(reg),
		snapshots: make(chan chan snapshotResult),
	}, nil
}

// Run connects and reconnects until ctx is done.
func (app *App) Run(ctx context.Context) error {
	if app.cfg.MetricsListen != "" {
		srv := &http.Server{
			Addr:    app.cfg.MetricsListen,
			Handler: promhttp.HandlerFor(app.registry, promhttp.HandlerOpts{Registry: app.registry}),
		}
		go func() {
			if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				glog.Errorf("[metrics] %v", err)
			}
		}()
		defer srv.Close()
	}

	app.ircLoop(ctx)
	return ctx.Err()
}

// Snapshot returns a copy of the current registry.
func (app *App) Snapshot(ctx context.Context) (tracking.Snapshot, error) {
	req := make(chan snapshotResult, 1)
	select {
	case app.snapshots <- req:
	case <-ctx.Done():
		return tracking.Snapshot{}, ctx.Err()
	}
	select {
	case res := <-req:
		return res.snapshot, res.err
	case <-ctx.Done():
		return tracking.Snapshot{}, ctx.Err()
	}
}

// ircLoop maintains a connection to the IRC server, backing off between
// failed attempts.
func (app *App) ircLoop(ctx context.Context) {
	var auth irc.SASLClient
	if app.cfg.Password != nil {
		auth = &irc.SASLPlain{
			Username: app.cfg.User,
			Password: *app.cfg.Password,
		}
	}
	params := irc.ClientParams{
		Nickname: app.cfg.Nick,
		Username: app.cfg.User,
		RealName: app.cfg.Real,
		NetID:    app.cfg.NetID,
		Auth:     auth,
	}
	const throttleInterval = 6 * time.Second
	const throttleMax = 1 * time.Minute
	var delay time.Duration = 0
	for {
		if !app.idle(ctx, delay) {
			return
		}
		if delay < throttleMax {
			delay += throttleInterval
		}
		glog.Infof("[app] connecting to %s", app.cfg.Addr)
		conn, err := app.connect(ctx)
		if err != nil {
			glog.Warningf("[app] connection failed: %v", err)
			continue
		}
		delay = throttleInterval

		in, out := irc.ChanInOut(conn)
		if app.cfg.Debug {
			out = debugOutputMessages(out)
		}
		s := app.newSession(irc.NewClient(out, params))
		app.serve(ctx, s, in)
		s.client.Close()
		go func() {
			for range in {
			}
		}()
		glog.Warningf("[app] connection lost")
	}
}

// idle waits for d, answering snapshot requests with ErrNoRegistry. It
// returns false when ctx is done.
func (app *App) idle(ctx context.Context, d time.Duration) bool {
	timer := time.NewTimer(d)
	defer timer.Stop()
	for {
		select {
		case <-timer.C:
			return true
		case req := <-app.snapshots:
			req <- snapshotResult{err: ErrNoRegistry}
		case <-ctx.Done():
			return false
		}
	}
}

// connect runs tryConnect, answering snapshot requests with ErrNoRegistry
// meanwhile.
func (app *App) connect(ctx context.Context) (net.Conn, error) {
	type result struct {
		conn net.Conn
		err  error
	}
	done := make(chan result, 1)
	go func() {
		conn, err := app.tryConnect(ctx)
		done <- result{conn, err}
	}()
	for {
		select {
		case r := <-done:
			return r.conn, r.err
		case req := <-app.snapshots:
			req <- snapshotResult{err: ErrNoRegistry}
		}
	}
}

func (app *App) newSession(client *irc.Client) *session {
	bus := events.NewDispatcher()
	bus.On(events.KindPluginRegistered, func(payload any) error {
		glog.Infof("[app] plugin %s registered", payload.(events.PluginRegistered).Name)
		return nil
	})
	bus.On(events.KindSyncDone, func(payload any) error {
		c := payload.(tracking.SyncDone).Channel
		glog.Infof("[app] %s: mode %q, topic %q", c.Name, c.Mode, c.Topic)
		return nil
	})
	tracker := tracking.NewTracker(client, bus, app.metrics)
	if err := tracker.Register(); err != nil {
		glog.Errorf("[app] %v", err)
	}
	return &session{
		client:  client,
		bus:     bus,
		tracker: tracker,
	}
}

// serve handles the lines of one connection until it is lost or ctx is
// done. It is the only goroutine touching the session.
func (app *App) serve(ctx context.Context, s *session, in <-chan string) {
	for {
		select {
		case line, ok := <-in:
			if !ok {
				return
			}
			app.handleLine(s, line)
		case req := <-app.snapshots:
			if reg := s.tracker.Registry(); reg != nil {
				req <- snapshotResult{snapshot: reg.Snapshot()}
			} else {
				req <- snapshotResult{err: ErrNoRegistry}
			}
		case <-ctx.Done():
			s.client.WriteMessage(irc.NewMessage("QUIT", "shutting down"))
			return
		}
	}
}

func (app *App) handleLine(s *session, line string) {
	if app.cfg.Debug {
		glog.Infof("IN -- %s", line)
	}
	msg, err := irc.ParseMessage(line)
	if err != nil {
		glog.Warningf("[app] %v", err)
		return
	}
	ready, err := s.client.HandleMessage(msg)
	if err != nil {
		glog.Warningf("[app] %s: %v", msg.Command, err)
	}
	msg.Conn = s.client

	evs, err := events.FromMessage(msg)
	if err != nil {
		glog.Warningf("[app] %s: %v", msg.Command, err)
		return
	}
	if err := s.bus.EmitAll(evs); err != nil && !errors.Is(err, tracking.ErrLookupInconsistency) {
		glog.Warningf("[app] %v", err)
	}

	if !ready {
		return
	}
	if account := s.client.Account(); account != "" {
		glog.Infof("[app] registered as %s, logged in as %s", s.client.Nick(), account)
	} else {
		glog.Infof("[app] registered as %s", s.client.Nick())
	}
	err = s.bus.Emit(events.KindNetworkAvailable, events.NetworkAvailable{Conn: s.client})
	if err != nil {
		glog.Errorf("[app] %v", err)
		return
	}
	for _, channel := range app.cfg.Channels {
		s.client.WriteMessage(irc.NewMessage("JOIN", channel))
	}
}

func (app *App) tryConnect(ctx context.Context) (conn net.Conn, err error) {
	addr := app.cfg.Addr
	colonIdx := strings.LastIndexByte(addr, ':')
	bracketIdx := strings.LastIndexByte(addr, ']')
	if colonIdx <= bracketIdx {
		// no port, or the last colon belongs to an IPv6 address
		if app.cfg.TLS {
			addr += ":6697"
		} else {
			addr += ":6667"
		}
	}

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	dialer := &net.Dialer{
		Timeout: 10 * time.Second,
	}
	conn, err = proxy.FromEnvironmentUsing(dialer).(proxy.ContextDialer).DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("connect: %v", err)
	}

	if app.cfg.TLS {
		host, _, _ := net.SplitHostPort(addr)
		tlsConn := tls.Client(conn, &tls.Config{
			ServerName: host,
			NextProtos: []string{"irc"},
		})
		if err = tlsConn.HandshakeContext(ctx); err != nil {
			conn.Close()
			return nil, fmt.Errorf("tls handshake: %v", err)
		}
		conn = tlsConn
	}

	return conn, nil
}

// debugOutputMessages logs outgoing messages with credentials removed.
func debugOutputMessages(out chan<- irc.Message) chan<- irc.Message {
	debugOut := make(chan irc.Message, cap(out))
	go func() {
		for msg := range debugOut {
			d := redact(msg)
			glog.Infof("OUT -- %s", d.String())
			out <- msg
		}
		close(out)
	}()
	return debugOut
}

func redact(msg irc.Message) irc.Message {
	const placeholder = "<removed>"
	d := msg
	switch {
	case msg.Command == "PASS" && len(d.Params) >= 1:
		d.Params = append([]string{placeholder}, d.Params[1:]...)
	case msg.Command == "OPER" && len(d.Params) >= 2:
		d.Params = append([]string{d.Params[0], placeholder}, d.Params[2:]...)
	case msg.Command == "AUTHENTICATE" && len(d.Params) >= 1:
		switch d.Params[0] {
		case "*", "PLAIN":
		default:
			d.Params = append([]string{placeholder}, d.Params[1:]...)
		}
	}
	return d
}

func BuildVersion() (string, bool) {
	if bi, ok := debug.ReadBuildInfo(); ok {
		return bi.Main.Version, true
	}
	return "", false
}
