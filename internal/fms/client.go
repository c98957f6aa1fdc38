// internal/fms/client.go
package fms

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"net"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/fault"
	"github.com/tamzrod/pump-monitor/internal/metrics"
	"github.com/tamzrod/pump-monitor/internal/retry"
	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

const device = "fms"

const (
	DefaultInterval       = time.Second
	DefaultConnectTimeout = 3 * time.Second
	DefaultReadTimeout    = 2 * time.Second
	DefaultMetadataWindow = time.Second
	DefaultCooldown       = 3 * time.Second

	// drainWindow bounds how long stale bytes are flushed before a poll.
	drainWindow = 5 * time.Millisecond
)

// Dialer opens the controller socket. *net.Dialer satisfies it.
type Dialer interface {
	DialContext(ctx context.Context, network, address string) (net.Conn, error)
}

// Config is the runtime config of one FMS channel client.
type Config struct {
	Address  string // host:port
	Interval time.Duration

	ConnectTimeout time.Duration
	ReadTimeout    time.Duration
	MetadataWindow time.Duration
	Cooldown       time.Duration

	Dialer  Dialer
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Client keeps a connection to the FMS controller and republishes the
// latest ChannelSample and ChannelMetadata.
// The supervising loop reconnects forever; only Stop ends it.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	events *status.Notifier
	state  status.Cell

	sample sample.Slot[sample.ChannelSample]
	meta   sample.Slot[sample.ChannelMetadata]

	life   sync.Mutex // serializes Start/Stop
	cancel context.CancelFunc
	done   chan struct{}

	mu   sync.Mutex // guards conn
	conn net.Conn
}

// session is the loop-owned view of one connection.
type session struct {
	conn net.Conn
	rd   *bufio.Reader
}

// loopState belongs to a single run of the loop.
type loopState struct {
	sess  *session
	dials int
}

// New validates cfg, fills timing defaults, and returns a stopped client.
func New(cfg Config) (*Client, error) {
	if cfg.Address == "" {
		return nil, errors.New("fms: address required")
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = DefaultConnectTimeout
	}
	if cfg.ReadTimeout <= 0 {
		cfg.ReadTimeout = DefaultReadTimeout
	}
	if cfg.MetadataWindow <= 0 {
		cfg.MetadataWindow = DefaultMetadataWindow
	}
	if cfg.Cooldown <= 0 {
		cfg.Cooldown = DefaultCooldown
	}
	if cfg.Dialer == nil {
		cfg.Dialer = &net.Dialer{}
	}

	c := &Client{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("device", device).Str("address", cfg.Address).Logger(),
		events: status.NewNotifier(),
	}
	c.meta.Store(sample.DefaultMetadata())
	cfg.Metrics.SetState(device, status.Disconnected)
	return c, nil
}

// ---- collaborator surface ----

// Start launches the supervising loop. No-op when already running.
func (c *Client) Start() {
	c.life.Lock()
	defer c.life.Unlock()

	if c.done != nil {
		return
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	c.log.Info().Dur("interval", c.cfg.Interval).Msg("fms client starting")
	go c.run(ctx, c.done)
}

// Stop ends the loop, closes the socket and clears the published sample.
// An in-flight read is unblocked by the close, so Stop returns promptly.
func (c *Client) Stop() {
	c.life.Lock()
	defer c.life.Unlock()

	if c.done == nil {
		return
	}

	c.mu.Lock()
	c.cancel()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	<-c.done
	c.cancel, c.done = nil, nil

	c.sample.Clear()
	c.setState(status.Disconnected)
	c.publishStatus("Stopped.")
	c.log.Info().Msg("fms client stopped")
}

// Running reports whether the loop is active.
func (c *Client) Running() bool {
	c.life.Lock()
	defer c.life.Unlock()
	return c.done != nil
}

// CurrentSample returns the latest sample; ok is false when unknown.
func (c *Client) CurrentSample() (sample.ChannelSample, bool) {
	return c.sample.Load()
}

// CurrentMetadata returns the channel labels and units of this connection.
func (c *Client) CurrentMetadata() sample.ChannelMetadata {
	md, ok := c.meta.Load()
	if !ok {
		return sample.DefaultMetadata()
	}
	return md
}

func (c *Client) IsConnected() bool { return c.state.Load() == status.Connected }

func (c *Client) State() status.State { return c.state.Load() }

// Subscribe attaches a notification listener (status, error, metadata-ready).
func (c *Client) Subscribe(buf int) (<-chan status.Event, func()) {
	return c.events.Subscribe(buf)
}

func (c *Client) LastStatus() string { return c.events.LastStatus() }
func (c *Client) LastError() string  { return c.events.LastError() }

// ---- loop ----

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	ls := &loopState{}
	for ctx.Err() == nil {
		err := c.cycle(ctx, ls)
		if err == nil {
			continue
		}
		if ctx.Err() != nil {
			return
		}

		ls.sess = nil
		c.fail(err)

		if retry.Sleep(ctx, c.cfg.Cooldown) != nil {
			return
		}
	}
}

// cycle connects when needed, polls once, and holds the interval cadence.
func (c *Client) cycle(ctx context.Context, ls *loopState) error {
	if ls.sess == nil {
		if ls.dials > 0 {
			c.cfg.Metrics.IncReconnect(device)
		}
		ls.dials++

		s, err := c.connect(ctx)
		if err != nil {
			return err
		}
		ls.sess = s
		c.fetchMetadata(s)
	}

	start := time.Now()
	if err := c.poll(ls.sess); err != nil {
		return err
	}

	return retry.Sleep(ctx, c.cfg.Interval-time.Since(start))
}

func (c *Client) connect(ctx context.Context) (*session, error) {
	c.setState(status.Connecting)
	c.publishStatus(fmt.Sprintf("Connecting to %s...", c.cfg.Address))

	dctx, cancel := context.WithTimeout(ctx, c.cfg.ConnectTimeout)
	defer cancel()

	conn, err := c.cfg.Dialer.DialContext(dctx, "tcp", c.cfg.Address)
	if err != nil {
		return nil, fault.Wrap(fault.Connect, "fms connect", err)
	}

	c.mu.Lock()
	if ctx.Err() != nil {
		c.mu.Unlock()
		_ = conn.Close()
		return nil, ctx.Err()
	}
	c.conn = conn
	c.mu.Unlock()

	c.setState(status.Connected)
	c.publishStatus("Connected.")

	return &session{conn: conn, rd: bufio.NewReader(conn)}, nil
}

// fetchMetadata asks for labels and units once per connection.
// A failure leaves the defaults in place and is reported as status text.
func (c *Client) fetchMetadata(s *session) {
	md := sample.DefaultMetadata()
	defer func() {
		c.meta.Store(md)
		c.events.Publish(status.Event{Kind: status.EventMetadataReady, State: c.state.Load()})
	}()

	c.publishStatus("Reading Labels...")
	labels, err := c.query(s, CmdLabels)
	if err != nil {
		c.metaFailed(err)
		return
	}

	c.publishStatus("Reading Units...")
	units, err := c.query(s, CmdUnits)
	if err != nil {
		c.metaFailed(err)
		return
	}

	md = ParseMetadata(labels, units)
	c.log.Debug().Interface("metadata", md).Msg("fms metadata fetched")
	c.publishStatus("Metadata Ready.")
}

func (c *Client) metaFailed(err error) {
	c.log.Warn().Err(err).Msg("fms metadata fetch failed, using defaults")
	c.publishStatus("Meta Fail: " + err.Error())
}

// query sends cmd and collects whatever arrives during the metadata window.
func (c *Client) query(s *session, cmd string) (string, error) {
	if err := c.send(s, cmd); err != nil {
		return "", err
	}

	if err := s.conn.SetReadDeadline(time.Now().Add(c.cfg.MetadataWindow)); err != nil {
		return "", fault.Wrap(fault.IO, "fms metadata", err)
	}

	var sb strings.Builder
	buf := make([]byte, 4096)
	for {
		n, err := s.rd.Read(buf)
		sb.Write(buf[:n])
		if err != nil {
			if fault.IsTimeout(err) {
				return sb.String(), nil
			}
			return sb.String(), fault.FromNet(fault.IO, "fms metadata", err)
		}
	}
}

// poll drains stale input, requests a reading and publishes it.
// A line without the reading marker leaves the previous sample in place.
func (c *Client) poll(s *session) error {
	start := time.Now()

	if err := c.drain(s); err != nil {
		return err
	}
	if err := c.send(s, CmdRead); err != nil {
		return err
	}

	line, err := c.readLine(s)
	if err != nil {
		return err
	}

	smp, ok := ParseRead(line, time.Now())
	if !ok {
		c.log.Debug().Str("line", line).Msg("fms response without reading")
		c.cfg.Metrics.ObserveCycle(device, metrics.ResultNoUpdate, time.Since(start))
		return nil
	}

	c.sample.Store(smp)
	c.cfg.Metrics.ObserveCycle(device, metrics.ResultOK, time.Since(start))
	return nil
}

func (c *Client) drain(s *session) error {
	if n := s.rd.Buffered(); n > 0 {
		_, _ = s.rd.Discard(n)
	}
	if err := s.conn.SetReadDeadline(time.Now().Add(drainWindow)); err != nil {
		return fault.Wrap(fault.IO, "fms drain", err)
	}

	buf := make([]byte, 512)
	for {
		_, err := s.conn.Read(buf)
		if err == nil {
			continue
		}
		if fault.IsTimeout(err) {
			return nil
		}
		return fault.FromNet(fault.IO, "fms drain", err)
	}
}

func (c *Client) send(s *session, cmd string) error {
	if err := s.conn.SetWriteDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return fault.Wrap(fault.IO, "fms write", err)
	}
	if _, err := s.conn.Write(Frame(cmd)); err != nil {
		return fault.FromNet(fault.IO, "fms write", err)
	}
	return nil
}

func (c *Client) readLine(s *session) (string, error) {
	if err := s.conn.SetReadDeadline(time.Now().Add(c.cfg.ReadTimeout)); err != nil {
		return "", fault.Wrap(fault.IO, "fms read", err)
	}
	line, err := s.rd.ReadString('\n')
	if err != nil {
		return "", fault.FromNet(fault.IO, "fms read", err)
	}
	return strings.TrimSpace(line), nil
}

// fail discards the connection and reports err. The loop then cools down.
func (c *Client) fail(err error) {
	c.mu.Lock()
	if c.conn != nil {
		_ = c.conn.Close()
		c.conn = nil
	}
	c.mu.Unlock()

	c.sample.Clear()
	c.setState(status.Faulted)
	c.cfg.Metrics.IncCycle(device, metrics.ResultError)

	c.log.Warn().
		Err(err).
		Str("category", fault.CategoryOf(err).String()).
		Dur("cooldown", c.cfg.Cooldown).
		Msg("fms cycle failed, reconnecting")

	c.events.Publish(status.Event{
		Kind:  status.EventError,
		Text:  "Error: " + err.Error(),
		Err:   err,
		State: status.Faulted,
	})
}

func (c *Client) setState(s status.State) {
	prev := c.state.Store(s)
	if prev == s {
		return
	}
	c.cfg.Metrics.SetState(device, s)
	c.log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("fms state changed")
}

func (c *Client) publishStatus(text string) {
	c.events.Publish(status.Event{Kind: status.EventStatus, Text: text, State: c.state.Load()})
}
