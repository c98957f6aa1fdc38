// internal/mks/client.go
package mks

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog"
	"go.uber.org/atomic"

	"github.com/tamzrod/pump-monitor/internal/fault"
	"github.com/tamzrod/pump-monitor/internal/metrics"
	"github.com/tamzrod/pump-monitor/internal/retry"
	"github.com/tamzrod/pump-monitor/internal/sample"
	"github.com/tamzrod/pump-monitor/internal/status"
)

const device = "mks"

const (
	DefaultPort     = "COM1"
	DefaultBaudRate = 9600
	DefaultInterval = 500 * time.Millisecond

	// DefaultTimeout is kept short so a corrupted frame is abandoned quickly.
	DefaultTimeout        = 400 * time.Millisecond
	DefaultSetUnitTimeout = time.Second
	DefaultSettle         = 500 * time.Millisecond
)

var (
	DefaultUnitRetry     = retry.Policy{Attempts: 3, Delay: 100 * time.Millisecond}
	DefaultPressureRetry = retry.Policy{Attempts: 3, Delay: 50 * time.Millisecond}
)

// Config is the runtime config of the MKS 946 gauge client.
type Config struct {
	Port     string
	BaudRate int
	Address  int
	Interval time.Duration
	Channels []int // 1-based

	Timeout        time.Duration // per frame on the polling port
	SetUnitTimeout time.Duration // per frame on a temporary port
	Settle         time.Duration // between set-unit and the confirming query

	UnitRetry     retry.Policy
	PressureRetry retry.Policy

	Opener  Opener
	Logger  zerolog.Logger
	Metrics *metrics.Metrics
}

// Client polls the gauge controller and republishes the latest GaugeSample.
// An open failure or an I/O error ends the run; the caller restarts it.
type Client struct {
	cfg    Config
	log    zerolog.Logger
	events *status.Notifier
	state  status.Cell

	sample sample.Slot[sample.GaugeSample]
	unit   atomic.String
	runs   atomic.Int64

	life   sync.Mutex // serializes Start/Stop/Restart
	cancel context.CancelFunc
	done   chan struct{}

	// portMu is held by a whole poll cycle and by a unit change,
	// so exactly one of them talks to the device at a time.
	portMu sync.Mutex

	mu   sync.Mutex // guards port
	port Port
}

// New validates cfg, fills defaults, and returns a stopped client.
func New(cfg Config) (*Client, error) {
	if cfg.Port == "" {
		cfg.Port = DefaultPort
	}
	if cfg.BaudRate <= 0 {
		cfg.BaudRate = DefaultBaudRate
	}
	if cfg.Address <= 0 {
		cfg.Address = DefaultAddress
	}
	if cfg.Interval <= 0 {
		cfg.Interval = DefaultInterval
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = DefaultTimeout
	}
	if cfg.SetUnitTimeout <= 0 {
		cfg.SetUnitTimeout = DefaultSetUnitTimeout
	}
	if cfg.Settle <= 0 {
		cfg.Settle = DefaultSettle
	}
	if cfg.UnitRetry.Attempts <= 0 {
		cfg.UnitRetry = DefaultUnitRetry
	}
	if cfg.PressureRetry.Attempts <= 0 {
		cfg.PressureRetry = DefaultPressureRetry
	}
	if cfg.Opener == nil {
		cfg.Opener = OpenSerial
	}

	chans, err := normalizeChannels(cfg.Channels)
	if err != nil {
		return nil, err
	}
	cfg.Channels = chans

	c := &Client{
		cfg:    cfg,
		log:    cfg.Logger.With().Str("device", device).Str("port", cfg.Port).Logger(),
		events: status.NewNotifier(),
	}
	c.unit.Store(UnitUnknown)
	cfg.Metrics.SetState(device, status.Disconnected)
	return c, nil
}

// normalizeChannels sorts and dedupes; empty means all channels.
func normalizeChannels(in []int) ([]int, error) {
	if len(in) == 0 {
		out := make([]int, sample.Channels)
		for i := range out {
			out[i] = i + 1
		}
		return out, nil
	}

	seen := make(map[int]bool, len(in))
	out := make([]int, 0, len(in))
	for _, ch := range in {
		if ch < 1 || ch > sample.Channels {
			return nil, fmt.Errorf("mks: channel %d out of range 1..%d", ch, sample.Channels)
		}
		if seen[ch] {
			continue
		}
		seen[ch] = true
		out = append(out, ch)
	}
	sort.Ints(out)
	return out, nil
}

// ---- collaborator surface ----

// Start opens the port and launches the polling loop.
// No-op while a run is active; a run that ended on a fault can be started again.
func (c *Client) Start() {
	c.life.Lock()
	defer c.life.Unlock()
	c.startLocked()
}

func (c *Client) startLocked() bool {
	if c.activeLocked() {
		return false
	}

	ctx, cancel := context.WithCancel(context.Background())
	c.cancel = cancel
	c.done = make(chan struct{})

	if c.runs.Inc() > 1 {
		c.cfg.Metrics.IncReconnect(device)
	}
	c.log.Info().Dur("interval", c.cfg.Interval).Ints("channels", c.cfg.Channels).Msg("mks client starting")
	go c.run(ctx, c.done)
	return true
}

// Restart starts a new run only if the previous one ended Faulted.
// It reports whether a run was started.
func (c *Client) Restart() bool {
	c.life.Lock()
	defer c.life.Unlock()

	if c.state.Load() != status.Faulted {
		return false
	}
	return c.startLocked()
}

// Stop ends the run, closes the port and clears the published sample.
func (c *Client) Stop() {
	c.life.Lock()
	defer c.life.Unlock()

	if c.done == nil {
		return
	}

	c.cancel()
	c.closePort()
	<-c.done
	c.cancel, c.done = nil, nil

	c.sample.Clear()
	c.setState(status.Disconnected)
	c.publishStatus("Stopped.")
	c.log.Info().Msg("mks client stopped")
}

// Running reports whether a run is active.
func (c *Client) Running() bool {
	c.life.Lock()
	defer c.life.Unlock()
	return c.activeLocked()
}

func (c *Client) activeLocked() bool {
	if c.done == nil {
		return false
	}
	select {
	case <-c.done:
		return false
	default:
		return true
	}
}

// CurrentSample returns the latest sample; ok is false when unknown.
func (c *Client) CurrentSample() (sample.GaugeSample, bool) {
	return c.sample.Load()
}

// CurrentUnit returns the pressure unit the device last reported or accepted.
func (c *Client) CurrentUnit() string { return c.unit.Load() }

func (c *Client) IsConnected() bool { return c.state.Load() == status.Connected }

func (c *Client) State() status.State { return c.state.Load() }

// Channels returns the monitored 1-based channel numbers.
func (c *Client) Channels() []int { return append([]int(nil), c.cfg.Channels...) }

// Subscribe attaches a notification listener (status, error).
func (c *Client) Subscribe(buf int) (<-chan status.Event, func()) {
	return c.events.Subscribe(buf)
}

func (c *Client) LastStatus() string { return c.events.LastStatus() }
func (c *Client) LastError() string  { return c.events.LastError() }

// ---- unit change ----

// SetUnit switches the pressure unit and reports whether the device
// confirmed it. Failures are reported as an error notification.
func (c *Client) SetUnit(unit, portName string) bool {
	return c.ChangeUnit(context.Background(), unit, portName) == nil
}

// ChangeUnit is SetUnit with a categorized error.
// While a run owns the port the exchange goes through it, between poll
// cycles; otherwise a temporary port is opened on portName.
func (c *Client) ChangeUnit(ctx context.Context, unit, portName string) error {
	err := c.changeUnit(ctx, unit, portName)
	if err != nil {
		c.log.Warn().Err(err).Str("unit", unit).Msg("mks unit change failed")
		c.events.Publish(status.Event{
			Kind:  status.EventError,
			Text:  "SetUnit Error: " + err.Error(),
			Err:   err,
			State: c.state.Load(),
		})
		return err
	}
	c.publishStatus("Unit set to " + c.unit.Load())
	return nil
}

func (c *Client) changeUnit(ctx context.Context, unit, portName string) error {
	u, ok := NormalizeUnit(unit)
	if !ok {
		return fault.New(fault.Invalid, "mks set unit", fmt.Sprintf("unsupported unit %q", unit))
	}

	c.portMu.Lock()
	defer c.portMu.Unlock()

	p, timeout := c.currentPort(), c.cfg.Timeout
	if p == nil {
		if portName == "" {
			portName = c.cfg.Port
		}
		tmp, err := c.cfg.Opener(PortConfig{
			Name:        portName,
			BaudRate:    c.cfg.BaudRate,
			ReadTimeout: c.cfg.SetUnitTimeout,
		})
		if err != nil {
			return err
		}
		defer tmp.Close()
		p, timeout = tmp, c.cfg.SetUnitTimeout
	}

	if err := c.send(p, SetUnit(c.cfg.Address, u), timeout); err != nil {
		return err
	}
	if err := retry.Sleep(ctx, c.cfg.Settle); err != nil {
		return err
	}

	resp, err := c.exchange(p, QueryUnit(c.cfg.Address), timeout)
	if err != nil {
		return err
	}
	if !ConfirmsUnit(resp, u) {
		return fault.New(fault.Malformed, "mks set unit", fmt.Sprintf("device answered %q", resp))
	}

	c.unit.Store(u)
	c.log.Info().Str("unit", u).Msg("mks unit changed")
	return nil
}

// ---- loop ----

func (c *Client) run(ctx context.Context, done chan struct{}) {
	defer close(done)

	c.setState(status.Connecting)
	c.publishStatus(fmt.Sprintf("Opening %s...", c.cfg.Port))

	p, err := c.cfg.Opener(PortConfig{
		Name:        c.cfg.Port,
		BaudRate:    c.cfg.BaudRate,
		ReadTimeout: c.cfg.Timeout,
	})
	if err != nil {
		c.fail("Conn Failed: ", err)
		return
	}
	if !c.attach(ctx, p) {
		return
	}
	defer c.closePort()

	c.setState(status.Connected)
	c.publishStatus("Connected " + c.cfg.Port)

	if err := c.initUnit(ctx); err != nil {
		if ctx.Err() == nil {
			c.fail("Error: ", err)
		}
		return
	}

	for ctx.Err() == nil {
		start := time.Now()
		if err := c.cycle(ctx); err != nil {
			if ctx.Err() == nil {
				c.fail("Error: ", err)
			}
			return
		}
		if retry.Sleep(ctx, c.cfg.Interval-time.Since(start)) != nil {
			return
		}
	}
}

// initUnit asks for the active unit. No match leaves "Unknown".
func (c *Client) initUnit(ctx context.Context) error {
	c.portMu.Lock()
	defer c.portMu.Unlock()

	p := c.currentPort()
	if p == nil {
		return ctx.Err()
	}

	unit := UnitUnknown
	err := retry.DoNotify(ctx, c.cfg.UnitRetry, func() error {
		resp, err := c.exchange(p, QueryUnit(c.cfg.Address), c.cfg.Timeout)
		if err != nil {
			return classifyAttempt(err)
		}
		u, ok := MatchUnit(resp)
		if !ok {
			return fault.New(fault.Malformed, "mks unit", fmt.Sprintf("no unit in %q", resp))
		}
		unit = u
		return nil
	}, func(int, error) { c.cfg.Metrics.IncRetry(device, "unit") })

	if fatal(ctx, err) {
		return err
	}
	if err != nil {
		c.log.Debug().Err(err).Msg("mks unit query unanswered")
	}

	c.unit.Store(unit)
	c.log.Info().Str("unit", unit).Msg("mks unit read")
	return nil
}

// cycle reads every monitored channel and publishes one GaugeSample.
func (c *Client) cycle(ctx context.Context) error {
	c.portMu.Lock()
	defer c.portMu.Unlock()

	p := c.currentPort()
	if p == nil {
		return ctx.Err()
	}

	start := time.Now()
	g := sample.GaugeSample{Unit: c.unit.Load()}

	present := 0
	for _, ch := range c.cfg.Channels {
		r, err := c.readChannel(ctx, p, ch)
		if err != nil {
			return err
		}
		g.Readings[ch-1] = r
		if r.OK {
			present++
		}
	}
	g.At = time.Now()
	c.sample.Store(g)

	result := metrics.ResultPartial
	switch present {
	case len(c.cfg.Channels):
		result = metrics.ResultOK
	case 0:
		result = metrics.ResultNoUpdate
	}
	c.cfg.Metrics.ObserveCycle(device, result, time.Since(start))
	return nil
}

// readChannel returns an absent reading when every attempt timed out or
// came back without a decimal number. Only I/O failures are errors.
func (c *Client) readChannel(ctx context.Context, p Port, ch int) (sample.Reading, error) {
	var v float64
	err := retry.DoNotify(ctx, c.cfg.PressureRetry, func() error {
		resp, err := c.exchange(p, QueryPressure(c.cfg.Address, ch), c.cfg.Timeout)
		if err != nil {
			return classifyAttempt(err)
		}
		val, ok := ExtractPressure(c.cfg.Address, resp)
		if !ok {
			return fault.New(fault.Malformed, "mks pressure", fmt.Sprintf("no reading in %q", resp))
		}
		v = val
		return nil
	}, func(int, error) { c.cfg.Metrics.IncRetry(device, "pressure") })

	if fatal(ctx, err) {
		return sample.Reading{}, err
	}
	if err != nil {
		c.log.Debug().Int("channel", ch).Err(err).Msg("mks channel absent this cycle")
		return sample.Reading{}, nil
	}
	return sample.Present(v), nil
}

// classifyAttempt stops retrying on anything but a timeout or a bad frame.
func classifyAttempt(err error) error {
	switch fault.CategoryOf(err) {
	case fault.Timeout, fault.Malformed:
		return err
	default:
		return retry.Permanent(err)
	}
}

func fatal(ctx context.Context, err error) bool {
	if err == nil {
		return false
	}
	if ctx.Err() != nil || errors.Is(err, context.Canceled) {
		return true
	}
	return fault.Is(err, fault.IO)
}

// ---- port I/O ----

// exchange discards stale input, sends cmd and reads one frame.
func (c *Client) exchange(p Port, cmd string, timeout time.Duration) (string, error) {
	if err := p.ResetInputBuffer(); err != nil {
		return "", fault.Wrap(fault.IO, "mks reset", err)
	}
	if err := c.send(p, cmd, timeout); err != nil {
		return "", err
	}
	return readFrame(p, timeout)
}

// send writes cmd within timeout. The serial driver has no write
// timeout, so a stuck write is abandoned here and reported as an I/O
// fault; closing the port releases it.
func (c *Client) send(p Port, cmd string, timeout time.Duration) error {
	done := make(chan error, 1)
	go func() {
		_, err := p.Write([]byte(cmd))
		done <- err
	}()

	t := time.NewTimer(timeout)
	defer t.Stop()

	select {
	case err := <-done:
		if err != nil {
			return fault.Wrap(fault.IO, "mks write", err)
		}
		return nil
	case <-t.C:
		return fault.New(fault.IO, "mks write", fmt.Sprintf("not written within %v", timeout))
	}
}

// readFrame reads up to the frame terminator and returns the trimmed text
// before it. A read that returns nothing is the port's read timeout.
func readFrame(p Port, timeout time.Duration) (string, error) {
	deadline := time.Now().Add(timeout)

	var sb strings.Builder
	buf := make([]byte, 64)
	for {
		n, err := p.Read(buf)
		if n > 0 {
			sb.Write(buf[:n])
			if i := strings.Index(sb.String(), Terminator); i >= 0 {
				return strings.TrimSpace(sb.String()[:i]), nil
			}
		}
		if err != nil {
			return "", fault.Wrap(fault.IO, "mks read", err)
		}
		if n == 0 || time.Now().After(deadline) {
			return "", fault.New(fault.Timeout, "mks read", fmt.Sprintf("no %s within %v", Terminator, timeout))
		}
	}
}

func (c *Client) attach(ctx context.Context, p Port) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if ctx.Err() != nil {
		_ = p.Close()
		return false
	}
	c.port = p
	return true
}

func (c *Client) currentPort() Port {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.port
}

func (c *Client) closePort() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.port != nil {
		_ = c.port.Close()
		c.port = nil
	}
}

// fail ends the run: the port is closed, the sample cleared, and the
// caller is told through an error notification.
func (c *Client) fail(prefix string, err error) {
	c.closePort()
	c.sample.Clear()
	c.setState(status.Faulted)
	c.cfg.Metrics.IncCycle(device, metrics.ResultError)

	c.log.Error().
		Err(err).
		Str("category", fault.CategoryOf(err).String()).
		Msg("mks run ended")

	c.events.Publish(status.Event{
		Kind:  status.EventError,
		Text:  prefix + err.Error(),
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
	c.log.Info().Str("from", prev.String()).Str("to", s.String()).Msg("mks state changed")
}

func (c *Client) publishStatus(text string) {
	c.events.Publish(status.Event{Kind: status.EventStatus, Text: text, State: c.state.Load()})
}
