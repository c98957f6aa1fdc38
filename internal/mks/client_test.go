// internal/mks/client_test.go
package mks

import (
	"context"
	"errors"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/fault"
	"github.com/tamzrod/pump-monitor/internal/poller"
	"github.com/tamzrod/pump-monitor/internal/retry"
	"github.com/tamzrod/pump-monitor/internal/status"
)

// ---- fake gauge controller ----

type fakeDevice struct {
	mu sync.Mutex

	unit        string
	answerUnit  bool
	acceptUnits bool
	pressure    map[int]string // reply body per channel; empty means silent
	readErr     error

	blockReads  bool // empty reads wait out the port timeout unless closed
	blockWrites bool // writes hang until the port is closed
	blocked     int  // reads or writes currently blocked

	writes   []string
	opens    []PortConfig
	openErrs []error // consumed one per open
	ports    []*fakePort
}

func newFakeDevice() *fakeDevice {
	return &fakeDevice{
		unit:        "TORR",
		answerUnit:  true,
		acceptUnits: true,
		pressure: map[int]string{
			1: "@253ACK1.23E-02",
			2: "@253ACK7.60E+02",
			3: "@253ACK5.00E-01",
			4: "@253ACK9.99E+00",
		},
	}
}

func (d *fakeDevice) set(fn func(d *fakeDevice)) {
	d.mu.Lock()
	fn(d)
	d.mu.Unlock()
}

func (d *fakeDevice) open(cfg PortConfig) (Port, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.opens = append(d.opens, cfg)
	if len(d.openErrs) > 0 {
		err := d.openErrs[0]
		d.openErrs = d.openErrs[1:]
		if err != nil {
			return nil, err
		}
	}
	p := &fakePort{dev: d, timeout: cfg.ReadTimeout, closeCh: make(chan struct{})}
	d.ports = append(d.ports, p)
	return p, nil
}

func (d *fakeDevice) openCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.opens)
}

func (d *fakeDevice) blockedCount() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.blocked
}

func (d *fakeDevice) writeLog() []string {
	d.mu.Lock()
	defer d.mu.Unlock()
	return append([]string(nil), d.writes...)
}

func (d *fakeDevice) count(cmd string) int {
	n := 0
	for _, w := range d.writeLog() {
		if w == cmd {
			n++
		}
	}
	return n
}

// reply answers one command frame; "" means no answer.
func (d *fakeDevice) reply(frame string) string {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.writes = append(d.writes, frame)

	cmd := strings.TrimSuffix(strings.TrimPrefix(frame, "@253"), Terminator)
	switch {
	case cmd == "U?":
		if d.answerUnit {
			return "@253ACK" + d.unit
		}
	case strings.HasPrefix(cmd, "U!"):
		if d.acceptUnits {
			d.unit = strings.TrimPrefix(cmd, "U!")
		}
		return "@253ACK" + strings.TrimPrefix(cmd, "U!")
	case strings.HasPrefix(cmd, "PR"):
		ch := int(cmd[2] - '0')
		return d.pressure[ch]
	}
	return ""
}

type fakePort struct {
	dev     *fakeDevice
	timeout time.Duration
	closeCh chan struct{}

	mu      sync.Mutex
	pending []byte
	closed  bool
}

// hold blocks until the port is closed or wait elapses; it reports
// whether the port was closed.
func (p *fakePort) hold(wait time.Duration) bool {
	p.dev.set(func(d *fakeDevice) { d.blocked++ })
	defer p.dev.set(func(d *fakeDevice) { d.blocked-- })

	select {
	case <-p.closeCh:
		return true
	case <-time.After(wait):
		return false
	}
}

func (p *fakePort) Write(b []byte) (int, error) {
	p.mu.Lock()
	closed := p.closed
	p.mu.Unlock()
	if closed {
		return 0, errors.New("port closed")
	}

	p.dev.mu.Lock()
	blockWrites := p.dev.blockWrites
	p.dev.mu.Unlock()
	if blockWrites {
		p.hold(time.Hour)
		return 0, errors.New("port closed")
	}

	if r := p.dev.reply(string(b)); r != "" {
		p.mu.Lock()
		p.pending = append(p.pending, r+Terminator...)
		p.mu.Unlock()
	}
	return len(b), nil
}

func (p *fakePort) Read(b []byte) (int, error) {
	p.dev.mu.Lock()
	readErr, blockReads := p.dev.readErr, p.dev.blockReads
	p.dev.mu.Unlock()

	p.mu.Lock()
	if p.closed {
		p.mu.Unlock()
		return 0, errors.New("port closed")
	}
	if readErr != nil {
		p.mu.Unlock()
		return 0, readErr
	}
	if len(p.pending) == 0 {
		p.mu.Unlock()
		if blockReads {
			if p.hold(p.timeout) {
				return 0, errors.New("port closed")
			}
			return 0, nil
		}
		time.Sleep(time.Millisecond) // read timeout
		return 0, nil
	}
	// dribble a few bytes at a time like a slow line
	n := copy(b[:min(len(b), 5)], p.pending)
	p.pending = p.pending[n:]
	p.mu.Unlock()
	return n, nil
}

func (p *fakePort) ResetInputBuffer() error {
	p.mu.Lock()
	p.pending = nil
	p.mu.Unlock()
	return nil
}

func (p *fakePort) Close() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	if !p.closed {
		p.closed = true
		close(p.closeCh)
	}
	return nil
}

func (p *fakePort) isClosed() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.closed
}

// ---- helpers ----

func testConfig(d *fakeDevice) Config {
	return Config{
		Port:          "ttyTEST0",
		Interval:      10 * time.Millisecond,
		Timeout:       50 * time.Millisecond,
		Settle:        10 * time.Millisecond,
		UnitRetry:     retry.Policy{Attempts: 3, Delay: 5 * time.Millisecond},
		PressureRetry: retry.Policy{Attempts: 3, Delay: 2 * time.Millisecond},
		Opener:        d.open,
		Logger:        zerolog.Nop(),
	}
}

func newTestClient(t *testing.T, d *fakeDevice) *Client {
	t.Helper()
	c, err := New(testConfig(d))
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	return c
}

func waitFor(t *testing.T, d time.Duration, msg string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(d)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s", msg)
}

func waitError(t *testing.T, events <-chan status.Event) status.Event {
	t.Helper()
	timeout := time.After(2 * time.Second)
	for {
		select {
		case e := <-events:
			if e.Kind == status.EventError {
				return e
			}
		case <-timeout:
			t.Fatalf("no error event")
		}
	}
}

func hasSample(c *Client) func() bool {
	return func() bool {
		_, ok := c.CurrentSample()
		return ok
	}
}

// ---- tests ----

func TestNew_DefaultsAndChannels(t *testing.T) {
	c, err := New(Config{})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if c.cfg.Port != DefaultPort || c.cfg.BaudRate != DefaultBaudRate || c.cfg.Address != DefaultAddress {
		t.Fatalf("unexpected defaults %+v", c.cfg)
	}
	if c.cfg.Timeout != DefaultTimeout || c.cfg.Interval != DefaultInterval {
		t.Fatalf("unexpected timing defaults %+v", c.cfg)
	}
	if got := c.Channels(); len(got) != 4 || got[0] != 1 || got[3] != 4 {
		t.Fatalf("unexpected default channels %v", got)
	}
	if c.CurrentUnit() != UnitUnknown {
		t.Fatalf("unit must start unknown, got %q", c.CurrentUnit())
	}

	c, err = New(Config{Channels: []int{3, 1, 3}})
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	if got := c.Channels(); len(got) != 2 || got[0] != 1 || got[1] != 3 {
		t.Fatalf("expected sorted deduped channels, got %v", got)
	}

	if _, err := New(Config{Channels: []int{0}}); err == nil {
		t.Fatalf("expected error for channel 0")
	}
	if _, err := New(Config{Channels: []int{5}}); err == nil {
		t.Fatalf("expected error for channel 5")
	}
}

func TestClient_PublishesGaugeSample(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) {
		d.pressure[3] = ""           // silent
		d.pressure[4] = "@253ACK253" // no decimal point
	})

	// one cycle only: the next one waits an hour
	cfg := testConfig(d)
	cfg.Interval = time.Hour
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}
	c.Start()
	defer c.Stop()

	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	g, _ := c.CurrentSample()
	if g.Unit != "TORR" || c.CurrentUnit() != "TORR" {
		t.Fatalf("unexpected unit sample=%q client=%q", g.Unit, c.CurrentUnit())
	}
	if r := g.Channel(1); !r.OK || r.Value != 1.23e-02 {
		t.Fatalf("ch1: %+v", r)
	}
	if r := g.Channel(2); !r.OK || r.Value != 7.60e+02 {
		t.Fatalf("ch2: %+v", r)
	}
	if g.Channel(3).OK || g.Channel(4).OK {
		t.Fatalf("ch3/ch4 must be absent: %+v", g.Readings)
	}
	if !c.IsConnected() {
		t.Fatalf("expected connected, got %s", c.State())
	}

	if n := d.count(QueryPressure(253, 3)); n != 3 {
		t.Fatalf("expected exactly 3 attempts on the silent channel, got %d", n)
	}
	if n := d.count(QueryPressure(253, 4)); n != 3 {
		t.Fatalf("expected exactly 3 attempts on the noisy channel, got %d", n)
	}
	if n := d.count(QueryPressure(253, 1)); n != 1 {
		t.Fatalf("an answered channel is read once per cycle, got %d", n)
	}
	if cfg := d.opens[0]; cfg.Name != "ttyTEST0" || cfg.BaudRate != DefaultBaudRate || cfg.ReadTimeout != 50*time.Millisecond {
		t.Fatalf("unexpected port config %+v", cfg)
	}
}

func TestClient_UnitUnknownWhenUnanswered(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) { d.answerUnit = false })

	c := newTestClient(t, d)
	c.Start()
	defer c.Stop()

	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	if c.CurrentUnit() != UnitUnknown {
		t.Fatalf("expected Unknown, got %q", c.CurrentUnit())
	}
	if n := d.count(QueryUnit(253)); n != 3 {
		t.Fatalf("expected 3 unit queries, got %d", n)
	}
}

func TestClient_OpenFailureEndsRun(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) {
		d.openErrs = []error{fault.Wrap(fault.Busy, "mks open", errors.New("port busy"))}
	})

	c := newTestClient(t, d)
	events, cancel := c.Subscribe(32)
	defer cancel()

	c.Start()
	e := waitError(t, events)

	if !fault.Is(e.Err, fault.Busy) {
		t.Fatalf("expected busy category, got %s", fault.CategoryOf(e.Err))
	}
	if !strings.HasPrefix(e.Text, "Conn Failed: ") {
		t.Fatalf("unexpected text %q", e.Text)
	}
	waitFor(t, time.Second, "run end", func() bool { return !c.Running() })

	time.Sleep(30 * time.Millisecond)
	if d.openCount() != 1 {
		t.Fatalf("open must not be retried, got %d opens", d.openCount())
	}
	if c.State() != status.Faulted {
		t.Fatalf("expected faulted, got %s", c.State())
	}
}

func TestClient_IOErrorEndsRun(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(t, d)
	events, cancel := c.Subscribe(64)
	defer cancel()

	c.Start()
	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	d.set(func(d *fakeDevice) { d.readErr = errors.New("device unplugged") })
	e := waitError(t, events)

	if !fault.Is(e.Err, fault.IO) {
		t.Fatalf("expected io category, got %s", fault.CategoryOf(e.Err))
	}
	waitFor(t, time.Second, "run end", func() bool { return !c.Running() })

	if _, ok := c.CurrentSample(); ok {
		t.Fatalf("sample must be cleared after a fatal error")
	}
	if !d.ports[0].isClosed() {
		t.Fatalf("port must be closed after a fatal error")
	}

	// the caller may start a new run
	d.set(func(d *fakeDevice) { d.readErr = nil })
	c.Start()
	defer c.Stop()
	waitFor(t, 2*time.Second, "sample after restart", hasSample(c))
}

func TestClient_StopClearsSample(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(t, d)

	c.Start()
	c.Start()
	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	start := time.Now()
	c.Stop()
	if took := time.Since(start); took > time.Second {
		t.Fatalf("Stop took %v", took)
	}

	if _, ok := c.CurrentSample(); ok {
		t.Fatalf("sample must be cleared after Stop")
	}
	if c.State() != status.Disconnected || c.Running() {
		t.Fatalf("expected stopped and disconnected, got %s", c.State())
	}
	if c.LastStatus() != "Stopped." {
		t.Fatalf("expected Stopped. status, got %q", c.LastStatus())
	}
	if d.openCount() != 1 {
		t.Fatalf("double Start must open once, got %d", d.openCount())
	}
	if !d.ports[0].isClosed() {
		t.Fatalf("port must be closed after Stop")
	}
	c.Stop()
}

func TestClient_StopDuringBlockedRead(t *testing.T) {
	d := newFakeDevice()
	cfg := testConfig(d)
	cfg.Timeout = 400 * time.Millisecond
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	c.Start()
	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	// the gauge goes quiet: every pressure read now waits out the timeout
	d.set(func(d *fakeDevice) {
		d.blockReads = true
		for ch := range d.pressure {
			d.pressure[ch] = ""
		}
	})
	waitFor(t, 2*time.Second, "blocked read", func() bool { return d.blockedCount() > 0 })

	start := time.Now()
	c.Stop()
	if took := time.Since(start); took > cfg.Timeout+100*time.Millisecond {
		t.Fatalf("Stop took %v, want <= %v", took, cfg.Timeout+100*time.Millisecond)
	}
	if c.Running() {
		t.Fatalf("loop must have exited")
	}
	if !d.ports[0].isClosed() {
		t.Fatalf("port must be closed after Stop")
	}
	if c.State() != status.Disconnected {
		t.Fatalf("expected disconnected, got %s", c.State())
	}
}

func TestClient_StuckWriteEndsRun(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(t, d)
	events, cancel := c.Subscribe(64)
	defer cancel()

	c.Start()
	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	d.set(func(d *fakeDevice) { d.blockWrites = true })
	e := waitError(t, events)

	if !fault.Is(e.Err, fault.IO) {
		t.Fatalf("expected io category, got %s", fault.CategoryOf(e.Err))
	}
	waitFor(t, time.Second, "run end", func() bool { return !c.Running() })
	if !d.ports[0].isClosed() {
		t.Fatalf("port must be closed after a stuck write")
	}
	waitFor(t, time.Second, "writer released", func() bool { return d.blockedCount() == 0 })
}

func TestSetUnit_WhileRunningIsSerialized(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(t, d)
	c.Start()
	defer c.Stop()

	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	if !c.SetUnit("mbar", "ignored") {
		t.Fatalf("SetUnit failed: %s", c.LastError())
	}
	if c.CurrentUnit() != "MBAR" {
		t.Fatalf("unit not updated, got %q", c.CurrentUnit())
	}
	if d.openCount() != 1 {
		t.Fatalf("running client must reuse its port, got %d opens", d.openCount())
	}

	writes := d.writeLog()
	set := SetUnit(253, "MBAR")
	for i, w := range writes {
		if w != set {
			continue
		}
		if i+1 >= len(writes) || writes[i+1] != QueryUnit(253) {
			t.Fatalf("poll traffic interleaved with the unit change: %q", writes[i:])
		}
	}

	waitFor(t, 2*time.Second, "sample in new unit", func() bool {
		g, ok := c.CurrentSample()
		return ok && g.Unit == "MBAR"
	})
}

func TestSetUnit_TemporaryPort(t *testing.T) {
	d := newFakeDevice()
	cfg := testConfig(d)
	cfg.BaudRate = 19200
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	if !c.SetUnit("Pascal", "ttyOTHER") {
		t.Fatalf("SetUnit failed: %s", c.LastError())
	}
	if c.CurrentUnit() != "PASCAL" {
		t.Fatalf("unit not updated, got %q", c.CurrentUnit())
	}
	if d.openCount() != 1 {
		t.Fatalf("expected one temporary open, got %d", d.openCount())
	}
	pc := d.opens[0]
	if pc.Name != "ttyOTHER" || pc.BaudRate != 19200 || pc.ReadTimeout != DefaultSetUnitTimeout {
		t.Fatalf("temporary port must use the configured line settings: %+v", pc)
	}
	if !d.ports[0].isClosed() {
		t.Fatalf("temporary port must be closed")
	}
	if c.Running() {
		t.Fatalf("SetUnit must not start the loop")
	}
}

func TestSetUnit_NotConfirmed(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) { d.acceptUnits = false })
	c := newTestClient(t, d)

	if c.SetUnit("MICRON", "") {
		t.Fatalf("SetUnit must fail when the device keeps its unit")
	}
	if c.CurrentUnit() != UnitUnknown {
		t.Fatalf("unit must not change, got %q", c.CurrentUnit())
	}
	if !strings.HasPrefix(c.LastError(), "SetUnit Error: ") {
		t.Fatalf("unexpected error text %q", c.LastError())
	}
	if d.opens[0].Name != "ttyTEST0" {
		t.Fatalf("empty port name must fall back to the configured port")
	}
}

func TestSetUnit_RejectsUnsettableUnit(t *testing.T) {
	d := newFakeDevice()
	c := newTestClient(t, d)

	err := c.ChangeUnit(context.Background(), "ATM", "")
	if !fault.Is(err, fault.Invalid) {
		t.Fatalf("expected invalid category, got %v", err)
	}
	if d.openCount() != 0 {
		t.Fatalf("invalid unit must not touch the port")
	}
}

func TestSetUnit_BusyPort(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) {
		d.openErrs = []error{fault.Wrap(fault.Busy, "mks open", errors.New("busy"))}
	})
	c := newTestClient(t, d)

	err := c.ChangeUnit(context.Background(), "TORR", "")
	if !fault.Is(err, fault.Busy) {
		t.Fatalf("expected busy category, got %v", err)
	}
}

func TestSnapshot_Fields(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) { d.pressure[2] = "" })

	cfg := testConfig(d)
	cfg.Channels = []int{1, 2}
	c, err := New(cfg)
	if err != nil {
		t.Fatalf("New() err=%v", err)
	}

	if res := c.Snapshot(); res.Err != poller.ErrNoSample {
		t.Fatalf("expected ErrNoSample before start, got %v", res.Err)
	}

	c.Start()
	defer c.Stop()
	waitFor(t, 2*time.Second, "first sample", hasSample(c))

	res := c.Snapshot()
	if res.Err != nil {
		t.Fatalf("unexpected err %v", res.Err)
	}
	wantHeaders := []string{"CH1", "CH2", "Unit"}
	wantFields := []string{"1.23E-02", "", "TORR"}
	for i := range wantHeaders {
		if res.Headers[i] != wantHeaders[i] || res.Fields[i] != wantFields[i] {
			t.Fatalf("column %d: %q=%q", i, res.Headers[i], res.Fields[i])
		}
	}
	if len(res.Values) != 2 || !res.Values[0].OK || res.Values[1].OK || res.Unit != "TORR" {
		t.Fatalf("unexpected values %+v unit %q", res.Values, res.Unit)
	}
}

func TestSupervise_RestartsAfterFault(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) {
		d.openErrs = []error{fault.Wrap(fault.Busy, "mks open", errors.New("busy"))}
	})
	c := newTestClient(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Supervise(ctx, c, 20*time.Millisecond)

	c.Start()
	defer c.Stop()

	waitFor(t, 2*time.Second, "sample after restart", hasSample(c))
	if d.openCount() != 2 {
		t.Fatalf("expected 2 opens, got %d", d.openCount())
	}
}

func TestSupervise_StopPreventsRestart(t *testing.T) {
	d := newFakeDevice()
	d.set(func(d *fakeDevice) {
		d.openErrs = []error{fault.Wrap(fault.Connect, "mks open", errors.New("no such port"))}
	})
	c := newTestClient(t, d)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go Supervise(ctx, c, 50*time.Millisecond)

	c.Start()
	waitFor(t, time.Second, "fault", func() bool { return c.State() == status.Faulted })
	c.Stop()

	time.Sleep(120 * time.Millisecond)
	if c.Running() || d.openCount() != 1 {
		t.Fatalf("stopped client must stay stopped: running=%v opens=%d", c.Running(), d.openCount())
	}
}
