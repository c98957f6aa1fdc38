// internal/poller/poller.go
package poller

import (
	"errors"
	"time"
)

// Config is the minimal runtime config of a consumer-side poller.
type Config struct {
	Name     string
	Interval time.Duration
}

// Poller is a dumb, clock-driven reader of a Source's latest sample.
// It never talks to a device; it only copies what the client published.
type Poller struct {
	cfg Config
	src Source
}

// New creates a poller with immutable config.
func New(cfg Config, src Source) (*Poller, error) {
	if src == nil {
		return nil, errors.New("poller: source required")
	}
	if cfg.Interval <= 0 {
		return nil, errors.New("poller: interval must be > 0")
	}
	if cfg.Name == "" {
		cfg.Name = src.Name()
	}
	return &Poller{cfg: cfg, src: src}, nil
}

func (p *Poller) Name() string { return p.cfg.Name }

// PollOnce takes exactly one snapshot.
func (p *Poller) PollOnce() PollResult {
	res := p.src.Snapshot()
	res.Source = p.cfg.Name
	res.At = time.Now()
	return res
}
