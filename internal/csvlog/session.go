// internal/csvlog/session.go
package csvlog

import (
	"context"
	"encoding/csv"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"github.com/google/uuid"
	"github.com/rs/zerolog"

	"github.com/tamzrod/pump-monitor/internal/poller"
)

const (
	// TimestampLayout is the row timestamp format.
	TimestampLayout = "2006-01-02 15:04:05"

	fileStampLayout = "20060102_150405"
	maxNameAttempts = 100
)

type Config struct {
	Dir    string
	Prefix string
	Logger zerolog.Logger

	// Now stamps the file name. Defaults to time.Now.
	Now func() time.Time
}

// Session writes one CSV file per logging session.
// The file is created on the first result that carries a sample and its
// header row is taken from that result. Every row is flushed.
type Session struct {
	cfg Config
	id  string
	log zerolog.Logger

	f       *os.File
	w       *csv.Writer
	path    string
	headers []string
	rows    int
}

func NewSession(cfg Config) (*Session, error) {
	if cfg.Dir == "" {
		return nil, errors.New("csvlog: dir required")
	}
	if cfg.Prefix == "" {
		return nil, errors.New("csvlog: prefix required")
	}
	if cfg.Now == nil {
		cfg.Now = time.Now
	}

	id := uuid.NewString()
	return &Session{
		cfg: cfg,
		id:  id,
		log: cfg.Logger.With().Str("session", id).Str("prefix", cfg.Prefix).Logger(),
	}, nil
}

func (s *Session) ID() string   { return s.id }
func (s *Session) Path() string { return s.path }
func (s *Session) Rows() int    { return s.rows }

// Write appends one row. Results without a sample are skipped.
func (s *Session) Write(res poller.PollResult) error {
	if res.Err != nil {
		return nil
	}
	if s.f == nil {
		if err := s.open(res.Headers); err != nil {
			return err
		}
	}

	at := res.At
	if at.IsZero() {
		at = res.SampleAt
	}
	row := make([]string, 0, len(res.Fields)+1)
	row = append(row, at.Format(TimestampLayout))
	row = append(row, res.Fields...)

	if err := s.w.Write(row); err != nil {
		return fmt.Errorf("csvlog: write %s: %w", s.path, err)
	}
	s.w.Flush()
	if err := s.w.Error(); err != nil {
		return fmt.Errorf("csvlog: flush %s: %w", s.path, err)
	}
	s.rows++
	return nil
}

// Run writes results until ctx is done or in is closed, then closes the file.
func (s *Session) Run(ctx context.Context, in <-chan poller.PollResult) {
	defer func() {
		if err := s.Close(); err != nil {
			s.log.Warn().Err(err).Msg("csv session close failed")
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case res, ok := <-in:
			if !ok {
				return
			}
			if err := s.Write(res); err != nil {
				s.log.Error().Err(err).Msg("csv row dropped")
			}
		}
	}
}

// Close flushes and closes the session file, if one was created.
func (s *Session) Close() error {
	if s.f == nil {
		return nil
	}
	s.w.Flush()
	werr := s.w.Error()
	cerr := s.f.Close()
	s.f, s.w = nil, nil

	s.log.Info().Str("path", s.path).Int("rows", s.rows).Msg("csv session closed")
	if werr != nil {
		return werr
	}
	return cerr
}

func (s *Session) open(headers []string) error {
	if err := os.MkdirAll(s.cfg.Dir, 0o755); err != nil {
		return fmt.Errorf("csvlog: create dir: %w", err)
	}

	base := fmt.Sprintf("%s_%s", s.cfg.Prefix, s.cfg.Now().Format(fileStampLayout))

	var f *os.File
	var path string
	for i := 1; i <= maxNameAttempts; i++ {
		name := base + ".csv"
		if i > 1 {
			name = fmt.Sprintf("%s_%d.csv", base, i)
		}
		path = filepath.Join(s.cfg.Dir, name)

		var err error
		f, err = os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o644)
		if err == nil {
			break
		}
		if !errors.Is(err, os.ErrExist) {
			return fmt.Errorf("csvlog: create %s: %w", path, err)
		}
		f = nil
	}
	if f == nil {
		return fmt.Errorf("csvlog: no free file name for %s", base)
	}

	w := csv.NewWriter(f)
	header := append([]string{"Timestamp"}, headers...)
	if err := w.Write(header); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvlog: header %s: %w", path, err)
	}
	w.Flush()
	if err := w.Error(); err != nil {
		_ = f.Close()
		return fmt.Errorf("csvlog: header %s: %w", path, err)
	}

	s.f, s.w, s.path = f, w, path
	s.headers = append([]string(nil), headers...)
	s.log.Info().Str("path", path).Strs("columns", headers).Msg("csv session opened")
	return nil
}
