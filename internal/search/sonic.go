package search

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"regexp"
	"strconv"
	"strings"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/rs/zerolog"

	"kartka/internal/logger"
	"kartka/internal/retry"
)

// Sonic channel modes.
const (
	modeSearch = "search"
	modeIngest = "ingest"
)

const defaultSonicBuffer = 20000

var (
	// ErrSonicRejected is returned when Sonic answers a command with ERR.
	ErrSonicRejected = errors.New("sonic rejected the command")

	// ErrSonicProtocol is returned on an answer the client does not understand.
	ErrSonicProtocol = errors.New("unexpected sonic response")

	bufferPattern = regexp.MustCompile(`buffer\((\d+)\)`)
)

// SonicOptions addresses a Sonic server.
type SonicOptions struct {
	Host     string
	Port     int
	Password string
	Limit    int           // LIMIT of QUERY and SUGGEST
	Timeout  time.Duration // per command when ctx has no deadline
	Retry    retry.Policy
}

// SonicIndex talks the Sonic channel protocol. It opens one connection per channel mode
// on first use and reconnects after I/O failures.
type SonicIndex struct {
	opts SonicOptions
	log  zerolog.Logger

	mu    sync.Mutex
	conns map[string]*sonicConn
}

type sonicConn struct {
	raw    net.Conn
	text   *textproto.Conn
	buffer int
}

// NewSonicIndex creates a client; no connection is made until the first command.
func NewSonicIndex(opts SonicOptions) *SonicIndex {
	if opts.Port == 0 {
		opts.Port = 1491
	}
	if opts.Limit <= 0 {
		opts.Limit = 100
	}
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.Retry.Attempts == 0 {
		opts.Retry = retry.DefaultPolicy()
	}
	return &SonicIndex{
		opts:  opts,
		log:   logger.WithComponent("sonic"),
		conns: make(map[string]*sonicConn),
	}
}

// Push adds one line under id. Lines longer than the server buffer are sent in parts.
func (s *SonicIndex) Push(ctx context.Context, collection, bucket, id, line string) error {
	const op = "sonic.Push"

	return s.run(ctx, op, modeIngest, func(c *sonicConn) error {
		// Half the buffer leaves room for the command and escaping.
		for _, part := range splitText(line, c.buffer/2) {
			cmd := fmt.Sprintf(`PUSH %s %s %s "%s"`, collection, bucket, id, escapeText(part))
			reply, err := c.command(cmd)
			if err != nil {
				return err
			}
			if reply != "OK" {
				return fmt.Errorf("%w: %q", ErrSonicProtocol, reply)
			}
		}
		return nil
	})
}

// Query returns the ids whose lines match text.
func (s *SonicIndex) Query(ctx context.Context, collection, bucket, text string) ([]string, error) {
	const op = "sonic.Query"

	var ids []string
	err := s.run(ctx, op, modeSearch, func(c *sonicConn) error {
		var err error
		ids, err = c.event("QUERY", fmt.Sprintf(`QUERY %s %s "%s" LIMIT(%d)`, collection, bucket, escapeText(text), s.opts.Limit))
		return err
	})
	return ids, err
}

// Suggest completes the word prefix from the indexed vocabulary.
func (s *SonicIndex) Suggest(ctx context.Context, collection, bucket, prefix string) ([]string, error) {
	const op = "sonic.Suggest"

	var words []string
	err := s.run(ctx, op, modeSearch, func(c *sonicConn) error {
		var err error
		words, err = c.event("SUGGEST", fmt.Sprintf(`SUGGEST %s %s "%s" LIMIT(%d)`, collection, bucket, escapeText(prefix), s.opts.Limit))
		return err
	})
	return words, err
}

// Ping checks the search channel.
func (s *SonicIndex) Ping(ctx context.Context) error {
	const op = "sonic.Ping"

	return s.run(ctx, op, modeSearch, func(c *sonicConn) error {
		reply, err := c.command("PING")
		if err != nil {
			return err
		}
		if reply != "PONG" {
			return fmt.Errorf("%w: %q", ErrSonicProtocol, reply)
		}
		return nil
	})
}

// Close ends every open channel.
func (s *SonicIndex) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()

	var errs []error
	for mode, c := range s.conns {
		c.raw.SetDeadline(time.Now().Add(time.Second))
		c.command("QUIT")
		if err := c.text.Close(); err != nil && !isConnClosed(err) {
			errs = append(errs, err)
		}
		delete(s.conns, mode)
	}
	return errors.Join(errs...)
}

// run executes fn on the channel of mode. Commands on one channel are serialized.
// Connection failures are retried on a fresh connection; ERR answers are not.
func (s *SonicIndex) run(ctx context.Context, op, mode string, fn func(c *sonicConn) error) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	err := retry.Do(ctx, s.opts.Retry, func(ctx context.Context) error {
		c, err := s.conn(ctx, mode)
		if err != nil {
			if errors.Is(err, ErrSonicRejected) {
				return retry.Permanent(err)
			}
			return err
		}

		deadline, ok := ctx.Deadline()
		if !ok {
			deadline = time.Now().Add(s.opts.Timeout)
		}
		c.raw.SetDeadline(deadline)

		err = fn(c)
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrSonicRejected) || errors.Is(err, ErrSonicProtocol) {
			return retry.Permanent(err)
		}

		s.log.Warn().Err(err).Str("mode", mode).Msg("Sonic connection failed, reconnecting")
		c.text.Close()
		delete(s.conns, mode)
		return err
	})
	if err != nil {
		return fmt.Errorf("%s: %w", op, err)
	}
	return nil
}

func (s *SonicIndex) conn(ctx context.Context, mode string) (*sonicConn, error) {
	if c, ok := s.conns[mode]; ok {
		return c, nil
	}

	addr := net.JoinHostPort(s.opts.Host, strconv.Itoa(s.opts.Port))
	dialer := net.Dialer{Timeout: s.opts.Timeout}
	raw, err := dialer.DialContext(ctx, "tcp", addr)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", addr, err)
	}
	raw.SetDeadline(time.Now().Add(s.opts.Timeout))

	c := &sonicConn{raw: raw, text: textproto.NewConn(raw), buffer: defaultSonicBuffer}

	greeting, err := c.text.ReadLine()
	if err != nil {
		c.text.Close()
		return nil, err
	}
	if !strings.HasPrefix(greeting, "CONNECTED") {
		c.text.Close()
		return nil, fmt.Errorf("%w: %q", ErrSonicProtocol, greeting)
	}

	started, err := c.command(fmt.Sprintf("START %s %s", mode, s.opts.Password))
	if err != nil {
		c.text.Close()
		return nil, err
	}
	if !strings.HasPrefix(started, "STARTED") {
		c.text.Close()
		return nil, fmt.Errorf("%w: %q", ErrSonicProtocol, started)
	}
	if m := bufferPattern.FindStringSubmatch(started); m != nil {
		if n, err := strconv.Atoi(m[1]); err == nil && n > 0 {
			c.buffer = n
		}
	}

	s.log.Debug().Str("addr", addr).Str("mode", mode).Int("buffer", c.buffer).Msg("Sonic channel started")
	s.conns[mode] = c
	return c, nil
}

// command sends one line and returns the first answer line.
func (c *sonicConn) command(line string) (string, error) {
	if err := c.text.PrintfLine("%s", line); err != nil {
		return "", err
	}
	reply, err := c.text.ReadLine()
	if err != nil {
		return "", err
	}
	if strings.HasPrefix(reply, "ERR ") {
		return "", fmt.Errorf("%w: %s", ErrSonicRejected, strings.TrimPrefix(reply, "ERR "))
	}
	return reply, nil
}

// event sends an asynchronous command and waits for its EVENT line.
func (c *sonicConn) event(kind, line string) ([]string, error) {
	reply, err := c.command(line)
	if err != nil {
		return nil, err
	}
	marker, ok := strings.CutPrefix(reply, "PENDING ")
	if !ok {
		return nil, fmt.Errorf("%w: %q", ErrSonicProtocol, reply)
	}

	for {
		ev, err := c.text.ReadLine()
		if err != nil {
			return nil, err
		}
		fields := strings.Fields(ev)
		if len(fields) < 3 || fields[0] != "EVENT" || fields[1] != kind || fields[2] != marker {
			continue
		}
		return fields[3:], nil
	}
}

func escapeText(s string) string {
	return strings.NewReplacer(`\`, `\\`, `"`, `\"`, "\r", "", "\n", `\n`).Replace(s)
}

// splitText cuts s into parts of at most size bytes, preferring whitespace boundaries and
// never splitting a rune.
func splitText(s string, size int) []string {
	if size <= 0 || len(s) <= size {
		return []string{s}
	}

	var parts []string
	for len(s) > size {
		cut := size
		for cut > 0 && !utf8.RuneStart(s[cut]) {
			cut--
		}
		if cut == 0 {
			_, cut = utf8.DecodeRuneInString(s)
		}
		if i := strings.LastIndexAny(s[:cut], " \t"); i > 0 {
			cut = i
		}
		if part := strings.TrimSpace(s[:cut]); part != "" {
			parts = append(parts, part)
		}
		s = strings.TrimLeft(s[cut:], " \t")
	}
	if s != "" {
		parts = append(parts, s)
	}
	return parts
}

func isConnClosed(err error) bool {
	return errors.Is(err, net.ErrClosed)
}
