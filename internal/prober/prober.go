// Package prober drives the per-address SMTP RCPT-probe state machine
// over a single TCP connection: HELO, MAIL FROM, RCPT TO, QUIT.
//
// Grounded on the teacher's smtp.go (CheckEmail / checkCatchAll), with
// two corrections flagged by spec.md §9: replies are parsed as
// proper (possibly multiline) SMTP responses instead of "read until
// CRLF", and the source IP is bound before connect via a supplied
// local address rather than left to the OS default route.
package prober

import (
	"bufio"
	"context"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"

	"github.com/devyanshu/emailprobe/internal/domain"
)

// blockSignals are lowercase substrings that, if present anywhere in
// inbound text or a transport error, set Result.Blocked. This does not
// change Valid; it only tells the orchestrator to record a per-IP
// block event.
var blockSignals = []string{
	"blocked", "blacklisted", "banned", "denied", "rejected", "spam",
	"authentication required", "connection refused",
}

// state is the prober's explicit state value, advanced by reply
// chunks rather than by socket-event callbacks (spec.md §9).
type state int

const (
	stateConnected state = iota
	stateHeloSent
	stateMailSent
	stateRcptSent
	stateQuitSent
)

// Config configures one probe dispatch.
type Config struct {
	HeloHostname string
	SenderEmail  string
	IdleTimeout  time.Duration // reset on every inbound byte; default 10s
	// LocalAddr, if set, binds the outbound TCP connection to this
	// source address — how the IP pool hands a probe "its" IP.
	LocalAddr net.Addr
	// Dial is injectable for testing; defaults to a net.Dialer using
	// LocalAddr, or a SOCKS5 dial through Proxy when set.
	Dial func(ctx context.Context, network, address string) (net.Conn, error)
	// Proxy, if set, routes the probe connection through a SOCKS5 hop
	// instead of dialing the MX host directly. Disabled unless
	// configured; see proxy.go.
	Proxy *ProxyConfig
}

func (c Config) dial(ctx context.Context, address string) (net.Conn, error) {
	return c.dialer()(ctx, address)
}

// Prober drives RCPT-probes against one MX host.
type Prober struct {
	cfg Config
}

// New builds a Prober.
func New(cfg Config) *Prober {
	if cfg.IdleTimeout <= 0 {
		cfg.IdleTimeout = 10 * time.Second
	}
	return &Prober{cfg: cfg}
}

// Probe connects to mxHost:25, runs HELO/MAIL FROM/RCPT TO/QUIT for
// email, and returns a classified verdict. One TCP connection is used
// per call; it is always closed before returning.
func (p *Prober) Probe(ctx context.Context, mxHost, email string) domain.ProbeResult {
	result := domain.ProbeResult{Email: email, StartedAt: time.Now()}
	if p.cfg.LocalAddr != nil {
		result.SourceIP = p.cfg.LocalAddr.String()
	}

	address := net.JoinHostPort(mxHost, "25")
	conn, err := p.cfg.dial(ctx, address)
	if err != nil {
		result.Reason = domain.ReasonConnectionError
		result.Details = err.Error()
		result.Blocked = containsBlockSignal(err.Error())
		result.FinishedAt = time.Now()
		return result
	}
	defer conn.Close()

	rw := &idleConn{Conn: conn, timeout: p.cfg.IdleTimeout}
	rw.resetDeadline()
	reader := bufio.NewReader(rw)

	st := stateConnected
	finish := func(reason domain.Reason, details string) domain.ProbeResult {
		result.Reason = reason
		result.Details = details
		if reason != domain.ReasonNone {
			result.Blocked = result.Blocked || containsBlockSignal(details)
		}
		result.FinishedAt = time.Now()
		return result
	}

	// S0 CONNECTED --recv banner--> send HELO --> S1
	_, _, err = readReply(reader, rw)
	if err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	if err := writeLine(rw, fmt.Sprintf("HELO %s", p.cfg.HeloHostname)); err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	st = stateHeloSent

	// S1 HELO_SENT --recv 2xx--> send MAIL FROM --> S2
	code, text, err := readReply(reader, rw)
	if err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	if code/100 != 2 {
		return finish(domain.ReasonUnknownError, text)
	}
	if err := writeLine(rw, fmt.Sprintf("MAIL FROM:<%s>", p.cfg.SenderEmail)); err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	st = stateMailSent

	// S2 MAIL_SENT --recv 2xx--> send RCPT TO --> S3
	code, text, err = readReply(reader, rw)
	if err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	if code/100 != 2 {
		return finish(domain.ReasonUnknownError, text)
	}
	if err := writeLine(rw, fmt.Sprintf("RCPT TO:<%s>", email)); err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	st = stateRcptSent

	// S3 RCPT_SENT --recv resp--> classify, send QUIT --> S4
	code, text, err = readReply(reader, rw)
	if err != nil {
		return finish(classifyTransportErr(err), err.Error())
	}
	reason, valid := classifyRCPT(code)
	result.Valid = valid
	result.Details = text
	result.Code = code
	result.Blocked = containsBlockSignal(text)

	_ = writeLine(rw, "QUIT")
	st = stateQuitSent
	_, _, _ = readReply(reader, rw) // best-effort; ignore errors

	_ = st
	result.Reason = reason
	result.FinishedAt = time.Now()
	return result
}

func classifyTransportErr(err error) domain.Reason {
	if ne, ok := err.(net.Error); ok && ne.Timeout() {
		return domain.ReasonTimeout
	}
	return domain.ReasonConnectionError
}

func containsBlockSignal(text string) bool {
	lower := strings.ToLower(text)
	for _, sig := range blockSignals {
		if strings.Contains(lower, sig) {
			return true
		}
	}
	return false
}

// writeLine sends one SMTP command terminated by CRLF and resets the
// idle timer.
func writeLine(rw *idleConn, line string) error {
	rw.resetDeadline()
	_, err := rw.Write([]byte(line + "\r\n"))
	return err
}

// readReply parses one (possibly multiline) SMTP response: lines of
// form "NNN-..." are continuations, terminated by a line of form
// "NNN ...". This corrects the teacher's "read until CRLF" framing
// bug flagged in spec.md §9.
func readReply(r *bufio.Reader, rw *idleConn) (code int, full string, err error) {
	var lines []string
	for {
		rw.resetDeadline()
		line, readErr := r.ReadString('\n')
		if readErr != nil {
			return 0, "", readErr
		}
		line = strings.TrimRight(line, "\r\n")
		if len(line) < 3 {
			return 0, "", fmt.Errorf("malformed SMTP reply line: %q", line)
		}
		lines = append(lines, line)
		if len(line) < 4 || line[3] != '-' {
			break // terminal line: "NNN " or bare "NNN"
		}
	}
	last := lines[len(lines)-1]
	code, convErr := strconv.Atoi(last[:3])
	if convErr != nil {
		return 0, "", fmt.Errorf("invalid SMTP reply code %q", last[:3])
	}
	return code, strings.Join(lines, " "), nil
}

// idleConn wraps a net.Conn, resetting a fixed idle deadline on every
// read/write so the 10s timer restarts on any activity rather than
// bounding total probe duration.
type idleConn struct {
	net.Conn
	timeout time.Duration
}

func (c *idleConn) resetDeadline() {
	_ = c.Conn.SetDeadline(time.Now().Add(c.timeout))
}

func (c *idleConn) Read(b []byte) (int, error) {
	c.resetDeadline()
	return c.Conn.Read(b)
}

func (c *idleConn) Write(b []byte) (int, error) {
	c.resetDeadline()
	return c.Conn.Write(b)
}
