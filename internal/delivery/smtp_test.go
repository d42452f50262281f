package delivery

import (
	"context"
	"encoding/base64"
	"errors"
	"fmt"
	"net"
	"net/textproto"
	"strconv"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"sheetmail/pkg/logx"
)

// fakeRelay is a minimal in-process SMTP server (no TLS) used to exercise SMTPClient.
type fakeRelay struct {
	ln       net.Listener
	password string
	rcpt     map[string]int // address -> reply code override
	starttls bool

	mu       sync.Mutex
	messages []string
	users    []string
}

func startFakeRelay(t *testing.T, password string, rcpt map[string]int) *fakeRelay {
	t.Helper()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	f := &fakeRelay{ln: ln, password: password, rcpt: rcpt}
	t.Cleanup(func() { _ = ln.Close() })
	go f.serve()
	return f
}

func (f *fakeRelay) relay(t *testing.T) Relay {
	t.Helper()
	_, port, err := net.SplitHostPort(f.ln.Addr().String())
	require.NoError(t, err)
	p, err := strconv.Atoi(port)
	require.NoError(t, err)
	return Relay{Host: "127.0.0.1", Port: p, TLS: TLSNone, DialTimeout: time.Second, Timeout: 5 * time.Second}
}

func (f *fakeRelay) serve() {
	for {
		c, err := f.ln.Accept()
		if err != nil {
			return
		}
		go f.handle(c)
	}
}

func (f *fakeRelay) handle(c net.Conn) {
	defer c.Close()
	tp := textproto.NewConn(c)
	_ = tp.PrintfLine("220 fake ESMTP")
	for {
		line, err := tp.ReadLine()
		if err != nil {
			return
		}
		upper := strings.ToUpper(line)
		switch {
		case strings.HasPrefix(upper, "EHLO"):
			_ = tp.PrintfLine("250-fake")
			if f.starttls {
				_ = tp.PrintfLine("250-STARTTLS")
			}
			_ = tp.PrintfLine("250 AUTH PLAIN")
		case strings.HasPrefix(upper, "HELO"):
			_ = tp.PrintfLine("250 fake")
		case strings.HasPrefix(upper, "AUTH PLAIN "):
			raw, _ := base64.StdEncoding.DecodeString(strings.TrimSpace(line[len("AUTH PLAIN "):]))
			parts := strings.Split(string(raw), "\x00")
			if len(parts) == 3 && parts[2] == f.password {
				f.mu.Lock()
				f.users = append(f.users, parts[1])
				f.mu.Unlock()
				_ = tp.PrintfLine("235 2.7.0 accepted")
			} else {
				_ = tp.PrintfLine("535 5.7.8 bad credentials")
			}
		case strings.HasPrefix(upper, "MAIL FROM:"):
			_ = tp.PrintfLine("250 ok")
		case strings.HasPrefix(upper, "RCPT TO:"):
			addr := strings.TrimSuffix(strings.TrimPrefix(line[len("RCPT TO:"):], "<"), ">")
			if code := f.rcpt[addr]; code != 0 {
				_ = tp.PrintfLine("%d recipient refused", code)
				continue
			}
			_ = tp.PrintfLine("250 ok")
		case upper == "DATA":
			_ = tp.PrintfLine("354 go ahead")
			b, err := tp.ReadDotBytes()
			if err != nil {
				return
			}
			f.mu.Lock()
			f.messages = append(f.messages, string(b))
			f.mu.Unlock()
			_ = tp.PrintfLine("250 queued")
		case upper == "QUIT":
			_ = tp.PrintfLine("221 bye")
			return
		default:
			_ = tp.PrintfLine("502 not implemented")
		}
	}
}

func (f *fakeRelay) snapshot() ([]string, []string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]string(nil), f.messages...), append([]string(nil), f.users...)
}

func envelope(relay Relay, to string) Envelope {
	return Envelope{
		Relay:      relay,
		Credential: "s3cret",
		From:       "sales@example.com",
		To:         to,
		Subject:    "Acme says hi",
		Body:       "<p>Hello Jane!</p>",
	}
}

func TestSMTPDeliverSuccess(t *testing.T) {
	t.Parallel()
	f := startFakeRelay(t, "s3cret", nil)
	c := NewSMTP(logx.Nop())

	err := c.Deliver(context.Background(), envelope(f.relay(t), "bob@acme.org"))
	require.NoError(t, err)

	msgs, users := f.snapshot()
	require.Len(t, msgs, 1)
	assert.Equal(t, []string{"sales@example.com"}, users)
	assert.Contains(t, msgs[0], "Subject: Acme says hi")
	assert.Contains(t, msgs[0], "To: <bob@acme.org>")
	assert.Contains(t, msgs[0], `Content-Type: text/html; charset="utf-8"`)
	assert.Contains(t, msgs[0], "Hello Jane!")
}

func TestSMTPDeliverClassifiesFailures(t *testing.T) {
	t.Parallel()
	f := startFakeRelay(t, "s3cret", map[string]int{
		"gone@acme.org":  550,
		"later@acme.org": 451,
	})
	c := NewSMTP(logx.Nop())

	tests := []struct {
		name  string
		env   func() Envelope
		kind  Kind
		stage string
		code  int
	}{
		{name: "bad credential", env: func() Envelope {
			e := envelope(f.relay(t), "bob@acme.org")
			e.Credential = "wrong"
			return e
		}, kind: KindAuth, stage: "auth", code: 535},
		{name: "mailbox unavailable", env: func() Envelope { return envelope(f.relay(t), "gone@acme.org") }, kind: KindPermanent, stage: "rcpt", code: 550},
		{name: "greylisted", env: func() Envelope { return envelope(f.relay(t), "later@acme.org") }, kind: KindTransient, stage: "rcpt", code: 451},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := c.Deliver(context.Background(), tt.env())
			require.Error(t, err)
			var de *Error
			require.True(t, errors.As(err, &de), "want *Error, got %T", err)
			assert.Equal(t, tt.kind, de.Kind)
			assert.Equal(t, tt.stage, de.Stage)
			assert.Equal(t, tt.code, de.Code)
			assert.Equal(t, tt.kind, KindOf(err))
		})
	}
}

func TestSMTPDeliverRequiresStartTLS(t *testing.T) {
	t.Parallel()
	f := startFakeRelay(t, "s3cret", nil)
	relay := f.relay(t)
	relay.TLS = TLSStartTLS

	err := NewSMTP(logx.Nop()).Deliver(context.Background(), envelope(relay, "bob@acme.org"))
	require.ErrorIs(t, err, ErrPermanent)
	msgs, _ := f.snapshot()
	assert.Empty(t, msgs)
}

func TestSMTPDeliverDialFailureIsTransient(t *testing.T) {
	t.Parallel()
	ln, err := net.Listen("tcp", "127.0.0.1:0")
	require.NoError(t, err)
	addr := ln.Addr().(*net.TCPAddr)
	require.NoError(t, ln.Close())

	relay := Relay{Host: "127.0.0.1", Port: addr.Port, TLS: TLSNone, DialTimeout: time.Second}
	err = NewSMTP(logx.Nop()).Deliver(context.Background(), envelope(relay, "bob@acme.org"))
	require.ErrorIs(t, err, ErrTransient)
}

func TestErrorMatchesSentinels(t *testing.T) {
	t.Parallel()
	err := fmt.Errorf("wrapped: %w", &Error{Kind: KindAuth, Stage: "auth", Code: 535})
	assert.ErrorIs(t, err, ErrAuth)
	assert.NotErrorIs(t, err, ErrPermanent)
	assert.Equal(t, KindTransient, KindOf(errors.New("plain")))
	assert.Equal(t, "auth failure at auth (535)", (&Error{Kind: KindAuth, Stage: "auth", Code: 535}).Error())
}

func TestBuildMessage(t *testing.T) {
	t.Parallel()
	now := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)
	env := Envelope{From: "sales@example.com", To: "bob@acme.org", Subject: "Héllo\r\nBcc: x@y", Body: "line1\nline2", ContentType: "plain"}

	b, err := buildMessage(env, now)
	require.NoError(t, err)
	s := string(b)
	assert.Contains(t, s, "Content-Type: text/plain")
	assert.Contains(t, s, "Date: Fri, 02 Jan 2026 03:04:05 +0000")
	assert.Contains(t, s, "@example.com>\r\n")
	assert.NotContains(t, s, "\r\nBcc:")
	assert.Contains(t, s, "line1\r\nline2")

	_, err = buildMessage(Envelope{From: "nope", To: "bob@acme.org"}, now)
	require.Error(t, err)
}
