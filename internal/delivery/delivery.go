// Package delivery is the boundary between the dispatcher and the outbound mail relay.
//
// A Client sends exactly one message per call and never retries. Failures are
// reported as *Error with a Kind the dispatcher uses to decide whether the failure
// is fatal for the whole run (KindAuth) or only for one recipient.
package delivery

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"strings"
	"time"
)

type Kind int

const (
	KindTransient Kind = iota
	KindPermanent
	KindAuth
)

func (k Kind) String() string {
	switch k {
	case KindAuth:
		return "auth"
	case KindPermanent:
		return "permanent"
	default:
		return "transient"
	}
}

var (
	ErrAuth      = errors.New("relay authentication failed")
	ErrTransient = errors.New("transient delivery failure")
	ErrPermanent = errors.New("permanent delivery failure")
)

// Error is a classified delivery failure.
type Error struct {
	Kind  Kind
	Stage string // dial | greeting | hello | starttls | auth | mail | rcpt | data
	Code  int    // SMTP reply code, 0 when the failure was not a protocol reply
	Err   error
}

func (e *Error) Error() string {
	var b strings.Builder
	b.WriteString(e.Kind.String())
	b.WriteString(" failure")
	if e.Stage != "" {
		b.WriteString(" at ")
		b.WriteString(e.Stage)
	}
	if e.Code != 0 {
		b.WriteString(" (")
		b.WriteString(strconv.Itoa(e.Code))
		b.WriteString(")")
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *Error) Unwrap() error { return e.Err }

// Is lets callers match on the sentinels: errors.Is(err, delivery.ErrAuth).
func (e *Error) Is(target error) bool {
	switch target {
	case ErrAuth:
		return e.Kind == KindAuth
	case ErrTransient:
		return e.Kind == KindTransient
	case ErrPermanent:
		return e.Kind == KindPermanent
	}
	return false
}

// KindOf classifies any error returned by a Client. Unclassified errors are transient.
func KindOf(err error) Kind {
	var de *Error
	if errors.As(err, &de) {
		return de.Kind
	}
	switch {
	case errors.Is(err, ErrAuth):
		return KindAuth
	case errors.Is(err, ErrPermanent):
		return KindPermanent
	}
	return KindTransient
}

type TLSMode string

const (
	TLSStartTLS TLSMode = "starttls"
	TLSImplicit TLSMode = "tls"
	TLSNone     TLSMode = "none"
)

// Relay is the mail submission endpoint. Fixed per deployment.
type Relay struct {
	Host      string
	Port      int
	TLS       TLSMode
	LocalName string // EHLO name; empty uses net/smtp default

	DialTimeout time.Duration
	// Timeout bounds one whole SMTP conversation (0 = no deadline).
	Timeout time.Duration

	InsecureSkipVerify bool
}

// DefaultRelay is the well-known submission endpoint the tool was built around.
func DefaultRelay() Relay {
	return Relay{Host: "smtp.gmail.com", Port: 587, TLS: TLSStartTLS, DialTimeout: 15 * time.Second, Timeout: 2 * time.Minute}
}

func (r Relay) Addr() string {
	port := r.Port
	if port <= 0 {
		port = 587
	}
	return net.JoinHostPort(r.Host, strconv.Itoa(port))
}

func (r Relay) String() string {
	mode := r.TLS
	if mode == "" {
		mode = TLSStartTLS
	}
	return fmt.Sprintf("%s (%s)", r.Addr(), mode)
}

// Envelope is one rendered message bound for one recipient.
type Envelope struct {
	Relay       Relay
	Credential  string
	From        string
	To          string
	Subject     string
	Body        string
	ContentType string // "html" (default) or "plain"
}

// Client delivers one message. Implementations must be safe for concurrent use
// by independent runs.
type Client interface {
	Deliver(ctx context.Context, env Envelope) error
}

// ClientFunc adapts a function to Client.
type ClientFunc func(ctx context.Context, env Envelope) error

func (f ClientFunc) Deliver(ctx context.Context, env Envelope) error { return f(ctx, env) }
