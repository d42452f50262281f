package delivery

import (
	"context"
	"crypto/tls"
	"errors"
	"io"
	"net"
	"net/smtp"
	"net/textproto"
	"strings"
	"time"

	"sheetmail/pkg/logx"
)

// Ensure SMTPClient implements Client.
var _ Client = (*SMTPClient)(nil)

// SMTPClient submits mail through an SMTP relay, one connection per message.
// The group credential is used as the password and the sender address as the username.
type SMTPClient struct {
	log logx.Logger
	now func() time.Time
}

func NewSMTP(log logx.Logger) *SMTPClient {
	if log.IsZero() {
		log = logx.Nop()
	}
	return &SMTPClient{log: log, now: time.Now}
}

func (c *SMTPClient) Deliver(ctx context.Context, env Envelope) error {
	relay := env.Relay
	if strings.TrimSpace(relay.Host) == "" {
		return &Error{Kind: KindPermanent, Stage: "dial", Err: errors.New("relay host is empty")}
	}
	msg, err := buildMessage(env, c.now())
	if err != nil {
		return &Error{Kind: KindPermanent, Stage: "data", Err: err}
	}

	conn, err := dial(ctx, relay)
	if err != nil {
		return &Error{Kind: KindTransient, Stage: "dial", Err: err}
	}
	if relay.Timeout > 0 {
		_ = conn.SetDeadline(time.Now().Add(relay.Timeout))
	}

	cl, err := smtp.NewClient(conn, relay.Host)
	if err != nil {
		_ = conn.Close()
		return classify("greeting", err)
	}
	defer func() { _ = cl.Close() }()

	if relay.LocalName != "" {
		if err := cl.Hello(relay.LocalName); err != nil {
			return classify("hello", err)
		}
	}

	if relay.TLS == "" || relay.TLS == TLSStartTLS {
		if ok, _ := cl.Extension("STARTTLS"); !ok {
			return &Error{Kind: KindPermanent, Stage: "starttls", Err: errors.New("relay does not offer STARTTLS")}
		}
		if err := cl.StartTLS(tlsConfig(relay)); err != nil {
			return classify("starttls", err)
		}
	}

	if env.Credential != "" {
		if err := cl.Auth(smtp.PlainAuth("", env.From, env.Credential, relay.Host)); err != nil {
			return classify("auth", err)
		}
	}

	if err := cl.Mail(env.From); err != nil {
		return classify("mail", err)
	}
	if err := cl.Rcpt(env.To); err != nil {
		return classify("rcpt", err)
	}
	w, err := cl.Data()
	if err != nil {
		return classify("data", err)
	}
	if _, err := w.Write(msg); err != nil {
		_ = w.Close()
		return classify("data", err)
	}
	if err := w.Close(); err != nil {
		return classify("data", err)
	}
	if err := cl.Quit(); err != nil {
		// The message was accepted; a failed QUIT does not change that.
		c.log.Debug("smtp quit failed", logx.String("relay", relay.Addr()), logx.Err(err))
	}
	return nil
}

func dial(ctx context.Context, relay Relay) (net.Conn, error) {
	timeout := relay.DialTimeout
	if timeout <= 0 {
		timeout = 15 * time.Second
	}
	d := &net.Dialer{Timeout: timeout}
	if relay.TLS == TLSImplicit {
		td := &tls.Dialer{NetDialer: d, Config: tlsConfig(relay)}
		return td.DialContext(ctx, "tcp", relay.Addr())
	}
	return d.DialContext(ctx, "tcp", relay.Addr())
}

func tlsConfig(relay Relay) *tls.Config {
	return &tls.Config{
		ServerName:         relay.Host,
		MinVersion:         tls.VersionTLS12,
		InsecureSkipVerify: relay.InsecureSkipVerify, //nolint:gosec // opt-in for private relays
	}
}

// classify maps an SMTP conversation error onto a Kind.
//
//   - auth stage: 5xx replies and local auth refusals are fatal for the credential
//   - 4xx replies and network failures are transient
//   - any other 5xx reply is permanent for this recipient
func classify(stage string, err error) error {
	if err == nil {
		return nil
	}
	var tpe *textproto.Error
	if errors.As(err, &tpe) {
		kind := KindPermanent
		switch {
		case tpe.Code >= 400 && tpe.Code < 500:
			kind = KindTransient
		case stage == "auth" || tpe.Code == 530 || tpe.Code == 534 || tpe.Code == 535:
			kind = KindAuth
		}
		return &Error{Kind: kind, Stage: stage, Code: tpe.Code, Err: err}
	}
	if isNetworkErr(err) {
		return &Error{Kind: KindTransient, Stage: stage, Err: err}
	}
	if stage == "auth" {
		// e.g. "unencrypted connection" from smtp.PlainAuth: the credential can never be used.
		return &Error{Kind: KindAuth, Stage: stage, Err: err}
	}
	return &Error{Kind: KindTransient, Stage: stage, Err: err}
}

func isNetworkErr(err error) bool {
	if errors.Is(err, io.EOF) || errors.Is(err, io.ErrUnexpectedEOF) || errors.Is(err, net.ErrClosed) {
		return true
	}
	var ne net.Error
	return errors.As(err, &ne)
}
