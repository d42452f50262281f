package dispatch

import (
	"errors"
	"testing"
)

func TestRenderWorkedExample(t *testing.T) {
	t.Parallel()
	tpl := Template{Name: "hi", RawText: "Sub says hi\nHello {sender_name}!"}
	g := Group{ID: "sales", DisplayName: "Jane"}
	r := Recipient{Address: "bob@acme.org", SourceURL: "www.acme.org"}

	msg, err := Render(tpl, g, r)
	if err != nil {
		t.Fatalf("render: %v", err)
	}
	if msg.Subject != "Acme says hi" {
		t.Fatalf("subject=%q", msg.Subject)
	}
	if msg.Body != "Hello Jane!" {
		t.Fatalf("body=%q", msg.Body)
	}

	again, err := Render(tpl, g, r)
	if err != nil {
		t.Fatalf("render again: %v", err)
	}
	if again != msg {
		t.Fatalf("render not idempotent: %+v vs %+v", again, msg)
	}
}

func TestRender(t *testing.T) {
	t.Parallel()
	cases := []struct {
		name    string
		raw     string
		display string
		url     string
		subject string
		body    string
	}{
		{name: "replaces every marker", raw: "Sub and Sub\n{sender_name}/{sender_name}", display: "Ann", url: "https://shop.example.com", subject: "Example and Example", body: "Ann/Ann"},
		{name: "crlf template", raw: "Sub news\r\nline1\r\nline2", url: "a.b", subject: "B news", body: "line1\r\nline2"},
		{name: "capitalize lowers the rest", raw: "Sub\nx", url: "www.ACME.org", subject: "Acme", body: "x"},
		{name: "unset display name", raw: "hi\nfrom {sender_name}.", url: "www.acme.org", subject: "hi", body: "from ."},
		{name: "body keeps later line breaks", raw: "s\nline1\nline2\n", url: "x.y", subject: "s", body: "line1\nline2\n"},
		{name: "empty second component", raw: "Sub!\nb", url: "www..org", subject: "!", body: "b"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()
			msg, err := Render(Template{Name: "t", RawText: tc.raw}, Group{DisplayName: tc.display}, Recipient{SourceURL: tc.url})
			if err != nil {
				t.Fatalf("render: %v", err)
			}
			if msg.Subject != tc.subject || msg.Body != tc.body {
				t.Fatalf("got subject=%q body=%q; want subject=%q body=%q", msg.Subject, msg.Body, tc.subject, tc.body)
			}
		})
	}
}

func TestRenderErrors(t *testing.T) {
	t.Parallel()

	_, err := Render(Template{Name: "flat", RawText: "no line break"}, Group{}, Recipient{SourceURL: "www.acme.org"})
	var ve *ValidationError
	if !errors.As(err, &ve) {
		t.Fatalf("want ValidationError, got %v", err)
	}
	if ValidateTemplate(Template{RawText: "no line break"}) == nil {
		t.Fatalf("ValidateTemplate accepted a template without line break")
	}

	for _, url := range []string{"", "localhost", "acme"} {
		_, err := Render(Template{RawText: "Sub\nbody"}, Group{}, Recipient{SourceURL: url})
		var pe *PersonalizationError
		if !errors.As(err, &pe) {
			t.Fatalf("url %q: want PersonalizationError, got %v", url, err)
		}
	}
}
