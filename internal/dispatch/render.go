package dispatch

import (
	"strings"
	"unicode"
	"unicode/utf8"
)

const (
	subjectMarker     = "Sub"
	senderPlaceholder = "{sender_name}"
)

// Message is a rendered subject/body pair for one recipient.
type Message struct {
	Subject string
	Body    string
}

// ValidateTemplate checks the template shape without rendering it.
func ValidateTemplate(tpl Template) error {
	_, _, err := splitTemplate(tpl)
	return err
}

// Render personalizes tpl for one recipient of g. It is a pure function of its inputs.
//
// The subject is the first line with every "Sub" replaced by the recipient token;
// the body is the rest with every "{sender_name}" replaced by the group display name.
func Render(tpl Template, g Group, r Recipient) (Message, error) {
	subject, body, err := splitTemplate(tpl)
	if err != nil {
		return Message{}, err
	}
	token, err := personalizationToken(r.SourceURL)
	if err != nil {
		return Message{}, err
	}
	return Message{
		Subject: strings.ReplaceAll(subject, subjectMarker, token),
		Body:    strings.ReplaceAll(body, senderPlaceholder, g.DisplayName),
	}, nil
}

func splitTemplate(tpl Template) (subject, body string, err error) {
	subject, body, ok := strings.Cut(tpl.RawText, "\n")
	if !ok {
		return "", "", &ValidationError{Field: "template", Msg: "template " + quoteName(tpl.Name) + " has no line break between subject and body"}
	}
	return strings.TrimSuffix(subject, "\r"), body, nil
}

// personalizationToken takes the second dot-separated component of a URL-ish value
// ("www.acme.org" -> "Acme").
func personalizationToken(sourceURL string) (string, error) {
	parts := strings.Split(sourceURL, ".")
	if len(parts) < 2 {
		return "", &PersonalizationError{SourceURL: sourceURL, Msg: "need at least two dot-separated components"}
	}
	return capitalize(parts[1]), nil
}

// capitalize upper-cases the first letter and lower-cases the rest.
func capitalize(s string) string {
	if s == "" {
		return s
	}
	first, size := utf8.DecodeRuneInString(s)
	return string(unicode.ToUpper(first)) + strings.ToLower(s[size:])
}

func quoteName(name string) string {
	if name == "" {
		return `""`
	}
	return `"` + name + `"`
}
