package logger

import (
	"io"
	"regexp"
)

// Redactor redacts sensitive information from log output. Shadow
// credential secrets and pool passwords must never reach a log line
// intact, even when a backend error embeds one.
type Redactor struct {
	patterns []*regexp.Regexp
}

// NewRedactor creates a redactor with the default patterns.
func NewRedactor() *Redactor {
	return &Redactor{
		patterns: []*regexp.Regexp{
			// key=value style credentials in DSNs and backend errors
			regexp.MustCompile(`password["\s:=]+[^\s"&]+`),
			regexp.MustCompile(`pwd["\s:=]+[^\s"&]+`),
			regexp.MustCompile(`secret["\s:=]+[^\s"&]+`),

			// bearer tokens and API keys on HTTP backends
			regexp.MustCompile(`Bearer\s+[a-zA-Z0-9._-]+`),
			regexp.MustCompile(`api-key["\s:=]+[^\s"]+`),

			// LDAP simple-bind credentials
			regexp.MustCompile(`bindpw["\s:=]+[^\s"]+`),
		},
	}
}

// AddPattern adds a custom redaction pattern.
func (r *Redactor) AddPattern(pattern string) error {
	re, err := regexp.Compile(pattern)
	if err != nil {
		return err
	}
	r.patterns = append(r.patterns, re)
	return nil
}

// Redact masks every match in s.
func (r *Redactor) Redact(s string) string {
	result := s
	for _, pattern := range r.patterns {
		result = pattern.ReplaceAllString(result, "[REDACTED]")
	}
	return result
}

// Wrap wraps an io.Writer so everything written through it is
// redacted first.
func (r *Redactor) Wrap(w io.Writer) io.Writer {
	return &redactingWriter{writer: w, redactor: r}
}

type redactingWriter struct {
	writer   io.Writer
	redactor *Redactor
}

func (w *redactingWriter) Write(p []byte) (n int, err error) {
	redacted := w.redactor.Redact(string(p))
	return w.writer.Write([]byte(redacted))
}
