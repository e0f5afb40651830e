package notify

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"html"
	"mime"
	"net"
	"net/smtp"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"time"
)

// SMTPConfig configures the email channel.
//
// Two connection modes depending on TLS:
//   - true:  implicit TLS (SMTPS, typically port 465) via tls.Dial
//   - false: plaintext or STARTTLS (typically port 587) via smtp.SendMail
type SMTPConfig struct {
	Host     string
	Port     int
	Username string
	Password string
	From     string
	To       []string
	TLS      bool
}

// Validate checks the required fields.
func (c SMTPConfig) Validate() error {
	if c.Host == "" {
		return fmt.Errorf("%w: smtp host is required", ErrInvalidConfig)
	}
	if c.Port < 1 || c.Port > 65535 {
		return fmt.Errorf("%w: smtp port must be a valid port number", ErrInvalidConfig)
	}
	if c.From == "" {
		return fmt.Errorf("%w: smtp from address is required", ErrInvalidConfig)
	}
	if len(c.To) == 0 {
		return fmt.Errorf("%w: smtp recipient list is empty", ErrInvalidConfig)
	}
	return nil
}

// EmailChannel delivers events over SMTP with an HTML body and optional file
// attachments.
type EmailChannel struct {
	cfg         SMTPConfig
	attachments []string
	now         func() time.Time
}

// NewEmailChannel creates the email channel. attachments lists file paths
// appended as MIME parts to every message (e.g. a log file); missing files
// are skipped at send time.
func NewEmailChannel(cfg SMTPConfig, attachments ...string) (*EmailChannel, error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &EmailChannel{cfg: cfg, attachments: attachments, now: time.Now}, nil
}

func (e *EmailChannel) Name() string { return "email" }

// Send composes and delivers the message. Returns nil iff the MTA accepted
// the envelope.
func (e *EmailChannel) Send(ctx context.Context, ev Event) error {
	msg, err := e.buildMessage(ev)
	if err != nil {
		return fmt.Errorf("%w: %s", ErrSendFailed, err)
	}

	addr := net.JoinHostPort(e.cfg.Host, fmt.Sprintf("%d", e.cfg.Port))
	if e.cfg.TLS {
		return e.sendTLS(addr, msg)
	}
	return e.sendPlain(addr, msg)
}

// sendPlain uses smtp.SendMail which negotiates STARTTLS automatically when
// the server offers it. Suitable for ports 25 and 587.
func (e *EmailChannel) sendPlain(addr string, msg []byte) error {
	var auth smtp.Auth
	if e.cfg.Username != "" {
		auth = smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
	}
	if err := smtp.SendMail(addr, auth, e.cfg.From, e.cfg.To, msg); err != nil {
		return fmt.Errorf("%w: smtp.SendMail: %s", ErrSendFailed, err)
	}
	return nil
}

// sendTLS establishes an implicit TLS connection before the SMTP handshake,
// for servers that expect TLS from the first byte (port 465).
func (e *EmailChannel) sendTLS(addr string, msg []byte) error {
	tlsCfg := &tls.Config{
		ServerName: e.cfg.Host,
		MinVersion: tls.VersionTLS12,
	}

	conn, err := tls.Dial("tcp", addr, tlsCfg)
	if err != nil {
		return fmt.Errorf("%w: tls.Dial: %s", ErrSendFailed, err)
	}
	defer conn.Close()

	client, err := smtp.NewClient(conn, e.cfg.Host)
	if err != nil {
		return fmt.Errorf("%w: smtp.NewClient: %s", ErrSendFailed, err)
	}
	defer client.Close()

	if e.cfg.Username != "" {
		auth := smtp.PlainAuth("", e.cfg.Username, e.cfg.Password, e.cfg.Host)
		if err := client.Auth(auth); err != nil {
			return fmt.Errorf("%w: smtp auth: %s", ErrSendFailed, err)
		}
	}

	if err := client.Mail(e.cfg.From); err != nil {
		return fmt.Errorf("%w: MAIL FROM: %s", ErrSendFailed, err)
	}
	for _, r := range e.cfg.To {
		if err := client.Rcpt(r); err != nil {
			return fmt.Errorf("%w: RCPT TO %s: %s", ErrSendFailed, r, err)
		}
	}

	w, err := client.Data()
	if err != nil {
		return fmt.Errorf("%w: DATA: %s", ErrSendFailed, err)
	}
	if _, err := w.Write(msg); err != nil {
		return fmt.Errorf("%w: write body: %s", ErrSendFailed, err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("%w: close DATA: %s", ErrSendFailed, err)
	}

	return client.Quit()
}

// buildMessage composes a MIME multipart message with an HTML body part and
// one part per readable attachment.
func (e *EmailChannel) buildMessage(ev Event) ([]byte, error) {
	const boundary = "vya-notify-boundary"

	var sb strings.Builder
	sb.WriteString("From: " + sanitizeHeader(e.cfg.From) + "\r\n")
	sb.WriteString("To: " + sanitizeHeader(strings.Join(e.cfg.To, ", ")) + "\r\n")
	sb.WriteString("Subject: " + mime.QEncoding.Encode("utf-8", sanitizeHeader(ev.Subject)) + "\r\n")
	sb.WriteString("Date: " + e.now().UTC().Format(time.RFC1123Z) + "\r\n")
	sb.WriteString("MIME-Version: 1.0\r\n")
	sb.WriteString("Content-Type: multipart/mixed; boundary=" + boundary + "\r\n")
	sb.WriteString("\r\n")

	sb.WriteString("--" + boundary + "\r\n")
	sb.WriteString("Content-Type: text/html; charset=UTF-8\r\n")
	sb.WriteString("\r\n")
	sb.WriteString(htmlBody(ev))
	sb.WriteString("\r\n")

	for _, path := range e.attachments {
		data, err := os.ReadFile(path)
		if err != nil {
			// Attachment missing at send time; the message still goes out.
			continue
		}
		name := filepath.Base(path)
		sb.WriteString("--" + boundary + "\r\n")
		sb.WriteString("Content-Type: application/octet-stream\r\n")
		sb.WriteString("Content-Transfer-Encoding: base64\r\n")
		sb.WriteString("Content-Disposition: attachment; filename=\"" + sanitizeHeader(name) + "\"\r\n")
		sb.WriteString("\r\n")
		sb.WriteString(wrapBase64(base64.StdEncoding.EncodeToString(data)))
		sb.WriteString("\r\n")
	}

	sb.WriteString("--" + boundary + "--\r\n")
	return []byte(sb.String()), nil
}

// htmlBody renders the event as a small HTML document with the metadata as
// a table.
func htmlBody(ev Event) string {
	var sb strings.Builder
	sb.WriteString("<html><body>")
	sb.WriteString("<h2>" + html.EscapeString(ev.Subject) + "</h2>")
	sb.WriteString("<p>" + html.EscapeString(ev.Body) + "</p>")
	if len(ev.Metadata) > 0 {
		sb.WriteString("<table border=\"1\" cellpadding=\"4\">")
		for _, k := range sortedMetaKeys(ev.Metadata) {
			sb.WriteString("<tr><td>" + html.EscapeString(k) + "</td><td>" +
				html.EscapeString(fmt.Sprintf("%v", ev.Metadata[k])) + "</td></tr>")
		}
		sb.WriteString("</table>")
	}
	sb.WriteString("</body></html>")
	return sb.String()
}

func sortedMetaKeys(meta map[string]any) []string {
	keys := make([]string, 0, len(meta))
	for k := range meta {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}

// sanitizeHeader truncates at the first CR or LF so event text can never
// inject extra message headers; everything after the break is attacker
// territory and is dropped.
func sanitizeHeader(s string) string {
	if i := strings.IndexAny(s, "\r\n"); i >= 0 {
		return s[:i]
	}
	return s
}

// wrapBase64 folds the encoding at 76 columns per RFC 2045.
func wrapBase64(s string) string {
	var sb strings.Builder
	for len(s) > 76 {
		sb.WriteString(s[:76])
		sb.WriteString("\r\n")
		s = s[76:]
	}
	sb.WriteString(s)
	return sb.String()
}
