package notify

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	. "github.com/onsi/gomega"
	"go.uber.org/zap"

	"github.com/vya-io/vya/internal/alerts"
)

type fakeChannel struct {
	name  string
	err   error
	calls int
	last  Event
}

func (f *fakeChannel) Name() string { return f.name }

func (f *fakeChannel) Send(_ context.Context, ev Event) error {
	f.calls++
	f.last = ev
	return f.err
}

func TestManagerFansOutToAllChannels(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())

	ok := &fakeChannel{name: "ok"}
	failing := &fakeChannel{name: "failing", err: ErrSendFailed}
	trailing := &fakeChannel{name: "trailing"}
	m.AddChannel(ok)
	m.AddChannel(failing)
	m.AddChannel(trailing)

	ev := Event{Type: EventFailure, Subject: "backup failed", Body: "details"}
	err := m.Send(context.Background(), ev)

	g.Expect(err).To(HaveOccurred())
	g.Expect(errors.Is(err, ErrSendFailed)).To(BeTrue())

	// A failing channel never blocks the ones after it.
	g.Expect(ok.calls).To(Equal(1))
	g.Expect(trailing.calls).To(Equal(1))
	g.Expect(trailing.last.Metadata).To(HaveKey("error_failing"))
}

func TestManagerSendAlert(t *testing.T) {
	g := NewWithT(t)
	m := NewManager(zap.NewNop())

	ch := &fakeChannel{name: "sink"}
	m.AddChannel(ch)

	trig := alerts.Trigger{
		Rule: alerts.Rule{
			Name:      "slow-backup",
			Severity:  alerts.SeverityWarning,
			Condition: alerts.Condition{Field: "duration_seconds", Op: alerts.OpGreater, Threshold: 60},
		},
		Value:     120,
		Timestamp: time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC),
	}
	g.Expect(m.SendAlert(context.Background(), trig)).To(Succeed())

	g.Expect(ch.last.Type).To(Equal(EventAlert))
	g.Expect(ch.last.Subject).To(ContainSubstring("slow-backup"))
	g.Expect(ch.last.Priority).To(Equal("warning"))
	g.Expect(ch.last.Metadata).To(HaveKeyWithValue("value", 120.0))
}

func TestWebhookDeliversSignedPayload(t *testing.T) {
	g := NewWithT(t)

	var gotBody []byte
	var gotSig string
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotBody, _ = io.ReadAll(r.Body)
		gotSig = r.Header.Get("X-Vya-Signature")
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(WebhookConfig{URL: srv.URL, Secret: "s3cret"})
	g.Expect(err).NotTo(HaveOccurred())

	ev := Event{Type: EventSuccess, Subject: "done", Body: "all good", Metadata: map[string]any{"size": 42}}
	g.Expect(ch.Send(context.Background(), ev)).To(Succeed())

	var payload webhookPayload
	g.Expect(json.Unmarshal(gotBody, &payload)).To(Succeed())
	g.Expect(payload.Type).To(Equal("success"))
	g.Expect(payload.Body).To(Equal("all good"))
	g.Expect(payload.Payload).To(HaveKeyWithValue("size", 42.0))

	mac := hmac.New(sha256.New, []byte("s3cret"))
	mac.Write(gotBody)
	g.Expect(gotSig).To(Equal("sha256=" + hex.EncodeToString(mac.Sum(nil))))
}

func TestWebhookRetriesServerErrors(t *testing.T) {
	g := NewWithT(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		if hits.Add(1) < 3 {
			w.WriteHeader(http.StatusInternalServerError)
			return
		}
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(WebhookConfig{URL: srv.URL, MaxAttempts: 3})
	g.Expect(err).NotTo(HaveOccurred())
	ch.sleep = func(time.Duration) {}

	g.Expect(ch.Send(context.Background(), Event{Type: EventFailure, Subject: "x"})).To(Succeed())
	g.Expect(hits.Load()).To(Equal(int32(3)))
}

func TestWebhookDoesNotRetryClientErrors(t *testing.T) {
	g := NewWithT(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadRequest)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(WebhookConfig{URL: srv.URL, MaxAttempts: 5})
	g.Expect(err).NotTo(HaveOccurred())
	ch.sleep = func(time.Duration) {}

	err = ch.Send(context.Background(), Event{Type: EventFailure, Subject: "x"})
	g.Expect(errors.Is(err, ErrSendFailed)).To(BeTrue())
	g.Expect(hits.Load()).To(Equal(int32(1)))
}

func TestWebhookGivesUpAfterMaxAttempts(t *testing.T) {
	g := NewWithT(t)

	var hits atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
		hits.Add(1)
		w.WriteHeader(http.StatusBadGateway)
	}))
	defer srv.Close()

	ch, err := NewWebhookChannel(WebhookConfig{URL: srv.URL, MaxAttempts: 2})
	g.Expect(err).NotTo(HaveOccurred())
	ch.sleep = func(time.Duration) {}

	err = ch.Send(context.Background(), Event{Type: EventFailure, Subject: "x"})
	g.Expect(errors.Is(err, ErrSendFailed)).To(BeTrue())
	g.Expect(hits.Load()).To(Equal(int32(2)))
}

func TestEmailMessageComposition(t *testing.T) {
	g := NewWithT(t)

	ch, err := NewEmailChannel(SMTPConfig{
		Host: "mail.example.com",
		Port: 587,
		From: "backup@example.com",
		To:   []string{"ops@example.com"},
	})
	g.Expect(err).NotTo(HaveOccurred())
	ch.now = func() time.Time { return time.Date(2026, 1, 15, 12, 0, 0, 0, time.UTC) }

	msg, err := ch.buildMessage(Event{
		Type:     EventFailure,
		Subject:  "backup failed\r\nBcc: evil@example.com",
		Body:     "mysqldump exited 2 <script>",
		Metadata: map[string]any{"instance": "db1"},
	})
	g.Expect(err).NotTo(HaveOccurred())

	text := string(msg)
	// Header injection is truncated at the line break; HTML is escaped.
	g.Expect(text).To(ContainSubstring("Subject: backup failed\r\n"))
	g.Expect(text).NotTo(ContainSubstring("Bcc: evil@example.com\r\n"))
	g.Expect(text).To(ContainSubstring("&lt;script&gt;"))
	g.Expect(text).To(ContainSubstring("Content-Type: text/html"))
	g.Expect(text).To(ContainSubstring("instance"))
}

func TestEmailAttachments(t *testing.T) {
	g := NewWithT(t)

	dir := t.TempDir()
	logPath := filepath.Join(dir, "run.log")
	g.Expect(os.WriteFile(logPath, []byte("log line one"), 0o644)).To(Succeed())

	ch, err := NewEmailChannel(SMTPConfig{
		Host: "mail.example.com", Port: 587,
		From: "backup@example.com", To: []string{"ops@example.com"},
	}, logPath, filepath.Join(dir, "missing.log"))
	g.Expect(err).NotTo(HaveOccurred())

	msg, err := ch.buildMessage(Event{Type: EventSuccess, Subject: "ok", Body: "done"})
	g.Expect(err).NotTo(HaveOccurred())

	text := string(msg)
	g.Expect(text).To(ContainSubstring(`filename="run.log"`))
	// Only one attachment part: the missing file is skipped.
	g.Expect(strings.Count(text, "Content-Disposition: attachment")).To(Equal(1))
}

func TestEmailConfigValidation(t *testing.T) {
	g := NewWithT(t)

	_, err := NewEmailChannel(SMTPConfig{Port: 587, From: "a@b", To: []string{"c@d"}})
	g.Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())

	_, err = NewEmailChannel(SMTPConfig{Host: "h", Port: 0, From: "a@b", To: []string{"c@d"}})
	g.Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())

	_, err = NewEmailChannel(SMTPConfig{Host: "h", Port: 587, From: "a@b"})
	g.Expect(errors.Is(err, ErrInvalidConfig)).To(BeTrue())
}

func TestSlackSeverityColors(t *testing.T) {
	g := NewWithT(t)

	g.Expect(severityColor(Event{Type: EventSuccess})).To(Equal("good"))
	g.Expect(severityColor(Event{Type: EventFailure})).To(Equal("danger"))
	g.Expect(severityColor(Event{Type: EventAlert, Priority: "critical"})).To(Equal("danger"))
	g.Expect(severityColor(Event{Type: EventAlert, Priority: "warning"})).To(Equal("warning"))
	g.Expect(severityColor(Event{Type: EventAlert, Priority: "info"})).To(Equal("#439FE0"))
}
