package notify

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"go.uber.org/zap/zaptest/observer"

	"github.com/negotiate-network/negotiate/internal/domain"
)

type contactMap map[string]domain.Contact

func (m contactMap) GetContact(_ context.Context, id string) (domain.Contact, error) {
	c, ok := m[id]
	if !ok {
		return domain.Contact{}, domain.ErrConsumerNotFound
	}
	return c, nil
}

type recordingSender struct {
	mu   sync.Mutex
	msgs []Message
	err  error
}

func (r *recordingSender) Send(_ context.Context, msg Message) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.msgs = append(r.msgs, msg)
	return nil
}

func (r *recordingSender) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.msgs)
}

type memLog struct {
	mu      sync.Mutex
	entries []string
}

func (m *memLog) RecordNotification(_ context.Context, id string, ev domain.EventCode, ch domain.Channel) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.entries = append(m.entries, id+"/"+string(ev)+"/"+string(ch))
	return nil
}

var contacts = contactMap{
	"both":   {ConsumerID: "both", Email: "a@example.com", Mobile: "5551234567", EmailPermission: true, TextPermission: true},
	"email":  {ConsumerID: "email", Email: "b@example.com", Mobile: "5550000000", EmailPermission: true},
	"none":   {ConsumerID: "none", Email: "c@example.com"},
	"unsub":  {ConsumerID: "unsub", Email: "d@example.com", EmailPermission: true, Unsubscribed: true},
	"nomail": {ConsumerID: "nomail", EmailPermission: true},
}

func newTestDispatcher(t *testing.T) (*Dispatcher, *recordingSender, *recordingSender, *memLog) {
	t.Helper()
	email, sms := &recordingSender{}, &recordingSender{}
	record := &memLog{}
	d := NewDispatcher(Config{QueueSize: 4}, contacts, record,
		map[domain.Channel]Sender{domain.ChannelEmail: email, domain.ChannelSMS: sms}, zap.NewNop())
	return d, email, sms, record
}

// ─── Eligibility ────────────────────────────────────────────────────────────

func TestDeliver_ChannelEligibility(t *testing.T) {
	tests := []struct {
		consumer  string
		wantEmail int
		wantSMS   int
	}{
		{"both", 1, 1},
		{"email", 1, 0},
		{"none", 0, 0},
		{"unsub", 0, 0},
		{"nomail", 0, 0},
		{"missing", 0, 0},
	}
	for _, tt := range tests {
		t.Run(tt.consumer, func(t *testing.T) {
			d, email, sms, _ := newTestDispatcher(t)
			d.Deliver(context.Background(), tt.consumer, domain.EventBalancePaid)
			if email.count() != tt.wantEmail {
				t.Errorf("email sends = %d, want %d", email.count(), tt.wantEmail)
			}
			if sms.count() != tt.wantSMS {
				t.Errorf("sms sends = %d, want %d", sms.count(), tt.wantSMS)
			}
		})
	}
}

func TestDeliver_RecordsAndAddresses(t *testing.T) {
	d, email, sms, record := newTestDispatcher(t)
	if n := d.Deliver(context.Background(), "both", domain.EventWelcome); n != 2 {
		t.Fatalf("Deliver() = %d, want 2", n)
	}
	if email.msgs[0].To != "a@example.com" || sms.msgs[0].To != "5551234567" {
		t.Errorf("addresses = %q/%q", email.msgs[0].To, sms.msgs[0].To)
	}
	if len(record.entries) != 2 || record.entries[0] != "both/WELCOME/email" {
		t.Errorf("record = %v", record.entries)
	}
}

func TestDeliver_SenderErrorIsLoggedNotPropagated(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	email := &recordingSender{err: errors.New("smtp down")}
	sms := &recordingSender{}
	d := NewDispatcher(DefaultConfig(), contacts, nil,
		map[domain.Channel]Sender{domain.ChannelEmail: email, domain.ChannelSMS: sms}, zap.New(core))

	if n := d.Deliver(context.Background(), "both", domain.EventBalancePaid); n != 1 {
		t.Errorf("Deliver() = %d, want 1 (sms still delivered)", n)
	}
	if logs.FilterMessage("notification send failed").Len() != 1 {
		t.Errorf("expected one send failure log, got %v", logs.All())
	}
}

// ─── Queue ──────────────────────────────────────────────────────────────────

func TestNotify_AsyncDelivery(t *testing.T) {
	d, email, _, _ := newTestDispatcher(t)
	d.Start(context.Background())

	d.Notify(context.Background(), "email", domain.EventPaymentFailedWhenPIF)
	d.NotifyDeactivated(context.Background(), []string{"both"})
	d.Stop()

	if email.count() != 2 {
		t.Fatalf("email sends = %d, want 2", email.count())
	}
	if email.msgs[1].Event != domain.EventCreditorRemovedAccount {
		t.Errorf("second event = %s, want CREDITOR_REMOVED_ACCOUNT", email.msgs[1].Event)
	}
}

func TestNotify_DropsWhenFull(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	d := NewDispatcher(Config{QueueSize: 1}, contacts, nil, nil, zap.New(core))

	// Not started: the first fills the queue, the second is dropped.
	d.Notify(context.Background(), "both", domain.EventWelcome)
	d.Notify(context.Background(), "both", domain.EventWelcome)

	if logs.FilterMessage("notification dropped").Len() != 1 {
		t.Errorf("expected one drop log, got %d", logs.Len())
	}
}

func TestNotify_AfterStopIsDropped(t *testing.T) {
	d, email, _, _ := newTestDispatcher(t)
	d.Start(context.Background())
	d.Stop()
	d.Notify(context.Background(), "email", domain.EventWelcome)
	time.Sleep(10 * time.Millisecond)
	if email.count() != 0 {
		t.Errorf("email sends = %d, want 0 after Stop", email.count())
	}
}

func TestNotify_StopRaceDeliversOrDrops(t *testing.T) {
	core, logs := observer.New(zapcore.WarnLevel)
	email := &recordingSender{}
	d := NewDispatcher(Config{QueueSize: 64}, contacts, nil,
		map[domain.Channel]Sender{domain.ChannelEmail: email}, zap.New(core))
	d.Start(context.Background())

	const workers, each = 8, 50
	var wg sync.WaitGroup
	for i := 0; i < workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < each; j++ {
				d.Notify(context.Background(), "email", domain.EventWelcome)
			}
		}()
	}
	time.Sleep(time.Millisecond)
	d.Stop()
	wg.Wait()

	// Every notification is either sent before Stop returns or logged as dropped.
	sent, dropped := email.count(), logs.FilterMessage("notification dropped").Len()
	if sent+dropped != workers*each {
		t.Errorf("sent %d + dropped %d = %d, want %d", sent, dropped, sent+dropped, workers*each)
	}
	if n := len(d.queue); n != 0 {
		t.Errorf("queue holds %d items after Stop, want 0", n)
	}
}

// ─── Senders ────────────────────────────────────────────────────────────────

func TestWebhookSender(t *testing.T) {
	var got Message
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		json.NewDecoder(r.Body).Decode(&got)
		w.WriteHeader(http.StatusAccepted)
	}))
	defer srv.Close()

	s := NewWebhookSender(srv.URL, time.Second)
	msg := Message{ConsumerID: "c-1", Event: domain.EventWelcome, Channel: domain.ChannelEmail, To: "a@example.com"}
	if err := s.Send(context.Background(), msg); err != nil {
		t.Fatalf("Send() error: %v", err)
	}
	if got != msg {
		t.Errorf("received %+v, want %+v", got, msg)
	}
}

func TestWebhookSender_ErrorStatus(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusServiceUnavailable)
	}))
	defer srv.Close()
	if err := NewWebhookSender(srv.URL, time.Second).Send(context.Background(), Message{}); err == nil {
		t.Error("Send() should fail on 503")
	}
}

func TestLogSender_MasksAddress(t *testing.T) {
	core, logs := observer.New(zapcore.InfoLevel)
	s := NewLogSender(zap.New(core))
	s.Send(context.Background(), Message{ConsumerID: "c-1", Channel: domain.ChannelSMS, To: "5551234567"})
	s.Send(context.Background(), Message{ConsumerID: "c-1", Channel: domain.ChannelEmail, To: "ann@example.com"})

	entries := logs.All()
	if got := entries[0].ContextMap()["to"]; got != "****4567" {
		t.Errorf("sms to = %v, want ****4567", got)
	}
	if got := entries[1].ContextMap()["to"]; got != "***@example.com" {
		t.Errorf("email to = %v, want ***@example.com", got)
	}
}
