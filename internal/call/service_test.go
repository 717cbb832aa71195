package call

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"sync"
	"testing"

	"github.com/Vir-8/callrelay/internal/relay"
	"github.com/Vir-8/callrelay/internal/storage/sqlite"
	"github.com/Vir-8/callrelay/internal/telephony"
	"github.com/Vir-8/callrelay/pkg/logger"
)

// fakeDialer scripts per-leg outcomes and records every provider interaction
type fakeDialer struct {
	mu          sync.Mutex
	calls       []telephony.MakeCallParams
	hangups     []string
	failOnCall  int // 1-based index of the MakeCall invocation that fails, 0 = never
	nextSID     int
	hangupError error
}

func (d *fakeDialer) MakeCall(ctx context.Context, params telephony.MakeCallParams) (*telephony.Call, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.calls = append(d.calls, params)
	if d.failOnCall == len(d.calls) {
		return nil, errors.New("provider rejected call")
	}
	d.nextSID++
	return &telephony.Call{
		SID:    fmt.Sprintf("CA%04d", d.nextSID),
		To:     params.To,
		Status: "queued",
	}, nil
}

func (d *fakeDialer) HangupCall(ctx context.Context, callSID string) error {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.hangups = append(d.hangups, callSID)
	return d.hangupError
}

// fakeRegistry records session registration order
type fakeRegistry struct {
	mu      sync.Mutex
	created []string
	removed []string
}

func (r *fakeRegistry) Create(id string) *relay.Session {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.created = append(r.created, id)
	return nil
}

func (r *fakeRegistry) Remove(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.removed = append(r.removed, id)
}

// fakeStore records persisted call records
type fakeStore struct {
	mu      sync.Mutex
	records []*sqlite.CallRecord
}

func (s *fakeStore) StoreCall(record *sqlite.CallRecord) (int64, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.records = append(s.records, record)
	return int64(len(s.records)), nil
}

func testConfig() Config {
	return Config{
		PhoneNumber: "+15550001111",
		AgentNumber: "+15550002222",
		BaseURL:     "https://relay.example.com",
	}
}

func newTestService(t *testing.T, dialer *fakeDialer) (*Service, *fakeRegistry, *fakeStore) {
	t.Helper()
	registry := &fakeRegistry{}
	store := &fakeStore{}
	svc, err := NewService(dialer, registry, store, testConfig(), logger.NewNop())
	if err != nil {
		t.Fatalf("failed to create service: %v", err)
	}
	return svc, registry, store
}

func TestStartCall_Success(t *testing.T) {
	dialer := &fakeDialer{}
	svc, registry, store := newTestService(t, dialer)

	result, err := svc.StartCall(context.Background(), "+15550003333")
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	if result.CustomerCallSID != "CA0001" {
		t.Errorf("expected customer SID CA0001, got %q", result.CustomerCallSID)
	}
	if result.AgentCallSID != "CA0002" {
		t.Errorf("expected agent SID CA0002, got %q", result.AgentCallSID)
	}
	if !strings.HasPrefix(result.ConferenceName, "conference-") {
		t.Errorf("expected conference- prefix, got %q", result.ConferenceName)
	}
	if result.SessionID == "" {
		t.Error("expected a session ID")
	}

	// The relay session must exist before any leg is dialed
	if len(registry.created) != 1 || registry.created[0] != result.SessionID {
		t.Errorf("expected session %q registered, got %v", result.SessionID, registry.created)
	}
	if len(registry.removed) != 0 {
		t.Errorf("expected no session removals, got %v", registry.removed)
	}

	if len(dialer.calls) != 2 {
		t.Fatalf("expected 2 legs dialed, got %d", len(dialer.calls))
	}

	// Customer leg first, to the destination; agent leg second
	customer, agent := dialer.calls[0], dialer.calls[1]
	if customer.To != "+15550003333" {
		t.Errorf("expected customer leg to destination, got %q", customer.To)
	}
	if agent.To != "+15550002222" {
		t.Errorf("expected agent leg to agent number, got %q", agent.To)
	}

	// Both legs join the same conference and fork to the same stream URL
	for name, leg := range map[string]telephony.MakeCallParams{"customer": customer, "agent": agent} {
		if !strings.Contains(leg.Twiml, result.ConferenceName) {
			t.Errorf("%s leg TwiML missing conference name", name)
		}
		if !strings.Contains(leg.Twiml, "wss://relay.example.com/api/v1/twilio-stream/"+result.SessionID) {
			t.Errorf("%s leg TwiML missing stream URL", name)
		}
	}
	// Only the agent leg tears the conference down on exit
	if !strings.Contains(customer.Twiml, `endConferenceOnExit="false"`) {
		t.Error("customer leg should not end conference on exit")
	}
	if !strings.Contains(agent.Twiml, `endConferenceOnExit="true"`) {
		t.Error("agent leg should end conference on exit")
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(store.records))
	}
	record := store.records[0]
	if record.Status != "started" {
		t.Errorf("expected status started, got %q", record.Status)
	}
	if record.CustomerCallSID != "CA0001" || record.AgentCallSID != "CA0002" {
		t.Errorf("unexpected SIDs in record: %q / %q", record.CustomerCallSID, record.AgentCallSID)
	}
}

func TestStartCall_CustomerLegFails(t *testing.T) {
	dialer := &fakeDialer{failOnCall: 1}
	svc, registry, store := newTestService(t, dialer)

	_, err := svc.StartCall(context.Background(), "+15550003333")
	if err == nil {
		t.Fatal("expected error")
	}

	var legErr *LegError
	if !errors.As(err, &legErr) {
		t.Fatalf("expected LegError, got %T", err)
	}
	if legErr.Leg != "customer" {
		t.Errorf("expected customer leg failure, got %q", legErr.Leg)
	}
	if legErr.CustomerCallSID != "" {
		t.Errorf("expected no customer SID, got %q", legErr.CustomerCallSID)
	}

	// Nothing to hang up, and the pre-registered session is rolled back
	if len(dialer.hangups) != 0 {
		t.Errorf("expected no hangups, got %v", dialer.hangups)
	}
	if len(registry.removed) != 1 {
		t.Errorf("expected session rollback, got %v", registry.removed)
	}

	if len(store.records) != 1 || store.records[0].Status != "failed" {
		t.Errorf("expected one failed record, got %+v", store.records)
	}
}

func TestStartCall_AgentLegFails(t *testing.T) {
	dialer := &fakeDialer{failOnCall: 2}
	svc, registry, store := newTestService(t, dialer)

	_, err := svc.StartCall(context.Background(), "+15550003333")
	if err == nil {
		t.Fatal("expected error")
	}

	var legErr *LegError
	if !errors.As(err, &legErr) {
		t.Fatalf("expected LegError, got %T", err)
	}
	if legErr.Leg != "agent" {
		t.Errorf("expected agent leg failure, got %q", legErr.Leg)
	}
	// The already-originated customer leg is identified for diagnostics
	if legErr.CustomerCallSID != "CA0001" {
		t.Errorf("expected customer SID CA0001 in error, got %q", legErr.CustomerCallSID)
	}

	// The orphaned customer leg is hung up
	if len(dialer.hangups) != 1 || dialer.hangups[0] != "CA0001" {
		t.Errorf("expected hangup of CA0001, got %v", dialer.hangups)
	}
	if len(registry.removed) != 1 {
		t.Errorf("expected session rollback, got %v", registry.removed)
	}

	if len(store.records) != 1 {
		t.Fatalf("expected 1 record, got %d", len(store.records))
	}
	record := store.records[0]
	if record.Status != "failed" || record.CustomerCallSID != "CA0001" || record.AgentCallSID != "" {
		t.Errorf("unexpected failure record: %+v", record)
	}
}

func TestStartCall_AgentLegFailsAndHangupFails(t *testing.T) {
	dialer := &fakeDialer{failOnCall: 2, hangupError: errors.New("already completed")}
	svc, _, _ := newTestService(t, dialer)

	// A failed cleanup hangup must not mask the leg error
	_, err := svc.StartCall(context.Background(), "+15550003333")

	var legErr *LegError
	if !errors.As(err, &legErr) {
		t.Fatalf("expected LegError, got %v", err)
	}
	if legErr.Leg != "agent" {
		t.Errorf("expected agent leg failure, got %q", legErr.Leg)
	}
}

func TestStartCall_InvalidNumber(t *testing.T) {
	dialer := &fakeDialer{}
	svc, registry, _ := newTestService(t, dialer)

	for _, number := range []string{"", "not-a-number", "+1555", "123456789012345678", "+1 555 000"} {
		if _, err := svc.StartCall(context.Background(), number); err == nil {
			t.Errorf("expected error for %q", number)
		}
	}

	// Rejected before any side effects
	if len(dialer.calls) != 0 {
		t.Errorf("expected no dials, got %d", len(dialer.calls))
	}
	if len(registry.created) != 0 {
		t.Errorf("expected no sessions, got %v", registry.created)
	}
}

func TestNewService_RequiresConfig(t *testing.T) {
	dialer := &fakeDialer{}

	cases := []struct {
		name   string
		mutate func(*Config)
	}{
		{"missing phone number", func(c *Config) { c.PhoneNumber = "" }},
		{"missing agent number", func(c *Config) { c.AgentNumber = "" }},
		{"missing base URL", func(c *Config) { c.BaseURL = "" }},
	}
	for _, tc := range cases {
		config := testConfig()
		tc.mutate(&config)
		if _, err := NewService(dialer, &fakeRegistry{}, &fakeStore{}, config, logger.NewNop()); err == nil {
			t.Errorf("%s: expected error", tc.name)
		}
	}
}
