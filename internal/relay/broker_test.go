package relay

import (
	"encoding/json"
	"sync"
	"testing"
	"time"

	"remote-relay/internal/model"
	"remote-relay/internal/protocol"
)

type fakeTransport struct {
	mu     sync.Mutex
	sent   []any
	closed bool
}

func (t *fakeTransport) Send(v any) error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.sent = append(t.sent, v)
	return nil
}

func (t *fakeTransport) Close() error {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.closed = true
	return nil
}

func (t *fakeTransport) messages() []any {
	t.mu.Lock()
	defer t.mu.Unlock()
	out := make([]any, len(t.sent))
	copy(out, t.sent)
	return out
}

func (t *fakeTransport) countType(typeName string) int {
	n := 0
	for _, m := range t.messages() {
		switch v := m.(type) {
		case protocol.SessionEnded:
			if v.Type == typeName {
				n++
			}
		case protocol.RelayData:
			if v.Type == typeName {
				n++
			}
		case protocol.ConnectionRequest:
			if v.Type == typeName {
				n++
			}
		case protocol.ConnectionRejected:
			if v.Type == typeName {
				n++
			}
		}
	}
	return n
}

type brokerFixture struct {
	broker *Broker
	clock  time.Time
}

func newFixture(t *testing.T) *brokerFixture {
	t.Helper()
	f := &brokerFixture{clock: time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)}
	f.broker = NewWithOptions(Options{Now: func() time.Time { return f.clock }})
	return f
}

func (f *brokerFixture) advance(d time.Duration) {
	f.clock = f.clock.Add(d)
}

func (f *brokerFixture) register(t *testing.T, role model.Role) (string, *fakeTransport) {
	t.Helper()
	tr := &fakeTransport{}
	id, err := f.broker.RegisterClient(role, map[string]any{"os": "test"}, tr)
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	return id, tr
}

// activePair registers a host and a viewer and drives the negotiation to an
// active session: viewer requests, host accepts.
func (f *brokerFixture) activePair(t *testing.T) (hostID string, hostTr *fakeTransport, viewerID string, viewerTr *fakeTransport, sessionID string) {
	t.Helper()
	hostID, hostTr = f.register(t, model.RoleHost)
	viewerID, viewerTr = f.register(t, model.RoleViewer)

	sessionID, err := f.broker.RequestConnection(viewerID, hostID, "control")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if err := f.broker.RespondToConnection(sessionID, hostID, true); err != nil {
		t.Fatalf("RespondToConnection: %v", err)
	}
	return hostID, hostTr, viewerID, viewerTr, sessionID
}

func TestRegisterClient_NineDigitUniqueIDs(t *testing.T) {
	f := newFixture(t)
	seen := make(map[string]bool)
	for i := 0; i < 200; i++ {
		id, _ := f.register(t, model.RoleHost)
		if len(id) != 9 {
			t.Fatalf("expected 9-digit id, got %q", id)
		}
		if seen[id] {
			t.Fatalf("duplicate id %q", id)
		}
		seen[id] = true
	}
}

func TestRequestConnection_UnknownRequester(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	if _, err := f.broker.RequestConnection("999999999", hostID, "control"); err != ErrNotRegistered {
		t.Fatalf("expected ErrNotRegistered, got %v", err)
	}
}

func TestRequestConnection_TargetNotFound(t *testing.T) {
	f := newFixture(t)
	viewerID, _ := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(viewerID, "000000000", "control"); err != ErrTargetNotFound {
		t.Fatalf("expected ErrTargetNotFound, got %v", err)
	}
	if f.broker.Health().Sessions != 0 {
		t.Fatalf("no session should be created")
	}
}

func TestRequestConnection_SelfTarget(t *testing.T) {
	f := newFixture(t)
	id, _ := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(id, id, "control"); err != ErrInvalidTarget {
		t.Fatalf("expected ErrInvalidTarget, got %v", err)
	}
}

func TestRequestConnection_StaleTargetUnreachable(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	f.advance(31 * time.Second)
	viewerID, _ := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(viewerID, hostID, "control"); err != ErrTargetUnreachable {
		t.Fatalf("expected ErrTargetUnreachable, got %v", err)
	}
}

func TestRequestConnection_BusyTarget(t *testing.T) {
	f := newFixture(t)
	hostID, _, _, _, _ := f.activePair(t)

	otherID, _ := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(otherID, hostID, "control"); err != ErrTargetBusy {
		t.Fatalf("expected ErrTargetBusy, got %v", err)
	}
}

func TestAcceptFlow_NotifiesBothSides(t *testing.T) {
	f := newFixture(t)
	hostID, hostTr, viewerID, viewerTr, sessionID := f.activePair(t)

	var gotRequest *protocol.ConnectionRequest
	for _, m := range hostTr.messages() {
		if req, ok := m.(protocol.ConnectionRequest); ok {
			gotRequest = &req
		}
	}
	if gotRequest == nil {
		t.Fatalf("target never received connection_request")
	}
	if gotRequest.SessionID != sessionID || gotRequest.RequesterID != viewerID {
		t.Fatalf("unexpected connection_request: %+v", gotRequest)
	}
	if gotRequest.RequestType != "control" {
		t.Fatalf("unexpected requestType %q", gotRequest.RequestType)
	}

	foundAccepted := false
	for _, m := range viewerTr.messages() {
		if acc, ok := m.(protocol.ConnectionAccepted); ok {
			foundAccepted = true
			if acc.SessionID != sessionID || acc.TargetID != hostID {
				t.Fatalf("unexpected connection_accepted: %+v", acc)
			}
		}
	}
	if !foundAccepted {
		t.Fatalf("requester never received connection_accepted")
	}

	foundEstablished := false
	for _, m := range hostTr.messages() {
		if est, ok := m.(protocol.ConnectionEstablished); ok {
			foundEstablished = true
			if est.RequesterID != viewerID {
				t.Fatalf("unexpected connection_established: %+v", est)
			}
		}
	}
	if !foundEstablished {
		t.Fatalf("target never received connection_established")
	}
}

func TestRelay_SymmetricDelivery(t *testing.T) {
	f := newFixture(t)
	hostID, hostTr, viewerID, viewerTr, sessionID := f.activePair(t)

	payload := json.RawMessage(`{"key":"a"}`)
	if err := f.broker.Relay(sessionID, viewerID, "input", payload); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	msgs := hostTr.messages()
	last, ok := msgs[len(msgs)-1].(protocol.RelayData)
	if !ok {
		t.Fatalf("expected relay_data, got %T", msgs[len(msgs)-1])
	}
	if last.SenderID != viewerID || last.DataType != "input" || string(last.Data) != `{"key":"a"}` {
		t.Fatalf("payload not preserved: %+v", last)
	}

	if err := f.broker.Relay(sessionID, hostID, "screen", json.RawMessage(`"frame"`)); err != nil {
		t.Fatalf("Relay: %v", err)
	}
	msgs = viewerTr.messages()
	back, ok := msgs[len(msgs)-1].(protocol.RelayData)
	if !ok || back.SenderID != hostID || back.DataType != "screen" {
		t.Fatalf("reverse relay not delivered: %#v", msgs[len(msgs)-1])
	}
}

func TestRelay_NonParticipantRejected(t *testing.T) {
	f := newFixture(t)
	_, hostTr, _, viewerTr, sessionID := f.activePair(t)
	intruderID, _ := f.register(t, model.RoleViewer)

	hostBefore := len(hostTr.messages())
	viewerBefore := len(viewerTr.messages())
	if err := f.broker.Relay(sessionID, intruderID, "input", nil); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
	if len(hostTr.messages()) != hostBefore || len(viewerTr.messages()) != viewerBefore {
		t.Fatalf("payload was delivered to a participant")
	}
}

func TestRelay_PendingSessionNotActive(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, _ := f.register(t, model.RoleViewer)
	sessionID, err := f.broker.RequestConnection(viewerID, hostID, "view")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if err := f.broker.Relay(sessionID, viewerID, "input", nil); err != ErrSessionNotActive {
		t.Fatalf("expected ErrSessionNotActive, got %v", err)
	}
}

func TestRelay_PeerGoneKeepsSession(t *testing.T) {
	f := newFixture(t)
	hostID, _, viewerID, _, sessionID := f.activePair(t)

	// Drop the host record directly, bypassing teardown, to simulate a
	// session whose participant id no longer resolves.
	f.broker.mu.Lock()
	f.broker.clients.remove(hostID)
	f.broker.mu.Unlock()

	if err := f.broker.Relay(sessionID, viewerID, "input", nil); err != ErrPeerGone {
		t.Fatalf("expected ErrPeerGone, got %v", err)
	}
	if f.broker.Health().Sessions != 1 {
		t.Fatalf("session must survive a transient send failure")
	}
}

func TestReject_ThenRespondAgainFails(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, viewerTr := f.register(t, model.RoleViewer)

	sessionID, err := f.broker.RequestConnection(viewerID, hostID, "control")
	if err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}
	if err := f.broker.RespondToConnection(sessionID, hostID, false); err != nil {
		t.Fatalf("RespondToConnection: %v", err)
	}
	if viewerTr.countType(protocol.TypeConnectionRejected) != 1 {
		t.Fatalf("requester must receive exactly one connection_rejected")
	}
	if err := f.broker.RespondToConnection(sessionID, hostID, true); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound on second respond, got %v", err)
	}
}

func TestRespond_DoubleAccept(t *testing.T) {
	f := newFixture(t)
	hostID, _, _, _, sessionID := f.activePair(t)
	if err := f.broker.RespondToConnection(sessionID, hostID, true); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
}

func TestRespond_OnlyTargetMayAnswer(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, _ := f.register(t, model.RoleViewer)
	sessionID, _ := f.broker.RequestConnection(viewerID, hostID, "control")

	if err := f.broker.RespondToConnection(sessionID, viewerID, true); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestRespond_RequesterGoneDiscardsSession(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, _ := f.register(t, model.RoleViewer)
	sessionID, _ := f.broker.RequestConnection(viewerID, hostID, "control")

	f.broker.HandleDisconnect(viewerID)
	// Disconnect already tore the pending session down.
	if err := f.broker.RespondToConnection(sessionID, hostID, true); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if f.broker.Health().Sessions != 0 {
		t.Fatalf("session should be gone")
	}
}

func TestRespond_DanglingRequesterID(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, _ := f.register(t, model.RoleViewer)
	sessionID, _ := f.broker.RequestConnection(viewerID, hostID, "control")

	// Drop the requester record directly, bypassing teardown, so the pending
	// session holds a dangling requester id.
	f.broker.mu.Lock()
	f.broker.clients.remove(viewerID)
	f.broker.mu.Unlock()

	if err := f.broker.RespondToConnection(sessionID, hostID, true); err != ErrRequesterGone {
		t.Fatalf("expected ErrRequesterGone, got %v", err)
	}
	if f.broker.Health().Sessions != 0 {
		t.Fatalf("session must be discarded")
	}
}

func TestEndSession_Idempotent(t *testing.T) {
	f := newFixture(t)
	hostID, hostTr, _, viewerTr, sessionID := f.activePair(t)

	if err := f.broker.EndSession(sessionID, hostID); err != nil {
		t.Fatalf("EndSession: %v", err)
	}
	if err := f.broker.EndSession(sessionID, hostID); err != ErrSessionNotFound {
		t.Fatalf("expected ErrSessionNotFound, got %v", err)
	}
	if hostTr.countType(protocol.TypeSessionEnded) != 1 || viewerTr.countType(protocol.TypeSessionEnded) != 1 {
		t.Fatalf("expected exactly one session_ended per participant")
	}
}

func TestEndSession_NonParticipant(t *testing.T) {
	f := newFixture(t)
	_, _, _, _, sessionID := f.activePair(t)
	otherID, _ := f.register(t, model.RoleViewer)
	if err := f.broker.EndSession(sessionID, otherID); err != ErrNotAuthorized {
		t.Fatalf("expected ErrNotAuthorized, got %v", err)
	}
}

func TestHandleDisconnect_CascadesToSession(t *testing.T) {
	f := newFixture(t)
	_, hostTr, viewerID, _, _ := f.activePair(t)

	f.broker.HandleDisconnect(viewerID)
	if hostTr.countType(protocol.TypeSessionEnded) != 1 {
		t.Fatalf("expected exactly one session_ended for the survivor")
	}
	h := f.broker.Health()
	if h.Sessions != 0 || h.Clients != 1 {
		t.Fatalf("unexpected state after disconnect: %+v", h)
	}

	// Safe to repeat and safe for unknown ids.
	f.broker.HandleDisconnect(viewerID)
	f.broker.HandleDisconnect("123123123")
}

func TestHeartbeat_RefreshesAndIgnoresUnknown(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	f.advance(25 * time.Second)
	if !f.broker.Heartbeat(hostID) {
		t.Fatalf("expected heartbeat ack for known client")
	}

	// Refresh must keep the target reachable past the original deadline.
	f.advance(20 * time.Second)
	viewerID, _ := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(viewerID, hostID, "view"); err != nil {
		t.Fatalf("RequestConnection after heartbeat: %v", err)
	}

	if f.broker.Heartbeat("555555555") {
		t.Fatalf("heartbeat for unknown id must be a no-op")
	}
	if f.broker.Health().Clients != 2 {
		t.Fatalf("heartbeat must not resurrect a client")
	}
}

func TestSweepStaleClients_EvictsAndNotifies(t *testing.T) {
	f := newFixture(t)
	_, hostTr, viewerID, _, _ := f.activePair(t)

	// Keep the viewer fresh, let the host go silent.
	f.advance(119 * time.Second)
	f.broker.Heartbeat(viewerID)
	if n := f.broker.SweepStaleClients(2 * time.Minute); n != 0 {
		t.Fatalf("119s-old client must survive, swept %d", n)
	}

	f.advance(2 * time.Second)
	f.broker.Heartbeat(viewerID)
	if n := f.broker.SweepStaleClients(2 * time.Minute); n != 1 {
		t.Fatalf("expected 1 eviction, got %d", n)
	}
	if hostTr.closed != true {
		t.Fatalf("evicted client transport must be closed")
	}
	h := f.broker.Health()
	if h.Clients != 1 || h.Sessions != 0 {
		t.Fatalf("eviction must cascade to sessions: %+v", h)
	}
}

func TestReleaseClient_EndsSessionsButKeepsTransportOpen(t *testing.T) {
	f := newFixture(t)
	_, hostTr, viewerID, viewerTr, _ := f.activePair(t)

	f.broker.ReleaseClient(viewerID)
	if viewerTr.closed {
		t.Fatalf("release must not close the transport")
	}
	if hostTr.countType(protocol.TypeSessionEnded) != 1 {
		t.Fatalf("expected session_ended for the peer")
	}
	h := f.broker.Health()
	if h.Clients != 1 || h.Sessions != 0 {
		t.Fatalf("unexpected state after release: %+v", h)
	}

	// Safe to repeat and safe for unknown ids.
	f.broker.ReleaseClient(viewerID)
	f.broker.ReleaseClient("")
}

func TestReRegister_SweepSparesSharedTransport(t *testing.T) {
	f := newFixture(t)

	// One connection registers twice; both records share the transport.
	tr := &fakeTransport{}
	oldID, err := f.broker.RegisterClient(model.RoleHost, nil, tr)
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	newID, err := f.broker.RegisterClient(model.RoleHost, nil, tr)
	if err != nil {
		t.Fatalf("RegisterClient: %v", err)
	}
	f.broker.ReleaseClient(oldID)

	f.advance(3 * time.Minute)
	f.broker.Heartbeat(newID)
	if n := f.broker.SweepStaleClients(2 * time.Minute); n != 0 {
		t.Fatalf("no stale record should remain, swept %d", n)
	}
	if tr.closed {
		t.Fatalf("sweep closed the transport still owned by live client %s", newID)
	}
	if !f.broker.Heartbeat(newID) {
		t.Fatalf("live client must survive the sweep")
	}
}

func TestSweepExpiredSessions_PendingTTL(t *testing.T) {
	f := newFixture(t)
	hostID, _ := f.register(t, model.RoleHost)
	viewerID, viewerTr := f.register(t, model.RoleViewer)
	if _, err := f.broker.RequestConnection(viewerID, hostID, "control"); err != nil {
		t.Fatalf("RequestConnection: %v", err)
	}

	f.advance(4*time.Minute + 59*time.Second)
	if n := f.broker.SweepExpiredSessions(5*time.Minute, time.Hour); n != 0 {
		t.Fatalf("4m59s pending session must survive, swept %d", n)
	}

	f.advance(2 * time.Second)
	if n := f.broker.SweepExpiredSessions(5*time.Minute, time.Hour); n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}
	if viewerTr.countType(protocol.TypeSessionEnded) != 1 {
		t.Fatalf("expired session must notify participants")
	}
}

func TestSweepExpiredSessions_ActiveTTL(t *testing.T) {
	f := newFixture(t)
	_, _, _, _, _ = f.activePair(t)

	f.advance(59 * time.Minute)
	if n := f.broker.SweepExpiredSessions(5*time.Minute, time.Hour); n != 0 {
		t.Fatalf("59m active session must survive, swept %d", n)
	}
	f.advance(time.Minute + time.Second)
	if n := f.broker.SweepExpiredSessions(5*time.Minute, time.Hour); n != 1 {
		t.Fatalf("expected 1 expiry, got %d", n)
	}
}

func TestStats_OnlineCountHonorsThreshold(t *testing.T) {
	f := newFixture(t)
	_, _ = f.register(t, model.RoleHost)
	f.advance(31 * time.Second)
	freshID, _ := f.register(t, model.RoleViewer)
	_ = freshID

	st := f.broker.Stats()
	if st.TotalClients != 2 || st.OnlineClients != 1 {
		t.Fatalf("unexpected stats: %+v", st)
	}
	if st.ActiveSessions != 0 {
		t.Fatalf("expected no active sessions")
	}
}
