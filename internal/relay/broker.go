// Package relay implements the connection-brokering core: client registry,
// session table, negotiation state machine, payload routing and liveness
// sweeping.
package relay

import (
	"encoding/json"
	"errors"
	"log"
	"sync"
	"time"

	"github.com/google/uuid"

	"remote-relay/internal/ident"
	"remote-relay/internal/model"
	"remote-relay/internal/protocol"
)

var (
	ErrNotRegistered     = errors.New("client not registered")
	ErrTargetNotFound    = errors.New("target client not found or offline")
	ErrTargetUnreachable = errors.New("target client is not responding")
	ErrTargetBusy        = errors.New("target client is already in a session")
	ErrInvalidTarget     = errors.New("cannot request a connection to yourself")
	ErrSessionNotFound   = errors.New("session not found")
	ErrNotAuthorized     = errors.New("not authorized for this session")
	ErrSessionNotActive  = errors.New("session not active")
	ErrRequesterGone     = errors.New("requester is no longer online")
	ErrPeerGone          = errors.New("peer disconnected")
)

const (
	reasonEnded       = "session ended"
	reasonPeerGone    = "peer disconnected"
	reasonExpired     = "session expired"
	reasonPeerEvicted = "peer timed out"
)

// Broker drives registration, negotiation, relaying and teardown. Both tables
// live behind one mutex; accept/reject and teardown touch them together.
// Notifications go out while the lock is held, which is safe because
// Transport.Send never blocks, and it keeps per-peer delivery in state order.
type Broker struct {
	mu       sync.Mutex
	clients  *clientRegistry
	sessions *sessionTable

	alloc           *ident.Allocator
	onlineThreshold time.Duration
	now             func() time.Time
	startedAt       time.Time
}

type Options struct {
	OnlineThreshold time.Duration
	Allocator       *ident.Allocator
	Now             func() time.Time
}

func New() *Broker {
	return NewWithOptions(Options{})
}

func NewWithOptions(opts Options) *Broker {
	if opts.OnlineThreshold <= 0 {
		opts.OnlineThreshold = 30 * time.Second
	}
	if opts.Allocator == nil {
		opts.Allocator = ident.NewAllocator(ident.ClientIDDigits)
	}
	if opts.Now == nil {
		opts.Now = time.Now
	}
	return &Broker{
		clients:         newClientRegistry(),
		sessions:        newSessionTable(),
		alloc:           opts.Allocator,
		onlineThreshold: opts.OnlineThreshold,
		now:             opts.Now,
		startedAt:       opts.Now(),
	}
}

// RegisterClient allocates a fresh 9-digit id and inserts the peer.
func (b *Broker) RegisterClient(role model.Role, deviceInfo map[string]any, t model.Transport) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	id, err := b.alloc.Allocate(b.clients.has)
	if err != nil {
		return "", err
	}

	now := b.now().UnixMilli()
	if deviceInfo == nil {
		deviceInfo = map[string]any{}
	}
	b.clients.put(&model.Client{
		ID:           id,
		Role:         role,
		DeviceInfo:   deviceInfo,
		RegisteredAt: now,
		LastSeenAt:   now,
		Transport:    t,
	})
	log.Printf("client registered: %s (%s)", id, role)
	return id, nil
}

// Touch refreshes the staleness clock for a registered client. Unknown ids
// are ignored so evicted clients are never resurrected.
func (b *Broker) Touch(clientID string) {
	if clientID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()
	if c, ok := b.clients.get(clientID); ok {
		c.LastSeenAt = b.now().UnixMilli()
	}
}

// Heartbeat refreshes lastSeen and reports whether the client is known. A
// heartbeat from an unknown id is a silent no-op.
func (b *Broker) Heartbeat(clientID string) bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	c, ok := b.clients.get(clientID)
	if !ok {
		return false
	}
	c.LastSeenAt = b.now().UnixMilli()
	return true
}

// RequestConnection creates a pending session and notifies both parties.
func (b *Broker) RequestConnection(requesterID, targetID, kind string) (string, error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	requester, ok := b.clients.get(requesterID)
	if !ok {
		return "", ErrNotRegistered
	}
	if requesterID == targetID {
		return "", ErrInvalidTarget
	}
	target, ok := b.clients.get(targetID)
	if !ok {
		return "", ErrTargetNotFound
	}
	now := b.now().UnixMilli()
	if now-target.LastSeenAt > b.onlineThreshold.Milliseconds() {
		return "", ErrTargetUnreachable
	}
	if b.sessions.activeWith(targetID) {
		return "", ErrTargetBusy
	}

	s := &model.Session{
		ID:          uuid.NewString(),
		RequesterID: requesterID,
		TargetID:    targetID,
		Kind:        kind,
		Status:      model.SessionPending,
		CreatedAt:   now,
	}
	b.sessions.put(s)

	b.send(target, protocol.ConnectionRequest{
		Type:          protocol.TypeConnectionRequest,
		SessionID:     s.ID,
		RequesterID:   requesterID,
		RequesterInfo: requester.DeviceInfo,
		RequestType:   kind,
		Message:       kind + " request from " + requesterID,
	})
	b.send(requester, protocol.ConnectionRequested{
		Type:      protocol.TypeConnectionRequested,
		SessionID: s.ID,
		TargetID:  targetID,
		Message:   "Request sent. Waiting for approval...",
	})

	log.Printf("connection request: %s -> %s (%s)", requesterID, targetID, kind)
	return s.ID, nil
}

// RespondToConnection applies the target's consent decision to a pending
// session. Only the target may respond, and only once: after the session
// leaves pending the id no longer resolves here.
func (b *Broker) RespondToConnection(sessionID, byClientID string, accepted bool) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions.get(sessionID)
	if !ok || s.Status != model.SessionPending {
		return ErrSessionNotFound
	}
	if s.TargetID != byClientID {
		return ErrNotAuthorized
	}

	requester, ok := b.clients.get(s.RequesterID)
	if !ok {
		b.sessions.remove(sessionID)
		return ErrRequesterGone
	}

	if !accepted {
		b.sessions.remove(sessionID)
		b.send(requester, protocol.ConnectionRejected{
			Type:     protocol.TypeConnectionRejected,
			TargetID: byClientID,
			Message:  "Connection rejected by the user",
		})
		log.Printf("connection rejected: session %s", sessionID)
		return nil
	}

	s.Status = model.SessionActive
	s.ConnectedAt = b.now().UnixMilli()

	b.send(requester, protocol.ConnectionAccepted{
		Type:      protocol.TypeConnectionAccepted,
		SessionID: sessionID,
		TargetID:  byClientID,
		Message:   "Connection accepted! Starting session...",
	})
	if target, ok := b.clients.get(s.TargetID); ok {
		b.send(target, protocol.ConnectionEstablished{
			Type:        protocol.TypeConnectionEstablished,
			SessionID:   sessionID,
			RequesterID: s.RequesterID,
			Message:     "Session started",
		})
	}
	log.Printf("connection established: session %s", sessionID)
	return nil
}

// Relay forwards an opaque payload to the sender's counterpart in an active
// session. The payload is never inspected or rewritten. A missing counterpart
// is reported to the sender but does not end the session; only disconnects
// and the sweeper do that.
func (b *Broker) Relay(sessionID, fromClientID, dataType string, data json.RawMessage) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions.get(sessionID)
	if !ok || s.Status != model.SessionActive {
		return ErrSessionNotActive
	}

	var counterpartID string
	switch fromClientID {
	case s.RequesterID:
		counterpartID = s.TargetID
	case s.TargetID:
		counterpartID = s.RequesterID
	default:
		return ErrNotAuthorized
	}

	counterpart, ok := b.clients.get(counterpartID)
	if !ok {
		log.Printf("relay dropped: peer %s gone (session %s)", counterpartID, sessionID)
		return ErrPeerGone
	}

	b.send(counterpart, protocol.RelayData{
		Type:      protocol.TypeRelayData,
		SessionID: sessionID,
		SenderID:  fromClientID,
		DataType:  dataType,
		Data:      data,
	})
	return nil
}

// EndSession tears down a session on behalf of one of its participants.
func (b *Broker) EndSession(sessionID, byClientID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.sessions.get(sessionID)
	if !ok {
		return ErrSessionNotFound
	}
	if s.RequesterID != byClientID && s.TargetID != byClientID {
		return ErrNotAuthorized
	}
	b.endSessionLocked(s, reasonEnded)
	return nil
}

// ReleaseClient removes a client record whose connection lives on under a new
// identity. Sessions held by the old id are torn down, but the transport is
// left open: it now belongs to the replacement registration, and closing it
// here would cut off the live client.
func (b *Broker) ReleaseClient(clientID string) {
	if clientID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	if _, ok := b.clients.get(clientID); !ok {
		return
	}
	for _, s := range b.sessions.byParticipant(clientID) {
		b.endSessionLocked(s, reasonPeerGone)
	}
	b.clients.remove(clientID)
	log.Printf("client released: %s", clientID)
}

// HandleDisconnect ends every session the client participates in and removes
// the client. Safe to call for unknown ids.
func (b *Broker) HandleDisconnect(clientID string) {
	if clientID == "" {
		return
	}
	b.mu.Lock()
	defer b.mu.Unlock()

	c, ok := b.clients.get(clientID)
	if !ok {
		return
	}
	for _, s := range b.sessions.byParticipant(clientID) {
		b.endSessionLocked(s, reasonPeerGone)
	}
	b.clients.remove(clientID)
	_ = c.Transport.Close()
	log.Printf("client disconnected: %s", clientID)
}

// SweepStaleClients evicts clients silent for longer than olderThan, running
// the same teardown as an explicit disconnect.
func (b *Broker) SweepStaleClients(olderThan time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	cutoff := b.now().UnixMilli() - olderThan.Milliseconds()
	ids := b.clients.staleIDs(cutoff)
	for _, id := range ids {
		c, ok := b.clients.get(id)
		if !ok {
			continue
		}
		for _, s := range b.sessions.byParticipant(id) {
			b.endSessionLocked(s, reasonPeerEvicted)
		}
		b.clients.remove(id)
		_ = c.Transport.Close()
	}
	return len(ids)
}

// SweepExpiredSessions ends sessions past their status-dependent TTL. Both
// participants are notified through the normal teardown path.
func (b *Broker) SweepExpiredSessions(pendingTTL, activeTTL time.Duration) int {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now().UnixMilli()
	ids := b.sessions.expiredIDs(now, pendingTTL.Milliseconds(), activeTTL.Milliseconds())
	for _, id := range ids {
		if s, ok := b.sessions.get(id); ok {
			b.endSessionLocked(s, reasonExpired)
		}
	}
	return len(ids)
}

// endSessionLocked notifies both participants that still resolve and removes
// the session. Idempotent: a session already removed is simply not found by
// the callers above.
func (b *Broker) endSessionLocked(s *model.Session, reason string) {
	msg := protocol.SessionEnded{
		Type:      protocol.TypeSessionEnded,
		SessionID: s.ID,
		Reason:    reason,
	}
	if requester, ok := b.clients.get(s.RequesterID); ok {
		b.send(requester, msg)
	}
	if target, ok := b.clients.get(s.TargetID); ok {
		b.send(target, msg)
	}
	s.Status = model.SessionEnded
	b.sessions.remove(s.ID)
	log.Printf("session ended: %s (%s)", s.ID, reason)
}

func (b *Broker) send(c *model.Client, v any) {
	if err := c.Transport.Send(v); err != nil {
		log.Printf("send to %s failed: %v", c.ID, err)
	}
}

// HealthSnapshot backs GET /health.
type HealthSnapshot struct {
	Clients  int
	Sessions int
	Uptime   time.Duration
}

// StatsSnapshot backs GET /stats.
type StatsSnapshot struct {
	TotalClients   int
	OnlineClients  int
	ActiveSessions int
	ServerTime     time.Time
}

func (b *Broker) Health() HealthSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()
	return HealthSnapshot{
		Clients:  b.clients.size(),
		Sessions: b.sessions.size(),
		Uptime:   b.now().Sub(b.startedAt),
	}
}

func (b *Broker) Stats() StatsSnapshot {
	b.mu.Lock()
	defer b.mu.Unlock()

	now := b.now()
	cutoff := now.UnixMilli() - b.onlineThreshold.Milliseconds()
	online := 0
	for _, c := range b.clients.byID {
		if c.LastSeenAt >= cutoff {
			online++
		}
	}
	return StatsSnapshot{
		TotalClients:   b.clients.size(),
		OnlineClients:  online,
		ActiveSessions: b.sessions.activeCount(),
		ServerTime:     now,
	}
}
