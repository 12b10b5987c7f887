package model

type Role string

const (
	RoleHost   Role = "host"
	RoleViewer Role = "viewer"
)

type SessionStatus string

const (
	SessionPending SessionStatus = "pending"
	SessionActive  SessionStatus = "active"
	SessionEnded   SessionStatus = "ended"
)

// Transport is the send side of one peer's message connection. Send must not
// block the caller; implementations queue the message and deliver it from
// their own writer.
type Transport interface {
	Send(v any) error
	Close() error
}

// Client is one connected peer. The registry owns the record; Transport is
// released when the client is removed.
type Client struct {
	ID           string
	Role         Role
	DeviceInfo   map[string]any
	RegisteredAt int64
	LastSeenAt   int64
	Transport    Transport
}

// Session pairs a requester with a target. Participant ids are plain strings
// that may stop resolving in the registry before the session is torn down.
type Session struct {
	ID          string
	RequesterID string
	TargetID    string
	Kind        string
	Status      SessionStatus
	CreatedAt   int64
	ConnectedAt int64
}

type AccessCode struct {
	Code      string
	CreatedAt int64
	ExpiresAt int64
	Used      bool
}
