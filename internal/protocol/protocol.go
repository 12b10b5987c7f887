// Package protocol defines the JSON wire messages exchanged with relay peers.
package protocol

import "encoding/json"

// Inbound message types.
const (
	TypeRegisterClient    = "register_client"
	TypeRequestConnection = "request_connection"
	TypeAcceptConnection  = "accept_connection"
	TypeRelayData         = "relay_data"
	TypeHeartbeat         = "heartbeat"
	TypeDisconnectSession = "disconnect_session"
)

// Outbound message types.
const (
	TypeServerHello           = "server_hello"
	TypeClientRegistered      = "client_registered"
	TypeConnectionRequest     = "connection_request"
	TypeConnectionRequested   = "connection_requested"
	TypeConnectionAccepted    = "connection_accepted"
	TypeConnectionEstablished = "connection_established"
	TypeConnectionRejected    = "connection_rejected"
	TypeHeartbeatAck          = "heartbeat_ack"
	TypeSessionEnded          = "session_ended"
	TypeError                 = "error"
)

// Envelope is the superset of fields a peer may send; Type selects which ones
// are meaningful.
type Envelope struct {
	Type           string          `json:"type"`
	ClientType     string          `json:"clientType,omitempty"`
	DeviceInfo     map[string]any  `json:"deviceInfo,omitempty"`
	TargetClientID string          `json:"targetClientId,omitempty"`
	RequestType    string          `json:"requestType,omitempty"`
	SessionID      string          `json:"sessionId,omitempty"`
	Accepted       bool            `json:"accepted,omitempty"`
	DataType       string          `json:"dataType,omitempty"`
	Data           json.RawMessage `json:"data,omitempty"`
}

type ServerHello struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

type ClientRegistered struct {
	Type     string `json:"type"`
	ClientID string `json:"clientId"`
	Message  string `json:"message"`
}

type ConnectionRequest struct {
	Type          string         `json:"type"`
	SessionID     string         `json:"sessionId"`
	RequesterID   string         `json:"requesterId"`
	RequesterInfo map[string]any `json:"requesterInfo"`
	RequestType   string         `json:"requestType"`
	Message       string         `json:"message"`
}

type ConnectionRequested struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
	Message   string `json:"message"`
}

type ConnectionAccepted struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	TargetID  string `json:"targetId"`
	Message   string `json:"message"`
}

type ConnectionEstablished struct {
	Type        string `json:"type"`
	SessionID   string `json:"sessionId"`
	RequesterID string `json:"requesterId"`
	Message     string `json:"message"`
}

type ConnectionRejected struct {
	Type     string `json:"type"`
	TargetID string `json:"targetId"`
	Message  string `json:"message"`
}

type RelayData struct {
	Type      string          `json:"type"`
	SessionID string          `json:"sessionId"`
	SenderID  string          `json:"senderId"`
	DataType  string          `json:"dataType"`
	Data      json.RawMessage `json:"data"`
}

type HeartbeatAck struct {
	Type string `json:"type"`
}

type SessionEnded struct {
	Type      string `json:"type"`
	SessionID string `json:"sessionId"`
	Reason    string `json:"reason"`
}

type Error struct {
	Type    string `json:"type"`
	Message string `json:"message"`
}

func NewError(message string) Error {
	return Error{Type: TypeError, Message: message}
}
