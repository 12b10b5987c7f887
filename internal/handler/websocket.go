package handler

import (
	"encoding/json"
	"log"
	"net/http"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"

	"remote-relay/internal/model"
	"remote-relay/internal/protocol"
	"remote-relay/internal/relay"
)

// Screen frames arrive base64-encoded inside relay_data, so the read limit
// is far above typical control-message sizes.
const maxPayload int64 = 32 << 20

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// RelayWS serves the persistent per-peer message connection and dispatches
// decoded messages into the broker.
type RelayWS struct {
	Broker *relay.Broker
}

func (h *RelayWS) Serve(c *gin.Context) {
	ws, err := upgrader.Upgrade(c.Writer, c.Request, nil)
	if err != nil {
		return
	}
	ws.SetReadLimit(maxPayload)

	t := newWSTransport(ws)
	_ = t.Send(protocol.ServerHello{
		Type:    protocol.TypeServerHello,
		Message: "Connected to the remote control relay server",
	})

	// clientID is bound to this connection once register_client succeeds.
	var clientID string
	defer func() {
		h.Broker.HandleDisconnect(clientID)
		_ = t.Close()
	}()

	for {
		_, data, err := ws.ReadMessage()
		if err != nil {
			return
		}

		var env protocol.Envelope
		if err := json.Unmarshal(data, &env); err != nil {
			_ = t.Send(protocol.NewError("invalid message"))
			continue
		}

		// Any inbound traffic counts as liveness.
		h.Broker.Touch(clientID)
		h.dispatch(t, &clientID, env)
	}
}

func (h *RelayWS) dispatch(t model.Transport, clientID *string, env protocol.Envelope) {
	switch env.Type {
	case protocol.TypeRegisterClient:
		id, err := h.Broker.RegisterClient(model.Role(env.ClientType), env.DeviceInfo, t)
		if err != nil {
			_ = t.Send(protocol.NewError(err.Error()))
			return
		}
		// Re-registration on a live connection supersedes the old identity.
		// The old record must be unbound here, not left to the stale sweep,
		// because the sweep closes transports and this one is still in use.
		h.Broker.ReleaseClient(*clientID)
		*clientID = id
		_ = t.Send(protocol.ClientRegistered{
			Type:     protocol.TypeClientRegistered,
			ClientID: id,
			Message:  "Your ID: " + id,
		})

	case protocol.TypeRequestConnection:
		if _, err := h.Broker.RequestConnection(*clientID, env.TargetClientID, env.RequestType); err != nil {
			_ = t.Send(protocol.NewError(err.Error()))
		}

	case protocol.TypeAcceptConnection:
		if err := h.Broker.RespondToConnection(env.SessionID, *clientID, env.Accepted); err != nil {
			_ = t.Send(protocol.NewError(err.Error()))
		}

	case protocol.TypeRelayData:
		if err := h.Broker.Relay(env.SessionID, *clientID, env.DataType, env.Data); err != nil {
			_ = t.Send(protocol.NewError(err.Error()))
		}

	case protocol.TypeHeartbeat:
		if h.Broker.Heartbeat(*clientID) {
			_ = t.Send(protocol.HeartbeatAck{Type: protocol.TypeHeartbeatAck})
		}

	case protocol.TypeDisconnectSession:
		if err := h.Broker.EndSession(env.SessionID, *clientID); err != nil {
			_ = t.Send(protocol.NewError(err.Error()))
		}

	default:
		log.Printf("unknown message type: %q", env.Type)
	}
}
