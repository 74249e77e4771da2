package websocket

import (
	"context"
	"encoding/json"
	"fmt"
)

// marshalMessage converts a Message to JSON bytes
func marshalMessage(message *Message) ([]byte, error) {
	// If Payload is set, marshal it to Data
	if message.Payload != nil {
		data, err := json.Marshal(message.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to marshal payload: %w", err)
		}
		message.Data = data
	}

	return json.Marshal(message)
}

// topicRequest is the body of subscribe and unsubscribe messages
type topicRequest struct {
	Topics []string `json:"topics"`
}

// PingHandler answers ping messages, echoing whatever data was sent
func PingHandler(ctx context.Context, client *Client, message *Message) error {
	return client.SendJSON("pong", map[string]interface{}{
		"timestamp": message.Data,
	})
}

// SubscribeHandler limits the client to the requested topics
func SubscribeHandler(ctx context.Context, client *Client, message *Message) error {
	var req topicRequest
	if err := json.Unmarshal(message.Data, &req); err != nil {
		return fmt.Errorf("invalid subscribe request: %w", err)
	}
	if len(req.Topics) == 0 {
		return fmt.Errorf("at least one topic is required")
	}

	client.Subscribe(req.Topics...)

	return client.SendJSON("subscribed", map[string]interface{}{
		"topics": client.Subscriptions(),
	})
}

// UnsubscribeHandler drops topics. An empty list restores every topic.
func UnsubscribeHandler(ctx context.Context, client *Client, message *Message) error {
	var req topicRequest
	if len(message.Data) > 0 {
		if err := json.Unmarshal(message.Data, &req); err != nil {
			return fmt.Errorf("invalid unsubscribe request: %w", err)
		}
	}

	client.Unsubscribe(req.Topics...)

	return client.SendJSON("unsubscribed", map[string]interface{}{
		"topics": client.Subscriptions(),
	})
}

// StatusHandler returns connection status
func StatusHandler(ctx context.Context, client *Client, message *Message) error {
	return client.SendJSON("status", map[string]interface{}{
		"client_id":           client.ID,
		"connected_at":        client.connectedAt,
		"connection_duration": client.ConnectionDuration().String(),
		"last_heartbeat":      client.GetLastHeartbeat(),
		"topics":              client.Subscriptions(),
	})
}

// RegisterDefaultHandlers registers built-in message handlers
func RegisterDefaultHandlers(hub *Hub) {
	hub.RegisterHandler("ping", PingHandler)
	hub.RegisterHandler("subscribe", SubscribeHandler)
	hub.RegisterHandler("unsubscribe", UnsubscribeHandler)
	hub.RegisterHandler("status", StatusHandler)
}
