package client

// Config holds connection settings for a relay client.
type Config struct {
	// ServerURL is the websocket endpoint, e.g. "ws://localhost:8080/ws".
	ServerURL string

	// UserID identifies this client to the relay on Identify.
	UserID string

	// UserAgent is sent on the upgrade request.
	UserAgent string
}
