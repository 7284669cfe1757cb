// internal/handlers/ws_codes.go
package handlers

// Custom WebSocket close codes used by the notification socket.
const (
	InvalidAuthTokenError = 3001 // Provided auth token was invalid or expired.
	ShuttingDownError     = 3005 // Server is shutting down or dropped the connection.
)
