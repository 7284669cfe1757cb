// internal/handlers/ws.go
package handlers

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/coder/websocket"
	"github.com/jason-s-yu/bingo/internal/auth"
	"github.com/jason-s-yu/bingo/internal/fanout"
	"github.com/jason-s-yu/bingo/internal/middleware"
	"github.com/sirupsen/logrus"
)

const (
	pingInterval = 30 * time.Second
	writeTimeout = 5 * time.Second
)

// NotifyWSHandler upgrades GET /ws?token=... to a push-only notification socket.
// The socket receives {event, payload} frames for every match the user plays in;
// any data frame sent by the client closes it with a policy violation.
func NotifyWSHandler(logger *logrus.Logger, registry *fanout.Registry) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		remoteAddr := r.RemoteAddr

		c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
			OriginPatterns: []string{"*"}, // Adjust in production
		})
		if err != nil {
			logger.Warnf("websocket accept error: %v", err)
			return
		}
		defer c.CloseNow()

		token := r.URL.Query().Get("token")
		if token == "" {
			token = requestToken(r)
		}
		userID, err := auth.AuthenticateJWT(token)
		if err != nil {
			logger.WithField("remote", remoteAddr).Warn("notification socket rejected: invalid token")
			c.Close(InvalidAuthTokenError, "invalid auth token")
			return
		}

		ctx, cancel := context.WithCancel(r.Context())
		defer cancel()
		conn, err := registry.Register(userID, cancel)
		if err != nil {
			c.Close(ShuttingDownError, "server shutting down")
			return
		}
		defer registry.Unregister(conn)

		middleware.LogWebSocketConnect(logger, remoteAddr, r.URL.Path)

		// CloseRead runs the reader the pings need and closes the socket with
		// StatusPolicyViolation if the client sends a data frame.
		ctx = c.CloseRead(ctx)

		err = writePump(ctx, c, conn)
		if errors.Is(err, context.Canceled) {
			err = nil
		}
		middleware.LogWebSocketDisconnect(logger, remoteAddr, r.URL.Path, err)
	}
}

// writePump drains the connection's outbound channel onto the socket until the
// context ends, the registry drops the connection, or a write fails.
func writePump(ctx context.Context, c *websocket.Conn, conn *fanout.Connection) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case data, ok := <-conn.OutChan:
			if !ok {
				c.Close(ShuttingDownError, "connection closed by server")
				return nil
			}
			writeCtx, cancel := context.WithTimeout(ctx, writeTimeout)
			err := c.Write(writeCtx, websocket.MessageText, data)
			cancel()
			if err != nil {
				return err
			}
		case <-ticker.C:
			pingCtx, cancel := context.WithTimeout(ctx, 15*time.Second)
			err := c.Ping(pingCtx)
			cancel()
			if err != nil {
				return err
			}
		}
	}
}
