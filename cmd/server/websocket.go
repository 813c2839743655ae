package main

import (
	"context"
	"time"

	"github.com/coder/websocket"
	"github.com/gin-gonic/gin"
	"github.com/segmentio/ksuid"
	"github.com/sirupsen/logrus"

	"github.com/AnZomorodian/Globallink2/internal/registry"
)

// Liveness timing. Variables so tests can shorten them.
var (
	PingInterval = 30 * time.Second
	PongTimeout  = 10 * time.Second
	WriteTimeout = 5 * time.Second
)

// handleWebSocket owns one transport connection from accept to cleanup.
// Graceful and abrupt closes take the same path: the read loop returns, the
// deferred cleanup deregisters the user (if one was ever announced) and
// broadcasts the offline transition.
func (s *Server) handleWebSocket(c *gin.Context) {
	conn, err := websocket.Accept(c.Writer, c.Request, &websocket.AcceptOptions{
		OriginPatterns: []string{"*"},
	})
	if err != nil {
		s.log.WithField("error", err).Warn("websocket upgrade failed")
		return
	}
	defer conn.Close(websocket.StatusNormalClosure, "")

	client := registry.NewClient(ksuid.New().String())
	log := s.log.WithField("conn_id", client.ID)
	log.Info("websocket connected")

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go s.writePump(ctx, conn, client, cancel)
	go s.pingLoop(ctx, conn, cancel)

	defer func() {
		// Cleanup must not depend on the peer: close our handle first so no
		// in-flight relay blocks on this connection, then deregister.
		client.Close()
		s.router.Disconnect(context.Background(), client)
		log.WithField("user_id", client.UserID).Info("websocket disconnected")
	}()

	s.readLoop(ctx, conn, client)
}

// readLoop is the connection's single inbound stream; per-sender FIFO order
// falls out of reading here sequentially.
func (s *Server) readLoop(ctx context.Context, conn *websocket.Conn, client *registry.Client) {
	for {
		msgType, data, err := conn.Read(ctx)
		if err != nil {
			return
		}
		if msgType != websocket.MessageText {
			s.log.WithFields(logrus.Fields{"conn_id": client.ID, "msg_type": msgType}).
				Warn("dropping non-text frame")
			continue
		}
		s.router.Dispatch(ctx, client, data)
	}
}

// writePump drains the client's outbound queue onto the wire. A write error
// cancels the whole connection; the queue closing ends the pump.
func (s *Server) writePump(ctx context.Context, conn *websocket.Conn, client *registry.Client, cancel context.CancelFunc) {
	for {
		select {
		case <-ctx.Done():
			return
		case data, ok := <-client.Outbound():
			if !ok {
				return
			}
			println("DEBUG pump write start", client.ID, string(data))
			writeCtx, writeCancel := context.WithTimeout(ctx, WriteTimeout)
			err := conn.Write(writeCtx, websocket.MessageText, data)
			writeCancel()
			println("DEBUG pump write done", client.ID, err == nil)
			if err != nil {
				s.log.WithFields(logrus.Fields{"conn_id": client.ID, "error": err}).
					Debug("websocket write failed")
				cancel()
				return
			}
		}
	}
}

// pingLoop verifies peer liveness with control-frame pings and tears the
// connection down when a pong does not arrive in time.
func (s *Server) pingLoop(ctx context.Context, conn *websocket.Conn, cancel context.CancelFunc) {
	ticker := time.NewTicker(PingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			pingCtx, pingCancel := context.WithTimeout(ctx, PongTimeout)
			err := conn.Ping(pingCtx)
			pingCancel()
			if err != nil {
				cancel()
				return
			}
		}
	}
}
