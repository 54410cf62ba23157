package hub

import (
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/ajolex/surveycto-vc-agent/ipc"
	"github.com/ajolex/surveycto-vc-agent/types"
)

// conn is one websocket peer.
type conn struct {
	server *Server
	ws     *websocket.Conn
	codec  ipc.Codec
	from   types.Sender

	send      chan []byte
	done      chan struct{}
	closeOnce sync.Once
}

func (c *conn) frameType() int {
	if c.codec.Binary() {
		return websocket.BinaryMessage
	}
	return websocket.TextMessage
}

// enqueue encodes msg and queues it without blocking.
func (c *conn) enqueue(msg types.Message) error {
	payload, err := ipc.EncodeMessage(c.codec, msg)
	if err != nil {
		return err
	}
	select {
	case <-c.done:
		return websocket.ErrCloseSent
	default:
	}
	select {
	case c.send <- payload:
		return nil
	case <-c.done:
		return websocket.ErrCloseSent
	default:
		return ErrSendBuffer
	}
}

func (c *conn) close() {
	c.closeOnce.Do(func() {
		close(c.done)
		_ = c.ws.Close()
	})
}

func (c *conn) readPump() {
	defer func() {
		c.server.unregister(c)
		c.close()
	}()

	_ = c.ws.SetReadDeadline(time.Now().Add(readWait))
	c.ws.SetPongHandler(func(string) error {
		return c.ws.SetReadDeadline(time.Now().Add(readWait))
	})

	for {
		_, data, err := c.ws.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				c.server.logger.Warn("websocket read failed", map[string]any{
					"conn_id": c.from.ConnID,
					"error":   err.Error(),
				})
			}
			return
		}

		msg, err := ipc.DecodeMessage(c.codec, data)
		if err != nil {
			c.server.metrics.IncDecodeErrors()
			c.server.logger.Warn("undecodable message dropped", map[string]any{
				"conn_id": c.from.ConnID,
				"error":   err.Error(),
			})
			continue
		}
		go c.server.handle(c, msg)
	}
}

func (c *conn) writePump() {
	ticker := time.NewTicker(pingInterval)
	defer func() {
		ticker.Stop()
		c.close()
	}()

	for {
		select {
		case payload := <-c.send:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(c.frameType(), payload); err != nil {
				return
			}
		case <-ticker.C:
			_ = c.ws.SetWriteDeadline(time.Now().Add(writeWait))
			if err := c.ws.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		case <-c.done:
			_ = c.ws.WriteControl(websocket.CloseMessage,
				websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
				time.Now().Add(writeWait))
			return
		}
	}
}
