package ws

import (
	"context"
	"errors"
	"net/http"
	"sync"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/GeoDaCenter/gdabridge/internal/bridge"
	"github.com/GeoDaCenter/gdabridge/internal/protocol"
)

// Client is the page end of the websocket transport. It carries titles to
// the host and feeds responses and updates into a bridge.
type Client struct {
	client *clientConn
	logger *zap.Logger

	mu        sync.Mutex
	sessionID string
	serving   bool
	done      chan struct{}
}

var _ bridge.Transport = (*Client)(nil)

// Dial connects to a host hub.
func Dial(ctx context.Context, url, authToken string, logger *zap.Logger) (*Client, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	header := http.Header{}
	if authToken != "" {
		header.Set("Authorization", "Bearer "+authToken)
	}
	conn, _, err := websocket.DefaultDialer.DialContext(ctx, url, header)
	if err != nil {
		return nil, err
	}
	logger.Info("connected to host", zap.String("url", url))
	return &Client{
		client: &clientConn{conn: conn},
		logger: logger.Named("page"),
		done:   make(chan struct{}),
	}, nil
}

// SetTitle publishes a page title to the host.
func (c *Client) SetTitle(ctx context.Context, title string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	frame := protocol.NewFrame(uuid.NewString(), protocol.FrameTitle, c.SessionID(), title)
	logFrame(c.logger, "send page->host", frame)
	return c.client.WriteJSON(frame)
}

// SessionID is the id the host assigned, known once the first frame arrived.
func (c *Client) SessionID() string {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.sessionID
}

// Serve starts delivering host frames into b. Register update handlers on b
// before calling Serve; the host sends Ready as soon as the page connects.
func (c *Client) Serve(b *bridge.Bridge) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.serving {
		return errors.New("client already serving")
	}
	c.serving = true
	go c.read(b)
	return nil
}

func (c *Client) read(b *bridge.Bridge) {
	defer close(c.done)
	for {
		var frame protocol.Frame
		if err := c.client.conn.ReadJSON(&frame); err != nil {
			c.logger.Debug("recv host->page stopped", zap.Error(err))
			return
		}
		logFrame(c.logger, "recv host->page", frame)

		c.mu.Lock()
		if c.sessionID == "" {
			c.sessionID = frame.SessionID
		}
		c.mu.Unlock()

		switch frame.Type {
		case protocol.FrameResponse:
			b.DeliverResponseJSON(frame.Payload)
		case protocol.FrameUpdate:
			b.UpdateJSON(frame.Payload)
		case protocol.FrameError:
			var p protocol.ErrorPayload
			_ = protocol.Unmarshal(frame.Payload, &p)
			c.logger.Warn("host reported error", zap.String("msg_id", frame.MsgID), zap.String("code", p.Code), zap.String("message", p.Message))
		default:
			c.logger.Debug("ignore frame", zap.String("type", frame.Type))
		}
	}
}

// Close disconnects and waits for the read loop to stop.
func (c *Client) Close() error {
	c.client.mu.Lock()
	_ = c.client.conn.WriteMessage(websocket.CloseMessage,
		websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
	c.client.mu.Unlock()
	err := c.client.conn.Close()

	c.mu.Lock()
	serving := c.serving
	c.mu.Unlock()
	if serving {
		<-c.done
	}
	return err
}
