package webui

import (
	"context"
	"encoding/json"
	"image"
	"net/http"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"ai_workspace/core"
	"ai_workspace/pipeline"
)

const (
	writeWait    = 10 * time.Second
	pongWait     = 60 * time.Second
	pingInterval = (pongWait * 9) / 10
)

// streamConn is one WebSocket client. Each accepted request runs its own
// forwarding goroutine; writes are serialized by writeMu.
type streamConn struct {
	server *Server
	conn   *websocket.Conn
	logger *zap.Logger

	writeMu sync.Mutex

	mu     sync.Mutex
	active map[string]context.CancelFunc
	wg     sync.WaitGroup
}

// handleStream upgrades to WebSocket and serves generation requests until
// the client disconnects. Disconnecting cancels every run it started.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}
	c := &streamConn{
		server: s,
		conn:   conn,
		logger: s.logger.With(zap.String("client", getClientIP(r))),
		active: make(map[string]context.CancelFunc),
	}
	ctx, cancel := context.WithCancel(r.Context())
	c.logger.Debug("websocket client connected")

	go c.pingLoop(ctx)
	c.readLoop(ctx)

	cancel()
	c.wg.Wait()
	conn.Close()
	c.logger.Debug("websocket client disconnected")
}

func (c *streamConn) readLoop(ctx context.Context) {
	c.conn.SetReadLimit(c.server.config.MaxMessageSize)
	c.conn.SetReadDeadline(time.Now().Add(pongWait))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(pongWait))
	})
	for {
		_, data, err := c.conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				c.logger.Warn("websocket read error", zap.Error(err))
			}
			return
		}
		var msg ClientMessage
		if err := json.Unmarshal(data, &msg); err != nil {
			c.send(errorMessage("", "", core.NewInvalidRequest("", "invalid JSON: %v", err)))
			continue
		}
		c.handle(ctx, msg)
	}
}

func (c *streamConn) pingLoop(ctx context.Context) {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if err := c.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(writeWait)); err != nil {
				return
			}
		}
	}
}

func (c *streamConn) handle(ctx context.Context, msg ClientMessage) {
	if msg.Action == ActionCancel {
		c.cancel(msg.ID)
		return
	}
	if msg.ID == "" {
		msg.ID = uuid.NewString()
	}
	c.mu.Lock()
	if _, dup := c.active[msg.ID]; dup {
		c.mu.Unlock()
		c.send(errorMessage(msg.ID, "", core.NewInvalidRequest("id", "request %q is already running", msg.ID)))
		return
	}
	reqCtx, cancel := context.WithCancel(ctx)
	c.active[msg.ID] = cancel
	c.mu.Unlock()

	c.wg.Add(1)
	go func() {
		defer c.wg.Done()
		defer func() {
			c.mu.Lock()
			delete(c.active, msg.ID)
			c.mu.Unlock()
			cancel()
		}()
		started := false
		err := c.server.track(reqCtx, "ws."+msg.Action, func(ctx context.Context) error {
			started = true
			return c.run(ctx, msg)
		})
		switch {
		case err == nil || started:
		case reqCtx.Err() != nil:
			c.send(errorMessage(msg.ID, "", err))
		default:
			c.send(WSMessage{
				Type:      MessageTypeError,
				ID:        msg.ID,
				Status:    pipeline.StatusError,
				Error:     err.Error(),
				Code:      "shutting_down",
				Timestamp: time.Now(),
			})
		}
	}()
}

// run starts the pipeline and forwards its events until the terminal one.
func (c *streamConn) run(ctx context.Context, msg ClientMessage) error {
	stream, err := c.start(ctx, msg)
	if err != nil {
		c.send(errorMessage(msg.ID, "", err))
		return nil
	}
	c.send(WSMessage{
		Type:      MessageTypeAccepted,
		ID:        msg.ID,
		RequestID: stream.ID(),
		Status:    pipeline.StatusInitializing,
		Timestamp: time.Now(),
	})
	for ev := range stream.Events() {
		c.send(eventMessage(msg.ID, stream.ID(), ev))
	}
	return nil
}

// cancel stops the request with the given client id. The run still ends
// with its terminal error event.
func (c *streamConn) cancel(id string) {
	c.mu.Lock()
	cancel, ok := c.active[id]
	c.mu.Unlock()
	if !ok {
		c.send(errorMessage(id, "", core.NewInvalidRequest("id", "no running request %q", id)))
		return
	}
	c.logger.Info("request cancelled by client", zap.String("id", id))
	cancel()
}

// start decodes the payload for msg.Action and submits it.
func (c *streamConn) start(ctx context.Context, msg ClientMessage) (*pipeline.Stream, error) {
	if err := c.server.actionEnabled(msg.Action); err != nil {
		return nil, err
	}
	e := c.server.engine
	switch msg.Action {
	case ActionImage:
		var p imagePayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return e.Image().Run(ctx, p.request())

	case ActionDepth:
		var p depthPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		img, err := decodeImageField("image", p.Image)
		if err != nil {
			return nil, err
		}
		return e.Depth().Run(ctx, pipeline.DepthRequest{Image: img, Model: p.Model, OutputFormat: p.OutputFormat})

	case ActionSegment:
		var p segmentPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		img, err := decodeImageField("image", p.Image)
		if err != nil {
			return nil, err
		}
		return e.Segmentation().Run(ctx, pipeline.SegmentationRequest{
			Image:            img,
			Model:            p.Model,
			CleanMask:        p.CleanMask,
			RemoveBackground: p.RemoveBackground,
		})

	case ActionNormal:
		var p normalPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		img, err := decodeImageField("depth", p.Depth)
		if err != nil {
			return nil, err
		}
		return e.NormalMap().Run(ctx, pipeline.NormalMapRequest{Depth: img, Strength: p.Strength, BlurRadius: p.BlurRadius})

	case ActionChat:
		var p chatPayload
		if err := decodePayload(msg.Payload, &p); err != nil {
			return nil, err
		}
		return e.Conversation().Run(ctx, pipeline.ChatRequest{
			SessionID:   p.SessionID,
			Message:     p.Message,
			CodeContext: p.CodeContext,
			Temperature: p.Temperature,
			MaxTokens:   p.MaxTokens,
			TopP:        p.TopP,
		})
	}
	return nil, core.NewInvalidRequest("action", "unknown action %q", msg.Action)
}

func (c *streamConn) send(msg WSMessage) {
	c.writeMu.Lock()
	defer c.writeMu.Unlock()
	c.conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := c.conn.WriteJSON(msg); err != nil {
		c.logger.Debug("websocket write failed", zap.String("id", msg.ID), zap.Error(err))
	}
}

// track runs fn through the operation tracker when one is configured.
func (s *Server) track(ctx context.Context, name string, fn func(context.Context) error) error {
	if s.tracker == nil {
		return fn(ctx)
	}
	return s.tracker.WrapOperation(ctx, name, fn)
}

// actionEnabled rejects actions switched off by the feature toggles.
func (s *Server) actionEnabled(action string) error {
	switch action {
	case ActionChat:
		if !s.config.EnableChat {
			return core.NewInvalidRequest("action", "chat is disabled")
		}
	case ActionDepth, ActionSegment, ActionNormal:
		if !s.config.Enable3D {
			return core.NewInvalidRequest("action", "%s is disabled", action)
		}
	}
	return nil
}

func decodePayload(raw json.RawMessage, v any) error {
	if len(raw) == 0 {
		return core.NewInvalidRequest("payload", "is required")
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return core.NewInvalidRequest("payload", "%v", err)
	}
	return nil
}

func decodeImageField(field, s string) (image.Image, error) {
	data, err := decodeBase64Image(field, s)
	if err != nil {
		return nil, err
	}
	return pipeline.DecodeImage(field, data)
}
