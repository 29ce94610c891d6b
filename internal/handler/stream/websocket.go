package stream

import (
	"context"
	"errors"
	"net/http"
	"sync"
	"time"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/zhouzirui/voxchat/backend/internal/middleware"
	chatservice "github.com/zhouzirui/voxchat/backend/internal/service/chat"
)

const (
	pongWait     = 60 * time.Second
	pingInterval = 54 * time.Second
	// maxQueued bounds messages read while an exchange is still running.
	maxQueued = 16
)

var errSocketClosed = errors.New("websocket closed")

// handleWebSocket runs exchanges for each {"sessionId", "message"} frame, one
// at a time. Closing the socket cancels the exchange in flight.
func (h *Handler) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	owner := middleware.OwnerFrom(r.Context())

	conn, err := h.upgrader.Upgrade(w, r, nil)
	if err != nil {
		h.logger.Warn("websocket upgrade failed", zap.Error(err))
		return
	}

	log := h.logger.With(zap.String("owner", owner))
	log.Debug("websocket connected")

	sink := &wsSink{conn: conn}
	requests := make(chan streamRequest, maxQueued)

	g, ctx := errgroup.WithContext(r.Context())

	g.Go(func() error {
		defer close(requests)
		return h.readLoop(ctx, conn, requests)
	})

	g.Go(func() error {
		<-ctx.Done()
		return conn.Close()
	})

	g.Go(func() error {
		return sink.pingLoop(ctx)
	})

	g.Go(func() error {
		for req := range requests {
			if ctx.Err() != nil {
				return nil
			}
			if _, err := h.streamer.Stream(ctx, req.toService(owner), sink); err != nil {
				if sendErr := sink.Send(errorEvent(err)); sendErr != nil {
					return sendErr
				}
			}
		}
		return nil
	})

	if err := g.Wait(); err != nil && !errors.Is(err, errSocketClosed) {
		log.Warn("websocket closed with error", zap.Error(err))
	}
	log.Debug("websocket disconnected")
}

// readLoop always ends with an error so the group cancels the connection.
func (h *Handler) readLoop(ctx context.Context, conn *websocket.Conn, requests chan<- streamRequest) error {
	_ = conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(pongWait))
	})

	for {
		var msg streamRequest
		if err := conn.ReadJSON(&msg); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure, websocket.CloseAbnormalClosure) {
				h.logger.Warn("websocket read failed", zap.Error(err))
			}
			return errSocketClosed
		}
		_ = conn.SetReadDeadline(time.Now().Add(pongWait))

		select {
		case requests <- msg:
		case <-ctx.Done():
			return errSocketClosed
		}
	}
}

// wsSink serializes writes to the connection; gorilla allows one writer at a time.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(ev chatservice.Event) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteJSON(ev)
}

// pingLoop 定期发送ping消息
func (s *wsSink) pingLoop(ctx context.Context) error {
	ticker := time.NewTicker(pingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
			s.mu.Lock()
			err := s.conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(10*time.Second))
			s.mu.Unlock()
			if err != nil {
				return err
			}
		}
	}
}
