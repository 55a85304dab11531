package webapi

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"go.uber.org/zap"

	"github.com/leotyps/jkt48connect/pkg/chat"
)

const (
	chatWriteWait       = 10 * time.Second
	chatPongWait        = 60 * time.Second
	chatPingInterval    = 50 * time.Second
	chatReadLimit       = 512
	frameTypeSnapshot   = "snapshot"
	frameTypeReset      = "reset"
	frameTypeMessages   = "messages"
	frameTypeRelayEnded = "closed"
)

type chatFrame struct {
	Type      string         `json:"type"`
	Provider  chat.Provider  `json:"provider"`
	Room      string         `json:"room"`
	Connected bool           `json:"connected"`
	Messages  []chat.Message `json:"messages"`
}

func (handler *httpHandler) upgrader() websocket.Upgrader {
	allowed := make(map[string]struct{}, len(handler.cfg.AllowedOrigins))
	for _, origin := range handler.cfg.AllowedOrigins {
		allowed[origin] = struct{}{}
	}
	return websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 4096,
		CheckOrigin: func(request *http.Request) bool {
			origin := request.Header.Get("Origin")
			if origin == "" {
				return true
			}
			_, ok := allowed[origin]
			return ok
		},
	}
}

func (handler *httpHandler) handleChat(ctx *gin.Context) {
	provider, err := chat.ParseProvider(ctx.Param("provider"))
	if err != nil {
		ctx.JSON(http.StatusBadRequest, errorResponse("invalid_provider", err.Error()))
		return
	}
	roomID := ctx.Param("room")
	subscription, err := handler.chat.Subscribe(ctx.Request.Context(), provider, roomID)
	if err != nil {
		switch {
		case errors.Is(err, chat.ErrInvalidRoom):
			ctx.JSON(http.StatusBadRequest, errorResponse("invalid_room", err.Error()))
		case errors.Is(err, chat.ErrHubClosed):
			ctx.JSON(http.StatusServiceUnavailable, errorResponse("chat_unavailable", "chat relay is shutting down"))
		default:
			handler.logger.Error("chat subscribe failed", zap.String("provider", provider.String()), zap.String("room", roomID), zap.Error(err))
			ctx.JSON(http.StatusBadGateway, errorResponse("chat_error", "chat relay unavailable"))
		}
		return
	}
	defer subscription.Close()

	upgrader := handler.upgrader()
	conn, err := upgrader.Upgrade(ctx.Writer, ctx.Request, nil)
	if err != nil {
		handler.logger.Warn("chat upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	streamCtx, cancel := context.WithCancel(ctx.Request.Context())
	defer cancel()
	go discardIncoming(conn, cancel)

	frame := chatFrame{Provider: provider, Room: roomID}
	send := func(frameType string, messages []chat.Message) error {
		frame.Type = frameType
		frame.Connected = subscription.Connected()
		frame.Messages = messages
		if frame.Messages == nil {
			frame.Messages = []chat.Message{}
		}
		if err := conn.SetWriteDeadline(time.Now().Add(chatWriteWait)); err != nil {
			return err
		}
		return conn.WriteJSON(frame)
	}

	if err := send(frameTypeSnapshot, subscription.Snapshot); err != nil {
		return
	}
	ping := time.NewTicker(chatPingInterval)
	defer ping.Stop()
	for {
		select {
		case <-streamCtx.Done():
			return
		case <-subscription.Done():
			_ = send(frameTypeRelayEnded, nil)
			_ = conn.WriteControl(websocket.CloseMessage, websocket.FormatCloseMessage(websocket.CloseNormalClosure, "relay ended"), time.Now().Add(chatWriteWait))
			return
		case event, ok := <-subscription.Events:
			if !ok {
				return
			}
			frameType := frameTypeMessages
			if event.Reset {
				frameType = frameTypeReset
			}
			if err := send(frameType, event.Messages); err != nil {
				return
			}
		case <-ping.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(chatWriteWait)); err != nil {
				return
			}
		}
	}
}

// discardIncoming drains client frames so control messages are processed and
// cancels the stream once the client goes away.
func discardIncoming(conn *websocket.Conn, cancel context.CancelFunc) {
	defer cancel()
	conn.SetReadLimit(chatReadLimit)
	_ = conn.SetReadDeadline(time.Now().Add(chatPongWait))
	conn.SetPongHandler(func(string) error {
		return conn.SetReadDeadline(time.Now().Add(chatPongWait))
	})
	for {
		if _, _, err := conn.ReadMessage(); err != nil {
			return
		}
	}
}
