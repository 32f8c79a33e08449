package server

import (
	"context"
	"encoding/json"
	"log/slog"

	"chatterbox/internal/middleware"
	"chatterbox/internal/models"
	"chatterbox/internal/notifications"

	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/websocket/v2"
)

// requireUpgrade rejects plain HTTP requests to the gateway.
func (s *Server) requireUpgrade(c *fiber.Ctx) error {
	if websocket.IsWebSocketUpgrade(c) {
		return c.Next()
	}
	return fiber.ErrUpgradeRequired
}

// IssueWSTicket handles POST /api/ws/ticket. Browsers cannot set headers on
// the upgrade request, so they trade their bearer token for a short-lived
// single-use ticket passed as ?ticket=.
// @Summary Issue a WebSocket ticket
// @Tags realtime
// @Produce json
// @Security BearerAuth
// @Success 200 {object} map[string]interface{}
// @Router /ws/ticket [post]
func (s *Server) IssueWSTicket(c *fiber.Ctx) error {
	ticket, err := middleware.IssueTicket(c.UserContext(), s.redis, currentUserID(c), wsTicketTTL)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(fiber.Map{
		"ticket":     ticket,
		"expires_in": int(wsTicketTTL.Seconds()),
	})
}

// WebSocketHandler serves GET /ws. Frames are JSON encoded and follow the
// SUBSCRIBE / UNSUBSCRIBE / SEND / DISCONNECT protocol handled by the hub.
func (s *Server) WebSocketHandler() fiber.Handler {
	return websocket.New(func(conn *websocket.Conn) {
		userID, _ := conn.Locals("userID").(uint)
		if userID == 0 {
			rejectConn(conn, models.CodeUnauthorized, "unauthorized")
			return
		}

		client, err := s.hub.Register(context.Background(), userID, conn)
		if err != nil {
			middleware.Logger.Warn("websocket register failed",
				slog.Uint64("user_id", uint64(userID)),
				slog.String("error", err.Error()),
			)
			rejectConn(conn, models.CodeTooManyRequests, err.Error())
			return
		}

		go client.WritePump()
		client.ReadPump()
	})
}

func rejectConn(conn *websocket.Conn, code, message string) {
	data, _ := json.Marshal(notifications.Frame{
		Command: notifications.CommandError,
		Code:    code,
		Message: message,
	})
	_ = conn.WriteMessage(websocket.TextMessage, data)
	_ = conn.Close()
}
