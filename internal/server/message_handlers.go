package server

import (
	"context"
	"encoding/json"
	"strings"

	"chatterbox/internal/models"
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// maxFormAttachments caps the files read from one multipart message.
const maxFormAttachments = 10

type markReadRequest struct {
	MessageID uint `json:"message_id"`
}

// ListMessages handles GET /api/chats/:id/messages?cursor=&limit=
// @Summary Page through a chat's messages
// @Description Newest first. Pass next_cursor back as cursor for older messages.
// @Tags messages
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param cursor query int false "Return messages older than this id"
// @Param limit query int false "Page size (max 100)"
// @Success 200 {object} models.MessagePage
// @Router /chats/{id}/messages [get]
func (s *Server) ListMessages(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	cur, err := parseCursor(c)
	if err != nil {
		return s.fail(c, err)
	}
	page, err := s.messageService.List(c.UserContext(), currentUserID(c), chatID, cur.Before, cur.Limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(page)
}

// SendMessage handles POST /api/chats/:id/messages. Text, call, poll, story
// and invite messages are JSON. Media, audio and file messages are
// multipart with the attachments under "files".
// @Summary Send a message
// @Tags messages
// @Accept json
// @Accept mpfd
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param request body service.MessageInput true "Message"
// @Success 201 {object} models.Message
// @Failure 400 {object} models.ErrorResponse
// @Failure 403 {object} models.ErrorResponse
// @Router /chats/{id}/messages [post]
func (s *Server) SendMessage(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}

	var in service.MessageInput
	if isMultipart(c) {
		if in, err = messageForm(c); err != nil {
			return s.fail(c, err)
		}
	} else if err := s.parseBody(c, &in); err != nil {
		return nil
	}

	userID := currentUserID(c)
	if strings.EqualFold(string(in.Type), string(models.MessageTypePoll)) && !s.featureFlags.Enabled("polls", userID) {
		return s.fail(c, models.NewFieldError("type", "Polls are not enabled"))
	}

	msg, err := s.messageService.Send(c.UserContext(), userID, chatID, in)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

func messageForm(c *fiber.Ctx) (service.MessageInput, error) {
	in := service.MessageInput{
		Type:    models.MessageType(strings.ToUpper(strings.TrimSpace(c.FormValue("type")))),
		Content: c.FormValue("content"),
	}
	var err error
	if in.ReplyToID, err = formUint(c, "reply_to_id"); err != nil {
		return in, err
	}
	if in.Duration, err = formInt(c, "duration"); err != nil {
		return in, err
	}
	if in.CallDuration, err = formInt(c, "call_duration"); err != nil {
		return in, err
	}
	in.CallType = models.CallType(strings.ToUpper(c.FormValue("call_type")))
	in.CallStatus = models.CallStatus(strings.ToUpper(c.FormValue("call_status")))
	if raw := strings.TrimSpace(c.FormValue("metadata")); raw != "" {
		if !json.Valid([]byte(raw)) {
			return in, models.NewFieldError("metadata", "metadata must be a JSON object")
		}
		in.Metadata = json.RawMessage(raw)
	}
	if in.Uploads, err = formUploads(c, "files"); err != nil {
		return in, err
	}
	if len(in.Uploads) > maxFormAttachments {
		return in, models.NewFieldError("files", "At most 10 attachments are allowed")
	}
	return in, nil
}

// SearchMessages handles GET /api/chats/:id/messages/search?q=
func (s *Server) SearchMessages(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	cur, err := parseCursor(c)
	if err != nil {
		return s.fail(c, err)
	}
	page, err := s.messageService.Search(c.UserContext(), currentUserID(c), chatID,
		strings.TrimSpace(c.Query("q")), cur.Before, cur.Limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(page)
}

// MarkRead handles POST /api/chats/:id/read
func (s *Server) MarkRead(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req markReadRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	receipt, err := s.messageService.MarkRead(c.UserContext(), currentUserID(c), chatID, req.MessageID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(receipt)
}

// GetMessage handles GET /api/messages/:id
func (s *Server) GetMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	msg, err := s.messageService.Get(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(msg)
}

// EditMessage handles PUT /api/messages/:id
func (s *Server) EditMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.EditInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	msg, err := s.messageService.Edit(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(msg)
}

// DeleteMessage handles DELETE /api/messages/:id
func (s *Server) DeleteMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.messageService.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// PinMessage handles POST /api/messages/:id/pin
func (s *Server) PinMessage(c *fiber.Ctx) error {
	return s.setPinned(c, true)
}

// UnpinMessage handles DELETE /api/messages/:id/pin
func (s *Server) UnpinMessage(c *fiber.Ctx) error {
	return s.setPinned(c, false)
}

func (s *Server) setPinned(c *fiber.Ctx, pinned bool) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	msg, err := s.messageService.SetPinned(c.UserContext(), currentUserID(c), id, pinned)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(msg)
}

// ForwardMessage handles POST /api/messages/:id/forward
func (s *Server) ForwardMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.ForwardInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	msgs, err := s.messageService.Forward(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msgs)
}

// ReactToMessage handles POST /api/messages/:id/reacts. A second react
// replaces the first.
func (s *Server) ReactToMessage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.ReactInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.messageService.React(c.UserContext(), currentUserID(c), id, req); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RemoveReact handles DELETE /api/messages/:id/reacts
func (s *Server) RemoveReact(c *fiber.Ctx) error {
	return s.messageAction(c, s.messageService.Unreact)
}

// StarMessage handles POST /api/messages/:id/star
func (s *Server) StarMessage(c *fiber.Ctx) error {
	return s.messageAction(c, s.messageService.Star)
}

// UnstarMessage handles DELETE /api/messages/:id/star
func (s *Server) UnstarMessage(c *fiber.Ctx) error {
	return s.messageAction(c, s.messageService.Unstar)
}

// ListStarred handles GET /api/messages/starred?cursor=&limit=
func (s *Server) ListStarred(c *fiber.Ctx) error {
	cur, err := parseCursor(c)
	if err != nil {
		return s.fail(c, err)
	}
	page, err := s.messageService.ListStarred(c.UserContext(), currentUserID(c), cur.Before, cur.Limit)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(page)
}

// Vote handles POST /api/messages/:id/votes
func (s *Server) Vote(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.VoteInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	poll, err := s.messageService.Vote(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(poll)
}

// Unvote handles DELETE /api/messages/:id/votes
func (s *Server) Unvote(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	poll, err := s.messageService.Unvote(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(poll)
}

// PollResults handles GET /api/messages/:id/poll
func (s *Server) PollResults(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	poll, err := s.messageService.Results(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(poll)
}

func (s *Server) messageAction(c *fiber.Ctx, op func(ctx context.Context, userID, messageID uint) error) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := op(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
