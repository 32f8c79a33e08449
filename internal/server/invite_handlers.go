package server

import (
	"strings"

	"chatterbox/internal/models"
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// CreateInvite handles POST /api/chats/:id/invites
// @Summary Create a group invite
// @Tags invites
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path int true "Chat ID"
// @Param request body service.CreateInviteInput false "Options"
// @Success 201 {object} models.Invite
// @Failure 403 {object} models.ErrorResponse
// @Router /chats/{id}/invites [post]
func (s *Server) CreateInvite(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.CreateInviteInput
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return nil
		}
	}
	invite, err := s.inviteService.Create(c.UserContext(), currentUserID(c), chatID, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(invite)
}

// ListInvites handles GET /api/chats/:id/invites
func (s *Server) ListInvites(c *fiber.Ctx) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	invites, err := s.inviteService.List(c.UserContext(), currentUserID(c), chatID)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(invites)
}

// RevokeInvite handles DELETE /api/invites/:id
func (s *Server) RevokeInvite(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.inviteService.Revoke(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// SendInvite handles POST /api/invites/:id/send. The invite is delivered as
// an INVITE message in the individual chat with the recipient.
func (s *Server) SendInvite(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.SendInviteInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	msg, err := s.inviteService.SendInvite(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// ResolveInvite handles GET /api/invites/:code and previews the group.
func (s *Server) ResolveInvite(c *fiber.Ctx) error {
	code, ok := s.inviteCode(c)
	if !ok {
		return nil
	}
	preview, err := s.inviteService.Resolve(c.UserContext(), code)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(preview)
}

// JoinInvite handles POST /api/invites/:code/join
func (s *Server) JoinInvite(c *fiber.Ctx) error {
	code, ok := s.inviteCode(c)
	if !ok {
		return nil
	}
	chat, err := s.inviteService.Join(c.UserContext(), currentUserID(c), code)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chat)
}

func (s *Server) inviteCode(c *fiber.Ctx) (string, bool) {
	code := strings.TrimSpace(c.Params("code"))
	if code == "" {
		_ = models.RespondWithError(c, fiber.StatusBadRequest, models.NewFieldError("code", "Invalid invite code"))
		return "", false
	}
	return code, true
}
