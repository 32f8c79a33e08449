package server

import (
	"context"

	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListChats handles GET /api/chats
// @Summary List the caller's chats
// @Description Most recently active first, each with its last message and unread count.
// @Tags chats
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Chat
// @Router /chats [get]
func (s *Server) ListChats(c *fiber.Ctx) error {
	chats, err := s.chatService.ListChats(c.UserContext(), currentUserID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chats)
}

// CreateIndividualChat handles POST /api/chats/individual. An existing chat
// with the same user is returned with 200.
// @Summary Open a one-to-one chat
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateIndividualInput true "Other user"
// @Success 201 {object} models.Chat
// @Success 200 {object} models.Chat
// @Failure 403 {object} models.ErrorResponse
// @Router /chats/individual [post]
func (s *Server) CreateIndividualChat(c *fiber.Ctx) error {
	var req service.CreateIndividualInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	chat, created, err := s.chatService.CreateIndividual(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	status := fiber.StatusOK
	if created {
		status = fiber.StatusCreated
	}
	return c.Status(status).JSON(chat)
}

// CreateGroupChat handles POST /api/chats/group
// @Summary Create a group chat
// @Tags chats
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.CreateGroupInput true "Group"
// @Success 201 {object} models.Chat
// @Router /chats/group [post]
func (s *Server) CreateGroupChat(c *fiber.Ctx) error {
	var req service.CreateGroupInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	chat, err := s.chatService.CreateGroup(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(chat)
}

// GetChat handles GET /api/chats/:id
func (s *Server) GetChat(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	chat, err := s.chatService.GetChat(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chat)
}

// UpdateChat handles PUT /api/chats/:id
func (s *Server) UpdateChat(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.UpdateGroupInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	chat, err := s.chatService.UpdateGroup(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chat)
}

// UpdateChatImage handles PUT /api/chats/:id/image (multipart field "image").
func (s *Server) UpdateChatImage(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	up, err := formUpload(c, "image")
	if err != nil {
		return s.fail(c, err)
	}
	chat, err := s.chatService.UpdateGroupImage(c.UserContext(), currentUserID(c), id, up)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(chat)
}

// DeleteChat handles DELETE /api/chats/:id
func (s *Server) DeleteChat(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.chatService.DeleteChat(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListMembers handles GET /api/chats/:id/members
func (s *Server) ListMembers(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	members, err := s.memberService.ListMembers(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(members)
}

// AddMembers handles POST /api/chats/:id/members
func (s *Server) AddMembers(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.AddMembersInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	added, err := s.memberService.AddMembers(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(fiber.Map{"added": added})
}

// RemoveMember handles DELETE /api/chats/:id/members/:userId
func (s *Server) RemoveMember(c *fiber.Ctx) error {
	return s.memberAction(c, s.memberService.RemoveMember)
}

// PromoteMember handles POST /api/chats/:id/members/:userId/promote
func (s *Server) PromoteMember(c *fiber.Ctx) error {
	return s.memberAction(c, s.memberService.PromoteAdmin)
}

// DemoteMember handles POST /api/chats/:id/members/:userId/demote
func (s *Server) DemoteMember(c *fiber.Ctx) error {
	return s.memberAction(c, s.memberService.DemoteAdmin)
}

// TransferOwnership handles POST /api/chats/:id/members/:userId/transfer
func (s *Server) TransferOwnership(c *fiber.Ctx) error {
	return s.memberAction(c, s.memberService.TransferOwnership)
}

// LeaveChat handles POST /api/chats/:id/leave
func (s *Server) LeaveChat(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.memberService.LeaveChat(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

type memberOp func(ctx context.Context, actorID, chatID, targetID uint) error

func (s *Server) memberAction(c *fiber.Ctx, op memberOp) error {
	chatID, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	targetID, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := op(c.UserContext(), currentUserID(c), chatID, targetID); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
