package server

import (
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// ListBlocks handles GET /api/blocks
// @Summary Users the caller has blocked
// @Tags blocks
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.Block
// @Router /blocks [get]
func (s *Server) ListBlocks(c *fiber.Ctx) error {
	blocks, err := s.blockService.ListBlocked(c.UserContext(), currentUserID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(blocks)
}

// BlockUser handles POST /api/blocks/:userId
func (s *Server) BlockUser(c *fiber.Ctx) error {
	target, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	block, err := s.blockService.Block(c.UserContext(), currentUserID(c), target)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(block)
}

// UnblockUser handles DELETE /api/blocks/:userId
func (s *Server) UnblockUser(c *fiber.Ctx) error {
	target, err := s.parseID(c, "userId")
	if err != nil {
		return nil
	}
	if err := s.blockService.Unblock(c.UserContext(), currentUserID(c), target); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// ListGifs handles GET /api/gifs
func (s *Server) ListGifs(c *fiber.Ctx) error {
	gifs, err := s.gifService.List(c.UserContext(), currentUserID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(gifs)
}

// AddGif handles POST /api/gifs. A url can be saved once per user.
func (s *Server) AddGif(c *fiber.Ctx) error {
	var req service.AddGifInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	gif, err := s.gifService.Add(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(gif)
}

// RemoveGif handles DELETE /api/gifs/:id
func (s *Server) RemoveGif(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.gifService.Remove(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// GetPresence handles GET /api/presence?ids=1,2,3. Users hiding their
// online status are reported offline without a last-seen time.
func (s *Server) GetPresence(c *fiber.Ctx) error {
	ids, err := parseIDList("ids", c.Query("ids"))
	if err != nil {
		return s.fail(c, err)
	}
	statuses, err := s.presenceService.Statuses(c.UserContext(), currentUserID(c), ids)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(statuses)
}
