package server

import (
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// StoryFeed handles GET /api/stories
// @Summary Active stories visible to the caller
// @Description Grouped by author, the caller's own stories first.
// @Tags stories
// @Produce json
// @Security BearerAuth
// @Success 200 {array} models.StoryFeedEntry
// @Router /stories [get]
func (s *Server) StoryFeed(c *fiber.Ctx) error {
	feed, err := s.storyService.Feed(c.UserContext(), currentUserID(c))
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(feed)
}

// CreateTextStory handles POST /api/stories/text
// @Summary Post a text story
// @Tags stories
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param request body service.TextStoryInput true "Story"
// @Success 201 {object} models.Story
// @Failure 400 {object} models.ErrorResponse
// @Router /stories/text [post]
func (s *Server) CreateTextStory(c *fiber.Ctx) error {
	var req service.TextStoryInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	story, err := s.storyService.CreateText(c.UserContext(), currentUserID(c), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(story)
}

// CreateMediaStory handles POST /api/stories/media. The form carries the
// image or video under "file" with optional caption and excluded_user_ids.
func (s *Server) CreateMediaStory(c *fiber.Ctx) error {
	excluded, err := parseIDList("excluded_user_ids", c.FormValue("excluded_user_ids"))
	if err != nil {
		return s.fail(c, err)
	}
	up, err := formUpload(c, "file")
	if err != nil {
		return s.fail(c, err)
	}
	story, err := s.storyService.CreateMedia(c.UserContext(), currentUserID(c), service.MediaStoryInput{
		Caption:     c.FormValue("caption"),
		ExcludedIDs: excluded,
		Upload:      up,
	})
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(story)
}

// ViewStory handles POST /api/stories/:id/view. Repeat views are no-ops.
func (s *Server) ViewStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.storyService.View(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// StoryViews handles GET /api/stories/:id/views for the story's author.
func (s *Server) StoryViews(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	views, err := s.storyService.Views(c.UserContext(), currentUserID(c), id)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(views)
}

// ReplyToStory handles POST /api/stories/:id/reply. The reply lands in the
// individual chat with the author.
func (s *Server) ReplyToStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	var req service.StoryReplyInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	msg, err := s.storyService.Reply(c.UserContext(), currentUserID(c), id, req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(msg)
}

// DeleteStory handles DELETE /api/stories/:id
func (s *Server) DeleteStory(c *fiber.Ctx) error {
	id, err := s.parseID(c, "id")
	if err != nil {
		return nil
	}
	if err := s.storyService.Delete(c.UserContext(), currentUserID(c), id); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}
