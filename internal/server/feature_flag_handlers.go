package server

import "github.com/gofiber/fiber/v2"

// FeatureFlagsResponse is the body of GET /api/features.
type FeatureFlagsResponse struct {
	Raw       map[string]string `json:"raw"`
	Evaluated map[string]bool   `json:"evaluated"`
}

// GetFeatureFlags handles GET /api/features
// @Summary Feature flags for the caller
// @Tags features
// @Produce json
// @Security BearerAuth
// @Success 200 {object} FeatureFlagsResponse
// @Router /features [get]
func (s *Server) GetFeatureFlags(c *fiber.Ctx) error {
	return c.JSON(FeatureFlagsResponse{
		Raw:       s.featureFlags.Raw(),
		Evaluated: s.featureFlags.Snapshot(currentUserID(c)),
	})
}
