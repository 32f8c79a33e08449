package server

import (
	"net/url"

	"chatterbox/internal/middleware"
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

type refreshRequest struct {
	RefreshToken string `json:"refresh_token"`
}

// Signup handles POST /api/auth/signup
// @Summary User signup
// @Description Register a local account. A verification code is emailed.
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.SignupInput true "Signup request"
// @Success 201 {object} service.AuthTokens
// @Failure 400 {object} models.ErrorResponse
// @Router /auth/signup [post]
func (s *Server) Signup(c *fiber.Ctx) error {
	var req service.SignupInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	tokens, err := s.authService.Signup(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusCreated).JSON(tokens)
}

// Login handles POST /api/auth/login
// @Summary User login
// @Tags auth
// @Accept json
// @Produce json
// @Param request body service.LoginInput true "Login request"
// @Success 200 {object} service.AuthTokens
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/login [post]
func (s *Server) Login(c *fiber.Ctx) error {
	var req service.LoginInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	tokens, err := s.authService.Login(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(tokens)
}

// Refresh handles POST /api/auth/refresh
// @Summary Rotate a refresh token
// @Tags auth
// @Accept json
// @Produce json
// @Success 200 {object} service.AuthTokens
// @Failure 401 {object} models.ErrorResponse
// @Router /auth/refresh [post]
func (s *Server) Refresh(c *fiber.Ctx) error {
	var req refreshRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	tokens, err := s.authService.Refresh(c.UserContext(), req.RefreshToken)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(tokens)
}

// Logout handles POST /api/auth/logout. The access token is blacklisted and
// the refresh token, when sent, is revoked with its family.
func (s *Server) Logout(c *fiber.Ctx) error {
	var req refreshRequest
	if len(c.Body()) > 0 {
		if err := s.parseBody(c, &req); err != nil {
			return nil
		}
	}
	claims, _ := c.Locals("claims").(*middleware.AccessClaims)
	if err := s.authService.Logout(c.UserContext(), claims, req.RefreshToken); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// RequestOTP handles POST /api/auth/otp/request. Unknown addresses get the
// same answer as known ones.
func (s *Server) RequestOTP(c *fiber.Ctx) error {
	var req service.OTPRequest
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.authService.RequestOTP(c.UserContext(), req.Email, req.Purpose); err != nil {
		return s.fail(c, err)
	}
	return c.Status(fiber.StatusAccepted).JSON(fiber.Map{"status": "sent"})
}

// VerifyOTP handles POST /api/auth/otp/verify
func (s *Server) VerifyOTP(c *fiber.Ctx) error {
	var req service.OTPVerifyInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	result, err := s.authService.VerifyOTP(c.UserContext(), req)
	if err != nil {
		return s.fail(c, err)
	}
	return c.JSON(result)
}

// ResetPassword handles POST /api/auth/password/reset
func (s *Server) ResetPassword(c *fiber.Ctx) error {
	var req service.ResetPasswordInput
	if err := s.parseBody(c, &req); err != nil {
		return nil
	}
	if err := s.authService.ResetPassword(c.UserContext(), req); err != nil {
		return s.fail(c, err)
	}
	return c.SendStatus(fiber.StatusNoContent)
}

// BeginOAuth handles GET /api/auth/oauth/:provider by redirecting to the
// provider's consent page.
func (s *Server) BeginOAuth(c *fiber.Ctx) error {
	target, err := s.authService.BeginOAuth(c.UserContext(), c.Params("provider"))
	if err != nil {
		return s.fail(c, err)
	}
	return c.Redirect(target, fiber.StatusFound)
}

// OAuthCallback handles GET /api/auth/oauth/:provider/callback. With a
// configured success page the tokens travel in its URL fragment, otherwise
// they are returned as JSON.
func (s *Server) OAuthCallback(c *fiber.Ctx) error {
	if providerErr := c.Query("error"); providerErr != "" {
		return s.fail(c, fiber.NewError(fiber.StatusUnauthorized, "OAuth sign-in was cancelled: "+providerErr))
	}
	tokens, err := s.authService.CompleteOAuth(c.UserContext(), c.Params("provider"), c.Query("state"), c.Query("code"))
	if err != nil {
		return s.fail(c, err)
	}
	if s.config.OAuthSuccessRedirect == "" {
		return c.JSON(tokens)
	}
	fragment := url.Values{}
	fragment.Set("access_token", tokens.AccessToken)
	fragment.Set("refresh_token", tokens.RefreshToken)
	return c.Redirect(s.config.OAuthSuccessRedirect+"#"+fragment.Encode(), fiber.StatusFound)
}
