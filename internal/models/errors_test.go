package models

import (
	"encoding/json"
	"errors"
	"io"
	"net/http/httptest"
	"testing"

	"github.com/gofiber/fiber/v2"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func TestStatusFor(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want int
	}{
		{"bad request", NewFieldError("name", "required"), fiber.StatusBadRequest},
		{"validation", NewValidationError("bad"), fiber.StatusBadRequest},
		{"not found", NewNotFoundError("Chat", 3), fiber.StatusNotFound},
		{"not found fields", NewNotFoundFieldError(map[string]string{"user_id": "missing"}), fiber.StatusNotFound},
		{"forbidden", NewForbiddenError("no"), fiber.StatusForbidden},
		{"unauthorized", NewUnauthorizedError("no"), fiber.StatusUnauthorized},
		{"conflict", NewConflictError("dup"), fiber.StatusConflict},
		{"rate limited", NewTooManyRequestsError("slow"), fiber.StatusTooManyRequests},
		{"internal", NewInternalError(errors.New("boom")), fiber.StatusInternalServerError},
		{"wrapped", errors.Join(errors.New("ctx"), NewForbiddenError("no")), fiber.StatusForbidden},
		{"record not found", gorm.ErrRecordNotFound, fiber.StatusNotFound},
		{"fiber error", fiber.NewError(fiber.StatusRequestEntityTooLarge, "big"), fiber.StatusRequestEntityTooLarge},
		{"plain", errors.New("boom"), fiber.StatusInternalServerError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, StatusFor(tt.err))
		})
	}
}

func TestBadRequestMessage(t *testing.T) {
	single := NewFieldError("content", "Content is required")
	assert.Equal(t, "Content is required", single.Message)

	multi := NewBadRequestError(map[string]string{"a": "x", "b": "y"})
	assert.Equal(t, "Bad request", multi.Message)
	assert.Len(t, multi.Fields, 2)
}

func TestRespondWithError(t *testing.T) {
	app := fiber.New()
	app.Get("/fields", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusBadRequest, NewFieldError("name", "Name is required"))
	})
	app.Get("/internal", func(c *fiber.Ctx) error {
		return RespondWithError(c, fiber.StatusInternalServerError, NewInternalError(errors.New("db password leaked")))
	})

	resp, err := app.Test(httptest.NewRequest("GET", "/fields", nil))
	require.NoError(t, err)
	assert.Equal(t, fiber.StatusBadRequest, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	var decoded ErrorResponse
	require.NoError(t, json.Unmarshal(body, &decoded))
	assert.Equal(t, CodeBadRequest, decoded.Code)
	assert.Equal(t, "Name is required", decoded.Fields["name"])

	resp, err = app.Test(httptest.NewRequest("GET", "/internal", nil))
	require.NoError(t, err)
	body, _ = io.ReadAll(resp.Body)
	assert.NotContains(t, string(body), "leaked")
}
