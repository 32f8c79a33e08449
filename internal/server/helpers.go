package server

import (
	"errors"
	"io"
	"log/slog"
	"mime/multipart"
	"strconv"
	"strings"
	"unicode"

	"chatterbox/internal/middleware"
	"chatterbox/internal/models"
	"chatterbox/internal/service"

	"github.com/gofiber/fiber/v2"
)

// errResponseWritten is a sentinel indicating the HTTP response was already
// committed by a helper. Handlers must return nil (not this error) to avoid
// Fiber's ErrorHandler overwriting the response.
var errResponseWritten = errors.New("response already written")

// ErrorHandler maps errors that escape a handler to the standard error body.
func ErrorHandler(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		return models.RespondWithError(c, status, err)
	}
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "unhandled error",
			slog.String("path", c.Path()), slog.String("error", err.Error()))
		return models.RespondWithError(c, status, models.NewInternalError(err))
	}
	return models.RespondWithError(c, status, err)
}

// fail writes err with the status its code maps to. Internal errors are
// logged and masked.
func (s *Server) fail(c *fiber.Ctx, err error) error {
	status := models.StatusFor(err)
	if status >= fiber.StatusInternalServerError {
		middleware.Logger.ErrorContext(c.UserContext(), "request failed",
			slog.String("method", c.Method()),
			slog.String("path", c.Path()),
			slog.String("error", err.Error()),
		)
		var appErr *models.AppError
		if !errors.As(err, &appErr) {
			err = models.NewInternalError(err)
		}
	}
	return models.RespondWithError(c, status, err)
}

// currentUserID returns the user set by AuthRequired.
func currentUserID(c *fiber.Ctx) uint {
	id, _ := c.Locals("userID").(uint)
	return id
}

// parseID extracts a route parameter by name as a positive uint.
// On failure it writes a 400 JSON response and returns errResponseWritten.
// Callers should check: if err != nil { return nil }
// The error message is derived from the parameter name (e.g. "id" -> "Invalid ID",
// "userId" -> "Invalid user ID").
func (s *Server) parseID(c *fiber.Ctx, param string) (uint, error) {
	id, err := c.ParamsInt(param)
	if err != nil || id <= 0 {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewFieldError(param, "Invalid "+humanizeParam(param)))
		return 0, errResponseWritten
	}
	return uint(id), nil
}

// humanizeParam converts a route param name into a human-readable label.
// Examples: "id" -> "ID", "userId" -> "user ID", "messageId" -> "message ID".
func humanizeParam(param string) string {
	if param == "id" {
		return "ID"
	}
	if strings.HasSuffix(param, "Id") {
		words := splitCamel(param[:len(param)-2])
		return strings.ToLower(strings.Join(words, " ")) + " ID"
	}
	return param
}

// splitCamel splits a camelCase string into words.
func splitCamel(s string) []string {
	var words []string
	start := 0
	for i, r := range s {
		if i > 0 && unicode.IsUpper(r) {
			words = append(words, s[start:i])
			start = i
		}
	}
	words = append(words, s[start:])
	return words
}

// parseBody decodes the JSON body into dest, answering 400 on malformed input.
func (s *Server) parseBody(c *fiber.Ctx, dest interface{}) error {
	if err := c.BodyParser(dest); err != nil {
		_ = models.RespondWithError(c, fiber.StatusBadRequest,
			models.NewValidationError("Invalid request body"))
		return errResponseWritten
	}
	return nil
}

// Cursor holds the cursor/limit query parameters of keyset pages.
type Cursor struct {
	Before uint
	Limit  int
}

// parseCursor reads ?cursor=&limit=. Limits are clamped by the services.
func parseCursor(c *fiber.Ctx) (Cursor, error) {
	var cur Cursor
	if raw := c.Query("cursor"); raw != "" {
		v, err := strconv.ParseUint(raw, 10, 64)
		if err != nil {
			return cur, models.NewFieldError("cursor", "cursor must be a message id")
		}
		cur.Before = uint(v)
	}
	cur.Limit = c.QueryInt("limit", 0)
	if cur.Limit < 0 {
		return cur, models.NewFieldError("limit", "limit must be positive")
	}
	return cur, nil
}

// parseIDList parses a comma separated id list such as "1,2,3".
func parseIDList(field, raw string) ([]uint, error) {
	var ids []uint
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		if part == "" {
			continue
		}
		v, err := strconv.ParseUint(part, 10, 64)
		if err != nil || v == 0 {
			return nil, models.NewFieldError(field, field+" must be a comma separated list of ids")
		}
		ids = append(ids, uint(v))
	}
	return ids, nil
}

func isMultipart(c *fiber.Ctx) bool {
	return strings.HasPrefix(strings.ToLower(c.Get(fiber.HeaderContentType)), fiber.MIMEMultipartForm)
}

// readUpload loads one multipart file into memory.
func readUpload(fh *multipart.FileHeader) (service.Upload, error) {
	src, err := fh.Open()
	if err != nil {
		return service.Upload{}, err
	}
	defer func() { _ = src.Close() }()

	content, err := io.ReadAll(src)
	if err != nil {
		return service.Upload{}, err
	}
	return service.Upload{
		Filename:    fh.Filename,
		ContentType: fh.Header.Get(fiber.HeaderContentType),
		Content:     content,
	}, nil
}

// formUpload reads the single file sent under field.
func formUpload(c *fiber.Ctx, field string) (service.Upload, error) {
	fh, err := c.FormFile(field)
	if err != nil {
		return service.Upload{}, models.NewFieldError(field, "No file uploaded")
	}
	up, err := readUpload(fh)
	if err != nil {
		return service.Upload{}, models.NewFieldError(field, "Unable to read uploaded file")
	}
	return up, nil
}

// formUploads reads every file sent under field.
func formUploads(c *fiber.Ctx, field string) ([]service.Upload, error) {
	form, err := c.MultipartForm()
	if err != nil {
		return nil, models.NewValidationError("Invalid multipart form")
	}
	files := form.File[field]
	uploads := make([]service.Upload, 0, len(files))
	for _, fh := range files {
		up, err := readUpload(fh)
		if err != nil {
			return nil, models.NewFieldError(field, "Unable to read uploaded file")
		}
		uploads = append(uploads, up)
	}
	return uploads, nil
}

func formUint(c *fiber.Ctx, field string) (*uint, error) {
	raw := strings.TrimSpace(c.FormValue(field))
	if raw == "" {
		return nil, nil
	}
	v, err := strconv.ParseUint(raw, 10, 64)
	if err != nil {
		return nil, models.NewFieldError(field, field+" must be a positive integer")
	}
	id := uint(v)
	return &id, nil
}

func formInt(c *fiber.Ctx, field string) (int, error) {
	raw := strings.TrimSpace(c.FormValue(field))
	if raw == "" {
		return 0, nil
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		return 0, models.NewFieldError(field, field+" must be an integer")
	}
	return v, nil
}
