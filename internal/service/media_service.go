package service

import (
	"bytes"
	"context"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"log/slog"
	"mime"
	"path"
	"strings"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/storage"

	"github.com/chai2010/webp"
	"github.com/gabriel-vasile/mimetype"
	"github.com/google/uuid"
	xdraw "golang.org/x/image/draw"
	_ "golang.org/x/image/webp"
	"golang.org/x/sync/errgroup"
)

const (
	DefaultMediaMaxUploadSizeMB = 25
	MaxImageDimension           = 2048
	blobDeleteWorkers           = 8
	WebPQuality                 = 80
)

// MediaKind classifies an upload.
type MediaKind string

const (
	KindImage MediaKind = "image"
	KindVideo MediaKind = "video"
	KindAudio MediaKind = "audio"
	KindFile  MediaKind = "file"
)

// Upload is a file received from a multipart form.
type Upload struct {
	Filename    string
	ContentType string
	Content     []byte
}

// MediaService validates uploads, normalizes images and stores blobs.
type MediaService struct {
	store    storage.BlobStore
	maxBytes int64
	now      func() time.Time
}

// NewMediaService returns a MediaService writing to store. maxBytes <= 0
// falls back to the default limit.
func NewMediaService(store storage.BlobStore, maxBytes int64) *MediaService {
	if maxBytes <= 0 {
		maxBytes = DefaultMediaMaxUploadSizeMB << 20
	}
	return &MediaService{store: store, maxBytes: maxBytes, now: time.Now}
}

// Store validates the upload against the allowed kinds, re-encodes images
// and writes the blob under {kind}/{yyyy}/{mm}/{uuid}.{ext}. field names the
// request field used in error responses.
func (s *MediaService) Store(ctx context.Context, field string, up Upload, allowed ...MediaKind) (*models.Attachment, MediaKind, error) {
	if len(up.Content) == 0 {
		return nil, "", models.NewFieldError(field, field+" is required")
	}
	if int64(len(up.Content)) > s.maxBytes {
		return nil, "", models.NewFieldError(field, fmt.Sprintf("File too large (max %dMB)", s.maxBytes>>20))
	}

	detected := mimetype.Detect(up.Content)
	sniffed := normalizeContentType(detected.String())
	kind := classifyMIME(sniffed)

	if declared := normalizeContentType(up.ContentType); declared != "" && declared != "application/octet-stream" {
		if !declaredMatches(detected, declared) {
			return nil, "", models.NewFieldError(field, "Content type does not match file contents")
		}
	}
	if len(allowed) > 0 && !kindAllowed(kind, allowed) {
		return nil, "", models.NewFieldError(field, fmt.Sprintf("Unsupported file type %s", sniffed))
	}

	content, contentType, ext := up.Content, sniffed, strings.TrimPrefix(detected.Extension(), ".")
	att := &models.Attachment{Name: sanitizeFilename(up.Filename)}

	if kind == KindImage && sniffed != "image/gif" {
		encoded, w, h, err := normalizeImage(up.Content)
		if err != nil {
			return nil, "", models.NewFieldError(field, "Invalid image file")
		}
		content, contentType, ext = encoded, "image/webp", "webp"
		att.Width, att.Height = w, h
	} else if kind == KindImage {
		if cfg, _, err := image.DecodeConfig(bytes.NewReader(up.Content)); err == nil {
			att.Width, att.Height = cfg.Width, cfg.Height
		}
	}
	if ext == "" {
		ext = "bin"
	}

	now := s.now().UTC()
	key := path.Join(string(kind), now.Format("2006"), now.Format("01"), uuid.NewString()+"."+ext)
	if err := s.store.Put(ctx, key, bytes.NewReader(content), int64(len(content)), contentType); err != nil {
		return nil, "", models.NewInternalError(fmt.Errorf("store %s: %w", key, err))
	}

	att.URL = s.store.URL(key)
	att.ObjectKey = key
	att.ContentType = contentType
	att.Size = int64(len(content))
	return att, kind, nil
}

// Remove deletes blobs. Failures are logged; the rows referencing them are
// already gone.
func (s *MediaService) Remove(ctx context.Context, keys ...string) {
	for _, key := range keys {
		if key == "" {
			continue
		}
		if err := s.store.Delete(ctx, key); err != nil {
			observability.GlobalLogger.WarnContext(ctx, "blob delete failed",
				slog.String("key", key),
				slog.String("error", err.Error()),
			)
		}
	}
}

// RemoveAll deletes the blobs concurrently. Failures are logged by Remove;
// only cancellation is returned.
func (s *MediaService) RemoveAll(ctx context.Context, keys []string) error {
	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(blobDeleteWorkers)
	for _, key := range keys {
		if key == "" {
			continue
		}
		g.Go(func() error {
			s.Remove(gctx, key)
			return gctx.Err()
		})
	}
	return g.Wait()
}

func normalizeImage(content []byte) ([]byte, int, int, error) {
	decoded, _, err := image.Decode(bytes.NewReader(content))
	if err != nil {
		return nil, 0, 0, err
	}
	resized := resizeToFit(decoded, MaxImageDimension, MaxImageDimension)
	buf := bytes.NewBuffer(nil)
	if err := webp.Encode(buf, resized, &webp.Options{Quality: WebPQuality}); err != nil {
		return nil, 0, 0, err
	}
	b := resized.Bounds()
	return buf.Bytes(), b.Dx(), b.Dy(), nil
}

func resizeToFit(src image.Image, maxWidth, maxHeight int) image.Image {
	bounds := src.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	if w <= 0 || h <= 0 || (w <= maxWidth && h <= maxHeight) {
		return src
	}

	scale := float64(maxWidth) / float64(w)
	if s := float64(maxHeight) / float64(h); s < scale {
		scale = s
	}
	newW, newH := int(float64(w)*scale), int(float64(h)*scale)
	if newW < 1 {
		newW = 1
	}
	if newH < 1 {
		newH = 1
	}

	dst := image.NewRGBA(image.Rect(0, 0, newW, newH))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), src, bounds, xdraw.Over, nil)
	return dst
}

func classifyMIME(contentType string) MediaKind {
	switch {
	case strings.HasPrefix(contentType, "image/"):
		return KindImage
	case strings.HasPrefix(contentType, "video/"):
		return KindVideo
	case strings.HasPrefix(contentType, "audio/"):
		return KindAudio
	default:
		return KindFile
	}
}

func kindAllowed(kind MediaKind, allowed []MediaKind) bool {
	for _, k := range allowed {
		if k == kind || k == KindFile {
			return true
		}
	}
	return false
}

// declaredMatches accepts the declared type when it names the sniffed type,
// one of its aliases or one of its parents. Unknown binary content only
// contradicts media declarations.
func declaredMatches(detected *mimetype.MIME, declared string) bool {
	for m := detected; m != nil; m = m.Parent() {
		if m.Is(declared) {
			return true
		}
	}
	if detected.Is("application/octet-stream") {
		return classifyMIME(declared) == KindFile
	}
	if declared == "image/jpg" && detected.Is("image/jpeg") {
		return true
	}
	return false
}

func normalizeContentType(contentType string) string {
	if contentType == "" {
		return ""
	}
	mediaType, _, err := mime.ParseMediaType(contentType)
	if err != nil {
		return strings.ToLower(strings.TrimSpace(contentType))
	}
	return strings.ToLower(strings.TrimSpace(mediaType))
}

func sanitizeFilename(name string) string {
	name = path.Base(strings.ReplaceAll(name, "\\", "/"))
	if name == "." || name == "/" {
		return ""
	}
	if len(name) > 255 {
		name = name[len(name)-255:]
	}
	return name
}
