package service

import (
	"context"
	"strings"
	"testing"
	"time"

	"chatterbox/internal/storage"
	"chatterbox/internal/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMedia(maxBytes int64) (*MediaService, *storage.MemoryStore) {
	store := storage.NewMemoryStore()
	svc := NewMediaService(store, maxBytes)
	svc.now = func() time.Time { return time.Date(2026, 3, 9, 12, 0, 0, 0, time.UTC) }
	return svc, store
}

func TestMediaService_ImageIsReencodedToWebP(t *testing.T) {
	svc, store := newTestMedia(0)

	att, kind, err := svc.Store(context.Background(), "file", Upload{
		Filename:    "holiday.png",
		ContentType: "image/png",
		Content:     testutil.PNGBytes(40, 30),
	}, KindImage)
	require.NoError(t, err)

	assert.Equal(t, KindImage, kind)
	assert.Equal(t, "image/webp", att.ContentType)
	assert.Equal(t, 40, att.Width)
	assert.Equal(t, 30, att.Height)
	assert.Equal(t, "holiday.png", att.Name)
	assert.True(t, strings.HasPrefix(att.ObjectKey, "image/2026/03/"), att.ObjectKey)
	assert.True(t, strings.HasSuffix(att.ObjectKey, ".webp"), att.ObjectKey)
	assert.Equal(t, "memory://"+att.ObjectKey, att.URL)

	data, contentType, ok := store.Get(att.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, "image/webp", contentType)
	assert.Equal(t, att.Size, int64(len(data)))
}

func TestMediaService_LargeImageIsScaledDown(t *testing.T) {
	svc, _ := newTestMedia(0)

	att, _, err := svc.Store(context.Background(), "image", Upload{
		Filename: "banner.png",
		Content:  testutil.PNGBytes(3000, 100),
	}, KindImage)
	require.NoError(t, err)
	assert.Equal(t, MaxImageDimension, att.Width)
	assert.Equal(t, 68, att.Height)
}

func TestMediaService_PlainFileKeepsBytes(t *testing.T) {
	svc, store := newTestMedia(0)
	content := []byte("meeting notes\nsecond line\n")

	att, kind, err := svc.Store(context.Background(), "file", Upload{
		Filename: `..\..\private/notes.txt`,
		Content:  content,
	})
	require.NoError(t, err)

	assert.Equal(t, KindFile, kind)
	assert.Equal(t, "notes.txt", att.Name)
	assert.True(t, strings.HasPrefix(att.ObjectKey, "file/2026/03/"))
	assert.True(t, strings.HasSuffix(att.ObjectKey, ".txt"))
	data, _, ok := store.Get(att.ObjectKey)
	require.True(t, ok)
	assert.Equal(t, content, data)
}

func TestMediaService_Rejections(t *testing.T) {
	png := testutil.PNGBytes(4, 4)

	tests := []struct {
		name    string
		max     int64
		upload  Upload
		allowed []MediaKind
	}{
		{"empty", 0, Upload{Filename: "a.png"}, nil},
		{"too large", 16, Upload{Filename: "a.png", Content: png}, nil},
		{"declared type mismatch", 0, Upload{Filename: "a.mp3", ContentType: "audio/mpeg", Content: png}, nil},
		{"kind not allowed", 0, Upload{Filename: "a.txt", Content: []byte("just text")}, []MediaKind{KindImage}},
		{"undecodable image", 0, Upload{Filename: "a.png", Content: png[:24]}, []MediaKind{KindImage}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			svc, store := newTestMedia(tt.max)
			_, _, err := svc.Store(context.Background(), "media", tt.upload, tt.allowed...)
			assertField(t, "media", err)
			assert.Zero(t, store.Len())
		})
	}
}

func TestMediaService_Remove(t *testing.T) {
	svc, store := newTestMedia(0)
	att, _, err := svc.Store(context.Background(), "file", Upload{Filename: "a.txt", Content: []byte("bye")})
	require.NoError(t, err)
	require.Equal(t, 1, store.Len())

	svc.Remove(context.Background(), "", att.ObjectKey)
	assert.Zero(t, store.Len())
}

func TestClassifyMIME(t *testing.T) {
	assert.Equal(t, KindImage, classifyMIME("image/gif"))
	assert.Equal(t, KindVideo, classifyMIME("video/mp4"))
	assert.Equal(t, KindAudio, classifyMIME("audio/ogg"))
	assert.Equal(t, KindFile, classifyMIME("application/pdf"))
	assert.Equal(t, "image/png", normalizeContentType(" Image/PNG; charset=binary"))
}
