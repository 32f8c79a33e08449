package service

import (
	"context"
	"net/url"
	"strings"

	"chatterbox/internal/models"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"
)

// GifService keeps each user's favorite GIFs.
type GifService struct {
	gifs repository.GifRepository
}

// AddGifInput is the body of POST /api/gifs.
type AddGifInput struct {
	URL        string `json:"url" validate:"required,url,max=1024"`
	PreviewURL string `json:"preview_url" validate:"omitempty,url,max=1024"`
}

// NewGifService returns a new GifService.
func NewGifService(gifs repository.GifRepository) *GifService {
	return &GifService{gifs: gifs}
}

// Add saves a GIF. Saving the same URL twice is rejected.
func (s *GifService) Add(ctx context.Context, userID uint, in AddGifInput) (*models.FavoriteGif, error) {
	in.URL = strings.TrimSpace(in.URL)
	in.PreviewURL = strings.TrimSpace(in.PreviewURL)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if !httpURL(in.URL) {
		return nil, models.NewFieldError("url", "url must be an http(s) URL")
	}
	if in.PreviewURL != "" && !httpURL(in.PreviewURL) {
		return nil, models.NewFieldError("preview_url", "preview_url must be an http(s) URL")
	}
	gif := &models.FavoriteGif{UserID: userID, URL: in.URL, PreviewURL: in.PreviewURL}
	if err := s.gifs.Create(ctx, gif); err != nil {
		return nil, err
	}
	return gif, nil
}

// Remove deletes one of the user's GIFs.
func (s *GifService) Remove(ctx context.Context, userID, gifID uint) error {
	removed, err := s.gifs.Delete(ctx, userID, gifID)
	if err != nil {
		return err
	}
	if !removed {
		return models.NewNotFoundError("Gif", gifID)
	}
	return nil
}

// List returns the user's GIFs, newest first.
func (s *GifService) List(ctx context.Context, userID uint) ([]models.FavoriteGif, error) {
	return s.gifs.List(ctx, userID)
}

func httpURL(raw string) bool {
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
