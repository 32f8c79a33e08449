package service

import (
	"context"
	"regexp"
	"sync"
	"sync/atomic"
	"time"

	"chatterbox/internal/models"
	"chatterbox/internal/observability"
	"chatterbox/internal/repository"
	"chatterbox/internal/validation"

	"go.opentelemetry.io/otel/attribute"
)

const storySweepBatch = 200

var colorPattern = regexp.MustCompile(`^#(?:[0-9a-fA-F]{3}|[0-9a-fA-F]{6}|[0-9a-fA-F]{8})$`)

// StoryService publishes ephemeral stories to a user's contacts.
type StoryService struct {
	stories  repository.StoryRepository
	chats    repository.ChatRepository
	blocks   repository.BlockRepository
	media    *MediaService
	chatSvc  *ChatService
	messages *MessageService
	pub      Publisher
	ttl      time.Duration
	now      func() time.Time
}

// TextStoryInput is the body of POST /api/stories/text.
type TextStoryInput struct {
	Content         string `json:"content" validate:"required,max=700"`
	BackgroundColor string `json:"background_color"`
	Font            string `json:"font" validate:"max=32"`
	ExcludedIDs     []uint `json:"excluded_user_ids"`
}

// MediaStoryInput carries the form fields of POST /api/stories/media.
type MediaStoryInput struct {
	Caption     string `json:"caption" validate:"max=700"`
	ExcludedIDs []uint `json:"excluded_user_ids"`
	Upload      Upload `json:"-"`
}

// StoryReplyInput is the body of POST /api/stories/:id/reply.
type StoryReplyInput struct {
	Content string `json:"content" validate:"required"`
}

// NewStoryService returns a StoryService. ttl <= 0 uses the default.
func NewStoryService(
	stories repository.StoryRepository,
	chats repository.ChatRepository,
	blocks repository.BlockRepository,
	media *MediaService,
	chatSvc *ChatService,
	messages *MessageService,
	pub Publisher,
	ttl time.Duration,
) *StoryService {
	if ttl <= 0 {
		ttl = models.DefaultStoryTTL
	}
	return &StoryService{
		stories:  stories,
		chats:    chats,
		blocks:   blocks,
		media:    media,
		chatSvc:  chatSvc,
		messages: messages,
		pub:      publisherOrNoop(pub),
		ttl:      ttl,
		now:      time.Now,
	}
}

// CreateText posts a text story.
func (s *StoryService) CreateText(ctx context.Context, userID uint, in TextStoryInput) (*models.Story, error) {
	in.Content = validation.SanitizeText(in.Content)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	if in.BackgroundColor != "" && !colorPattern.MatchString(in.BackgroundColor) {
		return nil, models.NewFieldError("background_color", "background_color must be a hex color")
	}
	story := &models.Story{
		UserID:          userID,
		Type:            models.StoryTypeText,
		Content:         in.Content,
		BackgroundColor: in.BackgroundColor,
		Font:            validation.SanitizeText(in.Font),
	}
	return s.create(ctx, story, in.ExcludedIDs)
}

// CreateMedia posts an image or video story.
func (s *StoryService) CreateMedia(ctx context.Context, userID uint, in MediaStoryInput) (*models.Story, error) {
	in.Caption = validation.SanitizeText(in.Caption)
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	att, _, err := s.media.Store(ctx, "file", in.Upload, KindImage, KindVideo)
	if err != nil {
		return nil, err
	}
	story := &models.Story{
		UserID:      userID,
		Type:        models.StoryTypeMedia,
		MediaURL:    att.URL,
		MediaKey:    att.ObjectKey,
		ContentType: att.ContentType,
		Caption:     in.Caption,
	}
	created, err := s.create(ctx, story, in.ExcludedIDs)
	if err != nil {
		s.media.Remove(ctx, att.ObjectKey)
		return nil, err
	}
	return created, nil
}

func (s *StoryService) create(ctx context.Context, story *models.Story, excluded []uint) (*models.Story, error) {
	now := s.now().UTC()
	story.CreatedAt = now
	story.ExpiresAt = now.Add(s.ttl)
	for _, id := range uniqueIDs(excluded, story.UserID) {
		story.Exclusions = append(story.Exclusions, models.StoryExclusion{UserID: id})
	}
	if err := s.stories.Create(ctx, story); err != nil {
		return nil, err
	}

	partners, err := s.chats.PartnerIDs(ctx, story.UserID)
	if err == nil {
		blocked, err := s.blocks.BlockedAmong(ctx, story.UserID, partners)
		if err != nil {
			return story, nil
		}
		audience := make([]uint, 0, len(partners))
		for _, id := range partners {
			if !containsID(excluded, id) && !containsID(blocked, id) {
				audience = append(audience, id)
			}
		}
		publishUsers(ctx, s.pub, audience, TopicEvents, EventStoryCreated, map[string]interface{}{
			"story_id": story.ID, "user_id": story.UserID, "expires_at": story.ExpiresAt,
		})
	}
	return story, nil
}

// Feed returns the visible unexpired stories grouped per author, the
// viewer's own first.
func (s *StoryService) Feed(ctx context.Context, viewerID uint) ([]models.StoryFeedEntry, error) {
	stories, err := s.stories.Feed(ctx, viewerID, s.now().UTC())
	if err != nil {
		return nil, err
	}
	feed := []models.StoryFeedEntry{}
	index := map[uint]int{}
	for _, st := range stories {
		i, ok := index[st.UserID]
		if !ok {
			entry := models.StoryFeedEntry{}
			if st.User != nil {
				entry.User = st.User.PublicView(viewerID)
			}
			feed = append(feed, entry)
			i = len(feed) - 1
			index[st.UserID] = i
		}
		st.User = nil
		feed[i].Stories = append(feed[i].Stories, st)
	}
	if i, ok := index[viewerID]; ok && i > 0 {
		own := feed[i]
		copy(feed[1:i+1], feed[0:i])
		feed[0] = own
	}
	return feed, nil
}

// View records the viewer's first view. Authors viewing their own story are
// not recorded.
func (s *StoryService) View(ctx context.Context, viewerID, storyID uint) error {
	story, err := s.visible(ctx, viewerID, storyID)
	if err != nil {
		return err
	}
	if story.UserID == viewerID {
		return nil
	}
	_, err = s.stories.AddView(ctx, storyID, viewerID)
	return err
}

// Views lists who has seen the story. Author only.
func (s *StoryService) Views(ctx context.Context, ownerID, storyID uint) ([]models.StoryView, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.UserID != ownerID {
		return nil, models.NewForbiddenError("Only the author can see story views")
	}
	views, err := s.stories.Views(ctx, storyID)
	if err != nil {
		return nil, err
	}
	for i := range views {
		if views[i].User != nil {
			u := views[i].User.PublicView(ownerID)
			views[i].User = &u
		}
	}
	return views, nil
}

// Delete removes the author's story and its blob.
func (s *StoryService) Delete(ctx context.Context, ownerID, storyID uint) error {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return err
	}
	if story.UserID != ownerID {
		return models.NewForbiddenError("Only the author can delete this story")
	}
	if err := s.stories.Delete(ctx, storyID); err != nil {
		return err
	}
	s.media.Remove(ctx, story.MediaKey)
	return nil
}

// Reply answers a story in the individual chat with its author, starting
// that chat when needed.
func (s *StoryService) Reply(ctx context.Context, userID, storyID uint, in StoryReplyInput) (*models.Message, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	story, err := s.visible(ctx, userID, storyID)
	if err != nil {
		return nil, err
	}
	if story.UserID == userID {
		return nil, models.NewFieldError("story_id", "You cannot reply to your own story")
	}
	chat, _, err := s.chatSvc.CreateIndividual(ctx, userID, CreateIndividualInput{UserID: story.UserID})
	if err != nil {
		return nil, err
	}
	id := story.ID
	return s.messages.Send(ctx, userID, chat.ID, MessageInput{
		Type:    models.MessageTypeStory,
		Content: in.Content,
		StoryID: &id,
	})
}

// visible loads a story the viewer may see: unexpired, not excluded, no
// block either way, and authored by the viewer or a chat partner.
func (s *StoryService) visible(ctx context.Context, viewerID, storyID uint) (*models.Story, error) {
	story, err := s.stories.GetByID(ctx, storyID)
	if err != nil {
		return nil, err
	}
	if story.Expired(s.now()) {
		return nil, models.NewNotFoundError("Story", storyID)
	}
	if story.UserID == viewerID {
		return story, nil
	}
	excluded, err := s.stories.IsExcluded(ctx, storyID, viewerID)
	if err != nil {
		return nil, err
	}
	blocked, err := s.blocks.Between(ctx, viewerID, story.UserID)
	if err != nil {
		return nil, err
	}
	partners, err := s.chats.PartnerIDs(ctx, viewerID)
	if err != nil {
		return nil, err
	}
	if excluded || blocked || !containsID(partners, story.UserID) {
		return nil, models.NewNotFoundError("Story", storyID)
	}
	return story, nil
}

// SweepExpired deletes stories that expired at or before now, in batches,
// and removes their blobs with bounded parallelism.
func (s *StoryService) SweepExpired(ctx context.Context, now time.Time) (int, error) {
	span, ctx := observability.NewSpan(ctx, "StoryService.SweepExpired")
	defer span.End()

	total := 0
	for {
		expired, err := s.stories.ListExpired(ctx, now, storySweepBatch)
		if err != nil {
			span.SetError(err)
			return total, err
		}
		if len(expired) == 0 {
			break
		}
		ids := make([]uint, len(expired))
		for i := range expired {
			ids[i] = expired[i].ID
		}
		n, err := s.stories.DeleteByIDs(ctx, ids)
		if err != nil {
			span.SetError(err)
			return total, err
		}
		total += int(n)
		observability.StoriesSwept.Add(float64(n))

		if err := s.removeBlobs(ctx, expired); err != nil {
			span.SetError(err)
			return total, err
		}
		if len(expired) < storySweepBatch {
			break
		}
	}
	span.AddAttributes(attribute.Int("stories.swept", total))
	return total, nil
}

func (s *StoryService) removeBlobs(ctx context.Context, stories []models.Story) error {
	keys := make([]string, 0, len(stories))
	for _, st := range stories {
		keys = append(keys, st.MediaKey)
	}
	return s.media.RemoveAll(ctx, keys)
}

// StorySweeper runs SweepExpired on an interval until stopped.
type StorySweeper struct {
	stories  *StoryService
	interval time.Duration
	stopCh   chan struct{}
	doneCh   chan struct{}
	once     sync.Once
	started  atomic.Bool
}

// NewStorySweeper returns a sweeper for svc. interval <= 0 uses 15 minutes.
func NewStorySweeper(svc *StoryService, interval time.Duration) *StorySweeper {
	if interval <= 0 {
		interval = 15 * time.Minute
	}
	return &StorySweeper{
		stories:  svc,
		interval: interval,
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
}

// Start runs the sweep loop in the background, sweeping once immediately.
func (w *StorySweeper) Start(ctx context.Context) {
	if w.started.CompareAndSwap(false, true) {
		go w.loop(ctx)
	}
}

// Stop ends the loop and waits for an in-flight sweep.
func (w *StorySweeper) Stop() {
	w.once.Do(func() { close(w.stopCh) })
	if w.started.Load() {
		<-w.doneCh
	}
}

func (w *StorySweeper) loop(ctx context.Context) {
	defer close(w.doneCh)
	ticker := time.NewTicker(w.interval)
	defer ticker.Stop()

	w.sweepOnce(ctx)
	for {
		select {
		case <-w.stopCh:
			return
		case <-ctx.Done():
			return
		case <-ticker.C:
			w.sweepOnce(ctx)
		}
	}
}

func (w *StorySweeper) sweepOnce(ctx context.Context) {
	observability.LogAsyncOperationStart(ctx, "story_sweep", nil)
	n, err := w.stories.SweepExpired(ctx, w.stories.now().UTC())
	if err != nil {
		observability.LogAsyncOperationError(ctx, "story_sweep", err, map[string]interface{}{"swept": n})
		return
	}
	observability.LogAsyncOperationEnd(ctx, "story_sweep", map[string]interface{}{"swept": n})
}
