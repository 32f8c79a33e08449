package service

import (
	"context"

	"chatterbox/internal/models"
	"chatterbox/internal/validation"
)

// Vote replaces the caller's votes on a POLL message. Single-answer polls
// take exactly one option.
func (s *MessageService) Vote(ctx context.Context, userID, messageID uint, in VoteInput) (*models.Poll, error) {
	if err := validation.Struct(in); err != nil {
		return nil, err
	}
	poll, chat, err := s.loadPoll(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	options := uniqueIDs(in.OptionIDs, 0)
	if len(options) != len(in.OptionIDs) {
		return nil, models.NewFieldError("option_ids", "Options must be unique")
	}
	if !poll.MultipleAnswers && len(options) != 1 {
		return nil, models.NewFieldError("option_ids", "This poll accepts exactly one option")
	}
	if err := s.polls.ReplaceVotes(ctx, poll.ID, userID, options); err != nil {
		return nil, err
	}
	return s.pollChanged(ctx, chat, messageID)
}

// Unvote withdraws every vote of the caller on the poll.
func (s *MessageService) Unvote(ctx context.Context, userID, messageID uint) (*models.Poll, error) {
	poll, chat, err := s.loadPoll(ctx, userID, messageID)
	if err != nil {
		return nil, err
	}
	n, err := s.polls.DeleteVotes(ctx, poll.ID, userID)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		return poll, nil
	}
	return s.pollChanged(ctx, chat, messageID)
}

// Results returns the poll with per-option counts and voters.
func (s *MessageService) Results(ctx context.Context, userID, messageID uint) (*models.Poll, error) {
	poll, _, err := s.loadPoll(ctx, userID, messageID)
	return poll, err
}

func (s *MessageService) loadPoll(ctx context.Context, userID, messageID uint) (*models.Poll, *models.Chat, error) {
	msg, chat, _, err := s.loadForMember(ctx, userID, messageID)
	if err != nil {
		return nil, nil, err
	}
	if msg.Type != models.MessageTypePoll {
		return nil, nil, models.NewFieldError("type", "Message is not a poll")
	}
	poll, err := s.polls.GetByMessageID(ctx, messageID)
	if err != nil {
		return nil, nil, err
	}
	return poll, chat, nil
}

func (s *MessageService) pollChanged(ctx context.Context, chat *models.Chat, messageID uint) (*models.Poll, error) {
	poll, err := s.polls.GetByMessageID(ctx, messageID)
	if err != nil {
		return nil, err
	}
	s.afterWrite(ctx, chat, false)
	publishChat(ctx, s.pub, chat.ID, TopicMessages, EventPollUpdated, map[string]interface{}{
		"chat_id": chat.ID, "message_id": messageID, "poll": poll,
	})
	return poll, nil
}
