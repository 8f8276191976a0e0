package services

import (
	"chat-relay/contract"
	"chat-relay/domain"
	errs "chat-relay/errors"
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
)

var _ contract.ISynchronizer = (*SidebarService)(nil)

// SidebarService derives a user's conversation list from durable state.
// Nothing is cached: every call reads the store again.
type SidebarService struct {
	store    contract.IConversationStore
	users    contract.IUserDirectory
	presence contract.IPresenceRegistry
	log      *slog.Logger
}

func NewSidebarService(
	store contract.IConversationStore,
	users contract.IUserDirectory,
	presence contract.IPresenceRegistry,
	log *slog.Logger) *SidebarService {
	return &SidebarService{
		store:    store,
		users:    users,
		presence: presence,
		log:      log.With("component", "sidebar_service"),
	}
}

// BuildSidebar returns one summary per conversation of userID, most recent activity first.
// A participant unknown to the user directory is shown with its id only.
func (s *SidebarService) BuildSidebar(ctx context.Context, userID domain.UserID) ([]domain.ConversationSummary, error) {
	conversations, err := s.store.ListConversationsForUser(ctx, userID)
	if err != nil {
		return nil, fmt.Errorf("list conversations of %s: %w", userID, err)
	}

	summaries := make([]domain.ConversationSummary, 0, len(conversations))
	for _, conversation := range conversations {
		if !conversation.Involves(userID) {
			s.log.Warn("Conversation listed for a non participant", "user_id", userID, "conversation_id", conversation.ID)
			continue
		}
		thread, err := s.store.GetThread(ctx, conversation.ID)
		if err != nil {
			return nil, fmt.Errorf("thread %s: %w", conversation.ID, err)
		}

		peerID := thread.Conversation.Peer(userID)
		profile, err := s.users.FetchUserProfile(ctx, peerID)
		switch {
		case errors.Is(err, errs.ErrNotFound):
			s.log.Debug("Participant missing from user directory", "user_id", peerID)
			profile = domain.UserProfile{ID: peerID}
		case err != nil:
			return nil, fmt.Errorf("profile of %s: %w", peerID, err)
		}

		summaries = append(summaries, domain.ConversationSummary{
			ConversationID:   thread.Conversation.ID,
			OtherParticipant: profile,
			LastMessage:      thread.LastMessage(),
			UnreadCount:      thread.UnreadFor(userID),
			Online:           s.presence.IsOnline(peerID),
			UpdatedAt:        thread.Conversation.UpdatedAt,
		})
	}

	sort.SliceStable(summaries, func(i, j int) bool {
		return summaries[i].UpdatedAt.After(summaries[j].UpdatedAt)
	})
	return summaries, nil
}
