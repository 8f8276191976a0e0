package e2e

import (
	"chat-relay/client"
	"chat-relay/domain"
	"chat-relay/domain/event"
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/suite"
)

type ConversationSuite struct {
	BaseGrpcSuite
}

func TestConversationSuite(t *testing.T) {
	suite.Run(t, new(ConversationSuite))
}

// Users are unique per run so the scenario can be replayed on the same store.
func (s *ConversationSuite) users() (domain.UserID, domain.UserID) {
	run := time.Now().UnixNano()
	return domain.UserID(fmt.Sprintf("e2e-a-%d", run)), domain.UserID(fmt.Sprintf("e2e-b-%d", run))
}

func (s *ConversationSuite) TestFirstMessage_Then_MarkSeen() {
	alice, bob := s.users()

	s.WithSession("alice connects", alice, func(ctx context.Context, aliceSession *client.Session) {
		s.WithSession("bob connects", bob, func(ctx context.Context, bobSession *client.Session) {
			// When alice sends a first message
			s.Require().NoError(aliceSession.SendText(alice, bob, "hi"))

			e, err := bobSession.Await(event.SidebarName)
			s.Require().NoError(err)
			sidebar := e.(event.Sidebar)
			s.Require().Len(sidebar.Conversations, 1)
			s.Equal("hi", sidebar.Conversations[0].LastMessage.Content.Text)
			s.Equal(1, sidebar.Conversations[0].UnreadCount)

			// When bob marks it as seen
			s.Require().NoError(bobSession.MarkSeen(alice))

			e, err = bobSession.Await(event.SidebarName)
			s.Require().NoError(err)
			s.Zero(e.(event.Sidebar).Conversations[0].UnreadCount)
		})
	})
}

func (s *ConversationSuite) TestOpenThread_Without_Conversation() {
	alice, bob := s.users()

	s.WithSession("alice opens an empty thread", alice, func(ctx context.Context, session *client.Session) {
		s.Require().NoError(session.OpenThread(bob))

		// The peer has no profile in the store
		e, err := session.Await(event.ErrorName)
		s.Require().NoError(err)
		s.Equal(domain.OpenThreadEvent, e.(event.Failure).Event)
	})
}
