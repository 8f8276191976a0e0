package workers

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"chat-relay/mocks"
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

func TestDispatchWorker_Handles_Queued_Events_In_Order(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockIDispatcher(ctrl)
	channel := mocks.NewMockChannel(ctrl)

	inbound := make(chan contract.Inbound, 2)
	inbound <- contract.Inbound{Origin: channel, Command: domain.RequestSidebarCommand{UserID: "alice"}}
	inbound <- contract.Inbound{Origin: channel, Command: domain.OpenThreadCommand{PeerID: "bob"}}
	close(inbound)

	gomock.InOrder(
		dispatcher.EXPECT().Handle(gomock.Any(), channel, domain.RequestSidebarCommand{UserID: "alice"}),
		dispatcher.EXPECT().Handle(gomock.Any(), channel, domain.OpenThreadCommand{PeerID: "bob"}),
	)

	worker := NewDispatchWorker(dispatcher, inbound, logs.GetLoggerFromLevel(slog.LevelDebug))

	// Then a closed queue ends the worker without error
	req.NoError(worker.Run(context.Background()))
}

func TestDispatchWorker_Stops_On_Cancel(t *testing.T) {
	req := require.New(t)
	ctrl := gomock.NewController(t)
	dispatcher := mocks.NewMockIDispatcher(ctrl)

	worker := NewDispatchWorker(dispatcher, make(chan contract.Inbound), logs.GetLoggerFromLevel(slog.LevelDebug))
	ctx, cancel := context.WithTimeout(context.Background(), 50*time.Millisecond)
	defer cancel()

	req.ErrorIs(worker.Run(ctx), context.DeadlineExceeded)
}
