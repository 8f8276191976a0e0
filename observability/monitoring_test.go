package observability

import (
	"log/slog"
	"sync"
	"testing"

	"github.com/mama165/sdk-go/logs"
	"github.com/stretchr/testify/require"
)

func TestMonitoringManager_Counters(t *testing.T) {
	req := require.New(t)
	mm := NewMonitoringManager(logs.GetLoggerFromLevel(slog.LevelDebug))

	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			mm.IncrEventsHandled()
			mm.IncrPushes()
		}()
	}
	wg.Wait()
	mm.IncrPushFailures()
	mm.UpdateTopology(2, 3, 1, 10)

	stats := mm.GetLatest()
	req.Equal(uint64(50), stats.EventsHandled)
	req.Equal(uint64(50), stats.Pushes)
	req.Equal(uint64(1), stats.PushFailures)
	req.Equal(2, stats.OnlineUsers)
	req.Equal(3, stats.LiveChannels)
	req.Equal(10, stats.MaxQueueSize)
	req.Equal(uint64(50), mm.AsMap()["events_handled"])
}
