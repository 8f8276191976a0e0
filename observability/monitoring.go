package observability

import (
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
	"time"
)

// DeliveryStats is the snapshot exposed by the debug inspector.
type DeliveryStats struct {
	EventsHandled    uint64 `json:"events_handled"`
	EventsRejected   uint64 `json:"events_rejected"`
	HandlerFailures  uint64 `json:"handler_failures"`
	HandlerPanics    uint64 `json:"handler_panics"`
	MessagesAppended uint64 `json:"messages_appended"`
	Pushes           uint64 `json:"pushes"`
	PushFailures     uint64 `json:"push_failures"`

	OnlineUsers      int `json:"online_users"`
	LiveChannels     int `json:"live_channels"`
	CurrentQueueSize int `json:"current_queue_size"`
	MaxQueueSize     int `json:"max_queue_size"`

	AllocMemMb uint64  `json:"alloc_mem_mb"`
	NumGC      uint32  `json:"num_gc"`
	RSSMb      uint64  `json:"rss_mb"`
	CPUPercent float64 `json:"cpu_percent"`
	UpdatedAt  string  `json:"updated_at"`
}

// MonitoringManager holds the delivery counters.
// Counters are lock-free, gauges are refreshed periodically under mu.
type MonitoringManager struct {
	log *slog.Logger
	mu  sync.RWMutex

	eventsHandled    uint64
	eventsRejected   uint64
	handlerFailures  uint64
	handlerPanics    uint64
	messagesAppended uint64
	pushes           uint64
	pushFailures     uint64

	gauges DeliveryStats
}

func NewMonitoringManager(log *slog.Logger) *MonitoringManager {
	return &MonitoringManager{log: log.With("component", "monitoring")}
}

func (mm *MonitoringManager) IncrEventsHandled()    { atomic.AddUint64(&mm.eventsHandled, 1) }
func (mm *MonitoringManager) IncrEventsRejected()   { atomic.AddUint64(&mm.eventsRejected, 1) }
func (mm *MonitoringManager) IncrHandlerFailures()  { atomic.AddUint64(&mm.handlerFailures, 1) }
func (mm *MonitoringManager) IncrHandlerPanics()    { atomic.AddUint64(&mm.handlerPanics, 1) }
func (mm *MonitoringManager) IncrMessagesAppended() { atomic.AddUint64(&mm.messagesAppended, 1) }
func (mm *MonitoringManager) IncrPushes()           { atomic.AddUint64(&mm.pushes, 1) }
func (mm *MonitoringManager) IncrPushFailures()     { atomic.AddUint64(&mm.pushFailures, 1) }

// UpdateTopology records the size of the presence set, the directory and the inbound queue.
func (mm *MonitoringManager) UpdateTopology(onlineUsers, liveChannels, queueSize, maxQueueSize int) {
	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.gauges.OnlineUsers = onlineUsers
	mm.gauges.LiveChannels = liveChannels
	mm.gauges.CurrentQueueSize = queueSize
	mm.gauges.MaxQueueSize = maxQueueSize
}

// UpdateProcess records OS level figures of the current process.
func (mm *MonitoringManager) UpdateProcess(rssBytes uint64, cpuPercent float64) {
	var m runtime.MemStats
	runtime.ReadMemStats(&m)

	mm.mu.Lock()
	defer mm.mu.Unlock()
	mm.gauges.RSSMb = rssBytes / 1024 / 1024
	mm.gauges.CPUPercent = cpuPercent
	mm.gauges.AllocMemMb = m.Alloc / 1024 / 1024
	mm.gauges.NumGC = m.NumGC
	mm.gauges.UpdatedAt = time.Now().UTC().Format(time.TimeOnly)
}

func (mm *MonitoringManager) GetLatest() DeliveryStats {
	mm.mu.RLock()
	stats := mm.gauges
	mm.mu.RUnlock()

	stats.EventsHandled = atomic.LoadUint64(&mm.eventsHandled)
	stats.EventsRejected = atomic.LoadUint64(&mm.eventsRejected)
	stats.HandlerFailures = atomic.LoadUint64(&mm.handlerFailures)
	stats.HandlerPanics = atomic.LoadUint64(&mm.handlerPanics)
	stats.MessagesAppended = atomic.LoadUint64(&mm.messagesAppended)
	stats.Pushes = atomic.LoadUint64(&mm.pushes)
	stats.PushFailures = atomic.LoadUint64(&mm.pushFailures)
	return stats
}

// AsMap flattens the latest snapshot for the inspector page.
func (mm *MonitoringManager) AsMap() map[string]any {
	s := mm.GetLatest()
	return map[string]any{
		"events_handled":    s.EventsHandled,
		"events_rejected":   s.EventsRejected,
		"handler_failures":  s.HandlerFailures,
		"handler_panics":    s.HandlerPanics,
		"messages_appended": s.MessagesAppended,
		"pushes":            s.Pushes,
		"push_failures":     s.PushFailures,
		"online_users":      s.OnlineUsers,
		"live_channels":     s.LiveChannels,
		"queue":             s.CurrentQueueSize,
		"queue_max":         s.MaxQueueSize,
		"alloc_mem_mb":      s.AllocMemMb,
		"num_gc":            s.NumGC,
		"rss_mb":            s.RSSMb,
		"cpu_percent":       s.CPUPercent,
		"updated_at":        s.UpdatedAt,
	}
}
