package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sort"
	"sync"
)

var _ contract.IPresenceRegistry = (*PresenceRegistry)(nil)

// PresenceRegistry is the process-wide set of users holding at least one live channel.
// It is transient and rebuilt from reconnections after a restart.
type PresenceRegistry struct {
	mu     sync.RWMutex
	online map[domain.UserID]struct{}
}

func NewPresenceRegistry() *PresenceRegistry {
	return &PresenceRegistry{online: make(map[domain.UserID]struct{})}
}

func (p *PresenceRegistry) MarkOnline(userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.online[userID] = struct{}{}
}

func (p *PresenceRegistry) MarkOffline(userID domain.UserID) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.online, userID)
}

func (p *PresenceRegistry) IsOnline(userID domain.UserID) bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	_, ok := p.online[userID]
	return ok
}

// Snapshot returns the online users sorted by id.
func (p *PresenceRegistry) Snapshot() []domain.UserID {
	p.mu.RLock()
	users := make([]domain.UserID, 0, len(p.online))
	for userID := range p.online {
		users = append(users, userID)
	}
	p.mu.RUnlock()

	sort.Slice(users, func(i, j int) bool { return users[i] < users[j] })
	return users
}

func (p *PresenceRegistry) Count() int {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return len(p.online)
}
