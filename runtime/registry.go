package runtime

import (
	"chat-relay/contract"
	"chat-relay/domain"
	"sync"
)

var _ contract.ISessionDirectory = (*SessionDirectory)(nil)

type channelSet map[string]contract.Channel // channel id -> channel

// SessionDirectory maps each user to the live channels of their sessions.
// A user may hold zero, one or many channels. Entries with no channel left
// are removed so the directory only ever holds connected users.
type SessionDirectory struct {
	mu       sync.RWMutex
	sessions map[domain.UserID]channelSet
}

func NewSessionDirectory() *SessionDirectory {
	return &SessionDirectory{sessions: make(map[domain.UserID]channelSet)}
}

// AddChannel registers ch for userID and returns how many channels the user now holds.
// Adding the same channel twice is a no-op.
func (d *SessionDirectory) AddChannel(userID domain.UserID, ch contract.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.sessions[userID]
	if !ok {
		set = make(channelSet)
		d.sessions[userID] = set
	}
	set[ch.ID()] = ch
	return len(set)
}

// RemoveChannel unregisters ch and returns how many channels the user still holds.
func (d *SessionDirectory) RemoveChannel(userID domain.UserID, ch contract.Channel) int {
	d.mu.Lock()
	defer d.mu.Unlock()

	set, ok := d.sessions[userID]
	if !ok {
		return 0
	}
	delete(set, ch.ID())
	if len(set) == 0 {
		delete(d.sessions, userID)
		return 0
	}
	return len(set)
}

// ChannelsFor returns a copy, safe to iterate without holding the lock.
func (d *SessionDirectory) ChannelsFor(userID domain.UserID) []contract.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	set := d.sessions[userID]
	if len(set) == 0 {
		return nil
	}
	channels := make([]contract.Channel, 0, len(set))
	for _, ch := range set {
		channels = append(channels, ch)
	}
	return channels
}

func (d *SessionDirectory) IsEmpty(userID domain.UserID) bool {
	d.mu.RLock()
	defer d.mu.RUnlock()
	return len(d.sessions[userID]) == 0
}

// All returns every live channel of every user.
func (d *SessionDirectory) All() []contract.Channel {
	d.mu.RLock()
	defer d.mu.RUnlock()

	var channels []contract.Channel
	for _, set := range d.sessions {
		for _, ch := range set {
			channels = append(channels, ch)
		}
	}
	return channels
}

// ChannelCount is the number of live channels across all users.
func (d *SessionDirectory) ChannelCount() int {
	d.mu.RLock()
	defer d.mu.RUnlock()

	count := 0
	for _, set := range d.sessions {
		count += len(set)
	}
	return count
}
