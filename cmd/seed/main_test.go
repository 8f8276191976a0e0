package main

import (
	"chat-relay/domain"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseProfiles(t *testing.T) {
	req := require.New(t)

	profiles, err := parseProfiles([]string{"alice=Alice", "bob=Bob:bob@example.com"})

	req.NoError(err)
	req.Equal([]domain.UserProfile{
		{ID: "alice", Name: "Alice"},
		{ID: "bob", Name: "Bob", Email: "bob@example.com"},
	}, profiles)

	_, err = parseProfiles(nil)
	req.Error(err)
	_, err = parseProfiles([]string{"=Nobody"})
	req.Error(err)
}
