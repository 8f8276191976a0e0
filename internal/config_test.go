package internal

import (
	"testing"

	"github.com/samber/lo"
	"github.com/stretchr/testify/require"
)

func TestConfig_Validate_Limit_Messages(t *testing.T) {
	tests := []struct {
		name    string
		limit   *int
		wantErr bool
	}{
		{name: "unset", limit: nil},
		{name: "positive", limit: lo.ToPtr(50)},
		{name: "zero", limit: lo.ToPtr(0), wantErr: true},
		{name: "negative", limit: lo.ToPtr(-3), wantErr: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := Config{LimitMessages: tt.limit}.Validate()
			if tt.wantErr {
				require.ErrorContains(t, err, "LIMIT_MESSAGES")
				return
			}
			require.NoError(t, err)
		})
	}
}

func TestCharacterRune(t *testing.T) {
	req := require.New(t)

	r, err := CharacterRune("#")
	req.NoError(err)
	req.Equal('#', r)

	_, err = CharacterRune("ab")
	req.Error(err)
}
