package ai

import (
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestRequest_Validate(t *testing.T) {
	tests := []struct {
		name    string
		request Request
		wantErr string
	}{
		{
			name:    "valid single message",
			request: Request{Messages: []Message{{Role: RoleUser, Content: "Hi"}}},
		},
		{
			name: "valid conversation",
			request: Request{Messages: []Message{
				{Role: RoleSystem, Content: "You are helpful."},
				{Role: RoleUser, Content: "Hi"},
				{Role: RoleAssistant, Content: "Hello!"},
				{Role: RoleUser, Content: "Explain mitosis"},
			}},
		},
		{
			name:    "empty messages",
			request: Request{},
			wantErr: "messages cannot be empty",
		},
		{
			name: "too many messages",
			request: Request{Messages: func() []Message {
				msgs := make([]Message, 101)
				for i := range msgs {
					msgs[i] = Message{Role: RoleUser, Content: "x"}
				}
				return msgs
			}()},
			wantErr: "too many messages",
		},
		{
			name:    "empty role",
			request: Request{Messages: []Message{{Content: "Hi"}}},
			wantErr: "role cannot be empty",
		},
		{
			name:    "empty content",
			request: Request{Messages: []Message{{Role: RoleUser}}},
			wantErr: "content cannot be empty",
		},
		{
			name:    "content too long",
			request: Request{Messages: []Message{{Role: RoleUser, Content: strings.Repeat("a", 50001)}}},
			wantErr: "content too long",
		},
		{
			name:    "invalid role",
			request: Request{Messages: []Message{{Role: "operator", Content: "Hi"}}},
			wantErr: "invalid role",
		},
		{
			name: "streaming requested",
			request: Request{
				Messages: []Message{{Role: RoleUser, Content: "Hi"}},
				Options:  Options{Stream: true},
			},
			wantErr: "streaming responses are not supported",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.request.Validate()
			if tt.wantErr == "" {
				assert.NoError(t, err)
				return
			}
			assert.ErrorIs(t, err, ErrInvalidArgument)
			assert.Contains(t, err.Error(), tt.wantErr)
		})
	}
}

func TestIsProviderFailure(t *testing.T) {
	assert.True(t, IsProviderFailure(ErrProviderUnavailable))
	assert.True(t, IsProviderFailure(ErrProviderTimeout))
	assert.True(t, IsProviderFailure(ErrProviderRequestFailed))

	assert.False(t, IsProviderFailure(ErrInvalidArgument))
	assert.False(t, IsProviderFailure(ErrBudgetExceeded))
	assert.False(t, IsProviderFailure(errors.New("something else")))
	assert.False(t, IsProviderFailure(nil))
}

func TestWrapDimensionMismatch(t *testing.T) {
	err := WrapDimensionMismatch(768, 1536)

	assert.ErrorIs(t, err, ErrDimensionMismatch)
	assert.Contains(t, err.Error(), "768")
	assert.Contains(t, err.Error(), "1536")
}
