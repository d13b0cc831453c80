package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFakeClientScriptsResponses(t *testing.T) {
	client := NewFakeClient("first", "second")

	resp, err := client.Invoke(context.Background(), []Message{UserMessage("a")})
	require.NoError(t, err)
	assert.Equal(t, "first", resp.Content)

	resp, err = client.Invoke(context.Background(), []Message{UserMessage("b")})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	// Past the script, the last response repeats.
	resp, err = client.Invoke(context.Background(), []Message{UserMessage("c")})
	require.NoError(t, err)
	assert.Equal(t, "second", resp.Content)

	calls := client.Calls()
	require.Len(t, calls, 3)
	assert.Equal(t, "b", calls[1][0].Content)
}

func TestFailingClient(t *testing.T) {
	boom := errors.New("boom")
	client := NewFailingClient(boom)

	_, err := client.Invoke(context.Background(), []Message{UserMessage("a")})
	assert.ErrorIs(t, err, boom)
}

func TestMessageHelpers(t *testing.T) {
	sys := SystemMessage("be brief")
	assert.Equal(t, RoleSystem, sys.Role)
	assert.Equal(t, "be brief", sys.Content)

	usr := UserMessage("hello")
	assert.Equal(t, RoleUser, usr.Role)
}
