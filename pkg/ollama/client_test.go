package ollama

import (
	"context"
	"errors"
	"testing"

	"github.com/ollama/ollama/api"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeChat struct {
	replies []string
	err     error
	got     *api.ChatRequest
	dead    bool
}

func (f *fakeChat) Chat(ctx context.Context, req *api.ChatRequest, fn api.ChatResponseFunc) error {
	f.got = req
	_, f.dead = ctx.Deadline()
	if f.err != nil {
		return f.err
	}
	for _, r := range f.replies {
		if err := fn(api.ChatResponse{Message: api.Message{Content: r}}); err != nil {
			return err
		}
	}
	return nil
}

func TestNewClient(t *testing.T) {
	c, err := NewClient("http://localhost:11434/api/chat")
	require.NoError(t, err)
	assert.NotNil(t, c.api)

	_, err = NewClient("localhost")
	assert.Error(t, err)
}

func TestQuery(t *testing.T) {
	fake := &fakeChat{replies: []string{`{"primary":`, `{}}`}}
	c := &Client{api: fake}

	out, err := c.Query(context.Background(), "minicpm-v4.5", "where?", []byte{0xFF, 0xD8})
	require.NoError(t, err)
	assert.Equal(t, `{"primary":{}}`, out)

	require.NotNil(t, fake.got)
	assert.False(t, *fake.got.Stream)
	assert.Equal(t, "where?", fake.got.Messages[0].Content)
	assert.Len(t, fake.got.Messages[0].Images, 1)
	assert.Equal(t, 0.7, fake.got.Options["temperature"])
	assert.True(t, fake.dead, "a default deadline is applied")
}

func TestQueryErrors(t *testing.T) {
	c := &Client{api: &fakeChat{err: errors.New("connection refused")}}
	_, err := c.Query(context.Background(), "llava", "p", nil)
	assert.ErrorContains(t, err, "connection refused")

	c = &Client{api: &fakeChat{}}
	_, err = c.Query(context.Background(), "llava", "p", nil)
	assert.ErrorContains(t, err, "empty response")
}
