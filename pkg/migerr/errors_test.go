package migerr

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsTransient(t *testing.T) {
	wrapped := fmt.Errorf("dial tcp: %w", ErrTransientNetwork)
	assert.True(t, IsTransient(wrapped))
	assert.False(t, IsTransient(ErrSinkWrite))
}

func TestIsConfiguration(t *testing.T) {
	assert.True(t, IsConfiguration(fmt.Errorf("bad mode: %w", ErrConfiguration)))
	assert.True(t, IsConfiguration(fmt.Errorf("kind: %w", ErrUnknownAdapter)))
	assert.False(t, IsConfiguration(ErrConnection))
}

func TestClassify(t *testing.T) {
	cases := []struct {
		err  error
		want string
	}{
		{fmt.Errorf("x: %w", ErrConfiguration), ErrConfiguration.Error()},
		{fmt.Errorf("x: %w", ErrConnection), ErrConnection.Error()},
		{fmt.Errorf("x: %w", ErrTransientNetwork), ErrTransientNetwork.Error()},
		{fmt.Errorf("x: %w", ErrPermanentSource), ErrPermanentSource.Error()},
		{fmt.Errorf("x: %w", ErrUnknownAdapter), ErrUnknownAdapter.Error()},
		{fmt.Errorf("plain failure"), ErrSinkWrite.Error()},
	}
	for _, c := range cases {
		assert.Equal(t, c.want, Classify(c.err))
	}
}
