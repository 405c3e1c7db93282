package core

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestErrorKind_String(t *testing.T) {
	tests := []struct {
		name string
		kind ErrorKind
		want string
	}{
		{"other", ErrorKindOther, "OTHER_ERROR"},
		{"network", ErrorKindNetwork, "NETWORK_ERROR"},
		{"media", ErrorKindMedia, "MEDIA_ERROR"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.kind.String())
		})
	}
}

func TestPlaybackError_Error(t *testing.T) {
	tests := []struct {
		name string
		err  *PlaybackError
		want string
	}{
		{
			name: "detail_only",
			err:  &PlaybackError{Kind: ErrorKindMedia, Detail: "FormatUnsupported"},
			want: "MEDIA_ERROR: FormatUnsupported",
		},
		{
			name: "with_status",
			err:  &PlaybackError{Kind: ErrorKindNetwork, Detail: "HttpStatusCodeInvalid", StatusCode: 404},
			want: "NETWORK_ERROR: HttpStatusCodeInvalid (404)",
		},
		{
			name: "with_cause",
			err:  &PlaybackError{Kind: ErrorKindNetwork, Detail: "Exception", Err: errors.New("connection reset")},
			want: "NETWORK_ERROR: Exception: connection reset",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, tt.err.Error())
		})
	}
}

func TestErrorHelpers(t *testing.T) {
	network := fmt.Errorf("open stream: %w", NewPlaybackError(ErrorKindNetwork, "Exception", ErrStalled))
	media := NewPlaybackError(ErrorKindMedia, "FormatError", ErrInvalidHeader)
	plain := errors.New("boom")

	assert.True(t, IsNetworkError(network))
	assert.False(t, IsMediaError(network))
	assert.True(t, errors.Is(network, ErrStalled))

	assert.True(t, IsMediaError(media))
	assert.True(t, errors.Is(media, ErrInvalidHeader))

	assert.Equal(t, ErrorKindOther, KindOf(plain))
	assert.False(t, IsNetworkError(nil))
}
