package transport

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flvwatch/pkg/core"
)

func newTestClient(t *testing.T) *Client {
	t.Helper()
	client, err := NewClient(Config{ConnectTimeout: 2 * time.Second, UserAgent: "flvwatch-test"}, zerolog.Nop())
	require.NoError(t, err)
	t.Cleanup(func() { _ = client.Close() })
	return client
}

func TestNewClient_InvalidConfig(t *testing.T) {
	_, err := NewClient(Config{}, zerolog.Nop())
	assert.Error(t, err)
}

func TestClient_Open(t *testing.T) {
	var gotUA string
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		gotUA = r.Header.Get("User-Agent")
		w.Header().Set("Content-Type", "video/x-flv")
		_, _ = w.Write([]byte("FLV"))
	}))
	defer server.Close()

	stream, err := newTestClient(t).Open(context.Background(), server.URL+"/live")
	require.NoError(t, err)
	defer stream.Close()

	body, err := io.ReadAll(stream.Body)
	require.NoError(t, err)
	assert.Equal(t, "FLV", string(body))
	assert.Equal(t, http.StatusOK, stream.StatusCode)
	assert.Equal(t, "video/x-flv", stream.ContentType)
	assert.Equal(t, "flvwatch-test", gotUA)
}

func TestClient_Open_BadStatus(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	defer server.Close()

	_, err := newTestClient(t).Open(context.Background(), server.URL+"/live")
	require.Error(t, err)
	assert.True(t, core.IsNetworkError(err))

	var pe *core.PlaybackError
	require.ErrorAs(t, err, &pe)
	assert.Equal(t, http.StatusNotFound, pe.StatusCode)
	assert.Equal(t, "HttpStatusCodeInvalid", pe.Detail)
}

func TestClient_Open_Unreachable(t *testing.T) {
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {}))
	url := server.URL
	server.Close()

	_, err := newTestClient(t).Open(context.Background(), url+"/live")
	require.Error(t, err)
	assert.True(t, core.IsNetworkError(err))
}
