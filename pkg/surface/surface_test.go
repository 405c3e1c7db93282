package surface

import (
	"bytes"
	"errors"
	"io"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"flvwatch/internal/flv"
	"flvwatch/pkg/player"
)

var (
	_ player.Surface      = (*Recorder)(nil)
	_ player.SessionAware = (*Recorder)(nil)
	_ player.Surface      = (*Counter)(nil)
	_ player.SessionAware = (*Counter)(nil)
)

func readAll(t *testing.T, data []byte) (flv.Header, []flv.Tag) {
	t.Helper()
	r := flv.NewReader(bytes.NewReader(data))
	header, err := r.ReadHeader()
	require.NoError(t, err)

	var tags []flv.Tag
	for {
		tag, err := r.ReadTag()
		if errors.Is(err, io.EOF) {
			return header, tags
		}
		require.NoError(t, err)
		tags = append(tags, tag)
	}
}

func TestRecorder_RebasesAcrossSessions(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, true, true)

	rec.BeginSession("first")
	for _, ts := range []uint32{1000, 1040, 1080} {
		require.NoError(t, rec.Render(flv.Tag{Type: flv.TagVideo, Timestamp: ts, Data: []byte{1}}))
	}
	rec.BeginSession("second")
	for _, ts := range []uint32{0, 40} {
		require.NoError(t, rec.Render(flv.Tag{Type: flv.TagAudio, Timestamp: ts, Data: []byte{2, 3}}))
	}

	header, tags := readAll(t, buf.Bytes())
	assert.True(t, header.HasAudio)
	assert.True(t, header.HasVideo)

	var got []uint32
	for _, tag := range tags {
		got = append(got, tag.Timestamp)
	}
	assert.Equal(t, []uint32{0, 40, 80, 81, 121}, got)

	stats := rec.Stats()
	assert.Equal(t, uint64(2), stats.Sessions)
	assert.Equal(t, uint64(3), stats.VideoTags)
	assert.Equal(t, uint64(2), stats.AudioTags)
	assert.Equal(t, uint64(7), stats.Bytes)
	assert.Equal(t, "second", stats.LastSession)
}

func TestRecorder_WritesHeaderOnce(t *testing.T) {
	var buf bytes.Buffer
	rec := NewRecorder(&buf, false, true)

	require.NoError(t, rec.Render(flv.Tag{Type: flv.TagScript, Data: []byte("meta")}))
	rec.BeginSession("next")
	require.NoError(t, rec.Render(flv.Tag{Type: flv.TagScript, Data: []byte("meta")}))

	header, tags := readAll(t, buf.Bytes())
	assert.False(t, header.HasAudio)
	assert.True(t, header.HasVideo)
	assert.Len(t, tags, 2)
}

type failingWriter struct{}

func (failingWriter) Write([]byte) (int, error) { return 0, errors.New("disk full") }

func TestRecorder_WriteError(t *testing.T) {
	rec := NewRecorder(failingWriter{}, true, true)
	err := rec.Render(flv.Tag{Type: flv.TagVideo})
	assert.EqualError(t, err, "disk full")
	assert.Equal(t, Stats{}, rec.Stats())
}

func TestCounter(t *testing.T) {
	c := NewCounter()
	c.BeginSession("abc")

	tags := []flv.Tag{
		{Type: flv.TagScript, Data: []byte("meta")},
		{Type: flv.TagVideo, Data: []byte{1, 2, 3}},
		{Type: flv.TagAudio, Data: []byte{1}},
		{Type: flv.TagAudio, Data: []byte{1}},
	}
	for _, tag := range tags {
		require.NoError(t, c.Render(tag))
	}

	assert.Equal(t, Stats{
		Sessions:    1,
		AudioTags:   2,
		VideoTags:   1,
		ScriptTags:  1,
		Bytes:       9,
		LastSession: "abc",
	}, c.Stats())
}
