// Package flv reads and writes the FLV container: a 9 byte file header followed by
// tags, each trailed by the size of the tag that precedes it.
package flv

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
)

const (
	headerSize    = 9
	tagHeaderSize = 11

	flagAudio = 0x04
	flagVideo = 0x01
)

var (
	// ErrSignature is returned when the stream does not start with "FLV".
	ErrSignature = errors.New("flv: bad signature")
	// ErrVersion is returned for any container version other than 1.
	ErrVersion = errors.New("flv: unsupported version")
)

// TagType identifies the payload of a tag.
type TagType uint8

const (
	TagAudio  TagType = 8
	TagVideo  TagType = 9
	TagScript TagType = 18
)

func (t TagType) String() string {
	switch t {
	case TagAudio:
		return "audio"
	case TagVideo:
		return "video"
	case TagScript:
		return "script"
	default:
		return fmt.Sprintf("unknown(%d)", uint8(t))
	}
}

// Header is the FLV file header.
type Header struct {
	Version    uint8
	HasAudio   bool
	HasVideo   bool
	DataOffset uint32
}

// Tag is one FLV packet.
type Tag struct {
	Type TagType
	// Timestamp in milliseconds, including the extended upper byte.
	Timestamp uint32
	StreamID  uint32
	Data      []byte
}

// IsMedia reports whether the tag carries audio or video.
func (t Tag) IsMedia() bool {
	return t.Type == TagAudio || t.Type == TagVideo
}

// Reader demuxes an FLV byte stream.
type Reader struct {
	r *bufio.Reader
}

// NewReader returns a Reader over r.
func NewReader(r io.Reader) *Reader {
	return &Reader{r: bufio.NewReaderSize(r, 64*1024)}
}

// ReadHeader reads the file header and the first previous-tag-size field.
func (r *Reader) ReadHeader() (Header, error) {
	var buf [headerSize]byte
	if _, err := io.ReadFull(r.r, buf[:]); err != nil {
		return Header{}, fmt.Errorf("read flv header: %w", err)
	}
	if buf[0] != 'F' || buf[1] != 'L' || buf[2] != 'V' {
		return Header{}, ErrSignature
	}
	h := Header{
		Version:    buf[3],
		HasAudio:   buf[4]&flagAudio != 0,
		HasVideo:   buf[4]&flagVideo != 0,
		DataOffset: binary.BigEndian.Uint32(buf[5:9]),
	}
	if h.Version != 1 {
		return Header{}, fmt.Errorf("%w: %d", ErrVersion, h.Version)
	}
	if h.DataOffset < headerSize {
		return Header{}, fmt.Errorf("flv: data offset %d shorter than header", h.DataOffset)
	}
	if extra := int64(h.DataOffset) - headerSize; extra > 0 {
		if _, err := io.CopyN(io.Discard, r.r, extra); err != nil {
			return Header{}, fmt.Errorf("skip flv header extension: %w", err)
		}
	}
	if _, err := io.ReadFull(r.r, buf[:4]); err != nil {
		return Header{}, fmt.Errorf("read first tag size: %w", err)
	}
	return h, nil
}

// ReadTag reads the next tag. It returns io.EOF only when the stream ends cleanly on a
// tag boundary; a stream cut inside a tag yields io.ErrUnexpectedEOF.
func (r *Reader) ReadTag() (Tag, error) {
	var hdr [tagHeaderSize]byte
	n, err := io.ReadFull(r.r, hdr[:])
	if err != nil {
		if n == 0 && errors.Is(err, io.EOF) {
			return Tag{}, io.EOF
		}
		return Tag{}, unexpected(err)
	}

	size := uint32(hdr[1])<<16 | uint32(hdr[2])<<8 | uint32(hdr[3])
	tag := Tag{
		Type:      TagType(hdr[0] & 0x1f),
		Timestamp: uint32(hdr[7])<<24 | uint32(hdr[4])<<16 | uint32(hdr[5])<<8 | uint32(hdr[6]),
		StreamID:  uint32(hdr[8])<<16 | uint32(hdr[9])<<8 | uint32(hdr[10]),
		Data:      make([]byte, size),
	}
	if _, err := io.ReadFull(r.r, tag.Data); err != nil {
		return Tag{}, unexpected(err)
	}

	var prev [4]byte
	if _, err := io.ReadFull(r.r, prev[:]); err != nil {
		return Tag{}, unexpected(err)
	}
	return tag, nil
}

func unexpected(err error) error {
	if errors.Is(err, io.EOF) {
		return io.ErrUnexpectedEOF
	}
	return err
}

// Writer muxes tags into an FLV byte stream.
type Writer struct {
	w io.Writer
}

// NewWriter returns a Writer over w.
func NewWriter(w io.Writer) *Writer {
	return &Writer{w: w}
}

// WriteHeader writes a version 1 file header and the zero previous-tag-size.
func (w *Writer) WriteHeader(h Header) error {
	var buf [headerSize + 4]byte
	copy(buf[:3], "FLV")
	buf[3] = 1
	if h.HasAudio {
		buf[4] |= flagAudio
	}
	if h.HasVideo {
		buf[4] |= flagVideo
	}
	binary.BigEndian.PutUint32(buf[5:9], headerSize)
	_, err := w.w.Write(buf[:])
	return err
}

// WriteTag writes one tag followed by its size.
func (w *Writer) WriteTag(t Tag) error {
	size := len(t.Data)
	if size > 0xffffff {
		return fmt.Errorf("flv: tag payload of %d bytes too large", size)
	}
	var hdr [tagHeaderSize]byte
	hdr[0] = byte(t.Type)
	hdr[1], hdr[2], hdr[3] = byte(size>>16), byte(size>>8), byte(size)
	hdr[4], hdr[5], hdr[6] = byte(t.Timestamp>>16), byte(t.Timestamp>>8), byte(t.Timestamp)
	hdr[7] = byte(t.Timestamp >> 24)
	hdr[8], hdr[9], hdr[10] = byte(t.StreamID>>16), byte(t.StreamID>>8), byte(t.StreamID)
	if _, err := w.w.Write(hdr[:]); err != nil {
		return err
	}
	if _, err := w.w.Write(t.Data); err != nil {
		return err
	}
	var prev [4]byte
	binary.BigEndian.PutUint32(prev[:], uint32(tagHeaderSize+size))
	_, err := w.w.Write(prev[:])
	return err
}
