package audio

import (
	"fmt"

	opus "gopkg.in/hraban/opus.v2"
)

const maxPacketSize = 1275

// Encoder wraps an opus encoder for the mono voice frames the send leg ships.
type Encoder struct {
	enc *opus.Encoder
	buf []byte
}

func NewEncoder(sampleRate int) (*Encoder, error) {
	enc, err := opus.NewEncoder(sampleRate, 1, opus.AppVoIP)
	if err != nil {
		return nil, fmt.Errorf("opus encoder: %w", err)
	}
	return &Encoder{enc: enc, buf: make([]byte, maxPacketSize)}, nil
}

// Encode compresses one PCM frame and returns the opus packet. The returned
// slice is only valid until the next call.
func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	n, err := e.enc.Encode(pcm, e.buf)
	if err != nil {
		return nil, fmt.Errorf("opus encode: %w", err)
	}
	return e.buf[:n], nil
}
