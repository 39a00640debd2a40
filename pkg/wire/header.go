// Package wire implements the fixed-layout media packet header and
// the codec that frames it with an encrypted payload.
package wire

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Track identifies the kind of media carried by a packet.
type Track uint8

const (
	TrackAudio Track = 0
	TrackVideo Track = 1
)

// HeaderSize is the fixed on-wire size of MediaHeader in bytes.
const HeaderSize = 20

// ProtocolVersion is the only version this codec accepts.
const ProtocolVersion uint8 = 1

// SilentAudioLevel is the sentinel audioLevel carried by video packets.
const SilentAudioLevel uint8 = 127

// ErrMalformedPacket is returned when a byte slice cannot be parsed as a
// valid packet: truncated header, unsupported version, or a payloadLength
// that overruns the buffer.
var ErrMalformedPacket = errors.New("wire: malformed packet")

// MediaHeader is the 20-byte big-endian header described in spec §3.
// It doubles as the AEAD Additional Authenticated Data. Every header byte
// maps to exactly one field, so Bytes() of a parsed header reproduces the
// parsed bytes exactly; the receive path relies on this when it rebuilds
// the AAD from a parsed header.
type MediaHeader struct {
	Version        uint8
	TrackType      Track
	SimulcastLayer uint8
	Sequence       uint16
	Timestamp      uint32
	SSRC           uint32
	AudioLevel     uint8
	KeyEpoch       uint32
	PayloadLength  uint16
}

// Bytes serializes the header to its canonical 20-byte big-endian form.
func (h MediaHeader) Bytes() []byte {
	b := make([]byte, HeaderSize)
	b[0] = h.Version
	b[1] = uint8(h.TrackType)
	b[2] = h.SimulcastLayer
	binary.BigEndian.PutUint16(b[3:5], h.Sequence)
	binary.BigEndian.PutUint32(b[5:9], h.Timestamp)
	binary.BigEndian.PutUint32(b[9:13], h.SSRC)
	b[13] = h.AudioLevel
	binary.BigEndian.PutUint32(b[14:18], h.KeyEpoch)
	binary.BigEndian.PutUint16(b[18:20], h.PayloadLength)
	return b
}

// ParseHeader decodes the first HeaderSize bytes of b into a MediaHeader.
// It does not validate payloadLength against the remaining buffer; callers
// that need framing guarantees should use ParsePacket instead.
func ParseHeader(b []byte) (MediaHeader, error) {
	if len(b) < HeaderSize {
		return MediaHeader{}, fmt.Errorf("wire: parse header: %w", ErrMalformedPacket)
	}
	h := MediaHeader{
		Version:        b[0],
		TrackType:      Track(b[1]),
		SimulcastLayer: b[2],
		Sequence:       binary.BigEndian.Uint16(b[3:5]),
		Timestamp:      binary.BigEndian.Uint32(b[5:9]),
		SSRC:           binary.BigEndian.Uint32(b[9:13]),
		AudioLevel:     b[13],
		KeyEpoch:       binary.BigEndian.Uint32(b[14:18]),
		PayloadLength:  binary.BigEndian.Uint16(b[18:20]),
	}
	if h.Version != ProtocolVersion {
		return MediaHeader{}, fmt.Errorf("wire: version %d: %w", h.Version, ErrMalformedPacket)
	}
	return h, nil
}

// EncodePacket produces [header bytes | payload bytes], setting
// header.PayloadLength to len(payload) before serializing.
func EncodePacket(h MediaHeader, payload []byte) []byte {
	h.PayloadLength = uint16(len(payload))
	out := make([]byte, 0, HeaderSize+len(payload))
	out = append(out, h.Bytes()...)
	out = append(out, payload...)
	return out
}

// ParsePacket splits a wire packet into its header and payload. It fails
// with ErrMalformedPacket if the buffer is shorter than the header, the
// version is unsupported, or payloadLength exceeds the remaining bytes.
func ParsePacket(b []byte) (MediaHeader, []byte, error) {
	h, err := ParseHeader(b)
	if err != nil {
		return MediaHeader{}, nil, err
	}
	rest := b[HeaderSize:]
	if int(h.PayloadLength) > len(rest) {
		return MediaHeader{}, nil, fmt.Errorf("wire: payload length %d exceeds %d remaining bytes: %w",
			h.PayloadLength, len(rest), ErrMalformedPacket)
	}
	payload := make([]byte, h.PayloadLength)
	copy(payload, rest[:h.PayloadLength])
	return h, payload, nil
}
