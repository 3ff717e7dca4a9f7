// Package h264 inspects Annex-B access units produced by the WebRTC ingest.
package h264

import (
	"errors"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// ErrNotSynced means no IDR has been seen yet, so the access unit cannot be
// decoded on its own
var ErrNotSynced = errors.New("h264: waiting for IDR")

// ErrNotIDR means the access unit references earlier frames and cannot be
// decoded on its own
var ErrNotIDR = errors.New("h264: not an IDR")

// Processor tracks parameter sets across access units and passes only IDRs,
// so every access unit handed to the detector is self-contained
type Processor struct {
	spsCache []byte // Cached SPS NAL unit including start code
	ppsCache []byte // Cached PPS NAL unit including start code
	synced   bool   // True once an IDR with known headers was seen
}

// NewProcessor creates a new H.264 processor
func NewProcessor() *Processor {
	return &Processor{}
}

// Process marks IDR frames, caches SPS/PPS and prepends the cached headers
// to IDRs that arrive without them. It returns ErrNotSynced for frames
// before the first decodable IDR and ErrNotIDR for later non-IDR frames.
func (p *Processor) Process(frame *types.Frame) error {
	if len(frame.Data) == 0 {
		return errors.New("h264: empty access unit")
	}

	var hasSPS, hasPPS bool
	forEachNAL(frame.Data, func(nalType uint8, nal []byte) {
		// Only copy for SPS/PPS (rare, typically once per GOP)
		switch nalType {
		case types.NALTypeSPS:
			p.spsCache = append(p.spsCache[:0], nal...)
			hasSPS = true
		case types.NALTypePPS:
			p.ppsCache = append(p.ppsCache[:0], nal...)
			hasPPS = true
		case types.NALTypeIDR:
			frame.IsIDR = true
		}
	})

	if frame.IsIDR && !(hasSPS && hasPPS) && p.HasHeaders() {
		data := make([]byte, 0, len(p.spsCache)+len(p.ppsCache)+len(frame.Data))
		data = append(data, p.spsCache...)
		data = append(data, p.ppsCache...)
		frame.Data = append(data, frame.Data...)
	}

	if frame.IsIDR && p.HasHeaders() {
		p.synced = true
	}
	if !p.synced {
		return ErrNotSynced
	}
	if !frame.IsIDR {
		return ErrNotIDR
	}
	return nil
}

// HasHeaders returns true if SPS/PPS headers are cached
func (p *Processor) HasHeaders() bool {
	return len(p.spsCache) > 0 && len(p.ppsCache) > 0
}

// Reset forgets headers, e.g. when a new publisher connects
func (p *Processor) Reset() {
	p.spsCache = nil
	p.ppsCache = nil
	p.synced = false
}

// forEachNAL calls fn for every NAL unit in an Annex-B buffer. nal includes
// its start code.
func forEachNAL(data []byte, fn func(nalType uint8, nal []byte)) {
	offset := 0
	for offset < len(data) {
		startCodeLen := startCodeAt(data, offset)
		if startCodeLen == 0 {
			offset++
			continue
		}

		nalStart := offset
		headerOffset := offset + startCodeLen
		if headerOffset >= len(data) {
			return
		}

		nalEnd := findNextStartCode(data, headerOffset+1)
		if nalEnd == -1 {
			nalEnd = len(data)
		}
		fn(data[headerOffset]&0x1F, data[nalStart:nalEnd])
		offset = nalEnd
	}
}

func startCodeAt(data []byte, i int) int {
	if i+4 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 0 && data[i+3] == 1 {
		return 4
	}
	if i+3 <= len(data) && data[i] == 0 && data[i+1] == 0 && data[i+2] == 1 {
		return 3
	}
	return 0
}

// findNextStartCode finds the next start code position
func findNextStartCode(data []byte, offset int) int {
	for i := offset; i < len(data)-2; i++ {
		if data[i] == 0x00 && data[i+1] == 0x00 {
			if data[i+2] == 0x01 {
				return i // Found 0x000001
			}
			if i+3 < len(data) && data[i+2] == 0x00 && data[i+3] == 0x01 {
				return i // Found 0x00000001
			}
		}
	}
	return -1
}

// nalTypes lists the NAL unit types in an access unit, in order
func nalTypes(data []byte) []uint8 {
	var out []uint8
	forEachNAL(data, func(t uint8, _ []byte) { out = append(out, t) })
	return out
}
