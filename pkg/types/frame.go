package types

import "time"

// FrameFormat identifies how Frame.Data is encoded
type FrameFormat int

const (
	FormatJPEG FrameFormat = 0
	FormatNV12 FrameFormat = 1
	FormatH264 FrameFormat = 2
)

// String returns the MIME-ish name used when frames leave the process
func (f FrameFormat) String() string {
	switch f {
	case FormatJPEG:
		return "image/jpeg"
	case FormatNV12:
		return "image/x-nv12"
	case FormatH264:
		return "video/h264"
	default:
		return "application/octet-stream"
	}
}

// Frame is one video frame as delivered by a frame source
type Frame struct {
	Data      []byte      // Encoded frame data
	Format    FrameFormat // Encoding of Data
	Timestamp time.Time   // Capture timestamp
	FrameNum  uint64      // Sequential frame number
	IsIDR     bool        // H.264 only: frame contains an IDR slice
	Width     int         // Frame width (0 if unknown)
	Height    int         // Frame height (0 if unknown)
}

// NALUnit represents a single H.264 NAL unit
type NALUnit struct {
	Type uint8  // NAL unit type (lower 5 bits)
	Data []byte // Complete NAL unit including header
}

// NALUnitType constants
const (
	NALTypeSlice     uint8 = 1
	NALTypeIDR       uint8 = 5
	NALTypeSEI       uint8 = 6
	NALTypeSPS       uint8 = 7
	NALTypePPS       uint8 = 8
	NALTypeAUD       uint8 = 9
	NALTypeEndSeq    uint8 = 10
	NALTypeEndStream uint8 = 11
	NALTypeFiller    uint8 = 12
)
