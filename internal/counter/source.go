package counter

import (
	"context"
	"io"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// ChanSource adapts a frame channel to FrameSource. Closing the channel ends
// the stream.
type ChanSource struct {
	frames <-chan *types.Frame
}

// NewChanSource wraps ch
func NewChanSource(ch <-chan *types.Frame) *ChanSource {
	return &ChanSource{frames: ch}
}

// Next returns the next frame from the channel
func (s *ChanSource) Next(ctx context.Context) (*types.Frame, error) {
	select {
	case <-ctx.Done():
		return nil, ctx.Err()
	case f, ok := <-s.frames:
		if !ok {
			return nil, io.EOF
		}
		return f, nil
	}
}
