package shm

import "github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"

// Format ids written by the capture daemon
const (
	shmFormatJPEG = 0
	shmFormatNV12 = 1
	shmFormatRGB  = 2
	shmFormatH264 = 3
)

// formatFromSHM maps a capture daemon format id to a frame format
func formatFromSHM(id int) (types.FrameFormat, bool) {
	switch id {
	case shmFormatJPEG:
		return types.FormatJPEG, true
	case shmFormatNV12:
		return types.FormatNV12, true
	case shmFormatH264:
		return types.FormatH264, true
	default:
		return 0, false
	}
}
