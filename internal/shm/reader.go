//go:build linux && cgo

// Package shm reads camera frames from the capture daemon's shared memory
// ring buffer.
package shm

/*
#cgo LDFLAGS: -lrt -lpthread

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>
#include <semaphore.h>

// Constants from shared_memory.h
#define SHM_NAME_FRAME "/pet_camera_mjpeg_frame"
#define RING_BUFFER_SIZE 30
#define MAX_FRAME_SIZE (1920 * 1080 * 3 / 2)

// Frame structure matching shared_memory.h
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int camera_id;
    int width;
    int height;
    int format;
    size_t data_size;
    float brightness_avg;
    uint32_t brightness_lux;
    uint8_t brightness_zone;
    uint8_t correction_applied;
    uint8_t _reserved[2];
    uint8_t data[MAX_FRAME_SIZE];
} Frame;

// SharedFrameBuffer structure matching shared_memory.h
typedef struct {
    volatile uint32_t write_index;
    volatile uint32_t frame_interval_ms;
    uint8_t new_frame_sem[32];  // sem_t semaphore (32 bytes on Linux)
    Frame frames[RING_BUFFER_SIZE];
} SharedFrameBuffer;

// Open shared memory read-only; the semaphore belongs to the streaming server
SharedFrameBuffer* open_shm(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0666);
    if (fd == -1) {
        return NULL;
    }

    SharedFrameBuffer* shm = (SharedFrameBuffer*)mmap(
        NULL,
        sizeof(SharedFrameBuffer),
        PROT_READ,
        MAP_SHARED,
        fd,
        0
    );

    close(fd);

    if (shm == MAP_FAILED) {
        return NULL;
    }

    return shm;
}

// Close shared memory
void close_shm(SharedFrameBuffer* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(SharedFrameBuffer));
    }
}

uint32_t get_write_index(SharedFrameBuffer* shm) {
    return __atomic_load_n(&shm->write_index, __ATOMIC_ACQUIRE);
}

// Header fields of a Frame; the pixel data is copied separately
typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int width;
    int height;
    int format;
    size_t data_size;
} FrameHeader;

int read_header(SharedFrameBuffer* shm, uint32_t index, FrameHeader* out) {
    if (index >= RING_BUFFER_SIZE) {
        return -1;
    }
    Frame* f = &shm->frames[index];
    out->frame_number = __atomic_load_n(&f->frame_number, __ATOMIC_ACQUIRE);
    out->timestamp = f->timestamp;
    out->width = f->width;
    out->height = f->height;
    out->format = f->format;
    out->data_size = f->data_size;
    return 0;
}

uint64_t frame_number_at(SharedFrameBuffer* shm, uint32_t index) {
    return __atomic_load_n(&shm->frames[index].frame_number, __ATOMIC_ACQUIRE);
}

void copy_data(SharedFrameBuffer* shm, uint32_t index, void* dst, size_t n) {
    memcpy(dst, shm->frames[index].data, n);
}
*/
import "C"
import (
	"context"
	"fmt"
	"time"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/logger"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/internal/metrics"
	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

const (
	RingBufferSize = 30
	MaxFrameSize   = 1920 * 1080 * 3 / 2
)

// Reader reads frames from shared memory
type Reader struct {
	shm          *C.SharedFrameBuffer
	shmName      string
	lastFrameNum uint64
	seen         bool
}

// NewReader opens the shared memory segment, waiting up to openTimeout for
// the capture daemon to create it. ctx cancels the wait.
func NewReader(ctx context.Context, shmName string, openTimeout time.Duration) (*Reader, error) {
	if shmName == "" {
		shmName = "/pet_camera_mjpeg_frame"
	}
	if openTimeout <= 0 {
		openTimeout = 30 * time.Second
	}

	cName := C.CString(shmName)
	defer C.free(unsafe.Pointer(cName))

	deadline := time.Now().Add(openTimeout)
	var shm *C.SharedFrameBuffer
	for i := 0; ; i++ {
		shm = C.open_shm(cName)
		if shm != nil {
			break
		}
		if time.Now().After(deadline) {
			return nil, fmt.Errorf("failed to open shared memory: %s (timeout after %s)", shmName, openTimeout)
		}
		// Log waiting status (only every 5 seconds to reduce noise)
		if i%5 == 0 {
			logger.Info("Reader", "Waiting for shared memory %s to appear...", shmName)
		}
		select {
		case <-ctx.Done():
			return nil, ctx.Err()
		case <-time.After(time.Second):
		}
	}

	logger.Info("Reader", "Successfully opened shared memory: %s", shmName)

	return &Reader{
		shm:     shm,
		shmName: shmName,
	}, nil
}

// Close closes the shared memory reader
func (r *Reader) Close() error {
	if r.shm != nil {
		C.close_shm(r.shm)
		r.shm = nil
	}
	return nil
}

// ReadLatest reads the latest frame from shared memory. It returns nil
// without error when nothing new has been written or the frame format is
// not one the detector accepts.
func (r *Reader) ReadLatest() (*types.Frame, error) {
	if r.shm == nil {
		return nil, fmt.Errorf("shared memory not open")
	}

	writeIndex := uint32(C.get_write_index(r.shm))
	if writeIndex == 0 {
		return nil, nil
	}

	index := (writeIndex - 1) % RingBufferSize

	var hdr C.FrameHeader
	if C.read_header(r.shm, C.uint32_t(index), &hdr) != 0 {
		return nil, fmt.Errorf("failed to read frame at index %d", index)
	}

	frameNum := uint64(hdr.frame_number)
	if r.seen && frameNum == r.lastFrameNum {
		return nil, nil
	}

	format, ok := formatFromSHM(int(hdr.format))
	if !ok {
		return nil, nil
	}

	dataSize := int(hdr.data_size)
	if dataSize <= 0 || dataSize > MaxFrameSize {
		return nil, fmt.Errorf("invalid frame size %d at index %d", dataSize, index)
	}
	data := make([]byte, dataSize)
	C.copy_data(r.shm, C.uint32_t(index), unsafe.Pointer(&data[0]), C.size_t(dataSize))

	if uint64(C.frame_number_at(r.shm, C.uint32_t(index))) != frameNum {
		return nil, fmt.Errorf("frame #%d overwritten while reading", frameNum)
	}
	r.seen = true
	r.lastFrameNum = frameNum

	return &types.Frame{
		Data:      data,
		Format:    format,
		Timestamp: time.Unix(int64(hdr.timestamp.tv_sec), int64(hdr.timestamp.tv_nsec)),
		FrameNum:  frameNum,
		Width:     int(hdr.width),
		Height:    int(hdr.height),
	}, nil
}

// Open waits for the named segment and returns a polling Source over it
func Open(ctx context.Context, shmName string, pollInterval time.Duration, m *metrics.Metrics) (*Source, error) {
	r, err := NewReader(ctx, shmName, 0)
	if err != nil {
		return nil, err
	}
	return newSource(r, pollInterval, m), nil
}
