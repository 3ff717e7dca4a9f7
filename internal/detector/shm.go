//go:build linux && cgo

package detector

/*
#cgo LDFLAGS: -lrt

#include <stdlib.h>
#include <stdint.h>
#include <time.h>
#include <sys/mman.h>
#include <fcntl.h>
#include <unistd.h>
#include <string.h>

#define MAX_DETECTIONS 10

typedef struct {
    int x;
    int y;
    int w;
    int h;
} BoundingBox;

typedef struct {
    char class_name[32];
    float confidence;
    BoundingBox bbox;
} Detection;

typedef struct {
    uint64_t frame_number;
    struct timespec timestamp;
    int num_detections;
    Detection detections[MAX_DETECTIONS];
    volatile uint32_t version;
} LatestDetectionResult;

static LatestDetectionResult* open_detection_shm(const char* name) {
    int fd = shm_open(name, O_RDONLY, 0666);
    if (fd == -1) {
        return NULL;
    }

    LatestDetectionResult* shm = (LatestDetectionResult*)mmap(
        NULL,
        sizeof(LatestDetectionResult),
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

static void close_detection_shm(LatestDetectionResult* shm) {
    if (shm != NULL) {
        munmap((void*)shm, sizeof(LatestDetectionResult));
    }
}

// Copies the result, retrying while the writer bumps the version mid-copy.
static int read_detection_snapshot(LatestDetectionResult* shm, LatestDetectionResult* out) {
    if (!shm || !out) {
        return -1;
    }
    for (int i = 0; i < 3; i++) {
        uint32_t before = __atomic_load_n(&shm->version, __ATOMIC_ACQUIRE);
        memcpy(out, shm, sizeof(LatestDetectionResult));
        uint32_t after = __atomic_load_n(&shm->version, __ATOMIC_ACQUIRE);
        if (before == after) {
            return 0;
        }
    }
    return -1;
}
*/
import "C"

import (
	"bytes"
	"context"
	"fmt"
	"sync"
	"unsafe"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// SHMDetector reads results published by the camera's on-device detector.
// Each result is consumed once; a frame with no newer result yields
// ErrNoResult.
type SHMDetector struct {
	mu      sync.Mutex
	shm     *C.LatestDetectionResult
	name    string
	lastVer uint32
}

// NewSHM opens the detection shared memory segment
func NewSHM(name string) (*SHMDetector, error) {
	cName := C.CString(name)
	defer C.free(unsafe.Pointer(cName))

	shm := C.open_detection_shm(cName)
	if shm == nil {
		return nil, fmt.Errorf("open detection shared memory %s", name)
	}
	return &SHMDetector{shm: shm, name: name}, nil
}

// Detect returns the newest unconsumed result
func (d *SHMDetector) Detect(ctx context.Context, _ *types.Frame) ([]types.Detection, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	if d.shm == nil {
		return nil, failure("shared memory %s closed", d.name)
	}

	var snapshot C.LatestDetectionResult
	if C.read_detection_snapshot(d.shm, &snapshot) != 0 {
		return nil, failure("torn read of %s", d.name)
	}

	version := uint32(snapshot.version)
	if version == 0 || version == d.lastVer {
		return nil, ErrNoResult
	}
	d.lastVer = version

	n := int(snapshot.num_detections)
	if n < 0 || n > int(C.MAX_DETECTIONS) {
		return nil, failure("result reports %d detections", n)
	}

	dets := make([]types.Detection, 0, n)
	for i := 0; i < n; i++ {
		det := snapshot.detections[i]
		classBytes := C.GoBytes(unsafe.Pointer(&det.class_name[0]), 32)
		dets = append(dets, types.Detection{
			ClassID:    -1,
			ClassName:  string(bytes.TrimRight(classBytes, "\x00")),
			Confidence: float64(det.confidence),
			BBox: types.BoundingBox{
				X: int(det.bbox.x),
				Y: int(det.bbox.y),
				W: int(det.bbox.w),
				H: int(det.bbox.h),
			},
		})
	}
	return dets, nil
}

// Close unmaps the segment
func (d *SHMDetector) Close() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.shm != nil {
		C.close_detection_shm(d.shm)
		d.shm = nil
	}
	return nil
}
