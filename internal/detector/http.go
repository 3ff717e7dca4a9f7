package detector

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"image"
	"image/jpeg"
	"io"
	"net/http"
	"strconv"
	"time"

	"golang.org/x/image/draw"

	"github.com/dj-oyu/rdk-x5_smart-pet-camera/people-counter/pkg/types"
)

// DefaultImageSize is the longest side frames are scaled to before upload
const DefaultImageSize = 640

// HTTPConfig configures an HTTPDetector
type HTTPConfig struct {
	URL       string
	Timeout   time.Duration
	ImageSize int
	Client    *http.Client
}

// HTTPDetector posts frames to an inference service and decodes its JSON
// answer: {"detections": [{"class_id": 0, "class_name": "person", ...}]}.
type HTTPDetector struct {
	url       string
	imageSize int
	client    *http.Client
}

// NewHTTP creates an HTTPDetector
func NewHTTP(cfg HTTPConfig) (*HTTPDetector, error) {
	if cfg.URL == "" {
		return nil, fmt.Errorf("detector url is required")
	}
	if cfg.ImageSize <= 0 {
		cfg.ImageSize = DefaultImageSize
	}
	client := cfg.Client
	if client == nil {
		client = &http.Client{Timeout: cfg.Timeout}
	}
	return &HTTPDetector{
		url:       cfg.URL,
		imageSize: cfg.ImageSize,
		client:    client,
	}, nil
}

type detectResponse struct {
	Detections *[]types.Detection `json:"detections"`
}

// Detect uploads the frame and returns the parsed detections
func (d *HTTPDetector) Detect(ctx context.Context, frame *types.Frame) ([]types.Detection, error) {
	if frame == nil || len(frame.Data) == 0 {
		return nil, failure("empty frame")
	}

	body, contentType, err := d.encode(frame)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorFailure, err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPost, d.url, bytes.NewReader(body))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorFailure, err)
	}
	req.Header.Set("Content-Type", contentType)
	req.Header.Set("X-Frame-Number", strconv.FormatUint(frame.FrameNum, 10))
	req.Header.Set("X-Image-Size", strconv.Itoa(d.imageSize))

	resp, err := d.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDetectorFailure, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode == http.StatusNoContent {
		return nil, ErrNoResult
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		msg, _ := io.ReadAll(io.LimitReader(resp.Body, 256))
		return nil, failure("status %d: %s", resp.StatusCode, bytes.TrimSpace(msg))
	}

	var out detectResponse
	if err := json.NewDecoder(resp.Body).Decode(&out); err != nil {
		return nil, failure("decode response: %v", err)
	}
	if out.Detections == nil {
		return nil, failure("response has no detections field")
	}
	if err := Validate(*out.Detections); err != nil {
		return nil, err
	}
	return *out.Detections, nil
}

// encode turns the frame into an upload body. Still images are scaled so the
// longest side is at most imageSize; H.264 IDRs are passed through.
func (d *HTTPDetector) encode(frame *types.Frame) ([]byte, string, error) {
	switch frame.Format {
	case types.FormatH264:
		if !frame.IsIDR {
			return nil, "", errors.New("h264 access unit is not an IDR")
		}
		return frame.Data, frame.Format.String(), nil

	case types.FormatJPEG:
		img, err := jpeg.Decode(bytes.NewReader(frame.Data))
		if err != nil {
			return nil, "", fmt.Errorf("decode jpeg: %w", err)
		}
		if !needsResize(img.Bounds(), d.imageSize) {
			return frame.Data, frame.Format.String(), nil
		}
		return encodeJPEG(resize(img, d.imageSize))

	case types.FormatNV12:
		img, err := nv12ToYCbCr(frame.Data, frame.Width, frame.Height)
		if err != nil {
			return nil, "", err
		}
		return encodeJPEG(resize(img, d.imageSize))

	default:
		return nil, "", fmt.Errorf("unsupported frame format %d", frame.Format)
	}
}

func needsResize(b image.Rectangle, size int) bool {
	return b.Dx() > size || b.Dy() > size
}

// resize scales img so its longest side equals size, keeping aspect ratio
func resize(img image.Image, size int) image.Image {
	b := img.Bounds()
	if !needsResize(b, size) {
		return img
	}
	w, h := b.Dx(), b.Dy()
	if w >= h {
		h = max(1, h*size/w)
		w = size
	} else {
		w = max(1, w*size/h)
		h = size
	}
	dst := image.NewRGBA(image.Rect(0, 0, w, h))
	draw.BiLinear.Scale(dst, dst.Bounds(), img, b, draw.Src, nil)
	return dst
}

func encodeJPEG(img image.Image) ([]byte, string, error) {
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 85}); err != nil {
		return nil, "", fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), types.FormatJPEG.String(), nil
}

// nv12ToYCbCr splits the interleaved chroma plane of an NV12 frame
func nv12ToYCbCr(data []byte, width, height int) (*image.YCbCr, error) {
	if width <= 0 || height <= 0 || width%2 != 0 || height%2 != 0 {
		return nil, fmt.Errorf("nv12 frame has invalid size %dx%d", width, height)
	}
	ySize := width * height
	if len(data) < ySize+ySize/2 {
		return nil, fmt.Errorf("nv12 frame too short: %d bytes for %dx%d", len(data), width, height)
	}

	img := image.NewYCbCr(image.Rect(0, 0, width, height), image.YCbCrSubsampleRatio420)
	copy(img.Y, data[:ySize])
	uv := data[ySize : ySize+ySize/2]
	for i := 0; i < len(img.Cb); i++ {
		img.Cb[i] = uv[2*i]
		img.Cr[i] = uv[2*i+1]
	}
	return img, nil
}
