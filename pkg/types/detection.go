package types

const (
	// PersonClassID is the COCO class id the detector uses for people
	PersonClassID = 0
	// PersonClassName is the label used by detectors that report names only
	PersonClassName = "person"

	// MaxCount bounds the announced vocabulary: one clip per count 1..MaxCount
	MaxCount = 5
)

// BoundingBox is a detection rectangle in frame pixels
type BoundingBox struct {
	X int `json:"x"`
	Y int `json:"y"`
	W int `json:"w"`
	H int `json:"h"`
}

// Detection is one object reported by a detector
type Detection struct {
	ClassID    int         `json:"class_id"`
	ClassName  string      `json:"class_name"`
	Confidence float64     `json:"confidence"`
	BBox       BoundingBox `json:"bbox"`
}

// IsPerson reports whether the detection is of the person class. A non-empty
// class name decides on its own, since label-only detections leave the id at
// zero; the id is checked only when the name is empty.
func (d Detection) IsPerson() bool {
	if d.ClassName != "" {
		return d.ClassName == PersonClassName
	}
	return d.ClassID == PersonClassID
}

// CountPersons counts person detections at or above minConfidence
func CountPersons(detections []Detection, minConfidence float64) int {
	count := 0
	for _, d := range detections {
		if d.IsPerson() && d.Confidence >= minConfidence {
			count++
		}
	}
	return count
}

// ClampCount bounds a raw count to [0, MaxCount]
func ClampCount(n int) int {
	if n < 0 {
		return 0
	}
	if n > MaxCount {
		return MaxCount
	}
	return n
}
