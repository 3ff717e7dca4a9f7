package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestClampCount(t *testing.T) {
	cases := map[int]int{-3: 0, 0: 0, 1: 1, 5: 5, 6: 5, 42: 5}
	for in, want := range cases {
		assert.Equal(t, want, ClampCount(in), "ClampCount(%d)", in)
	}
}

func TestCountPersons(t *testing.T) {
	detections := []Detection{
		{ClassID: 0, Confidence: 0.9},
		{ClassID: 0, Confidence: 0.3},
		{ClassID: 16, ClassName: "dog", Confidence: 0.95},
		{ClassID: 99, ClassName: "person", Confidence: 0.5},
		{ClassName: "cat", Confidence: 0.8},
	}

	assert.Equal(t, 2, CountPersons(detections, 0.4))
	assert.Equal(t, 3, CountPersons(detections, 0))
	assert.Equal(t, 0, CountPersons(nil, 0.4))
}

func TestIsPersonNameWinsOverID(t *testing.T) {
	assert.False(t, Detection{ClassID: PersonClassID, ClassName: "dog"}.IsPerson())
	assert.True(t, Detection{ClassID: 16, ClassName: PersonClassName}.IsPerson())
	assert.True(t, Detection{ClassID: PersonClassID}.IsPerson())
	assert.False(t, Detection{ClassID: 16}.IsPerson())
}
