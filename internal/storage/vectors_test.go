package storage

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestVectorRoundTrip(t *testing.T) {
	vec := []float32{0.5, -1.25, 3.75, 0}

	decoded, err := UnmarshalVector(MarshalVector(vec))
	require.NoError(t, err)
	assert.Equal(t, vec, decoded)
}

func TestMarshalVector_EmptyIsNil(t *testing.T) {
	assert.Nil(t, MarshalVector(nil))
	assert.Nil(t, MarshalVector([]float32{}))

	decoded, err := UnmarshalVector(nil)
	require.NoError(t, err)
	assert.Nil(t, decoded)
}

func TestUnmarshalVector_RejectsTruncatedBlob(t *testing.T) {
	_, err := UnmarshalVector([]byte{1, 2, 3})
	assert.Error(t, err)
}

func TestCosineSimilarity(t *testing.T) {
	tests := []struct {
		name string
		a, b []float32
		want float64
	}{
		{"identical", []float32{1, 0}, []float32{1, 0}, 1},
		{"orthogonal", []float32{1, 0}, []float32{0, 1}, 0},
		{"opposite", []float32{1, 0}, []float32{-1, 0}, -1},
		{"zero vector", []float32{0, 0}, []float32{1, 0}, 0},
		{"length mismatch", []float32{1}, []float32{1, 0}, 0},
		{"empty", nil, nil, 0},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.InDelta(t, tt.want, CosineSimilarity(tt.a, tt.b), 1e-9)
		})
	}
}
