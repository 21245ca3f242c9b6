package storage

import (
	"encoding/binary"
	"fmt"
	"math"
)

// MarshalVector encodes an embedding as consecutive little-endian float32
// values. A nil or empty vector encodes to nil, stored as SQL NULL.
func MarshalVector(vec []float32) []byte {
	if len(vec) == 0 {
		return nil
	}
	buf := make([]byte, 4*len(vec))
	for i, v := range vec {
		binary.LittleEndian.PutUint32(buf[4*i:], math.Float32bits(v))
	}
	return buf
}

// UnmarshalVector decodes a little-endian float32 blob. The length must be
// a multiple of 4.
func UnmarshalVector(buf []byte) ([]float32, error) {
	if len(buf) == 0 {
		return nil, nil
	}
	if len(buf)%4 != 0 {
		return nil, fmt.Errorf("vector blob length %d not a multiple of 4", len(buf))
	}
	vec := make([]float32, len(buf)/4)
	for i := range vec {
		vec[i] = math.Float32frombits(binary.LittleEndian.Uint32(buf[4*i:]))
	}
	return vec, nil
}

// isZeroVector reports whether every component is zero. Such vectors
// carry no direction and are excluded from similarity ranking.
func isZeroVector(vec []float32) bool {
	for _, v := range vec {
		if v != 0 {
			return false
		}
	}
	return true
}

// CosineSimilarity computes the cosine of the angle between two vectors.
// Mismatched lengths and zero-norm vectors score 0.
func CosineSimilarity(a, b []float32) float64 {
	if len(a) != len(b) || len(a) == 0 {
		return 0
	}
	var dot, normA, normB float64
	for i := range a {
		dot += float64(a[i]) * float64(b[i])
		normA += float64(a[i]) * float64(a[i])
		normB += float64(b[i]) * float64(b[i])
	}
	if normA == 0 || normB == 0 {
		return 0
	}
	return dot / (math.Sqrt(normA) * math.Sqrt(normB))
}
