package normalize

import (
	"testing"

	"github.com/stretchr/testify/assert"

	"github.com/sematica-ai/memory-engine/internal/storage"
)

const specificText = "Slow queries cause login timeouts because the index is missing."

func TestComputeConfidence(t *testing.T) {
	tests := []struct {
		name    string
		insight storage.Insight
		want    float64
	}{
		{
			name: "specific causal insight scores full marks",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameCausal,
				Entities:       []string{"index", "login service"},
			},
			want: 1.0,
		},
		{
			name: "very short text",
			insight: storage.Insight{
				NormalizedText: "X causes Y.",
				Frame:          storage.FrameCausal,
				Entities:       []string{"x", "y"},
			},
			want: 0.3,
		},
		{
			name: "medium length text",
			insight: storage.Insight{
				NormalizedText: "Caching reduces query load.",
				Frame:          storage.FrameCausal,
				Entities:       []string{"cache", "query"},
			},
			want: 0.7,
		},
		{
			name: "generic phrasing",
			insight: storage.Insight{
				NormalizedText: "Redis can be used as cache or queue layer.",
				Frame:          storage.FrameCausal,
				Entities:       []string{"redis", "cache"},
			},
			want: 0.5,
		},
		{
			name: "generic penalty applies once",
			insight: storage.Insight{
				NormalizedText: "Redis can be a cache and has memory.",
				Frame:          storage.FrameCausal,
				Entities:       []string{"redis", "cache"},
			},
			want: 0.35, // medium length and one generic hit, not two
		},
		{
			name: "no extracted subjects",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameCausal,
			},
			want: 0.4,
		},
		{
			name: "single extracted subject",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameCausal,
				Problems:       []string{"timeout"},
			},
			want: 0.7,
		},
		{
			name: "procedure frame discount",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameProcedure,
				Entities:       []string{"index", "login service"},
			},
			want: 0.9,
		},
		{
			name: "equivalence frame discount",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameEquivalence,
				Entities:       []string{"index", "login service"},
			},
			want: 0.8,
		},
		{
			name: "taxonomy frame discount",
			insight: storage.Insight{
				NormalizedText: specificText,
				Frame:          storage.FrameTaxonomy,
				Entities:       []string{"index", "login service"},
			},
			want: 0.6,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := ComputeConfidence(&tt.insight)
			assert.InDelta(t, tt.want, got, 1e-9)
			assert.GreaterOrEqual(t, got, 0.0)
			assert.LessOrEqual(t, got, 1.0)
		})
	}
}

func TestComputeConfidence_PenaltiesCompound(t *testing.T) {
	// Short, generic, subject-free taxonomy text bottoms out but stays
	// clamped to [0, 1].
	got := ComputeConfidence(&storage.Insight{
		NormalizedText: "A is a type of B.",
		Frame:          storage.FrameTaxonomy,
	})
	assert.InDelta(t, 0.3*0.5*0.4*0.6, got, 1e-9)
}
