package pitch

import (
	"math"

	"gonum.org/v1/gonum/stat"

	"github.com/MrWong99/vocascan/pkg/note"
)

// Summary condenses the smoothed states of a session.
type Summary struct {
	// Samples is the number of states summarised.
	Samples int `json:"samples"`

	// MeanHz is the confidence-weighted mean smoothed frequency.
	MeanHz float64 `json:"mean_hz"`

	// StdDevCents is the confidence-weighted spread of the smoothed
	// frequency around MeanHz, in cents.
	StdDevCents float64 `json:"std_dev_cents"`

	// Stability is the mean confidence, in [0, 1]. Zero when Samples is 0.
	Stability float64 `json:"stability"`

	// DominantNote is the note held for the most samples.
	DominantNote note.Name `json:"dominant_note"`
}

// Summarize computes a [Summary] over states. An empty slice yields a zero
// Summary with DominantNote set to [note.None].
func Summarize(states []State) Summary {
	if len(states) == 0 {
		return Summary{DominantNote: note.None}
	}

	freqs := make([]float64, len(states))
	weights := make([]float64, len(states))
	counts := make(map[note.Name]int)
	for i, s := range states {
		freqs[i] = s.SmoothedFrequencyHz
		weights[i] = s.Confidence
		counts[s.Note]++
	}

	mean := stat.Mean(freqs, weights)

	cents := make([]float64, len(states))
	for i, f := range freqs {
		c, ok := note.CentsDeviation(f, mean)
		if !ok {
			c = 0
		}
		cents[i] = c
	}
	spread := 0.0
	if len(states) > 1 {
		spread = stat.StdDev(cents, weights)
		if math.IsNaN(spread) {
			spread = 0
		}
	}

	dominant := note.None
	best := 0
	for _, s := range states {
		if c := counts[s.Note]; c > best {
			best = c
			dominant = s.Note
		}
	}

	return Summary{
		Samples:      len(states),
		MeanHz:       mean,
		StdDevCents:  spread,
		Stability:    stat.Mean(weights, nil),
		DominantNote: dominant,
	}
}
