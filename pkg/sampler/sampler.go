// Package sampler draws randomized sample coordinates around each region's
// centroid and packs the accepted points into fixed-length sequences.
//
// Draws come from a Gaussian centered on the region centroid with a spread
// proportional to the region's tissue density, mapped into full-image
// coordinates via the region's pixel origin. A draw is accepted only when a
// full patch window fits inside the mask and the window is tissue-rich
// enough; everything else is discarded and redrawn, up to a bounded number
// of attempts per region.
package sampler

import (
	"errors"
	"fmt"
	"math"

	"golang.org/x/exp/rand"

	"gonum.org/v1/gonum/stat/distuv"

	"histoseq/internal/models"
	"histoseq/pkg/mask"
	"histoseq/pkg/region"
)

// attemptsPerSample bounds the rejection loop: a region gets this many draws
// per requested sample before it is declared unconvergeable. Pathological
// configurations (near-zero density with a tight patch threshold) hit the
// cap instead of spinning forever.
const attemptsPerSample = 1000

// ErrNoConvergence reports a region whose rejection loop exhausted its
// attempt budget before collecting the full sample count.
var ErrNoConvergence = errors.New("rejection sampling did not converge")

// ErrDegenerateRegion reports a region with an undefined centroid; such
// regions cannot seed a Gaussian and are skipped.
var ErrDegenerateRegion = errors.New("region centroid undefined")

// Params configures the sampler. All values come from the immutable run
// configuration.
type Params struct {
	// PatchSize is the side length of the square mask window a sample must
	// support.
	PatchSize int

	// PatchKeepPercentage is the minimum tissue percentage of an accepted
	// patch window.
	PatchKeepPercentage float64

	// MaximumStdDev is the Gaussian spread for a region of density 1; the
	// actual spread scales linearly with density.
	MaximumStdDev float64

	// MaximumSeqPerTile is the sequence count for a region of density 1;
	// the actual count is round(density * MaximumSeqPerTile).
	MaximumSeqPerTile int

	// NumSteps is the fixed sequence length.
	NumSteps int
}

// Sampler runs the rejection loop for one mask. It is not safe for
// concurrent use; the pipeline owns one sampler per image.
type Sampler struct {
	mask   *mask.TissueMask
	params Params
	src    rand.Source

	attempted int
	accepted  int
}

// New creates a sampler over the given mask, seeded for reproducible draws.
func New(m *mask.TissueMask, params Params, seed uint64) *Sampler {
	return &Sampler{
		mask:   m,
		params: params,
		src:    rand.NewSource(seed),
	}
}

// TargetSamples returns the number of coordinates the sampler will collect
// for a region of the given density: round(density * MaximumSeqPerTile)
// sequences of NumSteps points each.
func (s *Sampler) TargetSamples(density float64) int {
	sequenceCount := int(math.Round(density * float64(s.params.MaximumSeqPerTile)))
	return sequenceCount * s.params.NumSteps
}

// SampleRegion fills r.Coords with accepted sample points. A region with an
// undefined centroid yields ErrDegenerateRegion; a region that exhausts its
// attempt budget yields ErrNoConvergence with whatever partial progress
// discarded. A region whose density rounds to zero sequences collects
// nothing and returns nil.
func (s *Sampler) SampleRegion(r *region.Region) error {
	if !r.HasCentroid() {
		return fmt.Errorf("%w: region (%d,%d)", ErrDegenerateRegion, r.Key.Row, r.Key.Col)
	}

	target := s.TargetSamples(r.Density)
	if target == 0 {
		return nil
	}

	stdDev := s.params.MaximumStdDev * r.Density
	xDist := distuv.Normal{Mu: r.CentroidCol, Sigma: stdDev, Src: s.src}
	yDist := distuv.Normal{Mu: r.CentroidRow, Sigma: stdDev, Src: s.src}

	maxY := s.mask.Height() - s.params.PatchSize
	maxX := s.mask.Width() - s.params.PatchSize
	area := float64(s.params.PatchSize * s.params.PatchSize)
	keepThreshold := area * (1 - s.params.PatchKeepPercentage/100)

	coords := make([]models.Coord, 0, target)
	budget := target * attemptsPerSample
	for attempt := 0; attempt < budget && len(coords) < target; attempt++ {
		s.attempted++
		x := int(math.Round(xDist.Rand())) + r.Origin.X
		y := int(math.Round(yDist.Rand())) + r.Origin.Y
		if y < 0 || y > maxY || x < 0 || x > maxX {
			continue
		}
		if s.mask.WindowSum(y, x, s.params.PatchSize, s.params.PatchSize) > keepThreshold {
			continue
		}
		coords = append(coords, models.Coord{Y: y, X: x})
		s.accepted++
	}

	if len(coords) < target {
		return fmt.Errorf("%w: region (%d,%d) accepted %d of %d samples",
			ErrNoConvergence, r.Key.Row, r.Key.Col, len(coords), target)
	}
	r.Coords = coords
	return nil
}

// AcceptanceRate returns the fraction of draws accepted so far, across all
// regions sampled by this sampler. Zero before any draw.
func (s *Sampler) AcceptanceRate() float64 {
	if s.attempted == 0 {
		return 0
	}
	return float64(s.accepted) / float64(s.attempted)
}

// BuildSequences slices each region's accumulated coordinates into
// contiguous chunks of exactly numSteps points, dropping any shorter
// remainder, and concatenates the chunks in region order. The order is
// stable for a given region order, which keeps output deterministic under a
// fixed seed.
func BuildSequences(regions []*region.Region, numSteps int) []models.Sequence {
	var sequences []models.Sequence
	for _, r := range regions {
		for n := 0; n+numSteps <= len(r.Coords); n += numSteps {
			seq := make(models.Sequence, numSteps)
			copy(seq, r.Coords[n:n+numSteps])
			sequences = append(sequences, seq)
		}
	}
	return sequences
}
