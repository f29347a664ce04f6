// Package pipeline drives the per-image sequence generation: grid tiling,
// region filtering, density/centroid estimation, Gaussian rejection sampling
// and sequence assembly.
package pipeline

import (
	"errors"
	"fmt"

	"gonum.org/v1/gonum/stat"

	"histoseq/internal/models"
	"histoseq/pkg/config"
	"histoseq/pkg/grid"
	"histoseq/pkg/mask"
	"histoseq/pkg/region"
	"histoseq/pkg/sampler"
)

// ErrNoFeatures reports an image that produced zero sequences. It is a
// per-image outcome, not a pipeline failure: the caller records it and moves
// on to the next image.
var ErrNoFeatures = errors.New("no feature sequences produced")

// Metrics holds the per-image summary statistics reported after generation.
type Metrics struct {
	// TilesTotal is the number of tiles and edge-strip cells in the
	// partition.
	TilesTotal int

	// RegionsKept is how many of those passed the tissue filter.
	RegionsKept int

	// DegenerateRegions counts kept regions skipped for an undefined
	// centroid.
	DegenerateRegions int

	// UnconvergedRegions counts kept regions dropped after exhausting the
	// rejection-sampling attempt budget.
	UnconvergedRegions int

	// MeanDensity and DensityStdDev summarize the kept regions' tissue
	// densities.
	MeanDensity   float64
	DensityStdDev float64

	// AcceptanceRate is the fraction of Gaussian draws the rejection test
	// accepted.
	AcceptanceRate float64

	// SequenceCount is the number of fixed-length sequences produced.
	SequenceCount int
}

// Generator runs the sequence generation pipeline for one image. The
// process consists of several steps:
// 1. Partitioning the mask into an interior grid plus edge strips
// 2. Filtering tiles by tissue content
// 3. Computing density and centroid for each kept region
// 4. Rejection-sampling coordinates around each centroid
// 5. Slicing the accepted coordinates into fixed-length sequences
type Generator struct {
	mask    *mask.TissueMask
	cfg     *config.Config
	seed    uint64
	verbose bool

	metrics Metrics
}

// NewGenerator creates a generator for one mask. The seed makes the
// stochastic sampling reproducible; callers processing many images derive a
// distinct seed per image.
func NewGenerator(m *mask.TissueMask, cfg *config.Config, seed uint64) *Generator {
	return &Generator{
		mask:    m,
		cfg:     cfg,
		seed:    seed,
		verbose: cfg.Output.Verbose,
	}
}

// Process runs the complete pipeline and returns the generated sequences in
// a stable order: interior regions row-major, then the bottom strip, then
// the right strip. An image yielding no sequences returns ErrNoFeatures.
func (g *Generator) Process() ([]models.Sequence, error) {
	s := &g.cfg.Sampling

	// Step 1: Partition the mask.
	g.logf("Step 1: Extracting tiles...")
	part, err := grid.NewPartition(g.mask, s.TileSize, s.EdgeOverlap)
	if err != nil {
		return nil, fmt.Errorf("failed to partition mask: %v", err)
	}
	g.metrics.TilesTotal = part.InteriorRows()*part.InteriorCols() + len(part.Bottom) + len(part.Right)

	// Step 2: Filter tiles by tissue content.
	g.logf("Step 2: Thresholding tiles...")
	keptInterior := region.FilterGrid(part.Interior, s.TileKeepPercentage)
	keptBottom := region.Filter(part.Bottom, s.TileKeepPercentage)
	keptRight := region.Filter(part.Right, s.TileKeepPercentage)

	// Step 3: Build region records and remap edge keys into the shared key
	// space so the three groups stay disjoint.
	g.logf("Step 3: Calculating centroids...")
	interior := region.Estimate(keptInterior)
	bottom := region.Estimate(keptBottom)
	right := region.Estimate(keptRight)
	region.OffsetKeys(bottom, part.BottomRowOffset(), 0)
	region.OffsetKeys(right, 0, part.RightColOffset())

	regions := make([]*region.Region, 0, len(interior)+len(bottom)+len(right))
	regions = append(regions, interior...)
	regions = append(regions, bottom...)
	regions = append(regions, right...)
	g.metrics.RegionsKept = len(regions)

	// Step 4: Sample around each centroid. Degenerate and unconverged
	// regions are skipped and counted, not fatal.
	g.logf("Step 4: Sampling around centroids...")
	smp := sampler.New(g.mask, sampler.Params{
		PatchSize:           s.PatchSize,
		PatchKeepPercentage: s.PatchKeepPercentage,
		MaximumStdDev:       s.MaximumStdDev,
		MaximumSeqPerTile:   s.MaximumSeqPerTile,
		NumSteps:            s.NumSteps,
	}, g.seed)

	sampled := regions[:0]
	for _, r := range regions {
		err := smp.SampleRegion(r)
		switch {
		case errors.Is(err, sampler.ErrDegenerateRegion):
			g.metrics.DegenerateRegions++
			continue
		case errors.Is(err, sampler.ErrNoConvergence):
			g.metrics.UnconvergedRegions++
			g.logf("Warning: %v", err)
			continue
		case err != nil:
			return nil, fmt.Errorf("failed to sample region (%d,%d): %v", r.Key.Row, r.Key.Col, err)
		}
		sampled = append(sampled, r)
	}
	g.metrics.AcceptanceRate = smp.AcceptanceRate()

	// Step 5: Slice the accumulated coordinates into sequences.
	g.logf("Step 5: Listing sequences...")
	sequences := sampler.BuildSequences(sampled, s.NumSteps)
	g.metrics.SequenceCount = len(sequences)
	g.summarize(sampled)

	if len(sequences) == 0 {
		return nil, ErrNoFeatures
	}
	return sequences, nil
}

// Metrics returns the summary statistics gathered during Process.
func (g *Generator) Metrics() Metrics {
	return g.metrics
}

// summarize computes the density statistics over the regions that
// contributed samples.
func (g *Generator) summarize(regions []*region.Region) {
	if len(regions) == 0 {
		return
	}
	densities := make([]float64, len(regions))
	for i, r := range regions {
		densities[i] = r.Density
	}
	g.metrics.MeanDensity = stat.Mean(densities, nil)
	if len(densities) > 1 {
		g.metrics.DensityStdDev = stat.StdDev(densities, nil)
	}
}

func (g *Generator) logf(format string, args ...interface{}) {
	if g.verbose {
		fmt.Printf(format+"\n", args...)
	}
}
