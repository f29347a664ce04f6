// Package region scores the tiles produced by the grid partitioner and
// turns the kept ones into typed region records carrying density, centroid
// and, once the sampler has run, the accepted sample coordinates.
package region

import (
	"math"

	"gonum.org/v1/gonum/mat"

	"histoseq/internal/models"
	"histoseq/pkg/grid"
)

// Region is one kept tile or edge-strip cell. It is created by Estimate,
// mutated in place by the sampler (Coords) and read by the serializer. Its
// Key is stable for its lifetime.
type Region struct {
	// Key is the tile coordinate in the shared key space (edge keys offset
	// past the interior grid).
	Key models.TileKey

	// Origin anchors the region in full-image pixel coordinates. Gaussian
	// draws are taken relative to this origin, which for interior tiles
	// coincides with Key scaled by the tile size.
	Origin models.Coord

	// Height and Width are the region extents in pixels.
	Height, Width int

	// Density is the fraction of the region's area that is tissue, in [0,1].
	Density float64

	// CentroidRow and CentroidCol are the mass-weighted center of the
	// region's stored pixel values in the region's local coordinate frame.
	// Both are NaN when the region has zero total mass.
	CentroidRow float64
	CentroidCol float64

	// Coords are the accepted sample points in full-image coordinates, in
	// acceptance order. Populated by the sampler.
	Coords []models.Coord
}

// Area returns the region's pixel count.
func (r *Region) Area() int { return r.Height * r.Width }

// HasCentroid reports whether the center of mass is defined. A region whose
// stored values are all zero (pure tissue under the mask convention) has no
// background mass and therefore no centroid.
func (r *Region) HasCentroid() bool {
	return !math.IsNaN(r.CentroidRow) && !math.IsNaN(r.CentroidCol)
}

// Keep reports whether a tile passes the keep threshold: its summed pixel
// values must not exceed area * (1 - keepPercentage/100). Under the mask
// convention the sum counts background pixels, so low sums mean tissue-rich
// tiles.
func Keep(t *grid.Tile, keepPercentage float64) bool {
	threshold := float64(t.Area()) * (1 - keepPercentage/100)
	return mat.Sum(t.Data()) <= threshold
}

// Filter returns the tiles passing the keep threshold, preserving input
// order. Raising keepPercentage can only shrink the result.
func Filter(tiles []grid.Tile, keepPercentage float64) []grid.Tile {
	var kept []grid.Tile
	for i := range tiles {
		if Keep(&tiles[i], keepPercentage) {
			kept = append(kept, tiles[i])
		}
	}
	return kept
}

// FilterGrid flattens the interior grid row-major and filters it.
func FilterGrid(interior [][]grid.Tile, keepPercentage float64) []grid.Tile {
	var kept []grid.Tile
	for _, row := range interior {
		for i := range row {
			if Keep(&row[i], keepPercentage) {
				kept = append(kept, row[i])
			}
		}
	}
	return kept
}

// Density returns 1 - sum/area for a tile view: the tissue fraction of the
// region under the mask convention (stored 1 = background).
func Density(t mat.Matrix) float64 {
	h, w := t.Dims()
	return 1 - mat.Sum(t)/float64(h*w)
}

// CenterOfMass returns the mass-weighted center of the view's pixel values
// in local (row, col) coordinates. Zero-valued pixels contribute no mass; a
// view with zero total mass yields (NaN, NaN).
func CenterOfMass(t mat.Matrix) (row, col float64) {
	h, w := t.Dims()
	var total, rowSum, colSum float64
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			v := t.At(y, x)
			if v == 0 {
				continue
			}
			total += v
			rowSum += v * float64(y)
			colSum += v * float64(x)
		}
	}
	if total == 0 {
		return math.NaN(), math.NaN()
	}
	return rowSum / total, colSum / total
}

// Estimate builds a region record for every tile, preserving input order so
// that downstream processing is deterministic for a fixed seed.
func Estimate(tiles []grid.Tile) []*Region {
	regions := make([]*Region, 0, len(tiles))
	for i := range tiles {
		t := &tiles[i]
		cr, cc := CenterOfMass(t.Data())
		regions = append(regions, &Region{
			Key:         t.Key,
			Origin:      models.Coord{Y: t.Y0, X: t.X0},
			Height:      t.Height,
			Width:       t.Width,
			Density:     Density(t.Data()),
			CentroidRow: cr,
			CentroidCol: cc,
		})
	}
	return regions
}

// OffsetKeys shifts every region's key by (dRow, dCol). It remaps edge-strip
// keys into the shared key space so the three partitions stay disjoint.
func OffsetKeys(regions []*Region, dRow, dCol int) {
	for _, r := range regions {
		r.Key.Row += dRow
		r.Key.Col += dCol
	}
}
