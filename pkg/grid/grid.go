// Package grid partitions a tissue mask into a uniform interior grid of
// square tiles plus irregular bottom and right edge strips.
//
// The interior grid covers the largest sub-rectangle that tiles evenly. What
// remains along the bottom and right is handled by a per-axis remainder
// rule: a remainder that is an exact multiple boundary produces no strip at
// all, a remainder thinner than the configured overlap fraction is merged
// with the last full tile row/column (which is then removed from the
// interior grid so the partitions never overlap), and anything else becomes
// a strip of its own starting at the last full tile boundary.
package grid

import (
	"fmt"

	"gonum.org/v1/gonum/mat"

	"histoseq/internal/models"
	"histoseq/pkg/mask"
)

// Tile is one cell of the partition: a non-owning view over the mask plus
// its key and pixel-space placement. Edge-strip tiles are rectangular; the
// strip's thin dimension carries the remainder extent.
type Tile struct {
	// Key is the tile's grid index within its own partition. Interior keys
	// are row-major grid positions; bottom-strip keys are (0, col) and
	// right-strip keys are (row, 0) until remapped downstream.
	Key models.TileKey

	// Y0, X0 anchor the tile in full-image pixel coordinates.
	Y0, X0 int

	// Height, Width are the tile extents in pixels.
	Height, Width int

	data mat.Matrix
}

// Data returns the tile's view into the mask.
func (t *Tile) Data() mat.Matrix { return t.data }

// Area returns the tile's pixel count.
func (t *Tile) Area() int { return t.Height * t.Width }

// Partition holds the three disjoint tilings of one mask.
type Partition struct {
	TileSize int

	// Interior is the uniform grid in row-major order, Interior[row][col].
	Interior [][]Tile

	// Bottom is the bottom-edge strip sliced into TileSize-wide columns;
	// empty when the mask height is an exact multiple of TileSize.
	Bottom []Tile

	// Right is the right-edge strip sliced into TileSize-tall rows; empty
	// when the mask width is an exact multiple of TileSize.
	Right []Tile

	// BottomMerged and RightMerged record whether the remainder rule
	// absorbed the last full tile row (bottom) or column (right).
	BottomMerged bool
	RightMerged  bool

	interiorRows int
	interiorCols int
}

// axisLayout is the per-axis outcome of the remainder rule.
type axisLayout struct {
	fullTiles   int // floor(dim / tileSize)
	interior    int // interior tile count after any merge
	merged      bool
	stripStart  int // pixel origin of the edge strip
	stripExtent int // zero when the dimension tiles evenly
}

// layoutAxis applies the remainder-merge rule to one dimension.
//
// rem == 0 is not a thin remainder but an exact fit: the strip is empty and
// the interior is untouched. Otherwise the strip is merged with the last
// full tile when rem/tileSize falls below edgeOverlap/100. A dimension
// shorter than one tile yields zero interior tiles and a strip covering the
// whole extent.
func layoutAxis(dim, tileSize int, edgeOverlap float64) axisLayout {
	full := dim / tileSize
	rem := dim % tileSize
	l := axisLayout{fullTiles: full, interior: full}
	if rem == 0 {
		return l
	}
	frac := float64(rem) / float64(tileSize)
	if full > 0 && frac < edgeOverlap/100 {
		l.merged = true
		l.interior = full - 1
		l.stripStart = (full - 1) * tileSize
	} else {
		l.stripStart = full * tileSize
	}
	l.stripExtent = dim - l.stripStart
	return l
}

// NewPartition tiles the mask. edgeOverlap is a percentage in [0, 100].
func NewPartition(m *mask.TissueMask, tileSize int, edgeOverlap float64) (*Partition, error) {
	if tileSize <= 0 {
		return nil, fmt.Errorf("tile size must be positive, got %d", tileSize)
	}
	if edgeOverlap < 0 || edgeOverlap > 100 {
		return nil, fmt.Errorf("edge overlap must be a percentage in [0,100], got %g", edgeOverlap)
	}

	vert := layoutAxis(m.Height(), tileSize, edgeOverlap)
	horiz := layoutAxis(m.Width(), tileSize, edgeOverlap)

	p := &Partition{
		TileSize:     tileSize,
		BottomMerged: vert.merged,
		RightMerged:  horiz.merged,
		interiorRows: vert.interior,
		interiorCols: horiz.interior,
	}

	// Interior grid over the evenly-tiling sub-rectangle.
	p.Interior = make([][]Tile, vert.interior)
	for row := 0; row < vert.interior; row++ {
		p.Interior[row] = make([]Tile, horiz.interior)
		for col := 0; col < horiz.interior; col++ {
			y0 := row * tileSize
			x0 := col * tileSize
			p.Interior[row][col] = Tile{
				Key:    models.TileKey{Row: row, Col: col},
				Y0:     y0,
				X0:     x0,
				Height: tileSize,
				Width:  tileSize,
				data:   m.View(y0, x0, tileSize, tileSize),
			}
		}
	}

	// Bottom strip: remainder rows sliced into full-width columns. The
	// column count uses the unadjusted full-tile count, so a merged right
	// edge does not shrink the bottom strip.
	if vert.stripExtent > 0 {
		for col := 0; col < horiz.fullTiles; col++ {
			x0 := col * tileSize
			p.Bottom = append(p.Bottom, Tile{
				Key:    models.TileKey{Row: 0, Col: col},
				Y0:     vert.stripStart,
				X0:     x0,
				Height: vert.stripExtent,
				Width:  tileSize,
				data:   m.View(vert.stripStart, x0, vert.stripExtent, tileSize),
			})
		}
	}

	// Right strip: remainder columns sliced into full-height rows. The
	// corner past both last full boundaries belongs to neither strip.
	if horiz.stripExtent > 0 {
		for row := 0; row < vert.fullTiles; row++ {
			y0 := row * tileSize
			p.Right = append(p.Right, Tile{
				Key:    models.TileKey{Row: row, Col: 0},
				Y0:     y0,
				X0:     horiz.stripStart,
				Height: tileSize,
				Width:  horiz.stripExtent,
				data:   m.View(y0, horiz.stripStart, tileSize, horiz.stripExtent),
			})
		}
	}

	return p, nil
}

// InteriorRows returns the interior grid's row count.
func (p *Partition) InteriorRows() int { return p.interiorRows }

// InteriorCols returns the interior grid's column count.
func (p *Partition) InteriorCols() int { return p.interiorCols }

// BottomRowOffset is the row index added to bottom-strip keys so they sit
// past the interior grid in the shared key space. The extra +1 accounts for
// the interior row dropped by a merge.
func (p *Partition) BottomRowOffset() int {
	off := p.InteriorRows()
	if p.BottomMerged {
		off++
	}
	return off
}

// RightColOffset is the column index added to right-strip keys.
func (p *Partition) RightColOffset() int {
	off := p.InteriorCols()
	if p.RightMerged {
		off++
	}
	return off
}
