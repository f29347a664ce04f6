package models

// TileKey identifies a grid cell by its (row, col) index. Interior tiles,
// bottom-edge tiles and right-edge tiles live in one shared key space after
// the edge keys have been offset past the interior grid, so a TileKey is
// unique across the whole partition.
type TileKey struct {
	Row int
	Col int
}

// Coord is a pixel coordinate in full-image space, stored in (row, col)
// order: Y is the row, X is the column.
type Coord struct {
	Y int
	X int
}

// Sequence is a fixed-length ordered run of sampled coordinates destined for
// one training example. Its length is always exactly the configured number
// of steps; partial runs are dropped by the sequence builder, never padded.
type Sequence []Coord
