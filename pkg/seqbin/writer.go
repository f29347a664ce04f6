// Package seqbin reads and writes the fixed-layout binary container consumed
// by the downstream recurrent training pipeline.
//
// One record per sequence, concatenated with no delimiters:
//
//	subject ID    caller-supplied ASCII, fixed by convention, no padding
//	image base    100 bytes, left-justified, space-padded, no extension
//	coordinates   numSteps pairs of (y, x), each a 6-char left-justified
//	              ASCII decimal field
//	patches       numSteps patches of sampleSize x sampleSize x 3 bytes,
//	              row-major, channel-last, one per coordinate in order
//
// Reconstruction relies on the fixed field widths plus a priori knowledge of
// numSteps, sampleSize and the subject ID length.
package seqbin

import (
	"fmt"
	"image"
	"io"

	xdraw "golang.org/x/image/draw"

	"histoseq/internal/models"
)

const (
	// BasenameWidth is the fixed width of the image basename field.
	BasenameWidth = 100

	// CoordWidth is the fixed width of one coordinate field.
	CoordWidth = 6

	// Channels is the per-pixel channel count of a serialized patch.
	Channels = 3

	// maxCoord is the largest value a coordinate field can hold.
	maxCoord = 999999
)

// Writer serializes sequences for one image onto an append-only byte sink.
type Writer struct {
	w          io.Writer
	patchSize  int
	sampleSize int
	numSteps   int
}

// NewWriter creates a record writer. patchSize is the side of the square
// window extracted from the full-resolution image, sampleSize the side it is
// rescaled to before serialization.
func NewWriter(w io.Writer, patchSize, sampleSize, numSteps int) *Writer {
	return &Writer{w: w, patchSize: patchSize, sampleSize: sampleSize, numSteps: numSteps}
}

// WriteRecord appends one record: the subject ID, the padded image basename,
// the sequence's coordinate block and the rescaled patches cut from img at
// each coordinate. imageBase must already have its extension stripped and
// fit the 100-byte field; every coordinate must fit a 6-character decimal
// field and support a full patch window inside img.
func (bw *Writer) WriteRecord(subjectID, imageBase string, seq models.Sequence, img image.Image) error {
	if len(seq) != bw.numSteps {
		return fmt.Errorf("sequence has %d steps, writer configured for %d", len(seq), bw.numSteps)
	}
	if len(imageBase) > BasenameWidth {
		return fmt.Errorf("image basename %q exceeds %d bytes", imageBase, BasenameWidth)
	}

	if _, err := io.WriteString(bw.w, subjectID); err != nil {
		return fmt.Errorf("failed to write subject ID: %v", err)
	}
	if _, err := fmt.Fprintf(bw.w, "%-*s", BasenameWidth, imageBase); err != nil {
		return fmt.Errorf("failed to write image basename: %v", err)
	}
	if err := bw.writeCoords(seq); err != nil {
		return err
	}
	for _, c := range seq {
		if err := bw.writePatch(img, c); err != nil {
			return fmt.Errorf("failed to write patch at (%d,%d): %v", c.Y, c.X, err)
		}
	}
	return nil
}

// writeCoords emits the fixed-width coordinate block, y before x.
func (bw *Writer) writeCoords(seq models.Sequence) error {
	for _, c := range seq {
		for _, v := range [2]int{c.Y, c.X} {
			if v < 0 || v > maxCoord {
				return fmt.Errorf("coordinate %d does not fit a %d-character field", v, CoordWidth)
			}
			if _, err := fmt.Fprintf(bw.w, "%-*d", CoordWidth, v); err != nil {
				return fmt.Errorf("failed to write coordinates: %v", err)
			}
		}
	}
	return nil
}

// writePatch extracts the patch window anchored at c, rescales it to
// sampleSize and writes the raw RGB bytes.
func (bw *Writer) writePatch(img image.Image, c models.Coord) error {
	bounds := img.Bounds()
	sr := image.Rect(
		bounds.Min.X+c.X,
		bounds.Min.Y+c.Y,
		bounds.Min.X+c.X+bw.patchSize,
		bounds.Min.Y+c.Y+bw.patchSize,
	)
	if !sr.In(bounds) {
		return fmt.Errorf("patch window %v outside image bounds %v", sr, bounds)
	}

	dst := image.NewRGBA(image.Rect(0, 0, bw.sampleSize, bw.sampleSize))
	xdraw.CatmullRom.Scale(dst, dst.Bounds(), img, sr, xdraw.Src, nil)

	row := make([]byte, bw.sampleSize*Channels)
	for y := 0; y < bw.sampleSize; y++ {
		for x := 0; x < bw.sampleSize; x++ {
			i := dst.PixOffset(x, y)
			copy(row[x*Channels:], dst.Pix[i:i+Channels])
		}
		if _, err := bw.w.Write(row); err != nil {
			return err
		}
	}
	return nil
}

// RecordSize returns the byte length of one record for the given subject ID
// length, sequence length and patch sample size.
func RecordSize(idLen, numSteps, sampleSize int) int {
	return idLen + BasenameWidth + numSteps*2*CoordWidth + numSteps*sampleSize*sampleSize*Channels
}
