package seqbin

import (
	"bytes"
	"image"
	"image/color"
	"io"
	"strings"
	"testing"

	"histoseq/internal/models"
)

// flatImage builds a size-by-size image of one solid color.
func flatImage(size int, c color.NRGBA) image.Image {
	img := image.NewNRGBA(image.Rect(0, 0, size, size))
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			img.SetNRGBA(x, y, c)
		}
	}
	return img
}

// TestRecordRoundTrip verifies that encoding then decoding a record
// reproduces the subject ID, basename and the exact coordinate values.
func TestRecordRoundTrip(t *testing.T) {
	const (
		patchSize  = 8
		sampleSize = 4
		numSteps   = 3
		subject    = "00-42"
	)
	img := flatImage(64, color.NRGBA{R: 10, G: 20, B: 30, A: 255})
	seq := models.Sequence{
		{Y: 0, X: 0},
		{Y: 17, X: 42},
		{Y: 56, X: 3},
	}

	var buf bytes.Buffer
	w := NewWriter(&buf, patchSize, sampleSize, numSteps)
	if err := w.WriteRecord(subject, "slide_01", seq, img); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	if buf.Len() != RecordSize(len(subject), numSteps, sampleSize) {
		t.Errorf("Record is %d bytes, expected %d", buf.Len(), RecordSize(len(subject), numSteps, sampleSize))
	}

	r := NewReader(&buf, len(subject), sampleSize, numSteps)
	rec, err := r.ReadRecord()
	if err != nil {
		t.Fatalf("ReadRecord failed: %v", err)
	}
	if rec.SubjectID != subject {
		t.Errorf("Subject ID %q, expected %q", rec.SubjectID, subject)
	}
	if rec.ImageBase != "slide_01" {
		t.Errorf("Image basename %q, expected %q", rec.ImageBase, "slide_01")
	}
	for i, c := range rec.Coords {
		if c != seq[i] {
			t.Errorf("Coordinate %d decoded as %v, expected %v", i, c, seq[i])
		}
	}

	// A solid-color source rescales to solid-color patches.
	for i, patch := range rec.Patches {
		if len(patch) != sampleSize*sampleSize*Channels {
			t.Fatalf("Patch %d is %d bytes, expected %d", i, len(patch), sampleSize*sampleSize*Channels)
		}
		for j := 0; j < len(patch); j += Channels {
			if patch[j] != 10 || patch[j+1] != 20 || patch[j+2] != 30 {
				t.Fatalf("Patch %d pixel %d = (%d,%d,%d), expected (10,20,30)",
					i, j/Channels, patch[j], patch[j+1], patch[j+2])
			}
		}
	}

	// The stream must end exactly at the record boundary.
	if _, err := r.ReadRecord(); err != io.EOF {
		t.Errorf("Expected io.EOF after the last record, got %v", err)
	}
}

// TestMultipleRecords verifies that concatenated records decode in order
// with no delimiters between them.
func TestMultipleRecords(t *testing.T) {
	img := flatImage(32, color.NRGBA{R: 5, G: 5, B: 5, A: 255})
	var buf bytes.Buffer
	w := NewWriter(&buf, 4, 2, 2)

	first := models.Sequence{{Y: 1, X: 2}, {Y: 3, X: 4}}
	second := models.Sequence{{Y: 11, X: 12}, {Y: 13, X: 14}}
	for _, seq := range []models.Sequence{first, second} {
		if err := w.WriteRecord("A1", "img", seq, img); err != nil {
			t.Fatalf("WriteRecord failed: %v", err)
		}
	}

	r := NewReader(&buf, 2, 2, 2)
	for i, want := range []models.Sequence{first, second} {
		rec, err := r.ReadRecord()
		if err != nil {
			t.Fatalf("ReadRecord %d failed: %v", i, err)
		}
		for j, c := range rec.Coords {
			if c != want[j] {
				t.Errorf("Record %d coordinate %d = %v, expected %v", i, j, c, want[j])
			}
		}
	}
}

// TestBasenamePadding verifies the 100-byte left-justified space padding.
func TestBasenamePadding(t *testing.T) {
	img := flatImage(16, color.NRGBA{A: 255})
	var buf bytes.Buffer
	w := NewWriter(&buf, 4, 2, 1)
	if err := w.WriteRecord("X", "short", models.Sequence{{Y: 0, X: 0}}, img); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}

	raw := buf.Bytes()
	nameField := string(raw[1 : 1+BasenameWidth])
	if !strings.HasPrefix(nameField, "short") {
		t.Errorf("Basename field starts with %q, expected %q", nameField[:5], "short")
	}
	if strings.TrimRight(nameField, " ") != "short" {
		t.Errorf("Basename field %q is not space-padded", nameField)
	}
	if len(nameField) != BasenameWidth {
		t.Errorf("Basename field is %d bytes, expected %d", len(nameField), BasenameWidth)
	}
}

// TestCoordinateFieldFormat verifies the 6-character left-justified decimal
// encoding, y before x.
func TestCoordinateFieldFormat(t *testing.T) {
	img := flatImage(16, color.NRGBA{A: 255})
	var buf bytes.Buffer
	w := NewWriter(&buf, 4, 2, 1)
	if err := w.WriteRecord("X", "img", models.Sequence{{Y: 7, X: 123456}}, img); err == nil {
		// 123456 fits 6 characters, but the 16px image cannot host the
		// patch; rebuild with an in-bounds coordinate below.
		t.Fatal("Expected an out-of-bounds patch error for x=123456 on a 16px image")
	}

	buf.Reset()
	if err := w.WriteRecord("X", "img", models.Sequence{{Y: 7, X: 11}}, img); err != nil {
		t.Fatalf("WriteRecord failed: %v", err)
	}
	coordBlock := string(buf.Bytes()[1+BasenameWidth : 1+BasenameWidth+2*CoordWidth])
	if coordBlock != "7     11    " {
		t.Errorf("Coordinate block %q, expected %q", coordBlock, "7     11    ")
	}
}

// TestWriterRejectsBadInput verifies the writer's input validation.
func TestWriterRejectsBadInput(t *testing.T) {
	img := flatImage(64, color.NRGBA{A: 255})
	var buf bytes.Buffer
	w := NewWriter(&buf, 8, 4, 2)

	// Wrong sequence length.
	if err := w.WriteRecord("X", "img", models.Sequence{{Y: 0, X: 0}}, img); err == nil {
		t.Error("Expected an error for a sequence shorter than numSteps")
	}

	// Coordinate too wide for its field.
	wide := models.Sequence{{Y: 1000000, X: 0}, {Y: 0, X: 0}}
	if err := w.WriteRecord("X", "img", wide, img); err == nil {
		t.Error("Expected an error for a 7-digit coordinate")
	}

	// Negative coordinate.
	neg := models.Sequence{{Y: -1, X: 0}, {Y: 0, X: 0}}
	if err := w.WriteRecord("X", "img", neg, img); err == nil {
		t.Error("Expected an error for a negative coordinate")
	}

	// Basename over 100 bytes.
	long := strings.Repeat("a", BasenameWidth+1)
	ok := models.Sequence{{Y: 0, X: 0}, {Y: 8, X: 8}}
	if err := w.WriteRecord("X", long, ok, img); err == nil {
		t.Error("Expected an error for an over-long basename")
	}

	// Patch window outside the image.
	outside := models.Sequence{{Y: 60, X: 60}, {Y: 0, X: 0}}
	if err := w.WriteRecord("X", "img", outside, img); err == nil {
		t.Error("Expected an error for a patch window outside the image")
	}
}
