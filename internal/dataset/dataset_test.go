package dataset

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"golang.org/x/image/tiff"

	"histoseq/pkg/config"
	"histoseq/pkg/seqbin"
)

// testConfig returns a config rooted at a temp data dir with small sampling
// geometry.
func testConfig(t *testing.T) *config.Config {
	t.Helper()
	cfg := config.DefaultConfig()
	cfg.Data.ImageDataDir = t.TempDir()
	cfg.Sampling.TileSize = 10
	cfg.Sampling.PatchSize = 4
	cfg.Sampling.SampleSize = 2
	cfg.Sampling.PatchKeepPercentage = 0
	cfg.Sampling.TileKeepPercentage = 35
	cfg.Sampling.MaximumStdDev = 2
	cfg.Sampling.MaximumSeqPerTile = 1
	cfg.Sampling.NumSteps = 3
	cfg.Processing.NumWorkers = 2
	cfg.Processing.Seed = 5
	cfg.Output.Verbose = false

	for _, dir := range []string{cfg.ImagesDir(), cfg.MasksDir()} {
		if err := os.MkdirAll(dir, 0755); err != nil {
			t.Fatalf("Failed to create %s: %v", dir, err)
		}
	}
	return cfg
}

// writeImageList writes an image list CSV under the data dir.
func writeImageList(t *testing.T, cfg *config.Config, rows []string) {
	t.Helper()
	content := "mode,subject,image,source\n" + strings.Join(rows, "\n") + "\n"
	if err := os.WriteFile(cfg.ImageListPath(), []byte(content), 0644); err != nil {
		t.Fatalf("Failed to write image list: %v", err)
	}
}

// writeMask encodes a 20x20 grayscale TIFF mask that is tissue everywhere
// except one bright pixel at the center of each 10x10 tile.
func writeMask(t *testing.T, path string) {
	t.Helper()
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for _, p := range []image.Point{{X: 5, Y: 5}, {X: 15, Y: 5}, {X: 5, Y: 15}, {X: 15, Y: 15}} {
		img.SetGray(p.X, p.Y, color.Gray{Y: 255})
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create mask file: %v", err)
	}
	defer f.Close()
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("Failed to encode mask: %v", err)
	}
}

// writeSlideImage encodes a 20x20 solid-color PNG standing in for the
// full-resolution slide.
func writeSlideImage(t *testing.T, path string) {
	t.Helper()
	img := image.NewNRGBA(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetNRGBA(x, y, color.NRGBA{R: 120, G: 60, B: 200, A: 255})
		}
	}
	f, err := os.Create(path)
	if err != nil {
		t.Fatalf("Failed to create image file: %v", err)
	}
	defer f.Close()
	if err := png.Encode(f, img); err != nil {
		t.Fatalf("Failed to encode image: %v", err)
	}
}

// TestLoadImageListFiltersByMode verifies CSV parsing, mode filtering and
// path resolution.
func TestLoadImageListFiltersByMode(t *testing.T) {
	cfg := testConfig(t)
	writeImageList(t, cfg, []string{
		"train,00-01,slide_a.png,CUMC",
		"test,00-02,slide_b.png,CUMC",
		"test,00-03,slide_c.png,Yale",
	})

	entries, err := LoadImageList(cfg.ImageListPath(), "test", cfg)
	if err != nil {
		t.Fatalf("LoadImageList failed: %v", err)
	}
	if len(entries) != 2 {
		t.Fatalf("Expected 2 test entries, got %d", len(entries))
	}
	e := entries[0]
	if e.Subject != "00-02" || e.ImageBase != "slide_b" {
		t.Errorf("Entry = %q/%q, expected 00-02/slide_b", e.Subject, e.ImageBase)
	}
	if filepath.Base(e.MaskPath) != "mask_slide_b.tif" {
		t.Errorf("MaskPath = %q, expected mask_slide_b.tif", e.MaskPath)
	}
	if filepath.Dir(e.ImagePath) != cfg.ImagesDir() {
		t.Errorf("ImagePath %q not under %q", e.ImagePath, cfg.ImagesDir())
	}
}

// TestLoadImageListRejectsMissingColumns verifies header validation.
func TestLoadImageListRejectsMissingColumns(t *testing.T) {
	cfg := testConfig(t)
	path := cfg.ImageListPath()
	if err := os.WriteFile(path, []byte("mode,subject\ntest,x\n"), 0644); err != nil {
		t.Fatalf("Failed to write image list: %v", err)
	}
	if _, err := LoadImageList(path, "test", cfg); err == nil {
		t.Error("Expected an error for a header missing required columns")
	}
}

// TestEntryErrorCodes verifies the missing-requirement bitmask and its CSV
// rendering.
func TestEntryErrorCodes(t *testing.T) {
	cfg := testConfig(t)
	writeImageList(t, cfg, []string{"test,11-11,slide_x.png,CUMC"})

	entries, err := LoadImageList(cfg.ImageListPath(), "test", cfg)
	if err != nil {
		t.Fatalf("LoadImageList failed: %v", err)
	}
	e := entries[0]
	if e.Ready() {
		t.Fatal("Entry with no files on disk must not be ready")
	}
	if e.ErrCode != ErrImageMissing|ErrMaskMissing {
		t.Errorf("ErrCode = %d, expected both bits set", e.ErrCode)
	}
	row := e.ErrorRow(false)
	if row[4] != "not found" || row[5] != "not found" {
		t.Errorf("ErrorRow = %v, expected image and mask marked not found", row)
	}

	// Adding the mask clears only its bit.
	writeMask(t, e.MaskPath)
	entries, err = LoadImageList(cfg.ImageListPath(), "test", cfg)
	if err != nil {
		t.Fatalf("LoadImageList failed: %v", err)
	}
	e = entries[0]
	if e.ErrCode != ErrImageMissing {
		t.Errorf("ErrCode = %d, expected only the image bit", e.ErrCode)
	}
	row = e.ErrorRow(false)
	if row[4] != "not found" || row[5] != "ok" {
		t.Errorf("ErrorRow = %v, expected image missing, mask ok", row)
	}
}

// TestBuilderEndToEnd verifies the full build: per-image binaries generated
// in parallel, missing-input and no-feature entries reported, combined
// stream decodable with the writer's fixed widths.
func TestBuilderEndToEnd(t *testing.T) {
	cfg := testConfig(t)
	writeImageList(t, cfg, []string{
		"test,00-02,slide_b.png,CUMC",
		"test,00-03,slide_c.png,CUMC", // inputs never created: error row
	})
	writeSlideImage(t, filepath.Join(cfg.ImagesDir(), "slide_b.png"))
	writeMask(t, filepath.Join(cfg.MasksDir(), "mask_slide_b.tif"))

	entries, err := LoadImageList(cfg.ImageListPath(), "test", cfg)
	if err != nil {
		t.Fatalf("LoadImageList failed: %v", err)
	}

	var combined bytes.Buffer
	errRows, err := NewBuilder(cfg, entries).Run(&combined)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(errRows) != 1 {
		t.Fatalf("Expected 1 error row, got %d", len(errRows))
	}
	if errRows[0][1] != "00-03" {
		t.Errorf("Error row for subject %q, expected 00-03", errRows[0][1])
	}

	// The per-image binary must exist and equal the combined stream.
	binPath := filepath.Join(cfg.PatchesDir(), "slide_b.bin")
	perImage, err := os.ReadFile(binPath)
	if err != nil {
		t.Fatalf("Per-image binary missing: %v", err)
	}
	if !bytes.Equal(perImage, combined.Bytes()) {
		t.Error("Combined stream differs from the single per-image binary")
	}

	// Decode every record: 4 kept 10x10 tiles, one 3-step sequence each.
	r := seqbin.NewReader(&combined, len("00-02"), cfg.Sampling.SampleSize, cfg.Sampling.NumSteps)
	records := 0
	for {
		rec, err := r.ReadRecord()
		if err == io.EOF {
			break
		}
		if err != nil {
			t.Fatalf("ReadRecord failed: %v", err)
		}
		records++
		if rec.SubjectID != "00-02" {
			t.Errorf("Record subject %q, expected 00-02", rec.SubjectID)
		}
		if rec.ImageBase != "slide_b" {
			t.Errorf("Record basename %q, expected slide_b", rec.ImageBase)
		}
		for _, c := range rec.Coords {
			if c.Y < 0 || c.Y > 20-cfg.Sampling.PatchSize || c.X < 0 || c.X > 20-cfg.Sampling.PatchSize {
				t.Errorf("Coordinate (%d,%d) violates patch bounds", c.Y, c.X)
			}
		}
	}
	if records != 4 {
		t.Errorf("Decoded %d records, expected 4", records)
	}
}

// TestBuilderNoFeatures verifies that an image whose mask is all background
// yields a "no features" error row and no binary.
func TestBuilderNoFeatures(t *testing.T) {
	cfg := testConfig(t)
	writeImageList(t, cfg, []string{"test,22-22,blank.png,CUMC"})
	writeSlideImage(t, filepath.Join(cfg.ImagesDir(), "blank.png"))

	// All-background mask: every pixel bright.
	img := image.NewGray(image.Rect(0, 0, 20, 20))
	for y := 0; y < 20; y++ {
		for x := 0; x < 20; x++ {
			img.SetGray(x, y, color.Gray{Y: 255})
		}
	}
	f, err := os.Create(filepath.Join(cfg.MasksDir(), "mask_blank.tif"))
	if err != nil {
		t.Fatalf("Failed to create mask: %v", err)
	}
	if err := tiff.Encode(f, img, nil); err != nil {
		t.Fatalf("Failed to encode mask: %v", err)
	}
	f.Close()

	entries, err := LoadImageList(cfg.ImageListPath(), "test", cfg)
	if err != nil {
		t.Fatalf("LoadImageList failed: %v", err)
	}

	var combined bytes.Buffer
	errRows, err := NewBuilder(cfg, entries).Run(&combined)
	if err != nil {
		t.Fatalf("Run failed: %v", err)
	}
	if len(errRows) != 1 {
		t.Fatalf("Expected 1 error row, got %d", len(errRows))
	}
	last := errRows[0][len(errRows[0])-1]
	if last != "no features" {
		t.Errorf("Error row outcome %q, expected \"no features\"", last)
	}
	if combined.Len() != 0 {
		t.Errorf("No-feature image wrote %d bytes", combined.Len())
	}
}

// TestWriteErrorCSV verifies the report format.
func TestWriteErrorCSV(t *testing.T) {
	path := filepath.Join(t.TempDir(), "errors.csv")
	rows := [][]string{
		{"test", "00-01", "a.png", "CUMC", "ok", "not found", "n/a"},
	}
	if err := WriteErrorCSV(path, rows); err != nil {
		t.Fatalf("WriteErrorCSV failed: %v", err)
	}
	data, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("Failed to read report: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("Expected header plus 1 row, got %d lines", len(lines))
	}
	if !strings.HasPrefix(lines[0], "mode,subject,image,source") {
		t.Errorf("Header = %q", lines[0])
	}
	if !strings.Contains(lines[1], "not found") {
		t.Errorf("Row = %q, expected a not-found marker", lines[1])
	}
}
