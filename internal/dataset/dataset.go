// Package dataset handles the orchestration around the per-image pipeline:
// the image list CSV, per-image path bookkeeping and requirements checks,
// parallel generation of per-image binaries and their concatenation into the
// combined output consumed by training.
package dataset

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"histoseq/pkg/config"
	"histoseq/pkg/mask"
	"histoseq/pkg/pipeline"
	"histoseq/pkg/seqbin"
)

// Requirement bits for an image list entry. An entry's error code is the OR
// of the bits for everything missing on disk; zero means ready to process.
const (
	ErrImageMissing = 1 << 1
	ErrMaskMissing  = 1 << 0
)

// Entry is one image list row plus its resolved paths and readiness state.
type Entry struct {
	Mode    string
	Subject string
	Image   string
	Source  string

	// ImageBase is the image file name without extension; it names the mask,
	// the per-image binary and the basename field inside each record.
	ImageBase string

	ImagePath string
	MaskPath  string
	BinPath   string

	// ErrCode is the OR of the missing-requirement bits.
	ErrCode int
}

// newEntry resolves an image list row against the configured data layout:
// the image under original_images/, the mask as masks/mask_<base>.tif and
// the per-image binary under gaussian_patches/.
func newEntry(mode, subject, image, source string, cfg *config.Config) *Entry {
	base := strings.TrimSuffix(image, filepath.Ext(image))
	e := &Entry{
		Mode:      mode,
		Subject:   subject,
		Image:     image,
		Source:    source,
		ImageBase: base,
		ImagePath: filepath.Join(cfg.ImagesDir(), image),
		MaskPath:  filepath.Join(cfg.MasksDir(), "mask_"+base+".tif"),
		BinPath:   filepath.Join(cfg.PatchesDir(), base+".bin"),
	}
	if _, err := os.Stat(e.ImagePath); err != nil {
		e.ErrCode |= ErrImageMissing
	}
	if _, err := os.Stat(e.MaskPath); err != nil {
		e.ErrCode |= ErrMaskMissing
	}
	return e
}

// Ready reports whether every input the entry needs exists on disk.
func (e *Entry) Ready() bool { return e.ErrCode == 0 }

// NeedsBin reports whether the per-image binary still has to be generated.
func (e *Entry) NeedsBin() bool {
	_, err := os.Stat(e.BinPath)
	return err != nil
}

// ErrorRow renders the entry as one row of the error-report CSV. noFeatures
// marks an entry whose inputs were present but whose mask yielded no
// sequences.
func (e *Entry) ErrorRow(noFeatures bool) []string {
	status := func(bit int) string {
		if e.ErrCode&bit != 0 {
			return "not found"
		}
		return "ok"
	}
	other := "n/a"
	if noFeatures {
		other = "no features"
	}
	return []string{e.Mode, e.Subject, e.Image, e.Source, status(ErrImageMissing), status(ErrMaskMissing), other}
}

// errorHeader is the error-report CSV header matching ErrorRow.
var errorHeader = []string{"mode", "subject", "image", "source", "image", "mask", "other"}

// LoadImageList reads the image list CSV (header mode,subject,image,source)
// and returns the entries matching the requested mode, in file order.
func LoadImageList(path, mode string, cfg *config.Config) ([]*Entry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open image list: %v", err)
	}
	defer f.Close()

	reader := csv.NewReader(f)
	header, err := reader.Read()
	if err != nil {
		return nil, fmt.Errorf("failed to read image list header: %v", err)
	}
	col := make(map[string]int, len(header))
	for i, name := range header {
		col[strings.TrimSpace(strings.ToLower(name))] = i
	}
	for _, required := range []string{"mode", "subject", "image", "source"} {
		if _, ok := col[required]; !ok {
			return nil, fmt.Errorf("image list is missing the %q column", required)
		}
	}

	var entries []*Entry
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("failed to read image list: %v", err)
		}
		field := func(name string) string { return strings.TrimSpace(row[col[name]]) }
		if field("mode") != mode {
			continue
		}
		entries = append(entries, newEntry(field("mode"), field("subject"), field("image"), field("source"), cfg))
	}
	return entries, nil
}

// Builder generates the per-image binaries for a set of entries and
// concatenates them into one combined stream.
type Builder struct {
	cfg     *config.Config
	entries []*Entry
}

// NewBuilder creates a builder over the given entries.
func NewBuilder(cfg *config.Config, entries []*Entry) *Builder {
	return &Builder{cfg: cfg, entries: entries}
}

// result is the per-entry outcome collected from the workers.
type result struct {
	noFeatures bool
	err        error
}

// Run processes every entry and appends each per-image binary to out in
// list order. Entries are processed by a bounded worker pool; images have no
// shared mutable state, so the only coordination is the job channel and the
// final ordered concatenation. It returns the error-report rows for entries
// that could not be processed. Only infrastructure failures (unreadable
// inputs, write errors) abort the run.
func (b *Builder) Run(out io.Writer) ([][]string, error) {
	if err := os.MkdirAll(b.cfg.PatchesDir(), 0755); err != nil {
		return nil, fmt.Errorf("failed to create patches directory: %v", err)
	}

	jobs := make(chan int)
	results := make([]result, len(b.entries))

	workers := b.cfg.Processing.NumWorkers
	if workers > len(b.entries) {
		workers = len(b.entries)
	}
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range jobs {
				results[i] = b.process(b.entries[i], uint64(i))
			}
		}()
	}
	for i, e := range b.entries {
		if e.Ready() && e.NeedsBin() {
			jobs <- i
		}
	}
	close(jobs)
	wg.Wait()

	var errRows [][]string
	for i, e := range b.entries {
		res := results[i]
		if res.err != nil {
			return errRows, fmt.Errorf("failed to process %s: %v", e.ImageBase, res.err)
		}
		if !e.Ready() {
			errRows = append(errRows, e.ErrorRow(false))
			continue
		}
		if res.noFeatures {
			errRows = append(errRows, e.ErrorRow(true))
			continue
		}
		if err := appendFile(out, e.BinPath); err != nil {
			return errRows, fmt.Errorf("failed to append %s: %v", e.BinPath, err)
		}
	}
	return errRows, nil
}

// process generates one entry's binary. The per-image seed is derived from
// the configured seed and the entry's list position, so a fixed
// configuration reproduces identical binaries regardless of worker
// scheduling.
func (b *Builder) process(e *Entry, index uint64) result {
	m, err := mask.Load(e.MaskPath)
	if err != nil {
		return result{err: err}
	}

	gen := pipeline.NewGenerator(m, b.cfg, b.cfg.Processing.Seed+index)
	sequences, err := gen.Process()
	if errors.Is(err, pipeline.ErrNoFeatures) {
		return result{noFeatures: true}
	}
	if err != nil {
		return result{err: err}
	}

	img, err := mask.LoadImage(e.ImagePath)
	if err != nil {
		return result{err: err}
	}

	f, err := os.Create(e.BinPath)
	if err != nil {
		return result{err: err}
	}
	defer f.Close()

	s := &b.cfg.Sampling
	w := seqbin.NewWriter(f, s.PatchSize, s.SampleSize, s.NumSteps)
	for _, seq := range sequences {
		if err := w.WriteRecord(e.Subject, e.ImageBase, seq, img); err != nil {
			return result{err: err}
		}
	}
	return result{}
}

// appendFile copies the file at path onto out.
func appendFile(out io.Writer, path string) error {
	f, err := os.Open(path)
	if err != nil {
		return err
	}
	defer f.Close()
	_, err = io.Copy(out, f)
	return err
}

// WriteErrorCSV writes the error-report rows collected by Run.
func WriteErrorCSV(path string, rows [][]string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create error report: %v", err)
	}
	defer f.Close()

	w := csv.NewWriter(f)
	if err := w.Write(errorHeader); err != nil {
		return fmt.Errorf("failed to write error report: %v", err)
	}
	for _, row := range rows {
		if err := w.Write(row); err != nil {
			return fmt.Errorf("failed to write error report: %v", err)
		}
	}
	w.Flush()
	return w.Error()
}
