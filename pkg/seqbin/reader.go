package seqbin

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"histoseq/internal/models"
)

// Record is one decoded sequence record.
type Record struct {
	SubjectID string
	ImageBase string
	Coords    models.Sequence

	// Patches holds one raw RGB pixel block per coordinate, row-major,
	// channel-last, sampleSize*sampleSize*Channels bytes each.
	Patches [][]byte
}

// Reader decodes records from a stream written by Writer. The stream format
// carries no delimiters, so the reader must be configured with the same
// subject ID length, step count and sample size the writer used.
type Reader struct {
	r          io.Reader
	idLen      int
	sampleSize int
	numSteps   int
}

// NewReader creates a record reader over r.
func NewReader(r io.Reader, idLen, sampleSize, numSteps int) *Reader {
	return &Reader{r: r, idLen: idLen, sampleSize: sampleSize, numSteps: numSteps}
}

// ReadRecord decodes the next record. It returns io.EOF at a clean record
// boundary and a descriptive error when the stream ends mid-record.
func (br *Reader) ReadRecord() (*Record, error) {
	id := make([]byte, br.idLen)
	if _, err := io.ReadFull(br.r, id); err != nil {
		if err == io.EOF {
			return nil, io.EOF
		}
		return nil, fmt.Errorf("failed to read subject ID: %v", err)
	}

	name := make([]byte, BasenameWidth)
	if _, err := io.ReadFull(br.r, name); err != nil {
		return nil, fmt.Errorf("failed to read image basename: %v", err)
	}

	rec := &Record{
		SubjectID: string(id),
		ImageBase: strings.TrimRight(string(name), " "),
		Coords:    make(models.Sequence, br.numSteps),
		Patches:   make([][]byte, br.numSteps),
	}

	field := make([]byte, CoordWidth)
	for i := 0; i < br.numSteps; i++ {
		var pair [2]int
		for j := 0; j < 2; j++ {
			if _, err := io.ReadFull(br.r, field); err != nil {
				return nil, fmt.Errorf("failed to read coordinates: %v", err)
			}
			v, err := strconv.Atoi(strings.TrimRight(string(field), " "))
			if err != nil {
				return nil, fmt.Errorf("malformed coordinate field %q: %v", field, err)
			}
			pair[j] = v
		}
		rec.Coords[i] = models.Coord{Y: pair[0], X: pair[1]}
	}

	patchLen := br.sampleSize * br.sampleSize * Channels
	for i := 0; i < br.numSteps; i++ {
		rec.Patches[i] = make([]byte, patchLen)
		if _, err := io.ReadFull(br.r, rec.Patches[i]); err != nil {
			return nil, fmt.Errorf("failed to read patch %d: %v", i, err)
		}
	}
	return rec, nil
}
