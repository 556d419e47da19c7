// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"encoding/csv"
	"fmt"
	"io"
	"math/rand"
	"os"
	"strconv"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

// seedTableHeader is the fixed CSV header of a persisted seed table.
var seedTableHeader = []string{"var", "rep", "seed"}

// SeedTable is the dense (variant, replic) → seed mapping for one
// batch, 1-based on both axes. It is created once (generated or
// loaded) and treated as immutable from the moment a batch starts.
type SeedTable struct {
	numVariants int
	numReplics  int
	// seeds[v-1][r-1] is the seed of (variant v, replic r).
	seeds [][]int64
}

// GenerateSeedTable fills a numVariants × numReplics table with
// independently drawn seeds in [MinSeed, MaxSeed]. rng may be nil to
// draw from the shared global source.
func GenerateSeedTable(numVariants, numReplics int, rng *rand.Rand) (*SeedTable, error) {
	t, err := newSeedTable(numVariants, numReplics)
	if err != nil {
		return nil, err
	}
	for v := 0; v < numVariants; v++ {
		for r := 0; r < numReplics; r++ {
			t.seeds[v][r] = sim.NewSeed(rng)
		}
	}
	return t, nil
}

// NewSeedTableFromCells builds a table from explicit [variant, replic,
// seed] triples, the shape the settings JSON persists. Every cell of
// the declared dimensions must be covered exactly once; extra cells
// beyond the dimensions are ignored.
func NewSeedTableFromCells(numVariants, numReplics int, cells [][3]int64) (*SeedTable, error) {
	t, err := newSeedTable(numVariants, numReplics)
	if err != nil {
		return nil, err
	}
	for i, c := range cells {
		if err := t.setCell(int(c[0]), int(c[1]), c[2], i+1); err != nil {
			return nil, err
		}
	}
	return t, t.checkComplete()
}

func newSeedTable(numVariants, numReplics int) (*SeedTable, error) {
	if numVariants < 1 || numReplics < 1 {
		return nil, fmt.Errorf("seed table dimensions %dx%d must both be >= 1", numVariants, numReplics)
	}
	seeds := make([][]int64, numVariants)
	for v := range seeds {
		seeds[v] = make([]int64, numReplics)
	}
	return &SeedTable{numVariants: numVariants, numReplics: numReplics, seeds: seeds}, nil
}

// NumVariants returns the variant dimension of the table.
func (t *SeedTable) NumVariants() int {
	return t.numVariants
}

// NumReplics returns the per-variant replication dimension.
func (t *SeedTable) NumReplics() int {
	return t.numReplics
}

// Seed returns the seed assigned to (variantID, replicID), both
// 1-based.
func (t *SeedTable) Seed(variantID, replicID int) (int64, error) {
	if variantID < sim.MinVariantID || variantID > t.numVariants {
		return 0, fmt.Errorf("variant ID %d outside [1, %d]", variantID, t.numVariants)
	}
	if replicID < sim.MinReplicID || replicID > t.numReplics {
		return 0, fmt.Errorf("replication ID %d outside [1, %d]", replicID, t.numReplics)
	}
	return t.seeds[variantID-1][replicID-1], nil
}

// Cells returns the table as [variant, replic, seed] triples in
// variant-major order, the stable order used by both the CSV dump and
// the settings JSON.
func (t *SeedTable) Cells() [][3]int64 {
	cells := make([][3]int64, 0, t.numVariants*t.numReplics)
	for v := 1; v <= t.numVariants; v++ {
		for r := 1; r <= t.numReplics; r++ {
			cells = append(cells, [3]int64{int64(v), int64(r), t.seeds[v-1][r-1]})
		}
	}
	return cells
}

// setCell records one parsed cell, validating ranges and rejecting
// duplicates. Cells addressed beyond the table's dimensions are
// silently ignored. row is the 1-based data row for error reporting.
func (t *SeedTable) setCell(variantID, replicID int, seed int64, row int) error {
	if variantID < sim.MinVariantID || replicID < sim.MinReplicID {
		return &SeedTableError{
			Kind: SeedTableOutOfRange,
			Row:  row,
			Err:  fmt.Errorf("variant %d, replic %d: IDs are 1-based", variantID, replicID),
		}
	}
	if variantID > t.numVariants || replicID > t.numReplics {
		return nil
	}
	if err := sim.CheckSeed(seed); err != nil {
		return &SeedTableError{Kind: SeedTableOutOfRange, Row: row, Err: err}
	}
	if t.seeds[variantID-1][replicID-1] != 0 {
		return &SeedTableError{
			Kind: SeedTableDuplicate,
			Row:  row,
			Err:  fmt.Errorf("variant %d, replic %d already assigned", variantID, replicID),
		}
	}
	t.seeds[variantID-1][replicID-1] = seed
	return nil
}

// checkComplete verifies that every cell was assigned. Valid seeds are
// never zero, so zero marks a hole.
func (t *SeedTable) checkComplete() error {
	for v := 1; v <= t.numVariants; v++ {
		for r := 1; r <= t.numReplics; r++ {
			if t.seeds[v-1][r-1] == 0 {
				return &SeedTableError{
					Kind: SeedTableIncomplete,
					Err:  fmt.Errorf("no seed for variant %d, replic %d", v, r),
				}
			}
		}
	}
	return nil
}

// Write dumps the table as CSV with header "var,rep,seed" and one row
// per cell in variant-major order. The row order is stable so that
// save, load, save produces byte-identical data.
func (t *SeedTable) Write(w io.Writer) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(seedTableHeader); err != nil {
		return err
	}
	for _, c := range t.Cells() {
		row := []string{
			strconv.FormatInt(c[0], 10),
			strconv.FormatInt(c[1], 10),
			strconv.FormatInt(c[2], 10),
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// Save writes the table to a CSV file, replacing any existing file.
func (t *SeedTable) Save(path string) error {
	f, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("save seed table: %w", err)
	}
	if err := t.Write(f); err != nil {
		f.Close()
		return fmt.Errorf("save seed table: %w", err)
	}
	return f.Close()
}

// ReadSeedTable parses a CSV seed table with the declared dimensions.
// The header row is optional. Rows addressing cells beyond the
// dimensions are ignored; any hole, duplicate, malformed row, or
// out-of-range value fails with a *SeedTableError identifying the
// kind and row.
func ReadSeedTable(r io.Reader, numVariants, numReplics int) (*SeedTable, error) {
	t, err := newSeedTable(numVariants, numReplics)
	if err != nil {
		return nil, err
	}
	cr := csv.NewReader(r)
	cr.FieldsPerRecord = -1
	row := 0
	for {
		rec, err := cr.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, &SeedTableError{Kind: SeedTableMalformed, Row: row + 1, Err: err}
		}
		if row == 0 && len(rec) > 0 && rec[0] == seedTableHeader[0] {
			continue
		}
		row++
		if len(rec) != 3 {
			return nil, &SeedTableError{
				Kind: SeedTableMalformed,
				Row:  row,
				Err:  fmt.Errorf("expected 3 fields, got %d", len(rec)),
			}
		}
		var vals [3]int64
		for i, s := range rec {
			v, err := strconv.ParseInt(s, 10, 64)
			if err != nil {
				return nil, &SeedTableError{Kind: SeedTableMalformed, Row: row, Err: err}
			}
			vals[i] = v
		}
		if err := t.setCell(int(vals[0]), int(vals[1]), vals[2], row); err != nil {
			return nil, err
		}
	}
	return t, t.checkComplete()
}

// LoadSeedTable reads a CSV seed table file.
func LoadSeedTable(path string, numVariants, numReplics int) (*SeedTable, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("load seed table: %w", err)
	}
	defer f.Close()
	return ReadSeedTable(f, numVariants, numReplics)
}
