// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

// BatchSettings configures one batch run. Settings are owned by the
// orchestrator and may be changed only while it is Ready.
type BatchSettings struct {
	// BatchRunsPath is the root folder under which batch run folders
	// are created.
	BatchRunsPath string

	NumVariants          int
	NumReplicsPerVariant int

	// NumCoresWanted caps concurrency; 0 means "use all available".
	NumCoresWanted int

	// AutoSeed generates a fresh seed table at batch start; otherwise
	// SeedTable supplies the seeds. Exactly one of the two holds:
	// AutoSeed implies SeedTable == nil and vice versa.
	AutoSeed  bool
	SeedTable *SeedTable

	// SaveScenarioOnExit makes each replication save its final
	// scenario state when it ends, whatever the outcome.
	SaveScenarioOnExit bool

	// ReplicSteps overrides the scenario's own step settings for every
	// replication; nil uses the scenario defaults.
	ReplicSteps *sim.Steps
}

// DefaultBatchSettings returns the settings a fresh orchestrator
// starts with: 1x1, all cores, auto seed.
func DefaultBatchSettings() BatchSettings {
	return BatchSettings{
		NumVariants:          1,
		NumReplicsPerVariant: 1,
		AutoSeed:             true,
	}
}

// Validate checks dimension ranges and the auto-seed/seed-table
// invariant, including that a supplied table matches the declared
// dimensions.
func (s *BatchSettings) Validate() error {
	if s.NumVariants < 1 {
		return fmt.Errorf("num variants %d must be >= 1", s.NumVariants)
	}
	if s.NumReplicsPerVariant < 1 {
		return fmt.Errorf("num replications per variant %d must be >= 1", s.NumReplicsPerVariant)
	}
	if s.NumCoresWanted < 0 {
		return fmt.Errorf("num cores wanted %d must be >= 0", s.NumCoresWanted)
	}
	if s.AutoSeed {
		if s.SeedTable != nil {
			return errors.New("auto seed is set but a seed table is also present")
		}
		return nil
	}
	if s.SeedTable == nil {
		return errors.New("auto seed is off but no seed table is present")
	}
	if s.SeedTable.NumVariants() != s.NumVariants || s.SeedTable.NumReplics() != s.NumReplicsPerVariant {
		return fmt.Errorf("seed table is %dx%d but settings declare %dx%d",
			s.SeedTable.NumVariants(), s.SeedTable.NumReplics(),
			s.NumVariants, s.NumReplicsPerVariant)
	}
	return nil
}

// TotalReplications returns NumVariants × NumReplicsPerVariant.
func (s *BatchSettings) TotalReplications() int {
	return s.NumVariants * s.NumReplicsPerVariant
}

// batchSettingsJSON is the persisted document shape. The seed table is
// stored as [variant, replic, seed] triples.
type batchSettingsJSON struct {
	BatchRunsPath        string     `json:"batch_runs_path"`
	NumVariants          int        `json:"num_variants"`
	NumReplicsPerVariant int        `json:"num_replics_per_variant"`
	NumCoresWanted       int        `json:"num_cores_wanted"`
	AutoSeed             bool       `json:"auto_seed"`
	SeedTable            [][3]int64 `json:"seed_table"`
	SaveScenOnExit       bool       `json:"save_scen_on_exit"`
	ReplicSteps          *sim.Steps `json:"replic_steps"`

	// LegacyRunsPath is the pre-rename key for BatchRunsPath, accepted
	// on load and never written.
	LegacyRunsPath string `json:"results_root_path,omitempty"`
}

// MarshalJSON writes the settings in the persisted document shape.
func (s BatchSettings) MarshalJSON() ([]byte, error) {
	doc := batchSettingsJSON{
		BatchRunsPath:        s.BatchRunsPath,
		NumVariants:          s.NumVariants,
		NumReplicsPerVariant: s.NumReplicsPerVariant,
		NumCoresWanted:       s.NumCoresWanted,
		AutoSeed:             s.AutoSeed,
		SaveScenOnExit:       s.SaveScenarioOnExit,
		ReplicSteps:          s.ReplicSteps,
	}
	if s.SeedTable != nil {
		doc.SeedTable = s.SeedTable.Cells()
	}
	return json.Marshal(doc)
}

// UnmarshalJSON reads the persisted document shape, accepting the
// legacy results_root_path key, and validates the result.
func (s *BatchSettings) UnmarshalJSON(data []byte) error {
	var doc batchSettingsJSON
	if err := json.Unmarshal(data, &doc); err != nil {
		return err
	}
	out := BatchSettings{
		BatchRunsPath:        doc.BatchRunsPath,
		NumVariants:          doc.NumVariants,
		NumReplicsPerVariant: doc.NumReplicsPerVariant,
		NumCoresWanted:       doc.NumCoresWanted,
		AutoSeed:             doc.AutoSeed,
		SaveScenarioOnExit:   doc.SaveScenOnExit,
		ReplicSteps:          doc.ReplicSteps,
	}
	if out.BatchRunsPath == "" {
		out.BatchRunsPath = doc.LegacyRunsPath
	}
	if doc.SeedTable != nil {
		table, err := NewSeedTableFromCells(doc.NumVariants, doc.NumReplicsPerVariant, doc.SeedTable)
		if err != nil {
			return err
		}
		out.SeedTable = table
	}
	if err := out.Validate(); err != nil {
		return err
	}
	*s = out
	return nil
}

// LoadBatchSettings reads a settings JSON file. A missing file is not
// an error: it returns the defaults, so a scenario without persisted
// batch settings starts from a clean slate.
func LoadBatchSettings(path string) (BatchSettings, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		return DefaultBatchSettings(), nil
	}
	if err != nil {
		return BatchSettings{}, fmt.Errorf("load batch settings: %w", err)
	}
	var s BatchSettings
	if err := json.Unmarshal(data, &s); err != nil {
		return BatchSettings{}, fmt.Errorf("load batch settings: %w", err)
	}
	return s, nil
}

// Save writes the settings JSON file, replacing any existing file.
func (s *BatchSettings) Save(path string) error {
	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return fmt.Errorf("save batch settings: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("save batch settings: %w", err)
	}
	return nil
}
