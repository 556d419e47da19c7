// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/DND-DRDC-RDDC/OS-ORIGAME-sub003/sim"
)

func TestBatchSettingsValidate(t *testing.T) {
	s := DefaultBatchSettings()
	require.NoError(t, s.Validate())

	s.NumVariants = 0
	require.Error(t, s.Validate())
	s = DefaultBatchSettings()

	s.NumCoresWanted = -1
	require.Error(t, s.Validate())
	s = DefaultBatchSettings()

	// auto seed and an explicit table are mutually exclusive.
	table, err := GenerateSeedTable(1, 1, nil)
	require.NoError(t, err)
	s.SeedTable = table
	require.Error(t, s.Validate())

	s.AutoSeed = false
	require.NoError(t, s.Validate())

	s.SeedTable = nil
	require.Error(t, s.Validate(), "no auto seed and no table")

	// Table dimensions must match the declared dimensions.
	s.SeedTable = table
	s.NumVariants = 2
	require.Error(t, s.Validate())
}

func TestBatchSettingsJSONRoundTrip(t *testing.T) {
	table, err := GenerateSeedTable(2, 2, nil)
	require.NoError(t, err)
	steps := sim.DefaultSteps()
	steps.End.MaxSimTimeDays = 30

	s := BatchSettings{
		BatchRunsPath:        "/tmp/batches",
		NumVariants:          2,
		NumReplicsPerVariant: 2,
		NumCoresWanted:       3,
		AutoSeed:             false,
		SeedTable:            table,
		SaveScenarioOnExit:   true,
		ReplicSteps:          &steps,
	}
	data, err := json.Marshal(s)
	require.NoError(t, err)

	var got BatchSettings
	require.NoError(t, json.Unmarshal(data, &got))
	require.Equal(t, s.BatchRunsPath, got.BatchRunsPath)
	require.Equal(t, s.NumCoresWanted, got.NumCoresWanted)
	require.True(t, got.SaveScenarioOnExit)
	require.NotNil(t, got.ReplicSteps)
	require.Equal(t, 30.0, got.ReplicSteps.End.MaxSimTimeDays)
	require.NotNil(t, got.SeedTable)
	require.Equal(t, table.Cells(), got.SeedTable.Cells())
}

func TestBatchSettingsLegacyPathKey(t *testing.T) {
	doc := `{
		"results_root_path": "/data/runs",
		"num_variants": 1,
		"num_replics_per_variant": 1,
		"num_cores_wanted": 0,
		"auto_seed": true,
		"seed_table": null,
		"save_scen_on_exit": false,
		"replic_steps": null
	}`
	var s BatchSettings
	require.NoError(t, json.Unmarshal([]byte(doc), &s))
	require.Equal(t, "/data/runs", s.BatchRunsPath)
}

func TestBatchSettingsInvalidSeedCombination(t *testing.T) {
	doc := `{
		"batch_runs_path": "/data/runs",
		"num_variants": 1,
		"num_replics_per_variant": 1,
		"num_cores_wanted": 0,
		"auto_seed": false,
		"seed_table": null,
		"save_scen_on_exit": false,
		"replic_steps": null
	}`
	var s BatchSettings
	require.Error(t, json.Unmarshal([]byte(doc), &s),
		"auto_seed off with a null table must fail, not default")
}

func TestLoadBatchSettingsMissingFileDefaults(t *testing.T) {
	s, err := LoadBatchSettings(filepath.Join(t.TempDir(), "absent.json"))
	require.NoError(t, err)
	require.Equal(t, DefaultBatchSettings(), s)
}

func TestBatchSettingsSaveLoadFile(t *testing.T) {
	path := filepath.Join(t.TempDir(), "batch_settings.json")
	s := DefaultBatchSettings()
	s.BatchRunsPath = "/data/runs"
	s.NumVariants = 3
	s.NumReplicsPerVariant = 2
	require.NoError(t, s.Save(path))

	_, err := os.Stat(path)
	require.NoError(t, err)

	got, err := LoadBatchSettings(path)
	require.NoError(t, err)
	require.Equal(t, s.BatchRunsPath, got.BatchRunsPath)
	require.Equal(t, 3, got.NumVariants)
	require.Equal(t, 2, got.NumReplicsPerVariant)
}
