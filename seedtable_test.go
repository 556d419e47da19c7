// Copyright (c) Peter Newcomb. All rights reserved.
// Licensed under the MIT License.

package batchsim

import (
	"bytes"
	"errors"
	"strconv"
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func TestGenerateSeedTableBounds(t *testing.T) {
	rapid.Check(t, func(t *rapid.T) {
		numVariants := rapid.IntRange(1, 8).Draw(t, "variants")
		numReplics := rapid.IntRange(1, 8).Draw(t, "replics")
		table, err := GenerateSeedTable(numVariants, numReplics, nil)
		require.NoError(t, err)
		for v := 1; v <= numVariants; v++ {
			for r := 1; r <= numReplics; r++ {
				seed, err := table.Seed(v, r)
				require.NoError(t, err)
				require.GreaterOrEqual(t, seed, int64(MinSeed))
				require.LessOrEqual(t, seed, int64(MaxSeed))
			}
		}
	})
}

func TestSeedTableRoundTripByteIdentical(t *testing.T) {
	table, err := GenerateSeedTable(3, 4, nil)
	require.NoError(t, err)

	var first bytes.Buffer
	require.NoError(t, table.Write(&first))

	loaded, err := ReadSeedTable(bytes.NewReader(first.Bytes()), 3, 4)
	require.NoError(t, err)

	var second bytes.Buffer
	require.NoError(t, loaded.Write(&second))
	require.Equal(t, first.Bytes(), second.Bytes())
}

func TestSeedTableSeedRangeChecks(t *testing.T) {
	table, err := GenerateSeedTable(2, 2, nil)
	require.NoError(t, err)
	_, err = table.Seed(0, 1)
	require.Error(t, err)
	_, err = table.Seed(1, 3)
	require.Error(t, err)
	_, err = table.Seed(3, 1)
	require.Error(t, err)
}

func seedTableErrKind(t *testing.T, err error) SeedTableErrorKind {
	t.Helper()
	var sterr *SeedTableError
	require.ErrorAs(t, err, &sterr)
	return sterr.Kind
}

func TestReadSeedTableErrorKinds(t *testing.T) {
	const header = "var,rep,seed\n"
	seed := int64(MinSeed)

	t.Run("malformed row", func(t *testing.T) {
		_, err := ReadSeedTable(strings.NewReader(header+"1,1\n"), 1, 1)
		require.Equal(t, SeedTableMalformed, seedTableErrKind(t, err))
	})
	t.Run("non-numeric", func(t *testing.T) {
		_, err := ReadSeedTable(strings.NewReader(header+"1,1,zebra\n"), 1, 1)
		require.Equal(t, SeedTableMalformed, seedTableErrKind(t, err))
	})
	t.Run("seed out of range", func(t *testing.T) {
		_, err := ReadSeedTable(strings.NewReader(header+"1,1,42\n"), 1, 1)
		require.Equal(t, SeedTableOutOfRange, seedTableErrKind(t, err))
	})
	t.Run("zero-based id", func(t *testing.T) {
		in := strings.NewReader(header + "0,1," + itoa(seed) + "\n")
		_, err := ReadSeedTable(in, 1, 1)
		require.Equal(t, SeedTableOutOfRange, seedTableErrKind(t, err))
	})
	t.Run("duplicate cell", func(t *testing.T) {
		in := strings.NewReader(header +
			"1,1," + itoa(seed) + "\n" +
			"1,1," + itoa(seed+1) + "\n")
		_, err := ReadSeedTable(in, 1, 1)
		require.Equal(t, SeedTableDuplicate, seedTableErrKind(t, err))
	})
	t.Run("incomplete table", func(t *testing.T) {
		in := strings.NewReader(header + "1,1," + itoa(seed) + "\n")
		_, err := ReadSeedTable(in, 1, 2)
		require.Equal(t, SeedTableIncomplete, seedTableErrKind(t, err))
	})
	t.Run("extra cells ignored", func(t *testing.T) {
		in := strings.NewReader(header +
			"1,1," + itoa(seed) + "\n" +
			"1,2," + itoa(seed+1) + "\n" + // beyond declared replics
			"2,1," + itoa(seed+2) + "\n") // beyond declared variants
		table, err := ReadSeedTable(in, 1, 1)
		require.NoError(t, err)
		got, err := table.Seed(1, 1)
		require.NoError(t, err)
		require.Equal(t, seed, got)
	})
	t.Run("header optional", func(t *testing.T) {
		table, err := ReadSeedTable(strings.NewReader("1,1,"+itoa(seed)+"\n"), 1, 1)
		require.NoError(t, err)
		got, err := table.Seed(1, 1)
		require.NoError(t, err)
		require.Equal(t, seed, got)
	})
}

func TestLoadSeedTableMissingFile(t *testing.T) {
	_, err := LoadSeedTable(t.TempDir()+"/nope.csv", 1, 1)
	require.Error(t, err)
	var sterr *SeedTableError
	require.False(t, errors.As(err, &sterr), "missing file is an I/O error, not a table error")
}

func itoa(v int64) string {
	return strconv.FormatInt(v, 10)
}
