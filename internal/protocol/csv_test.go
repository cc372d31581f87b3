package protocol

import (
	"encoding/csv"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

func TestFileListRowsFromTagsSortedByName(t *testing.T) {
	tags := map[string]ring.FileTag{
		"zeta.bin":  {Origin: "9000", Size: 1, Parts: 1},
		"alpha.bin": {Origin: "9001", Size: 2, Parts: 1},
	}
	rows := FileListRowsFromTags(tags)
	require.Len(t, rows, 2)
	assert.Equal(t, "alpha.bin", rows[0].Name)
	assert.Equal(t, "zeta.bin", rows[1].Name)
}

func TestEncodeFileListCSVHeaderAndRows(t *testing.T) {
	rows := []FileListRow{{Name: "movie.mp4", Start: "9000", Size: 10}}
	body, err := EncodeFileListCSV(rows)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, []string{"name", "start", "size"}, records[0])
	assert.Equal(t, []string{"movie.mp4", "9000", "10"}, records[1])
}

func TestEncodeFileListCSVEscapesSpecialCharacters(t *testing.T) {
	rows := []FileListRow{{Name: `has,comma "and quote"` + "\nand newline", Start: "9000", Size: 5}}
	body, err := EncodeFileListCSV(rows)
	require.NoError(t, err)

	records, err := csv.NewReader(strings.NewReader(body)).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 2)
	assert.Equal(t, rows[0].Name, records[1][0], "round-trip through encoding/csv recovers the exact name")
}
