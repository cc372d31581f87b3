package protocol

import (
	"bytes"
	"encoding/csv"
	"fmt"
	"sort"
	"strconv"

	"github.com/hazardous-sun/ouroboros-fs/internal/ring"
)

// FileListRow is one row of the FILE LIST response.
type FileListRow struct {
	Name  string
	Start string // origin port
	Size  int64
}

// FileListRowsFromTags turns a node's replicated file-tag table into
// FILE LIST rows, sorted by name for deterministic output.
func FileListRowsFromTags(tags map[string]ring.FileTag) []FileListRow {
	names := make([]string, 0, len(tags))
	for name := range tags {
		names = append(names, name)
	}
	sort.Strings(names)

	rows := make([]FileListRow, len(names))
	for i, name := range names {
		tag := tags[name]
		rows[i] = FileListRow{Name: name, Start: tag.Origin, Size: tag.Size}
	}
	return rows
}

// EncodeFileListCSV renders FILE LIST's response body: a header row of
// "name,start,size" followed by one row per file. encoding/csv takes care
// of quoting and doubling embedded quotes so a filename containing a
// comma, quote, or newline round-trips.
func EncodeFileListCSV(rows []FileListRow) (string, error) {
	var buf bytes.Buffer
	w := csv.NewWriter(&buf)
	if err := w.Write([]string{"name", "start", "size"}); err != nil {
		return "", fmt.Errorf("encode file list header: %w", err)
	}
	for _, row := range rows {
		if err := w.Write([]string{row.Name, row.Start, strconv.FormatInt(row.Size, 10)}); err != nil {
			return "", fmt.Errorf("encode file list row: %w", err)
		}
	}
	w.Flush()
	if err := w.Error(); err != nil {
		return "", err
	}
	return buf.String(), nil
}
