package ring

import (
	"fmt"
	"strings"
)

// FairChunkLen returns the length of chunk i when a file of size `size` is
// split fairly across `parts` chunks: the first `size % parts` chunks get
// one extra byte. Invariant: summing FairChunkLen(i, size, parts) over all
// i in [0, parts) equals size.
func FairChunkLen(index, size, parts int64) int64 {
	base := size / parts
	rem := size % parts
	if index < rem {
		return base + 1
	}
	return base
}

// SumChunkLenThrough returns the total bytes accounted for by chunks
// [0, index] inclusive — used to decide whether a relay hop is the last
// one (no bytes remain to stream onward).
func SumChunkLenThrough(index, size, parts int64) int64 {
	var sum int64
	for i := int64(0); i <= index; i++ {
		sum += FairChunkLen(i, size, parts)
	}
	return sum
}

// sanitizeReplacer replaces every character forbidden in a chunk filename
// with an underscore: / \ : | ; NUL CR LF.
var sanitizeReplacer = strings.NewReplacer(
	"/", "_",
	"\\", "_",
	":", "_",
	"|", "_",
	";", "_",
	"\x00", "_",
	"\r", "_",
	"\n", "_",
)

// SanitizeFilename replaces characters unsafe for a chunk filename. An
// empty name sanitizes to "_".
func SanitizeFilename(name string) string {
	if name == "" {
		return "_"
	}
	return sanitizeReplacer.Replace(name)
}

// ChunkFileName builds the on-disk chunk filename for part `index`
// (0-based) of `parts` total parts of file `name`.
//
// Example: ChunkFileName("movie.mp4", 0, 3) == "movie.mp4.part-001-of-003"
func ChunkFileName(name string, index, parts int) string {
	return fmt.Sprintf("%s.part-%03d-of-%03d", SanitizeFilename(name), index+1, parts)
}
