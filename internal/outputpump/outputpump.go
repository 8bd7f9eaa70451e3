// Package outputpump implements the per-child background readers that tag
// each captured line with job id, stream, and timestamp before appending it
// to the log buffer (§4.5).
package outputpump

import (
	"bufio"
	"io"
	"unicode/utf8"

	"github.com/ianlt/shelld/internal/logbuf"
)

// maxScanTokenBytes bounds a single read's line buffer; lines longer than
// this are split into multiple entries rather than growing unbounded
// (§3 "hard per-line length cap; longer lines are split"). This must match
// logbuf.MaxLineBytes exactly: logbuf.Append truncates (does not split)
// anything over that cap, so splitting at any larger threshold here would
// silently drop the tail of the line instead of preserving it as a second
// entry.
const maxScanTokenBytes = logbuf.MaxLineBytes

// Sink receives tagged output and stream-closure notifications. The
// supervisor implements Sink: lines go straight to the log buffer, and
// stream closures land on its event loop (§4.7 StreamClosed).
type Sink interface {
	Append(jobID int64, stream, line string)
	StreamClosed(jobID int64, stream string)
}

// Pump reads r line by line, tagging each line as stream for jobID, until
// EOF, then notifies sink that the stream is closed (§4.5). It is meant to
// run in its own goroutine per stream (two per child: stdout, stderr).
func Pump(r io.Reader, jobID int64, stream string, sink Sink) {
	reader := bufio.NewReaderSize(r, 4096)
	var line []byte
	for {
		chunk, isPrefix, err := reader.ReadLine()
		if len(chunk) > 0 {
			line = append(line, chunk...)
		}
		if isPrefix && len(line) < maxScanTokenBytes {
			continue
		}
		if len(line) > 0 || !isPrefix {
			if len(line) > 0 {
				sink.Append(jobID, stream, sanitizeUTF8(line))
			}
			line = nil
		}
		if err != nil {
			break
		}
	}
	sink.StreamClosed(jobID, stream)
}

// sanitizeUTF8 replaces each invalid byte with the Unicode replacement
// character and keeps valid runes in order. Line boundaries are unchanged,
// but byte offsets within a line shift, since the replacement character is
// three bytes long.
func sanitizeUTF8(b []byte) string {
	if utf8.Valid(b) {
		return string(b)
	}
	out := make([]rune, 0, len(b))
	for i := 0; i < len(b); {
		r, size := utf8.DecodeRune(b[i:])
		if r == utf8.RuneError && size <= 1 {
			out = append(out, utf8.RuneError)
			i++
			continue
		}
		out = append(out, r)
		i += size
	}
	return string(out)
}
