package outputpump

import (
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeSink struct {
	mu     sync.Mutex
	lines  []string
	closed []string
}

func (f *fakeSink) Append(jobID int64, stream, line string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.lines = append(f.lines, stream+":"+line)
}

func (f *fakeSink) StreamClosed(jobID int64, stream string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.closed = append(f.closed, stream)
}

func TestPumpTagsLinesAndSignalsClose(t *testing.T) {
	r := strings.NewReader("first\nsecond\n")
	sink := &fakeSink{}
	Pump(r, 1, "out", sink)

	require.Len(t, sink.lines, 2)
	assert.Equal(t, "out:first", sink.lines[0])
	assert.Equal(t, "out:second", sink.lines[1])
	assert.Equal(t, []string{"out"}, sink.closed)
}

func TestPumpEmitsFinalLineWithoutTrailingNewline(t *testing.T) {
	r := strings.NewReader("no newline at end")
	sink := &fakeSink{}
	Pump(r, 1, "err", sink)

	require.Len(t, sink.lines, 1)
	assert.Equal(t, "err:no newline at end", sink.lines[0])
}

func TestPumpSplitsOverlongLines(t *testing.T) {
	huge := strings.Repeat("x", maxScanTokenBytes+1000)
	r := strings.NewReader(huge + "\n")
	sink := &fakeSink{}
	Pump(r, 1, "out", sink)

	require.True(t, len(sink.lines) >= 2, "overlong line should be split into multiple entries")
}

func TestPumpReplacesInvalidUTF8(t *testing.T) {
	bad := []byte("valid-")
	bad = append(bad, 0xFF, 0xFE)
	bad = append(bad, []byte("-tail\n")...)
	sink := &fakeSink{}
	Pump(strings.NewReader(string(bad)), 1, "out", sink)

	require.Len(t, sink.lines, 1)
	assert.Contains(t, sink.lines[0], "�")
	assert.True(t, strings.HasPrefix(sink.lines[0], "out:valid-"))
	assert.True(t, strings.HasSuffix(sink.lines[0], "-tail"))
}
