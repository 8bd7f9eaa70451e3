package wire

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWriteReadEnvelopeRoundTrip(t *testing.T) {
	var buf bytes.Buffer
	want := Envelope{
		Type: TypeRun,
		Run:  &RunRequest{CommandLine: []string{"echo", "hi"}},
	}
	require.NoError(t, WriteEnvelope(&buf, want))

	got, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeRun, got.Type)
	require.NotNil(t, got.Run)
	assert.Equal(t, []string{"echo", "hi"}, got.Run.CommandLine)
}

func TestReadEnvelopeRejectsOversizedFrame(t *testing.T) {
	var buf bytes.Buffer
	hdr := []byte{0xFF, 0xFF, 0xFF, 0xFF}
	buf.Write(hdr)

	_, err := ReadEnvelope(&buf)
	require.Error(t, err)
}

func TestReadEnvelopeRejectsMalformedJSON(t *testing.T) {
	var buf bytes.Buffer
	body := []byte("not json")
	hdr := make([]byte, 4)
	hdr[3] = byte(len(body))
	buf.Write(hdr)
	buf.Write(body)

	_, err := ReadEnvelope(&buf)
	require.Error(t, err)
	assert.Contains(t, err.Error(), ErrProtocolError)
}

func TestExitCodeForError(t *testing.T) {
	assert.Equal(t, 0, ExitCodeForError(""))
	assert.Equal(t, 1, ExitCodeForError(ErrProtocolError))
	assert.Equal(t, 1, ExitCodeForError(ErrVersionMismatch))
	assert.Equal(t, 2, ExitCodeForError(ErrNotFound))
	assert.Equal(t, 2, ExitCodeForError(ErrAlreadyRunning))
}

func TestMultipleFramesOnSameStream(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, WriteEnvelope(&buf, Envelope{Type: TypeAck, Ack: &AckResponse{JobID: 1}}))
	require.NoError(t, WriteEnvelope(&buf, Envelope{Type: TypeLogFollowEnd}))

	first, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeAck, first.Type)

	second, err := ReadEnvelope(&buf)
	require.NoError(t, err)
	assert.Equal(t, TypeLogFollowEnd, second.Type)
}
