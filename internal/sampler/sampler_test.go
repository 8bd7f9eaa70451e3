package sampler

import (
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeSampler is a Sampler that returns configured samples without any
// OS interaction.
type fakeSampler struct {
	samples map[int]Sample
}

func (f fakeSampler) Sample(pid int) (Sample, error) {
	if s, ok := f.samples[pid]; ok {
		return s, nil
	}
	return Sample{}, os.ErrNotExist
}

func TestFakeSamplerReturnsConfiguredSample(t *testing.T) {
	f := fakeSampler{samples: map[int]Sample{42: {PID: 42, CPUPercent: 12.5, RSSBytes: 1024}}}
	s, err := f.Sample(42)
	require.NoError(t, err)
	assert.Equal(t, 12.5, s.CPUPercent)
	assert.Equal(t, uint64(1024), s.RSSBytes)
}

func TestGopsutilSamplerReportsSelfProcess(t *testing.T) {
	var s Sampler = GopsutilSampler{}
	sample, err := s.Sample(os.Getpid())
	require.NoError(t, err)
	assert.Equal(t, os.Getpid(), sample.PID)
	assert.GreaterOrEqual(t, sample.UptimeSec, 0.0)
}
