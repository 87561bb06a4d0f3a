package metrics

import (
	"os"
	"os/exec"
	"runtime"
	"testing"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestChildSamplerSelf(t *testing.T) {
	require.NoError(t, Register(prometheus.NewRegistry()))
	s := NewChildSampler("self", nil)

	_, ok := s.Last()
	assert.False(t, ok)

	s.Sample(os.Getpid())
	s.Sample(os.Getpid())
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, int32(os.Getpid()), last.PID)
	assert.Greater(t, last.RSS, uint64(0))
	assert.GreaterOrEqual(t, s.PeakRSS(), last.RSS)
	assert.Equal(t, float64(last.RSS), testutil.ToFloat64(childRSSBytes.WithLabelValues("self")))
	assert.Equal(t, float64(s.PeakRSS()), testutil.ToFloat64(childPeakRSSBytes.WithLabelValues("self")))
}

func TestChildSamplerFollowsNewPID(t *testing.T) {
	if runtime.GOOS == "windows" {
		t.Skip("requires Unix sleep")
	}
	cmd := exec.Command("sleep", "2")
	require.NoError(t, cmd.Start())
	t.Cleanup(func() {
		_ = cmd.Process.Kill()
		_ = cmd.Wait()
	})

	s := NewChildSampler("child", nil)
	s.Sample(os.Getpid())
	peak := s.PeakRSS()
	s.Sample(cmd.Process.Pid)
	last, ok := s.Last()
	require.True(t, ok)
	assert.Equal(t, int32(cmd.Process.Pid), last.PID)
	// our own RSS is larger than a sleeping child's, so the peak is kept
	assert.Equal(t, peak, s.PeakRSS())
}

func TestChildSamplerMissingProcess(t *testing.T) {
	s := NewChildSampler("gone", nil)
	s.Sample(1 << 30)
	_, ok := s.Last()
	assert.False(t, ok)
}
