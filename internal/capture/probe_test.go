package capture

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProbeMicRateReturnsConfiguredWhenSilent(t *testing.T) {
	provider := &tickingProvider{available: true, sampleRate: 48000, channels: 1, frameSize: 1, interval: time.Hour}

	rate, err := ProbeMicRate(context.Background(), provider, 48000, 20*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, float64(48000), rate)
}

func TestProbeMicRateReturnsObservedRate(t *testing.T) {
	provider := &immediateProvider{rate: 16000}

	rate, err := ProbeMicRate(context.Background(), provider, 48000, 10*time.Millisecond)
	require.NoError(t, err)
	require.Equal(t, float64(16000), rate)
}

func TestProbeMicRateStartFailureIsDeviceNotAvailable(t *testing.T) {
	provider := &tickingProvider{startErr: errConnRefused}

	rate, err := ProbeMicRate(context.Background(), provider, 44100, 10*time.Millisecond)
	require.Error(t, err)
	require.True(t, IsKind(err, ErrorKindDeviceNotAvailable))
	require.Equal(t, float64(44100), rate)
}
