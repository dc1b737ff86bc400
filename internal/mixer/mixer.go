// Package mixer implements the pure, stateless sample-rate conversion and
// stereo mixing math shared by the capture processing loop: linear
// resampling of mono and interleaved-stereo buffers, frame interleaving,
// mono-mic-over-stereo-system mixing, and float-to-int16 PCM conversion.
package mixer

import "math"

// Mixer performs linear resampling and mixing targeted at one sample rate.
// All methods are pure functions of their arguments; a Mixer carries no
// state across calls beyond the configured target rate.
type Mixer struct {
	targetSampleRate float64
}

// New constructs a Mixer targeting the given output sample rate in Hz.
func New(targetSampleRate float64) *Mixer {
	return &Mixer{targetSampleRate: targetSampleRate}
}

// TargetSampleRate returns the configured output rate.
func (m *Mixer) TargetSampleRate() float64 {
	return m.targetSampleRate
}

// ResampleMono linearly resamples a mono buffer from sourceRate to the
// mixer's target rate. Identity when rates match or the input is empty.
func (m *Mixer) ResampleMono(samples []float32, sourceRate float64) []float32 {
	return resampleMono(samples, sourceRate, m.targetSampleRate)
}

// ResampleStereo linearly resamples an interleaved stereo buffer per
// channel from sourceRate to the mixer's target rate. Identity when rates
// match or the input is empty.
func (m *Mixer) ResampleStereo(interleaved []float32, sourceRate float64) []float32 {
	return resampleStereo(interleaved, sourceRate, m.targetSampleRate)
}

// Interleave produces interleaved [L0,R0,L1,R1,...] of frame count
// max(len(left), len(right)); the shorter side is zero-padded.
func Interleave(left, right []float32) []float32 {
	frames := len(left)
	if len(right) > frames {
		frames = len(right)
	}
	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		var l, r float32
		if i < len(left) {
			l = left[i]
		}
		if i < len(right) {
			r = right[i]
		}
		out[2*i] = l
		out[2*i+1] = r
	}
	return out
}

// MixMonoMicWithStereoSystem mixes a mono mic buffer into an interleaved
// stereo system buffer: L = mic[i] + system[2i], R = mic[i] + system[2i+1].
// Output frame count is max(len(mic), len(system)/2); missing samples on
// either side are treated as 0. No saturation is applied here.
func MixMonoMicWithStereoSystem(mic, system []float32) []float32 {
	systemFrames := len(system) / 2
	frames := len(mic)
	if systemFrames > frames {
		frames = systemFrames
	}

	out := make([]float32, frames*2)
	for i := 0; i < frames; i++ {
		var micSample float32
		if i < len(mic) {
			micSample = mic[i]
		}

		var sysL, sysR float32
		if i < systemFrames {
			sysL = system[2*i]
			sysR = system[2*i+1]
		}

		out[2*i] = micSample + sysL
		out[2*i+1] = micSample + sysR
	}
	return out
}

// ToInt16PCM converts interleaved float samples to little-endian int16 PCM
// bytes, clamping each sample to [-1, 1] before scaling. Output length is
// always 2*len(samples).
func ToInt16PCM(samples []float32) []byte {
	out := make([]byte, len(samples)*2)
	for i, s := range samples {
		if s > 1 {
			s = 1
		} else if s < -1 {
			s = -1
		}
		v := int16(s * math.MaxInt16)
		out[2*i] = byte(v)
		out[2*i+1] = byte(v >> 8)
	}
	return out
}

// resampleMono linearly interpolates a mono buffer from sourceRate to
// targetRate, clamping to the final sample past the last input index.
func resampleMono(samples []float32, sourceRate, targetRate float64) []float32 {
	if sourceRate == targetRate || len(samples) == 0 {
		return samples
	}

	outLen := int(float64(len(samples)) * targetRate / sourceRate)
	out := make([]float32, outLen)
	ratio := sourceRate / targetRate

	for i := 0; i < outLen; i++ {
		srcPos := float64(i) * ratio
		out[i] = interpolate(samples, srcPos)
	}
	return out
}

// resampleStereo applies resampleMono independently to each channel of an
// interleaved stereo buffer, operating on frame counts rather than sample
// counts.
func resampleStereo(interleaved []float32, sourceRate, targetRate float64) []float32 {
	if sourceRate == targetRate || len(interleaved) == 0 {
		return interleaved
	}

	frames := len(interleaved) / 2
	left := make([]float32, frames)
	right := make([]float32, frames)
	for i := 0; i < frames; i++ {
		left[i] = interleaved[2*i]
		right[i] = interleaved[2*i+1]
	}

	left = resampleMono(left, sourceRate, targetRate)
	right = resampleMono(right, sourceRate, targetRate)
	return Interleave(left, right)
}

// interpolate linearly interpolates samples at a fractional index,
// clamping to the last sample once pos reaches or passes the tail.
func interpolate(samples []float32, pos float64) float32 {
	last := len(samples) - 1
	if pos >= float64(last) {
		return samples[last]
	}

	idx := int(pos)
	frac := float32(pos - float64(idx))
	return samples[idx] + (samples[idx+1]-samples[idx])*frac
}
