package voice

import "math"

// RMSEnergy returns the root-mean-square level of a frame of 16-bit
// signed little-endian PCM, normalized to [0, 1]. An empty or odd-sized
// tail frame scores 0.
func RMSEnergy(pcm []byte) float64 {
	n := len(pcm) / 2
	if n == 0 {
		return 0
	}

	var sum float64
	for i := 0; i+1 < len(pcm); i += 2 {
		s := float64(int16(pcm[i])|int16(pcm[i+1])<<8) / 32768.0
		sum += s * s
	}

	return math.Sqrt(sum / float64(n))
}

// EnergyDetector maps frame energy to a speech probability. It is a
// fallback for platforms without a neural VAD: energy at or below the
// noise floor scores 0, energy at or above the reference scores 1, and
// values in between scale linearly.
type EnergyDetector struct {
	// NoiseFloor is the RMS level treated as silence.
	NoiseFloor float64

	// Reference is the RMS level treated as certain speech.
	Reference float64
}

// DefaultEnergyDetector returns a detector tuned for 16 kHz mono
// microphone input at typical gain.
func DefaultEnergyDetector() *EnergyDetector {
	return &EnergyDetector{
		NoiseFloor: 0.01,
		Reference:  0.12,
	}
}

// Probability returns the speech likelihood of one PCM frame in [0,1].
func (d *EnergyDetector) Probability(pcm []byte) float64 {
	rms := RMSEnergy(pcm)
	if rms <= d.NoiseFloor {
		return 0
	}
	if rms >= d.Reference {
		return 1
	}
	return (rms - d.NoiseFloor) / (d.Reference - d.NoiseFloor)
}
