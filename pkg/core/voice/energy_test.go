package voice

import (
	"encoding/binary"
	"math"
	"testing"
)

func pcmSine(amplitude float64, samples int) []byte {
	out := make([]byte, samples*2)
	for i := 0; i < samples; i++ {
		v := amplitude * math.Sin(2*math.Pi*float64(i)/64)
		binary.LittleEndian.PutUint16(out[i*2:], uint16(int16(v*32767)))
	}
	return out
}

func TestRMSEnergy(t *testing.T) {
	if got := RMSEnergy(nil); got != 0 {
		t.Errorf("RMSEnergy(nil) = %v, want 0", got)
	}
	if got := RMSEnergy(make([]byte, 256)); got != 0 {
		t.Errorf("RMSEnergy(silence) = %v, want 0", got)
	}

	// RMS of a sine wave is amplitude / sqrt(2).
	got := RMSEnergy(pcmSine(0.5, 640))
	want := 0.5 / math.Sqrt2
	if math.Abs(got-want) > 0.01 {
		t.Errorf("RMSEnergy(sine 0.5) = %v, want ~%v", got, want)
	}
}

func TestEnergyDetectorProbability(t *testing.T) {
	d := DefaultEnergyDetector()

	if got := d.Probability(make([]byte, 256)); got != 0 {
		t.Errorf("silence probability = %v, want 0", got)
	}
	if got := d.Probability(pcmSine(0.8, 640)); got != 1 {
		t.Errorf("loud probability = %v, want 1", got)
	}

	quiet := d.Probability(pcmSine(0.03, 640))
	loud := d.Probability(pcmSine(0.1, 640))
	if !(quiet > 0 && quiet < loud && loud <= 1) {
		t.Errorf("probabilities not monotonic: quiet=%v loud=%v", quiet, loud)
	}
}
