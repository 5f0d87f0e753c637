package codec

import (
	"fmt"
	"math"

	"gonum.org/v1/gonum/dsp/fourier"
)

// ToFrequency compresses a K-length ray-distance vector into its first c
// Fourier coefficients. The transform operates on the log of the distances,
// matching FromFrequency's exponentiation, so a full-width round trip
// recovers the input. c must satisfy 1 <= c <= K/2+1. Truncation below the
// Nyquist width is lossy.
func (c *Codec) ToFrequency(rays []float64, numCoe int) ([][2]float64, error) {
	if len(rays) != c.k {
		return nil, fmt.Errorf("expected %d ray distances, got %d", c.k, len(rays))
	}
	if numCoe < 1 || numCoe > c.MaxCoefficients() {
		return nil, fmt.Errorf("coefficient count %d outside [1, %d]", numCoe, c.MaxCoefficients())
	}
	logs := make([]float64, c.k)
	for i, d := range rays {
		if d <= 0 {
			return nil, fmt.Errorf("ray distance %g at sample %d is not positive", d, i)
		}
		logs[i] = math.Log(d)
	}

	fft := c.ffts.Get().(*fourier.FFT)
	spectrum := fft.Coefficients(nil, logs)
	c.ffts.Put(fft)

	out := make([][2]float64, numCoe)
	for i := 0; i < numCoe; i++ {
		out[i] = [2]float64{real(spectrum[i]), imag(spectrum[i])}
	}
	return out, nil
}

// FromFrequency reconstructs a strictly positive K-length ray-distance
// vector from a truncated coefficient set: the spectrum is zero-padded to
// the half-spectrum width K/2+1, inverse transformed, normalized, and
// exponentiated. Positivity comes from the exponentiation, never clamping.
func (c *Codec) FromFrequency(coeffs [][2]float64) ([]float64, error) {
	if len(coeffs) < 1 || len(coeffs) > c.MaxCoefficients() {
		return nil, fmt.Errorf("coefficient count %d outside [1, %d]", len(coeffs), c.MaxCoefficients())
	}
	spectrum := make([]complex128, c.MaxCoefficients())
	for i, p := range coeffs {
		spectrum[i] = complex(p[0], p[1])
	}

	fft := c.ffts.Get().(*fourier.FFT)
	logs := fft.Sequence(nil, spectrum)
	c.ffts.Put(fft)

	rays := make([]float64, c.k)
	n := float64(c.k)
	for i, v := range logs {
		rays[i] = math.Exp(v / n)
	}
	return rays, nil
}
