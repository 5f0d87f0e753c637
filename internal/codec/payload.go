package codec

import (
	"fmt"
	"math"
)

// Payload converts a point's raw mask regression channels into ray
// distances. The two implementations correspond to the raw ray-distance and
// truncated-Fourier encodings; the choice is made once at construction.
type Payload interface {
	// Channels is the number of raw mask channels per point.
	Channels() int
	// Rays decodes the raw channels into K strictly positive ray distances.
	Rays(raw []float64) ([]float64, error)
}

// RayPayload treats the raw channels as log ray distances, one per angular
// sample, and exponentiates them.
type RayPayload struct {
	codec *Codec
}

// NewRayPayload creates the raw ray-distance payload for the codec.
func NewRayPayload(c *Codec) *RayPayload {
	return &RayPayload{codec: c}
}

// Channels returns K.
func (p *RayPayload) Channels() int { return p.codec.Points() }

// Rays exponentiates the raw regression outputs.
func (p *RayPayload) Rays(raw []float64) ([]float64, error) {
	if len(raw) != p.codec.Points() {
		return nil, fmt.Errorf("expected %d ray channels, got %d", p.codec.Points(), len(raw))
	}
	rays := make([]float64, len(raw))
	for i, v := range raw {
		rays[i] = math.Exp(v)
	}
	return rays, nil
}

// FourierPayload treats the raw channels as numCoe interleaved (real,
// imaginary) coefficient pairs. At decode time the spectrum may be truncated
// further to decodeCoe pairs before inversion.
type FourierPayload struct {
	codec     *Codec
	numCoe    int
	decodeCoe int
}

// NewFourierPayload creates the frequency payload. decodeCoe <= numCoe
// selects how many leading pairs are used for reconstruction; pass numCoe to
// use all of them.
func NewFourierPayload(c *Codec, numCoe, decodeCoe int) (*FourierPayload, error) {
	if numCoe < 1 || numCoe > c.MaxCoefficients() {
		return nil, fmt.Errorf("coefficient count %d outside [1, %d]", numCoe, c.MaxCoefficients())
	}
	if decodeCoe < 1 || decodeCoe > numCoe {
		return nil, fmt.Errorf("decode coefficient count %d outside [1, %d]", decodeCoe, numCoe)
	}
	return &FourierPayload{codec: c, numCoe: numCoe, decodeCoe: decodeCoe}, nil
}

// Channels returns 2*numCoe.
func (p *FourierPayload) Channels() int { return 2 * p.numCoe }

// Rays truncates the raw coefficient pairs to decodeCoe and inverts them.
func (p *FourierPayload) Rays(raw []float64) ([]float64, error) {
	coeffs, err := p.Coefficients(raw)
	if err != nil {
		return nil, err
	}
	return p.codec.FromFrequency(coeffs[:p.decodeCoe])
}

// Coefficients splits the raw channels into numCoe (real, imaginary) pairs.
func (p *FourierPayload) Coefficients(raw []float64) ([][2]float64, error) {
	if len(raw) != 2*p.numCoe {
		return nil, fmt.Errorf("expected %d coefficient channels, got %d", 2*p.numCoe, len(raw))
	}
	coeffs := make([][2]float64, p.numCoe)
	for i := range coeffs {
		coeffs[i] = [2]float64{raw[2*i], raw[2*i+1]}
	}
	return coeffs, nil
}
