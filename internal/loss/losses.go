package loss

import (
	"math"

	"github.com/MeKo-Tech/raydet/internal/assign"
	"github.com/MeKo-Tech/raydet/internal/geometry"
)

const lossEps = 1e-6

// SigmoidFocalLoss returns the one-vs-all focal classification loss with the
// given balancing alpha and focusing gamma. Background points contribute the
// negative term for every class.
func SigmoidFocalLoss(alpha, gamma float64) ClassLoss {
	return func(logits []float64, label int) float64 {
		sum := 0.0
		for c, logit := range logits {
			p := sigmoid(logit)
			if label != assign.BackgroundLabel && label-1 == c {
				sum += -alpha * math.Pow(1-p, gamma) * math.Log(math.Max(p, lossEps))
			} else {
				sum += -(1 - alpha) * math.Pow(p, gamma) * math.Log(math.Max(1-p, lossEps))
			}
		}
		return sum
	}
}

// IoULoss returns the -log(IoU) box regression loss.
func IoULoss() BoxLoss {
	return func(pred, target geometry.Box) float64 {
		return -math.Log(math.Max(geometry.IoU(pred, target), lossEps))
	}
}

// PolarIoULoss returns the ray-distance mask loss log(Σ max / Σ min), the
// polar analogue of an IoU loss over matched ray pairs.
func PolarIoULoss() RayLoss {
	return func(pred, target []float64) float64 {
		lo, hi := 0.0, 0.0
		for i := range pred {
			lo += math.Min(pred[i], target[i])
			hi += math.Max(pred[i], target[i])
		}
		if lo <= 0 {
			lo = lossEps
		}
		return math.Log(hi / lo)
	}
}

// SmoothL1CoeffLoss returns a smooth-L1 loss over the real and imaginary
// parts of the coefficient pairs, averaged over all components.
func SmoothL1CoeffLoss(beta float64) CoeffLoss {
	return func(pred, target [][2]float64) float64 {
		n := min(len(pred), len(target))
		if n == 0 {
			return 0
		}
		sum := 0.0
		for i := 0; i < n; i++ {
			sum += smoothL1(pred[i][0]-target[i][0], beta)
			sum += smoothL1(pred[i][1]-target[i][1], beta)
		}
		return sum / float64(2*n)
	}
}

// BCEWithLogits returns the binary cross-entropy loss on a raw logit.
func BCEWithLogits() ScalarLoss {
	return func(logit, target float64) float64 {
		p := sigmoid(logit)
		return -target*math.Log(math.Max(p, lossEps)) - (1-target)*math.Log(math.Max(1-p, lossEps))
	}
}

func smoothL1(d, beta float64) float64 {
	d = math.Abs(d)
	if d < beta {
		return d * d / (2 * beta)
	}
	return d - beta/2
}

func sigmoid(x float64) float64 {
	return 1 / (1 + math.Exp(-x))
}
