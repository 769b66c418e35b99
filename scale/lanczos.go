package scale

import (
	"image"
	"math"

	"github.com/disintegration/imaging"
)

func lanczosKernel(a float64) func(float64) float64 {
	return func(x float64) float64 {
		x = math.Abs(x)
		switch {
		case x == 0:
			return 1
		case x >= a:
			return 0
		}
		px := math.Pi * x
		return a * math.Sin(px) * math.Sin(px/a) / (px * px)
	}
}

// lanczos resamples img to w×h. Resampling to the current size returns a
// copy of the input.
func lanczos(img image.Image, w, h, a int) *image.NRGBA {
	filter := imaging.ResampleFilter{
		Support: float64(a),
		Kernel:  lanczosKernel(float64(a)),
	}
	return imaging.Resize(img, w, h, filter)
}
