package imaging

import (
	"image"
	"math"
)

// Quality scores a frame from 0 to 100:
//
//	min(100, sharpness/100*50 + contrast/50*50)
//
// where sharpness is the variance of the 4-neighbour Laplacian and
// contrast is the standard deviation of the gray levels.
func Quality(g *image.Gray) float64 {
	score := Sharpness(g)/100*50 + Contrast(g)/50*50
	return math.Min(100, score)
}

// Contrast returns the population standard deviation of gray levels.
func Contrast(g *image.Gray) float64 {
	_, std := meanStd(g)
	return std
}

// Sharpness returns the variance of the discrete Laplacian
// [0 1 0; 1 -4 1; 0 1 0] over interior pixels. Images narrower or
// shorter than 3 pixels have no interior and score 0.
func Sharpness(g *image.Gray) float64 {
	b := g.Bounds()
	w, h := b.Dx(), b.Dy()
	if w < 3 || h < 3 {
		return 0
	}

	at := func(x, y int) float64 {
		return float64(g.Pix[(y-b.Min.Y)*g.Stride+(x-b.Min.X)])
	}

	var sum, sumSq float64
	n := 0
	for y := b.Min.Y + 1; y < b.Max.Y-1; y++ {
		for x := b.Min.X + 1; x < b.Max.X-1; x++ {
			lap := at(x-1, y) + at(x+1, y) + at(x, y-1) + at(x, y+1) - 4*at(x, y)
			sum += lap
			sumSq += lap * lap
			n++
		}
	}
	mean := sum / float64(n)
	return math.Max(0, sumSq/float64(n)-mean*mean)
}

func meanStd(g *image.Gray) (float64, float64) {
	b := g.Bounds()
	n := b.Dx() * b.Dy()
	if n == 0 {
		return 0, 0
	}
	var sum, sumSq float64
	for y := 0; y < b.Dy(); y++ {
		row := g.Pix[y*g.Stride : y*g.Stride+b.Dx()]
		for _, p := range row {
			v := float64(p)
			sum += v
			sumSq += v * v
		}
	}
	mean := sum / float64(n)
	variance := math.Max(0, sumSq/float64(n)-mean*mean)
	return mean, math.Sqrt(variance)
}
