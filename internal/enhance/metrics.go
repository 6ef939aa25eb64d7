package enhance

import (
	"math"

	"github.com/joseph-ayodele/docextract/internal/entity"
)

// measure computes the quality metrics recorded before and after each stage.
//
//	noise     = mean per-channel standard deviation / 127.5, clamped to [0,1]
//	contrast  = mean per-channel (max-min) / 255
//	brightness = mean luma / 255
//	sharpness = stddev of the 4-neighbour Laplacian of luma / 255, clamped to [0,1]
func measure(r *raster) entity.ImageMetrics {
	if r.w == 0 || r.h == 0 {
		return entity.ImageMetrics{}
	}
	var stdSum, rangeSum float64
	for _, p := range r.planes {
		_, std := meanStd(p)
		stdSum += std
		lo, hi := minMax(p)
		rangeSum += float64(hi-lo) / 255
	}
	n := float64(len(r.planes))
	l := r.luma()
	lumaMean, _ := meanStd(l)
	return entity.ImageMetrics{
		NoiseLevel:    round4(clamp01(stdSum / n / 127.5)),
		ContrastRatio: round4(rangeSum / n),
		Brightness:    round4(lumaMean / 255),
		Sharpness:     round4(clamp01(laplacianStd(l, r.w, r.h) / 255)),
	}
}

func meanStd(p []uint8) (float64, float64) {
	if len(p) == 0 {
		return 0, 0
	}
	var hist [256]int
	for _, v := range p {
		hist[v]++
	}
	var sum float64
	for v, c := range hist {
		sum += float64(v) * float64(c)
	}
	mean := sum / float64(len(p))
	var sq float64
	for v, c := range hist {
		d := float64(v) - mean
		sq += d * d * float64(c)
	}
	return mean, math.Sqrt(sq / float64(len(p)))
}

func minMax(p []uint8) (uint8, uint8) {
	if len(p) == 0 {
		return 0, 0
	}
	lo, hi := p[0], p[0]
	for _, v := range p[1:] {
		if v < lo {
			lo = v
		}
		if v > hi {
			hi = v
		}
	}
	return lo, hi
}

func laplacianStd(l []uint8, w, h int) float64 {
	if w < 3 || h < 3 {
		return 0
	}
	var sum, sq float64
	n := 0
	for y := 1; y < h-1; y++ {
		for x := 1; x < w-1; x++ {
			i := y*w + x
			v := 4*float64(l[i]) - float64(l[i-1]) - float64(l[i+1]) - float64(l[i-w]) - float64(l[i+w])
			sum += v
			sq += v * v
			n++
		}
	}
	mean := sum / float64(n)
	return math.Sqrt(math.Max(0, sq/float64(n)-mean*mean))
}

func clamp01(v float64) float64 {
	return math.Max(0, math.Min(1, v))
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
