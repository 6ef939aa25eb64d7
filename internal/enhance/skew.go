package enhance

import "math"

const (
	skewMaxDegrees  = 5.0
	skewStepDegrees = 0.5
	skewSampleSide  = 600
	skewInkLevel    = 128
)

// estimateSkew returns the rotation (degrees) whose horizontal projection of
// dark pixels has the highest variance; text lines line up at the true skew.
// Returns 0 when the page has too little ink to decide.
func estimateSkew(r *raster) float64 {
	small := downscale(&raster{w: r.w, h: r.h, planes: [][]uint8{r.luma()}}, skewSampleSide)
	l := small.planes[0]
	type pt struct{ x, y float64 }
	var ink []pt
	cx, cy := float64(small.w)/2, float64(small.h)/2
	for y := 0; y < small.h; y++ {
		for x := 0; x < small.w; x++ {
			if l[y*small.w+x] < skewInkLevel {
				ink = append(ink, pt{float64(x) - cx, float64(y) - cy})
			}
		}
	}
	if len(ink) < 50 {
		return 0
	}
	diag := int(math.Hypot(float64(small.w), float64(small.h))) + 2
	bestAngle, bestScore := 0.0, -1.0
	steps := int(2 * skewMaxDegrees / skewStepDegrees)
	bins := make([]float64, diag)
	for s := 0; s <= steps; s++ {
		angle := -skewMaxDegrees + float64(s)*skewStepDegrees
		rad := angle * math.Pi / 180
		sin, cos := math.Sin(rad), math.Cos(rad)
		for i := range bins {
			bins[i] = 0
		}
		for _, p := range ink {
			yy := int(p.y*cos-p.x*sin) + diag/2
			if yy >= 0 && yy < diag {
				bins[yy]++
			}
		}
		var sum, sq float64
		for _, b := range bins {
			sum += b
			sq += b * b
		}
		mean := sum / float64(diag)
		score := sq/float64(diag) - mean*mean
		// ties prefer the smaller rotation
		if score > bestScore+1e-9 || (math.Abs(score-bestScore) <= 1e-9 && math.Abs(angle) < math.Abs(bestAngle)) {
			bestScore, bestAngle = score, angle
		}
	}
	return bestAngle
}
