package enhance

// normalizeContrast stretches each channel so that the clip-percentile darkest
// and brightest pixels map to 0 and 255. Channels with no spread are left alone.
func normalizeContrast(r *raster, clip float64) *raster {
	out := r.clone()
	for i, p := range out.planes {
		lo, hi := percentiles(p, clip)
		if hi <= lo {
			continue
		}
		lut := stretchLUT(lo, hi)
		for j, v := range p {
			out.planes[i][j] = lut[v]
		}
	}
	return out
}

// toGray collapses a color raster to its luma plane.
func toGray(r *raster) *raster {
	if r.gray() {
		return r.clone()
	}
	return &raster{w: r.w, h: r.h, planes: [][]uint8{r.luma()}}
}

// sharpen applies a 3x3 Laplacian unsharp kernel scaled by amount. Border
// pixels read their clamped neighbours.
func sharpen(r *raster, amount float64) *raster {
	out := r.clone()
	if amount <= 0 {
		return out
	}
	w, h := r.w, r.h
	at := func(p []uint8, x, y int) float64 {
		if x < 0 {
			x = 0
		} else if x >= w {
			x = w - 1
		}
		if y < 0 {
			y = 0
		} else if y >= h {
			y = h - 1
		}
		return float64(p[y*w+x])
	}
	for i, p := range r.planes {
		dst := out.planes[i]
		for y := 0; y < h; y++ {
			for x := 0; x < w; x++ {
				c := at(p, x, y)
				lap := 4*c - at(p, x-1, y) - at(p, x+1, y) - at(p, x, y-1) - at(p, x, y+1)
				dst[y*w+x] = clampByte(c + amount*lap)
			}
		}
	}
	return out
}

// linearStretch maps the observed min..max of each plane onto 0..255.
func linearStretch(r *raster) *raster {
	out := r.clone()
	for i, p := range out.planes {
		lo, hi := minMax(p)
		if hi <= lo {
			continue
		}
		lut := stretchLUT(lo, hi)
		for j, v := range p {
			out.planes[i][j] = lut[v]
		}
	}
	return out
}

func stretchLUT(lo, hi uint8) [256]uint8 {
	var lut [256]uint8
	span := float64(hi - lo)
	for v := 0; v < 256; v++ {
		switch {
		case v <= int(lo):
			lut[v] = 0
		case v >= int(hi):
			lut[v] = 255
		default:
			lut[v] = clampByte(float64(v-int(lo)) * 255 / span)
		}
	}
	return lut
}

// percentiles returns the values below which clip and 1-clip of the pixels fall.
func percentiles(p []uint8, clip float64) (uint8, uint8) {
	if len(p) == 0 {
		return 0, 0
	}
	var hist [256]int
	for _, v := range p {
		hist[v]++
	}
	cut := int(clip * float64(len(p)))
	var lo, hi uint8
	acc := 0
	for v := 0; v < 256; v++ {
		acc += hist[v]
		if acc > cut {
			lo = uint8(v)
			break
		}
	}
	acc = 0
	for v := 255; v >= 0; v-- {
		acc += hist[v]
		if acc > cut {
			hi = uint8(v)
			break
		}
	}
	return lo, hi
}

func clampByte(v float64) uint8 {
	if v <= 0 {
		return 0
	}
	if v >= 255 {
		return 255
	}
	return uint8(v + 0.5)
}
