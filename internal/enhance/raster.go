package enhance

import (
	"bytes"
	"image"
	"image/color"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
	_ "golang.org/x/image/tiff"
	_ "golang.org/x/image/webp"
)

// raster is a planar 8-bit image: 3 planes for color, 1 for gray.
type raster struct {
	w, h   int
	planes [][]uint8
}

func newRaster(w, h, channels int) *raster {
	r := &raster{w: w, h: h, planes: make([][]uint8, channels)}
	for i := range r.planes {
		r.planes[i] = make([]uint8, w*h)
	}
	return r
}

func (r *raster) gray() bool { return len(r.planes) == 1 }

func (r *raster) clone() *raster {
	c := &raster{w: r.w, h: r.h, planes: make([][]uint8, len(r.planes))}
	for i, p := range r.planes {
		c.planes[i] = append([]uint8(nil), p...)
	}
	return c
}

// luma returns the Rec. 601 luma plane (the plane itself for gray rasters).
func (r *raster) luma() []uint8 {
	if r.gray() {
		return r.planes[0]
	}
	out := make([]uint8, r.w*r.h)
	rp, gp, bp := r.planes[0], r.planes[1], r.planes[2]
	for i := range out {
		out[i] = lumaOf(rp[i], gp[i], bp[i])
	}
	return out
}

func lumaOf(r, g, b uint8) uint8 {
	// integer form of 0.299R + 0.587G + 0.114B
	return uint8((19595*uint32(r) + 38470*uint32(g) + 7471*uint32(b) + 1<<15) >> 16)
}

// decode reads any registered format. Transparent pixels are composited on white,
// which is what a scanner would have produced. Phone captures are turned
// upright from their EXIF orientation tag.
func decode(data []byte) (*raster, string, error) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, "", err
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, "", err
	}
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if g, ok := img.(*image.Gray); ok {
		r := newRaster(w, h, 1)
		for y := 0; y < h; y++ {
			copy(r.planes[0][y*w:(y+1)*w], g.Pix[y*g.Stride:y*g.Stride+w])
		}
		return r, format, nil
	}
	r := newRaster(w, h, 3)
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			c := color.NRGBAModel.Convert(img.At(b.Min.X+x, b.Min.Y+y)).(color.NRGBA)
			i := y*w + x
			if c.A == 255 {
				r.planes[0][i], r.planes[1][i], r.planes[2][i] = c.R, c.G, c.B
				continue
			}
			a := uint32(c.A)
			r.planes[0][i] = uint8((uint32(c.R)*a + 255*(255-a)) / 255)
			r.planes[1][i] = uint8((uint32(c.G)*a + 255*(255-a)) / 255)
			r.planes[2][i] = uint8((uint32(c.B)*a + 255*(255-a)) / 255)
		}
	}
	return r, format, nil
}

// downscale shrinks the raster so its longest side is at most max pixels.
func downscale(r *raster, max int) *raster {
	if max <= 0 || (r.w <= max && r.h <= max) {
		return r
	}
	scale := float64(max) / float64(r.w)
	if r.h > r.w {
		scale = float64(max) / float64(r.h)
	}
	nw, nh := int(float64(r.w)*scale), int(float64(r.h)*scale)
	if nw < 1 {
		nw = 1
	}
	if nh < 1 {
		nh = 1
	}
	out := newRaster(nw, nh, len(r.planes))
	for i, p := range r.planes {
		src := &image.Gray{Pix: p, Stride: r.w, Rect: image.Rect(0, 0, r.w, r.h)}
		dst := image.NewGray(image.Rect(0, 0, nw, nh))
		draw.CatmullRom.Scale(dst, dst.Bounds(), src, src.Bounds(), draw.Src, nil)
		out.planes[i] = dst.Pix
	}
	return out
}

// encodePNG writes the raster as an 8-bit gray or RGB PNG.
func encodePNG(r *raster) ([]byte, error) {
	var img image.Image
	if r.gray() {
		img = &image.Gray{Pix: r.planes[0], Stride: r.w, Rect: image.Rect(0, 0, r.w, r.h)}
	} else {
		rgba := image.NewNRGBA(image.Rect(0, 0, r.w, r.h))
		for i := 0; i < r.w*r.h; i++ {
			rgba.Pix[4*i] = r.planes[0][i]
			rgba.Pix[4*i+1] = r.planes[1][i]
			rgba.Pix[4*i+2] = r.planes[2][i]
			rgba.Pix[4*i+3] = 255
		}
		img = rgba
	}
	var buf bytes.Buffer
	enc := png.Encoder{CompressionLevel: png.BestSpeed}
	if err := enc.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
