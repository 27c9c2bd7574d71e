package embedding

import (
	"image"
	"image/color"

	"golang.org/x/image/draw"
)

// CLIP image normalization constants (per RGB channel).
var (
	clipMean = [3]float32{0.48145466, 0.4578275, 0.40821073}
	clipStd  = [3]float32{0.26862954, 0.26130258, 0.27577711}
)

// Preprocess converts img into a CLIP pixel_values tensor of shape [3, size, size]
// (channel-major): the shortest side is resized to size with bicubic sampling, the
// center is cropped, RGB values are scaled to [0, 1] and standardized per channel.
// Alpha is dropped, matching a convert("RGB") of the source image.
func Preprocess(img image.Image, size int) []float32 {
	b := img.Bounds()
	w, h := b.Dx(), b.Dy()
	if w <= 0 || h <= 0 || size <= 0 {
		return make([]float32, 3*size*size)
	}
	rw, rh := size, size
	if w < h {
		rh = (h*size + w/2) / w
	} else {
		rw = (w*size + h/2) / h
	}
	resized := image.NewRGBA(image.Rect(0, 0, rw, rh))
	draw.CatmullRom.Scale(resized, resized.Bounds(), flattenAlpha(img), b, draw.Src, nil)

	x0 := (rw - size) / 2
	y0 := (rh - size) / 2
	plane := size * size
	out := make([]float32, 3*plane)
	for y := 0; y < size; y++ {
		for x := 0; x < size; x++ {
			c := resized.RGBAAt(x0+x, y0+y)
			i := y*size + x
			out[i] = (float32(c.R)/255 - clipMean[0]) / clipStd[0]
			out[plane+i] = (float32(c.G)/255 - clipMean[1]) / clipStd[1]
			out[2*plane+i] = (float32(c.B)/255 - clipMean[2]) / clipStd[2]
		}
	}
	return out
}

// flattenAlpha returns an opaque copy of img so transparent pixels keep their color
// channels the way an RGB conversion would, instead of being premultiplied to black.
func flattenAlpha(img image.Image) image.Image {
	switch img.(type) {
	case *image.YCbCr, *image.Gray:
		return img
	}
	b := img.Bounds()
	out := image.NewRGBA(b)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		for x := b.Min.X; x < b.Max.X; x++ {
			c := color.NRGBAModel.Convert(img.At(x, y)).(color.NRGBA)
			out.SetRGBA(x, y, color.RGBA{R: c.R, G: c.G, B: c.B, A: 255})
		}
	}
	return out
}
