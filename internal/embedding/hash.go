package embedding

import (
	"crypto/sha256"
	"encoding/binary"
	"encoding/hex"
	"image"
)

// ImageKey returns a content hash of the decoded pixels. Two images with the same bounds
// and RGBA pixels share a key regardless of their encoded format.
func ImageKey(img image.Image) string {
	h := sha256.New()
	b := img.Bounds()
	var buf [16]byte
	binary.LittleEndian.PutUint32(buf[0:], uint32(int32(b.Min.X)))
	binary.LittleEndian.PutUint32(buf[4:], uint32(int32(b.Min.Y)))
	binary.LittleEndian.PutUint32(buf[8:], uint32(int32(b.Max.X)))
	binary.LittleEndian.PutUint32(buf[12:], uint32(int32(b.Max.Y)))
	h.Write(buf[:])

	row := make([]byte, 0, b.Dx()*8)
	for y := b.Min.Y; y < b.Max.Y; y++ {
		row = row[:0]
		for x := b.Min.X; x < b.Max.X; x++ {
			r, g, bl, a := img.At(x, y).RGBA()
			row = append(row, byte(r>>8), byte(r), byte(g>>8), byte(g), byte(bl>>8), byte(bl), byte(a>>8), byte(a))
		}
		h.Write(row)
	}
	return hex.EncodeToString(h.Sum(nil))
}
