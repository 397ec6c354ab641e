package integrations

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	_ "image/gif"
	"image/jpeg"
	_ "image/png"
	"strings"

	"golang.org/x/image/draw"
	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
	_ "golang.org/x/image/webp"
)

const (
	coverMaxWidth  = 1400
	coverMaxHeight = 2100
	coverQuality   = 85
)

// NormalizeCover decodes a downloaded cover, downscales it to reader-friendly
// dimensions and re-encodes it as JPEG. Undecodable input is an error so the
// caller can fall back to a generated cover.
func NormalizeCover(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("failed to decode cover: %w", err)
	}

	bounds := img.Bounds()
	width, height := fitWithin(bounds.Dx(), bounds.Dy(), coverMaxWidth, coverMaxHeight)

	if width != bounds.Dx() || height != bounds.Dy() {
		dst := image.NewRGBA(image.Rect(0, 0, width, height))
		draw.CatmullRom.Scale(dst, dst.Bounds(), img, bounds, draw.Over, nil)
		img = dst
	}

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: coverQuality}); err != nil {
		return nil, fmt.Errorf("failed to encode cover: %w", err)
	}
	return buf.Bytes(), nil
}

// fitWithin scales (width, height) down to fit the given bounds, keeping the
// aspect ratio. Dimensions already inside the bounds pass through unchanged.
func fitWithin(width, height, maxWidth, maxHeight int) (int, int) {
	if width <= maxWidth && height <= maxHeight {
		return width, height
	}

	widthScale := float64(maxWidth) / float64(width)
	heightScale := float64(maxHeight) / float64(height)
	scale := widthScale
	if heightScale < widthScale {
		scale = heightScale
	}

	return int(float64(width) * scale), int(float64(height) * scale)
}

// PlaceholderCover renders a simple title card for books whose cover could
// not be downloaded.
func PlaceholderCover(title string) []byte {
	const width, height = 600, 900

	img := image.NewRGBA(image.Rect(0, 0, width, height))
	bg := color.RGBA{R: 38, G: 50, B: 76, A: 255}
	draw.Draw(img, img.Bounds(), image.NewUniform(bg), image.Point{}, draw.Src)

	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
	}

	lines := wrapTitle(title, 30)
	startY := height/2 - len(lines)*16/2
	for i, line := range lines {
		drawer.Dot = fixed.P((width-drawer.MeasureString(line).Ceil())/2, startY+i*16)
		drawer.DrawString(line)
	}

	var buf bytes.Buffer
	jpeg.Encode(&buf, img, &jpeg.Options{Quality: coverQuality})
	return buf.Bytes()
}

func wrapTitle(title string, limit int) []string {
	title = strings.TrimSpace(title)
	if title == "" {
		return []string{"Untitled"}
	}

	var lines []string
	runes := []rune(title)
	for len(runes) > limit {
		lines = append(lines, string(runes[:limit]))
		runes = runes[limit:]
	}
	lines = append(lines, string(runes))
	return lines
}
