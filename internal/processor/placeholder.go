package processor

import (
	"image"
	"image/color"
	"image/draw"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// placeholderImage renders the degraded-service substitute for a failed
// text-to-image run: a flat background carrying the prompt text, always a
// valid decodable PNG.
func placeholderImage(prompt string, width, height int) ([]byte, error) {
	if width <= 0 {
		width = 512
	}
	if height <= 0 {
		height = 512
	}

	img := image.NewNRGBA(image.Rect(0, 0, width, height))
	background := color.NRGBA{R: 0x2b, G: 0x2d, B: 0x42, A: 0xff}
	draw.Draw(img, img.Bounds(), &image.Uniform{C: background}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	drawer := &font.Drawer{
		Dst:  img,
		Src:  image.NewUniform(color.NRGBA{R: 0xed, G: 0xf2, B: 0xf4, A: 0xff}),
		Face: face,
	}

	lines := wrapText(prompt, face, width-2*textMargin)
	lineHeight := face.Metrics().Height.Ceil()
	y := textMargin + face.Metrics().Ascent.Ceil()
	for _, line := range lines {
		if y > height-textMargin {
			break
		}
		drawer.Dot = fixed.P(textMargin, y)
		drawer.DrawString(line)
		y += lineHeight
	}

	return encodePNG(img)
}

const textMargin = 16

// wrapText splits text into lines that fit within maxWidth pixels.
func wrapText(text string, face font.Face, maxWidth int) []string {
	if maxWidth <= 0 {
		return []string{text}
	}

	var lines []string
	line := ""
	for _, word := range splitWords(text) {
		candidate := word
		if line != "" {
			candidate = line + " " + word
		}
		if font.MeasureString(face, candidate).Ceil() > maxWidth && line != "" {
			lines = append(lines, line)
			line = word
			continue
		}
		line = candidate
	}
	if line != "" {
		lines = append(lines, line)
	}
	return lines
}

func splitWords(text string) []string {
	var words []string
	current := ""
	for _, r := range text {
		if r == ' ' || r == '\n' || r == '\t' {
			if current != "" {
				words = append(words, current)
				current = ""
			}
			continue
		}
		current += string(r)
	}
	if current != "" {
		words = append(words, current)
	}
	return words
}
