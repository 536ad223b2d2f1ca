package render

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/png"
	"strings"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

const (
	pngWidth      = 640
	pngMargin     = 16
	pngLineHeight = 18
	// basicfont glyphs are 7px wide
	pngMaxChars = (pngWidth - 2*pngMargin) / 7
)

var (
	inkColor    = color.RGBA{R: 0x1f, G: 0x29, B: 0x37, A: 0xff}
	accentColor = color.RGBA{R: 0x25, G: 0x63, B: 0xeb, A: 0xff}
	ruleColor   = color.RGBA{R: 0xd1, G: 0xd5, B: 0xdb, A: 0xff}
)

type pngEncoder struct{}

func (pngEncoder) mimeType() string  { return MimeTypePNG }
func (pngEncoder) extension() string { return "png" }

// encode draws the snapshot as plain text lines on a white card
func (pngEncoder) encode(s *snapshot) ([]byte, error) {
	lines := pngLines(s)
	height := 2*pngMargin + len(lines)*pngLineHeight

	img := image.NewRGBA(image.Rect(0, 0, pngWidth, height))
	draw.Draw(img, img.Bounds(), image.White, image.Point{}, draw.Src)

	d := &font.Drawer{Dst: img, Face: basicfont.Face7x13}
	for i, ln := range lines {
		y := pngMargin + (i+1)*pngLineHeight - 5
		if ln.rule {
			for x := pngMargin; x < pngWidth-pngMargin; x++ {
				img.Set(x, y-4, ruleColor)
			}
			continue
		}
		d.Src = image.NewUniform(inkColor)
		if ln.accent {
			d.Src = image.NewUniform(accentColor)
		}
		d.Dot = fixed.P(pngMargin, y)
		d.DrawString(truncate(ln.text, pngMaxChars))
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

type pngLine struct {
	text   string
	accent bool
	rule   bool
}

func pngLines(s *snapshot) []pngLine {
	lines := []pngLine{{text: s.title, accent: true}, {rule: true}}
	for _, f := range s.fields {
		lines = append(lines, pngLine{text: padRight(f.label+":", 14) + f.value})
	}

	if len(s.items) > 0 {
		lines = append(lines, pngLine{rule: true}, pngLine{text: itemHeader(), accent: true})
		for _, it := range s.items {
			delivered := it.delivered
			if delivered == "" {
				delivered = "-"
			}
			lines = append(lines, pngLine{text: padRight(it.name, 24) +
				padRight(it.quantity+" "+it.unit, 14) +
				padRight(it.weight, 10) +
				padRight(it.requested, 10) +
				delivered})
		}
	}

	if len(s.approvals) > 0 {
		lines = append(lines, pngLine{rule: true}, pngLine{text: "Approvals", accent: true})
		for _, a := range s.approvals {
			lines = append(lines, pngLine{text: padRight(a.label, 18) + a.value})
		}
	}
	return lines
}

func itemHeader() string {
	return padRight("Item", 24) + padRight("Quantity", 14) + padRight("Weight", 10) + padRight("Requested", 10) + "Delivered"
}

func padRight(s string, n int) string {
	if len(s) >= n {
		return truncate(s, n-1) + " "
	}
	return s + strings.Repeat(" ", n-len(s))
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	if n <= 1 {
		return string(r[:n])
	}
	return string(r[:n-1]) + "~"
}
