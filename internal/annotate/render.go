package annotate

import (
	"image"
	"image/color"
	"image/draw"
	"log/slog"
	"math"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// Render draws the annotations onto a copy of the frame. Each annotation
// is independently fallible: one that cannot be placed is skipped and
// counted, the rest still render. The input frame is never modified.
func Render(frame image.Image, annotations []Annotation, logger *slog.Logger) (*image.RGBA, int) {
	if logger == nil {
		logger = slog.Default()
	}

	bounds := frame.Bounds()
	out := image.NewRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(out, out.Bounds(), frame, bounds.Min, draw.Src)

	skipped := 0
	for _, a := range annotations {
		p, err := Place(a, bounds.Dx(), bounds.Dy())
		if err != nil {
			logger.Warn("Skipping annotation",
				slog.String("label", a.Label),
				slog.String("error", err.Error()))
			skipped++
			continue
		}
		drawPlacement(out, a.Label, p)
	}

	return out, skipped
}

func drawPlacement(img *image.RGBA, label string, p Placement) {
	fillRect(img, p.Box, color.RGBA{R: 20, G: 20, B: 28, A: 210})
	strokeRect(img, p.Box, p.Color)
	drawLine(img, p.LineEnd, p.LineStart, p.Color)
	drawArrowHead(img, p.LineStart, p.LineEnd, p.Color)
	drawLabel(img, label, p)
}

func fillRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	r = r.Intersect(img.Bounds())
	for y := r.Min.Y; y < r.Max.Y; y++ {
		for x := r.Min.X; x < r.Max.X; x++ {
			blend(img, x, y, c)
		}
	}
}

func strokeRect(img *image.RGBA, r image.Rectangle, c color.RGBA) {
	drawLine(img, image.Pt(r.Min.X, r.Min.Y), image.Pt(r.Max.X-1, r.Min.Y), c)
	drawLine(img, image.Pt(r.Min.X, r.Max.Y-1), image.Pt(r.Max.X-1, r.Max.Y-1), c)
	drawLine(img, image.Pt(r.Min.X, r.Min.Y), image.Pt(r.Min.X, r.Max.Y-1), c)
	drawLine(img, image.Pt(r.Max.X-1, r.Min.Y), image.Pt(r.Max.X-1, r.Max.Y-1), c)
}

// drawLine is a basic Bresenham line
func drawLine(img *image.RGBA, from, to image.Point, c color.RGBA) {
	dx := abs(to.X - from.X)
	dy := -abs(to.Y - from.Y)
	sx, sy := 1, 1
	if from.X > to.X {
		sx = -1
	}
	if from.Y > to.Y {
		sy = -1
	}
	err := dx + dy

	x, y := from.X, from.Y
	for {
		setPixel(img, x, y, c)
		if x == to.X && y == to.Y {
			return
		}
		e2 := 2 * err
		if e2 >= dy {
			err += dy
			x += sx
		}
		if e2 <= dx {
			err += dx
			y += sy
		}
	}
}

// drawArrowHead draws two barbs at the anchor end of the connector
func drawArrowHead(img *image.RGBA, tip, tail image.Point, c color.RGBA) {
	angle := math.Atan2(float64(tail.Y-tip.Y), float64(tail.X-tip.X))
	const barb = 8.0
	const spread = math.Pi / 6

	for _, offset := range []float64{spread, -spread} {
		end := image.Pt(
			tip.X+int(barb*math.Cos(angle+offset)),
			tip.Y+int(barb*math.Sin(angle+offset)),
		)
		drawLine(img, tip, end, c)
	}
}

// drawLabel renders the text at scale 1 into a scratch image, then
// composits it into the box with nearest-neighbor upscaling. The basic
// face has no larger sizes; scaling the raster keeps the geometry
// consistent with the box metrics.
func drawLabel(img *image.RGBA, label string, p Placement) {
	textW := glyphWidth * len(label)
	textH := glyphHeight

	scratch := image.NewRGBA(image.Rect(0, 0, textW, textH))
	d := font.Drawer{
		Dst:  scratch,
		Src:  image.NewUniform(color.White),
		Face: basicfont.Face7x13,
		Dot:  fixed.P(0, basicfont.Face7x13.Ascent),
	}
	d.DrawString(label)

	originX := p.Box.Min.X + (p.Box.Dx()-textW*p.Scale)/2
	originY := p.Box.Min.Y + (p.Box.Dy()-textH*p.Scale)/2

	for y := 0; y < textH*p.Scale; y++ {
		for x := 0; x < textW*p.Scale; x++ {
			c := scratch.RGBAAt(x/p.Scale, y/p.Scale)
			if c.A == 0 {
				continue
			}
			setPixel(img, originX+x, originY+y, c)
		}
	}
}

func setPixel(img *image.RGBA, x, y int, c color.RGBA) {
	if image.Pt(x, y).In(img.Bounds()) {
		img.SetRGBA(x, y, c)
	}
}

// blend mixes c over the existing pixel by c's alpha
func blend(img *image.RGBA, x, y int, c color.RGBA) {
	old := img.RGBAAt(x, y)
	a := uint32(c.A)
	inv := 255 - a
	img.SetRGBA(x, y, color.RGBA{
		R: uint8((uint32(c.R)*a + uint32(old.R)*inv) / 255),
		G: uint8((uint32(c.G)*a + uint32(old.G)*inv) / 255),
		B: uint8((uint32(c.B)*a + uint32(old.B)*inv) / 255),
		A: 255,
	})
}

func abs(v int) int {
	if v < 0 {
		return -v
	}
	return v
}
