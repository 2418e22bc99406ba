package annotate

import (
	"fmt"
	"image"
	"image/color"
)

// Side selects which side of the anchor point the label box sits on
type Side string

const (
	SideLeft  Side = "left"
	SideRight Side = "right"
)

// Status colors the callout
type Status string

const (
	StatusPass Status = "pass"
	StatusFix  Status = "fix"
)

// Annotation is one feedback callout. X and Y are percentages of the frame
// size, matching the coordinate service output.
type Annotation struct {
	X      float64 `json:"x"`
	Y      float64 `json:"y"`
	Label  string  `json:"label"`
	Side   Side    `json:"labelSide"`
	Status Status  `json:"status"`
}

// Placement is the resolved geometry of one annotation on a concrete frame
type Placement struct {
	Box       image.Rectangle
	LineStart image.Point // anchor on the body
	LineEnd   image.Point // where the connector meets the box
	Scale     int
	Color     color.RGBA
}

// glyph cell size of the label face
const (
	glyphWidth  = 7
	glyphHeight = 13
)

// metrics are the frame-proportional layout constants
type metrics struct {
	margin   int // minimum distance from any frame edge
	arrowLen int // connector length from anchor to box
	scale    int // integer text scale
	padX     int
	padY     int
}

func frameMetrics(width, height int) metrics {
	scale := height / 360
	if scale < 1 {
		scale = 1
	}

	margin := width * 2 / 100
	if margin < 4 {
		margin = 4
	}

	arrowLen := width * 8 / 100
	if arrowLen < 16 {
		arrowLen = 16
	}

	return metrics{
		margin:   margin,
		arrowLen: arrowLen,
		scale:    scale,
		padX:     4 * scale,
		padY:     3 * scale,
	}
}

func statusColor(s Status) color.RGBA {
	switch s {
	case StatusPass:
		return color.RGBA{R: 46, G: 204, B: 113, A: 255}
	case StatusFix:
		return color.RGBA{R: 231, G: 76, B: 60, A: 255}
	default:
		return color.RGBA{R: 241, G: 196, B: 15, A: 255}
	}
}

// Place resolves one annotation against a frame of the given size. The box
// is clamped inside the frame margins; the connector stays anchored to the
// clamped box edge facing the anchor point.
func Place(a Annotation, width, height int) (Placement, error) {
	if width <= 0 || height <= 0 {
		return Placement{}, fmt.Errorf("invalid frame size %dx%d", width, height)
	}
	if a.X < 0 || a.X > 100 || a.Y < 0 || a.Y > 100 {
		return Placement{}, fmt.Errorf("anchor (%v, %v) outside percent range", a.X, a.Y)
	}
	if a.Label == "" {
		return Placement{}, fmt.Errorf("empty label")
	}
	if a.Side != SideLeft && a.Side != SideRight {
		return Placement{}, fmt.Errorf("unknown side %q", a.Side)
	}

	m := frameMetrics(width, height)

	anchor := image.Point{
		X: int(a.X * float64(width) / 100),
		Y: int(a.Y * float64(height) / 100),
	}

	boxW := glyphWidth*len(a.Label)*m.scale + 2*m.padX
	boxH := glyphHeight*m.scale + 2*m.padY

	var box image.Rectangle
	switch a.Side {
	case SideLeft:
		right := anchor.X - m.arrowLen
		box = image.Rect(right-boxW, anchor.Y-boxH/2, right, anchor.Y+boxH/2)
	case SideRight:
		left := anchor.X + m.arrowLen
		box = image.Rect(left, anchor.Y-boxH/2, left+boxW, anchor.Y+boxH/2)
	}

	// Horizontal clamp. The connector end is recomputed from the clamped
	// box so the line stays attached.
	if box.Min.X < m.margin {
		box = box.Add(image.Point{X: m.margin - box.Min.X})
	}
	if box.Max.X > width-m.margin {
		box = box.Sub(image.Point{X: box.Max.X - (width - m.margin)})
	}

	// Vertical clamp.
	if box.Min.Y < m.margin {
		box = box.Add(image.Point{Y: m.margin - box.Min.Y})
	}
	if box.Max.Y > height-m.margin {
		box = box.Sub(image.Point{Y: box.Max.Y - (height - m.margin)})
	}

	lineEnd := image.Point{Y: (box.Min.Y + box.Max.Y) / 2}
	if a.Side == SideLeft {
		lineEnd.X = box.Max.X
	} else {
		lineEnd.X = box.Min.X
	}

	return Placement{
		Box:       box,
		LineStart: anchor,
		LineEnd:   lineEnd,
		Scale:     m.scale,
		Color:     statusColor(a.Status),
	}, nil
}
