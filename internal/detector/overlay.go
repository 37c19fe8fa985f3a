package detector

import (
	"image"
	"image/color"

	"gocv.io/x/gocv"
)

var (
	boneColor  = color.RGBA{R: 0, G: 255, B: 0, A: 0}
	jointColor = color.RGBA{R: 255, G: 0, B: 0, A: 0}
)

// DrawSkeleton draws the hand's bones and joints onto img, scaling the
// normalized landmark coordinates to the image size.
func DrawSkeleton(img *gocv.Mat, hand HandLandmarks) {
	if img == nil || img.Empty() {
		return
	}

	w, h := img.Cols(), img.Rows()
	toPixel := func(p Point3D) image.Point {
		return image.Point{X: int(p.X * float64(w)), Y: int(p.Y * float64(h))}
	}

	for _, c := range HandConnections {
		if c[0] >= len(hand.Points) || c[1] >= len(hand.Points) {
			continue
		}
		gocv.Line(img, toPixel(hand.Points[c[0]]), toPixel(hand.Points[c[1]]), boneColor, 2)
	}

	for _, p := range hand.Points {
		gocv.Circle(img, toPixel(p), 3, jointColor, -1)
	}
}
