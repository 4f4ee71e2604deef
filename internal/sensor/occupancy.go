package sensor

import (
	"image"
	"image/draw"

	xdraw "golang.org/x/image/draw"
	"gonum.org/v1/gonum/stat"

	"github.com/banshee-data/boardwatch/internal/board"
)

// warpSize is the side of the square frame the board region is scaled to.
const warpSize = 640

// Reading is the per-square brightness behind one grid, kept for debugging.
type Reading struct {
	Brightness [board.Size][board.Size]float64 `json:"brightness"`
	Mean       float64                         `json:"mean"`
	StdDev     float64                         `json:"std_dev"`
}

// Detector turns a camera frame into an occupancy grid. A square is occupied
// when its mean grayscale brightness is below Threshold.
type Detector struct {
	Threshold float64
	// Crop selects the board within the frame. The zero rectangle means the
	// whole frame.
	Crop image.Rectangle
}

// Detect scales the board region to a square grayscale frame, splits it into
// 8x8 cells and thresholds each cell's mean. Row 0 is the top of the image.
func (d Detector) Detect(img image.Image) (board.Grid, Reading) {
	src := img.Bounds()
	if !d.Crop.Empty() {
		src = d.Crop.Intersect(src)
	}
	gray := image.NewGray(image.Rect(0, 0, warpSize, warpSize))
	if src.Dx() == warpSize && src.Dy() == warpSize {
		draw.Draw(gray, gray.Bounds(), img, src.Min, draw.Src)
	} else {
		xdraw.ApproxBiLinear.Scale(gray, gray.Bounds(), img, src, xdraw.Src, nil)
	}

	var (
		cells   [board.Size][board.Size]bool
		reading Reading
		means   = make([]float64, 0, board.Size*board.Size)
		pixels  = make([]float64, 0, (warpSize/board.Size)*(warpSize/board.Size))
	)
	cell := warpSize / board.Size
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			pixels = pixels[:0]
			for y := row * cell; y < (row+1)*cell; y++ {
				off := y * gray.Stride
				for x := col * cell; x < (col+1)*cell; x++ {
					pixels = append(pixels, float64(gray.Pix[off+x]))
				}
			}
			m := stat.Mean(pixels, nil)
			reading.Brightness[row][col] = m
			cells[row][col] = m < d.Threshold
			means = append(means, m)
		}
	}
	reading.Mean, reading.StdDev = stat.MeanStdDev(means, nil)
	return board.GridFromCells(cells), reading
}
