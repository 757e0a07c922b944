package dither

// EdgePolicy decides how window positions outside the image resolve.
type EdgePolicy int

const (
	// EdgeClamp snaps both coordinates to the nearest edge pixel.
	EdgeClamp EdgePolicy = iota
	// EdgeWrapX wraps horizontally and clamps vertically.
	EdgeWrapX
	// EdgeWrapY wraps vertically and clamps horizontally.
	EdgeWrapY
	// EdgeWrapBoth wraps on both axes, treating the image as a torus.
	EdgeWrapBoth
	// EdgeSkip does not visit positions outside the image.
	EdgeSkip
)

// Neighborhood is a Width x Height window whose (CenterX, CenterY) cell
// sits on the pixel being processed. MirrorX flips the window
// horizontally, which serpentine scans use on right-to-left rows.
type Neighborhood struct {
	Width, Height    int
	CenterX, CenterY int
	MirrorX          bool
}

// Each visits every window cell for the pixel at (x, y) of a w x h image.
// fn receives the window column and row and the resolved image position.
// Iteration stops early when fn returns false.
func (n Neighborhood) Each(x, y, w, h int, policy EdgePolicy, fn func(col, row, px, py int) bool) {
	if w <= 0 || h <= 0 {
		return
	}
	for row := 0; row < n.Height; row++ {
		py := y + row - n.CenterY
		for col := 0; col < n.Width; col++ {
			dx := col - n.CenterX
			if n.MirrorX {
				dx = -dx
			}
			px, qy, ok := resolve(x+dx, py, w, h, policy)
			if !ok {
				continue
			}
			if !fn(col, row, px, qy) {
				return
			}
		}
	}
}

func resolve(x, y, w, h int, policy EdgePolicy) (int, int, bool) {
	switch policy {
	case EdgeSkip:
		if x < 0 || x >= w || y < 0 || y >= h {
			return 0, 0, false
		}
		return x, y, true
	case EdgeWrapX:
		return wrap(x, w), clamp(y, h), true
	case EdgeWrapY:
		return clamp(x, w), wrap(y, h), true
	case EdgeWrapBoth:
		return wrap(x, w), wrap(y, h), true
	default:
		return clamp(x, w), clamp(y, h), true
	}
}

func clamp(v, n int) int {
	if v < 0 {
		return 0
	}
	if v >= n {
		return n - 1
	}
	return v
}

func wrap(v, n int) int {
	v %= n
	if v < 0 {
		v += n
	}
	return v
}
