package report

import (
	"fmt"
	"image/color"
	"io"
	"math"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
	"gonum.org/v1/plot/vg/draw"

	"vrpsplit/internal/geo"
)

const (
	plotWidth  = 10 * vg.Inch
	plotHeight = 10 * vg.Inch
)

// Plot draws every cluster as a scatter of its services with its hull.
// Longitude is on X, latitude on Y.
func (r *Report) Plot() (*plot.Plot, error) {
	p := plot.New()
	p.Title.Text = fmt.Sprintf("%s partition, %d clusters", r.Method, len(r.Clusters))
	p.X.Label.Text = "Longitude"
	p.Y.Label.Text = "Latitude"
	p.Legend.Top = true

	colors := generateColors(len(r.Clusters))
	for i, c := range r.Clusters {
		if len(c.Points) > 0 {
			sc, err := plotter.NewScatter(xys(c.Points))
			if err != nil {
				return nil, fmt.Errorf("cluster %s points: %w", c.Target, err)
			}
			sc.GlyphStyle.Color = colors[i]
			sc.GlyphStyle.Radius = vg.Points(2)
			sc.GlyphStyle.Shape = draw.CircleGlyph{}
			p.Add(sc)
			p.Legend.Add(c.Target, sc)
		}
		if len(c.Hull) > 1 {
			line, err := plotter.NewLine(xys(geo.Close(c.Hull)))
			if err != nil {
				return nil, fmt.Errorf("cluster %s hull: %w", c.Target, err)
			}
			line.Color = colors[i]
			line.Width = vg.Points(1)
			p.Add(line)
		}
		if c.Centroid != nil {
			cen, err := plotter.NewScatter(xys([]geo.Point{*c.Centroid}))
			if err != nil {
				return nil, fmt.Errorf("cluster %s centroid: %w", c.Target, err)
			}
			cen.GlyphStyle.Color = colors[i]
			cen.GlyphStyle.Radius = vg.Points(4)
			cen.GlyphStyle.Shape = draw.CrossGlyph{}
			p.Add(cen)
		}
	}
	return p, nil
}

// SavePNG renders the plot to path; the format follows the extension.
func (r *Report) SavePNG(path string) error {
	p, err := r.Plot()
	if err != nil {
		return err
	}
	if err := p.Save(plotWidth, plotHeight, path); err != nil {
		return fmt.Errorf("save plot: %w", err)
	}
	return nil
}

// WritePNG renders the plot as PNG to w.
func (r *Report) WritePNG(w io.Writer) error {
	p, err := r.Plot()
	if err != nil {
		return err
	}
	wt, err := p.WriterTo(plotWidth, plotHeight, "png")
	if err != nil {
		return fmt.Errorf("render plot: %w", err)
	}
	if _, err := wt.WriteTo(w); err != nil {
		return fmt.Errorf("write plot: %w", err)
	}
	return nil
}

func xys(points []geo.Point) plotter.XYs {
	out := make(plotter.XYs, len(points))
	for i, pt := range points {
		out[i] = plotter.XY{X: pt.Lon, Y: pt.Lat}
	}
	return out
}

// generateColors spreads n hues around the color wheel.
func generateColors(n int) []color.Color {
	colors := make([]color.Color, n)
	for i := range colors {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

func hslToRGB(h, s, l float64) (r, g, b uint8) {
	q := l + s - l*s
	if l < 0.5 {
		q = l * (1 + s)
	}
	p := 2*l - q
	conv := func(t float64) uint8 {
		return uint8(math.Round(hueToRGB(p, q, t) * 255))
	}
	return conv(h + 1.0/3.0), conv(h), conv(h - 1.0/3.0)
}

func hueToRGB(p, q, t float64) float64 {
	if t < 0 {
		t++
	}
	if t > 1 {
		t--
	}
	switch {
	case t < 1.0/6.0:
		return p + (q-p)*6*t
	case t < 0.5:
		return q
	case t < 2.0/3.0:
		return p + (q-p)*(2.0/3.0-t)*6
	}
	return p
}
