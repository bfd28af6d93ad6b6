// Package charts renders the dashboard figures as PNG images with gonum/plot.
package charts

import (
	"fmt"
	"image/color"
	"io"

	"gonum.org/v1/gonum/mat"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/YuminosukeSato/housestack/pkg/errors"
)

// Default figure size.
var (
	Width  = 5 * vg.Inch
	Height = 4 * vg.Inch
)

var barColors = []color.Color{
	color.RGBA{R: 0x1f, G: 0x77, B: 0xb4, A: 0xff},
	color.RGBA{R: 0xff, G: 0x7f, B: 0x0e, A: 0xff},
}

// ProbabilityBars writes a bar chart of one probability per class name.
func ProbabilityBars(w io.Writer, title string, names []string, probs []float64) error {
	if len(names) == 0 || len(names) != len(probs) {
		return errors.NewDimensionError("charts.ProbabilityBars", len(names), len(probs), 0)
	}

	p := plot.New()
	p.Title.Text = title
	p.Y.Label.Text = "Probability"
	p.Y.Min, p.Y.Max = 0, 1

	for i, v := range probs {
		// one chart per bar so each class gets its own colour
		values := make(plotter.Values, len(probs))
		values[i] = v
		bars, err := plotter.NewBarChart(values, vg.Points(40))
		if err != nil {
			return errors.Wrap(err, "bar chart")
		}
		bars.Color = barColors[i%len(barColors)]
		bars.LineStyle.Width = 0
		p.Add(bars)
	}

	labels := plotter.XYLabels{XYs: make(plotter.XYs, len(probs)), Labels: make([]string, len(probs))}
	for i, v := range probs {
		labels.XYs[i] = plotter.XY{X: float64(i), Y: v}
		labels.Labels[i] = fmt.Sprintf("%.1f%%", v*100)
	}
	text, err := plotter.NewLabels(labels)
	if err != nil {
		return errors.Wrap(err, "bar labels")
	}
	p.Add(text)
	p.NominalX(names...)

	return save(w, p)
}

// confusionGrid adapts a confusion matrix to plotter.GridXYZ with true labels
// running top to bottom.
type confusionGrid struct {
	cm *mat.Dense
}

func (g confusionGrid) Dims() (c, r int) {
	r, c = g.cm.Dims()
	return c, r
}

func (g confusionGrid) Z(c, r int) float64 {
	n, _ := g.cm.Dims()
	return g.cm.At(n-1-r, c)
}

func (g confusionGrid) X(c int) float64 { return float64(c) }
func (g confusionGrid) Y(r int) float64 { return float64(r) }

// ConfusionHeatmap writes a heat map of cm with rows as true labels and
// columns as predicted labels, annotated with the counts.
func ConfusionHeatmap(w io.Writer, title string, cm *mat.Dense, names []string) error {
	r, c := cm.Dims()
	if r == 0 || r != c || len(names) != r {
		return errors.NewDimensionError("charts.ConfusionHeatmap", len(names), r, 0)
	}

	grid := confusionGrid{cm: cm}
	heat := plotter.NewHeatMap(grid, palette.Heat(12, 1))
	if heat.Min == heat.Max {
		heat.Max = heat.Min + 1
	}

	p := plot.New()
	p.Title.Text = title
	p.X.Label.Text = "Predicted"
	p.Y.Label.Text = "Actual"
	p.Add(heat)

	labels := plotter.XYLabels{}
	for row := 0; row < r; row++ {
		for col := 0; col < c; col++ {
			labels.XYs = append(labels.XYs, plotter.XY{X: float64(col), Y: float64(row)})
			labels.Labels = append(labels.Labels, fmt.Sprintf("%.0f", grid.Z(col, row)))
		}
	}
	text, err := plotter.NewLabels(labels)
	if err != nil {
		return errors.Wrap(err, "heat map labels")
	}
	p.Add(text)

	reversed := make([]string, r)
	for i, name := range names {
		reversed[r-1-i] = name
	}
	p.NominalX(names...)
	p.NominalY(reversed...)

	return save(w, p)
}

func save(w io.Writer, p *plot.Plot) error {
	wt, err := p.WriterTo(Width, Height, "png")
	if err != nil {
		return errors.Wrap(err, "render png")
	}
	if _, err := wt.WriteTo(w); err != nil {
		return errors.Wrap(err, "write png")
	}
	return nil
}
