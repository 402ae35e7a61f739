// Package plots renders processed readout batches as PNG figures: one IQ
// scatter per channel, coloured by assigned level, and one line plot of the
// to_fit rows against sweep point.
package plots

import (
	"fmt"
	"image/color"
	"path/filepath"
	"slices"

	"gonum.org/v1/plot"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"

	"github.com/banshee-data/readout/internal/fsutil"
	"github.com/banshee-data/readout/internal/readout"
	"github.com/banshee-data/readout/internal/readout/pipeline"
	"github.com/banshee-data/readout/internal/security"
)

// Plotter writes figures for processed batches into a directory.
type Plotter struct {
	fs     fsutil.FileSystem
	dir    string
	width  vg.Length
	height vg.Length
}

// NewPlotter creates a Plotter writing into dir through fsys.
func NewPlotter(fsys fsutil.FileSystem, dir string) *Plotter {
	return &Plotter{fs: fsys, dir: dir, width: 8 * vg.Inch, height: 6 * vg.Inch}
}

// WriteResult renders every channel of res and returns the written paths in
// channel order.
func (p *Plotter) WriteResult(res *pipeline.Result) ([]string, error) {
	if err := p.fs.MkdirAll(p.dir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create plot dir: %w", err)
	}

	var written []string
	for _, id := range res.ChannelIDs() {
		cr := res.Channels[id]
		prefix := security.SanitizeFilename(res.ID + "_" + id)

		if trace, labels := scatterSource(cr); trace != nil {
			iq, err := iqScatter(id, trace, labels)
			if err != nil {
				return written, fmt.Errorf("channel %s: %w", id, err)
			}
			path := filepath.Join(p.dir, prefix+"_iq.png")
			if err := p.save(iq, path); err != nil {
				return written, err
			}
			written = append(written, path)
		}

		if cr.ToFit != nil {
			pop, err := toFitLines(id, cr, res.Routine)
			if err != nil {
				return written, fmt.Errorf("channel %s: %w", id, err)
			}
			path := filepath.Join(p.dir, prefix+"_to_fit.png")
			if err := p.save(pop, path); err != nil {
				return written, err
			}
			written = append(written, path)
		}
	}
	return written, nil
}

func (p *Plotter) save(pl *plot.Plot, path string) error {
	wt, err := pl.WriterTo(p.width, p.height, "png")
	if err != nil {
		return fmt.Errorf("render %s: %w", path, err)
	}
	f, err := p.fs.Create(path)
	if err != nil {
		return fmt.Errorf("create %s: %w", path, err)
	}
	if _, err := wt.WriteTo(f); err != nil {
		f.Close()
		return fmt.Errorf("write %s: %w", path, err)
	}
	return f.Close()
}

// scatterSource picks the rotated readout trace and its labels, preferring
// the auto-rotated view for the bare routine.
func scatterSource(cr *pipeline.ChannelResult) (*readout.Trace, *readout.Labels) {
	switch {
	case cr.AutoRotation != nil:
		return cr.AutoRotation.Rotated, cr.AutoRotation.Labels
	case cr.Rotated != nil:
		var labels *readout.Labels
		if cr.Classified != nil {
			labels = cr.Classified.Readout
		}
		return cr.Rotated.Readout, labels
	default:
		return nil, nil
	}
}

func iqScatter(id string, t *readout.Trace, labels *readout.Labels) (*plot.Plot, error) {
	pl := plot.New()
	pl.Title.Text = fmt.Sprintf("%s - rotated readout", id)
	pl.X.Label.Text = "I"
	pl.Y.Label.Text = "Q"

	groups := map[int]plotter.XYs{}
	for r := 0; r < t.Reps; r++ {
		for c := 0; c < t.Points; c++ {
			level := 0
			if labels != nil {
				level = labels.At(r, c)
			}
			s := t.At(r, c)
			groups[level] = append(groups[level], plotter.XY{X: real(s), Y: imag(s)})
		}
	}

	keys := make([]int, 0, len(groups))
	for k := range groups {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	colors := generateColors(len(keys))
	for i, level := range keys {
		sc, err := plotter.NewScatter(groups[level])
		if err != nil {
			return nil, err
		}
		sc.GlyphStyle.Color = colors[i]
		sc.GlyphStyle.Radius = vg.Points(1.5)
		pl.Add(sc)
		if labels != nil {
			pl.Legend.Add(fmt.Sprintf("level %d", level), sc)
		}
	}
	configureLegend(pl)
	return pl, nil
}

func toFitLines(id string, cr *pipeline.ChannelResult, routine pipeline.Routine) (*plot.Plot, error) {
	pl := plot.New()
	pl.X.Label.Text = "Sweep point"

	rows, cols := cr.ToFit.Dims()
	names := make([]string, rows)
	switch {
	case routine == pipeline.RoutineBare && rows == 2:
		pl.Title.Text = fmt.Sprintf("%s - averaged IQ", id)
		pl.Y.Label.Text = "Mean amplitude"
		names[0], names[1] = "I", "Q"
	default:
		pl.Title.Text = fmt.Sprintf("%s - population", id)
		pl.Y.Label.Text = "Population"
		levels := rowLevels(cr, rows)
		for i := range names {
			names[i] = fmt.Sprintf("level %d", levels[i])
		}
	}

	colors := generateColors(rows)
	for i := 0; i < rows; i++ {
		pts := make(plotter.XYs, cols)
		for j := 0; j < cols; j++ {
			pts[j] = plotter.XY{X: float64(j), Y: cr.ToFit.At(i, j)}
		}
		line, points, err := plotter.NewLinePoints(pts)
		if err != nil {
			return nil, err
		}
		line.Color = colors[i]
		line.Width = vg.Points(1)
		points.Color = colors[i]
		pl.Add(line, points)
		pl.Legend.Add(names[i], line, points)
	}
	configureLegend(pl)
	return pl, nil
}

// rowLevels returns the readout level of each to_fit row, falling back to
// row indices when the stage records do not carry them.
func rowLevels(cr *pipeline.ChannelResult, rows int) []int {
	var levels []int
	switch {
	case cr.Corrected != nil:
		levels = cr.Corrected.Levels
	case cr.Normalized != nil:
		levels = cr.Normalized.Levels
	}
	if len(levels) == rows {
		return levels
	}
	levels = make([]int, rows)
	for i := range levels {
		levels[i] = i
	}
	return levels
}

func configureLegend(pl *plot.Plot) {
	pl.Legend.Top = true
	pl.Legend.Left = false
	pl.Legend.XOffs = -10
	pl.Legend.YOffs = -10
}

// generateColors spreads n colours evenly around the hue circle.
func generateColors(n int) []color.Color {
	if n <= 0 {
		return nil
	}
	colors := make([]color.Color, n)
	for i := 0; i < n; i++ {
		r, g, b := hslToRGB(float64(i)/float64(n), 0.7, 0.5)
		colors[i] = color.RGBA{R: r, G: g, B: b, A: 255}
	}
	return colors
}

// hslToRGB converts HSL to RGB (0-255 range).
func hslToRGB(h, s, l float64) (r, g, b uint8) {
	var q float64
	if l < 0.5 {
		q = l * (1 + s)
	} else {
		q = l + s - l*s
	}
	p := 2*l - q
	return uint8(hueToRGB(p, q, h+1.0/3.0) * 255),
		uint8(hueToRGB(p, q, h) * 255),
		uint8(hueToRGB(p, q, h-1.0/3.0) * 255)
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
	default:
		return p
	}
}
