// Package report renders a processed batch as a standalone HTML page with
// one go-echarts line chart of to_fit per channel.
package report

import (
	"fmt"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/readout/internal/fsutil"
	"github.com/banshee-data/readout/internal/readout/pipeline"
)

// DefaultAssetsHost serves the echarts JavaScript bundle.
const DefaultAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// Options controls report rendering.
type Options struct {
	Title      string
	AssetsHost string
}

func (o Options) withDefaults(res *pipeline.Result) Options {
	if o.Title == "" {
		o.Title = fmt.Sprintf("Readout batch %s", res.ID)
	}
	if o.AssetsHost == "" {
		o.AssetsHost = DefaultAssetsHost
	}
	return o
}

// Render writes the HTML report for res to w.
func Render(w io.Writer, res *pipeline.Result, o Options) error {
	if res == nil {
		return fmt.Errorf("nil result")
	}
	o = o.withDefaults(res)

	page := components.NewPage()
	page.PageTitle = o.Title
	page.SetAssetsHost(o.AssetsHost)
	for _, id := range res.ChannelIDs() {
		cr := res.Channels[id]
		if cr == nil || cr.ToFit == nil {
			continue
		}
		page.AddCharts(channelChart(id, cr, res, o))
	}
	if err := page.Render(w); err != nil {
		return fmt.Errorf("render report: %w", err)
	}
	return nil
}

// WriteFile renders the report for res into path.
func WriteFile(fsys fsutil.FileSystem, path string, res *pipeline.Result, o Options) error {
	f, err := fsys.Create(path)
	if err != nil {
		return fmt.Errorf("create report: %w", err)
	}
	if err := Render(f, res, o); err != nil {
		f.Close()
		return err
	}
	return f.Close()
}

func channelChart(id string, cr *pipeline.ChannelResult, res *pipeline.Result, o Options) *charts.Line {
	rows, cols := cr.ToFit.Dims()

	subtitle := fmt.Sprintf("routine=%s sweep points=%d", res.Routine, cols)
	if res.Mask != nil {
		subtitle += fmt.Sprintf(" heralded shots per point=%d", res.Mask.NPass)
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: o.Title, Width: "900px", Height: "480px", AssetsHost: o.AssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: id, Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Right: "10%"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "sweep point", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: yAxisName(res.Routine), NameLocation: "middle", NameGap: 40}),
	)

	x := make([]string, cols)
	for j := range x {
		x[j] = strconv.Itoa(j)
	}
	line.SetXAxis(x)

	names := seriesNames(cr, res.Routine, rows)
	for i := 0; i < rows; i++ {
		data := make([]opts.LineData, cols)
		for j := 0; j < cols; j++ {
			data[j] = opts.LineData{Value: cr.ToFit.At(i, j)}
		}
		line.AddSeries(names[i], data, charts.WithLineChartOpts(opts.LineChart{ShowSymbol: opts.Bool(true)}))
	}
	return line
}

func yAxisName(r pipeline.Routine) string {
	if r == pipeline.RoutineBare {
		return "mean amplitude"
	}
	return "population"
}

func seriesNames(cr *pipeline.ChannelResult, r pipeline.Routine, rows int) []string {
	names := make([]string, rows)
	if r == pipeline.RoutineBare && rows == 2 {
		names[0], names[1] = "I", "Q"
		return names
	}
	var levels []int
	switch {
	case cr.Corrected != nil:
		levels = cr.Corrected.Levels
	case cr.Normalized != nil:
		levels = cr.Normalized.Levels
	}
	for i := range names {
		if len(levels) == rows {
			names[i] = fmt.Sprintf("level %d", levels[i])
		} else {
			names[i] = fmt.Sprintf("row %d", i)
		}
	}
	return names
}
