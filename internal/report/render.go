package report

import (
	"bytes"
	"fmt"
	"image/color"
	"io"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"gonum.org/v1/plot"
	"gonum.org/v1/plot/palette/moreland"
	"gonum.org/v1/plot/plotter"
	"gonum.org/v1/plot/vg"
)

const (
	trackAxisLabel  = "track energy distortion"
	showerAxisLabel = "shower energy distortion"
	heatmapTitle    = "Significance v. Energy Distortion"
)

func axisTicks(values []float64) plot.ConstantTicks {
	ticks := make(plot.ConstantTicks, len(values))
	for i, v := range values {
		ticks[i] = plot.Tick{Value: float64(i), Label: strconv.FormatFloat(v, 'g', 4, 64)}
	}
	return ticks
}

// RenderPNG draws g as a heatmap and saves it to path. The image format
// follows the extension of path.
func RenderPNG(g *Grid, path string) error {
	p := plot.New()
	p.Title.Text = heatmapTitle
	p.X.Label.Text = trackAxisLabel
	p.Y.Label.Text = showerAxisLabel
	p.X.Tick.Marker = axisTicks(g.Track)
	p.Y.Tick.Marker = axisTicks(g.Shower)

	pal := moreland.SmoothBlueRed().Palette(255)
	h := plotter.NewHeatMap(g, pal)
	h.NaN = color.Gray{Y: 200}
	p.Add(h)

	thumbs := plotter.PaletteThumbnailers(pal)
	p.Legend.Top = true
	p.Legend.Add(fmt.Sprintf("%.3g", h.Max), thumbs[len(thumbs)-1])
	p.Legend.Add(fmt.Sprintf("%.3g", h.Min), thumbs[0])

	if err := p.Save(7*vg.Inch, 6*vg.Inch, path); err != nil {
		return fmt.Errorf("saving heatmap %s: %w", path, err)
	}
	return nil
}

// RenderHTML writes g as an interactive go-echarts heatmap.
func RenderHTML(g *Grid, w io.Writer) error {
	xs := make([]string, len(g.Track))
	for i, v := range g.Track {
		xs[i] = strconv.FormatFloat(v, 'g', 4, 64)
	}
	ys := make([]string, len(g.Shower))
	for i, v := range g.Shower {
		ys[i] = strconv.FormatFloat(v, 'g', 4, 64)
	}

	data := make([]opts.HeatMapData, 0, len(xs)*len(ys))
	for r, row := range g.Values {
		for c, v := range row {
			data = append(data, opts.HeatMapData{Value: [3]interface{}{c, r, v}})
		}
	}

	lo, hi := g.Range()
	if lo > hi {
		lo, hi = 0, 0
	}

	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: heatmapTitle, Width: "900px", Height: "700px"}),
		charts.WithTitleOpts(opts.Title{Title: heatmapTitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category", Data: xs, Name: trackAxisLabel, NameLocation: "middle", NameGap: 30}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ys, Name: showerAxisLabel, NameLocation: "middle", NameGap: 40}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:       opts.Bool(true),
			Calculable: opts.Bool(true),
			Min:        float32(lo),
			Max:        float32(hi),
			InRange:    &opts.VisualMapInRange{Color: []string{"#3b4cc0", "#8db0fe", "#dddddd", "#f49a7b", "#b40426"}},
		}),
	)
	hm.SetXAxis(xs).AddSeries("significance", data)

	var buf bytes.Buffer
	if err := hm.Render(&buf); err != nil {
		return fmt.Errorf("rendering heatmap: %w", err)
	}
	_, err := w.Write(buf.Bytes())
	return err
}
