package report

import (
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"
	"github.com/go-echarts/go-echarts/v2/types"

	"gaptrade/backtest"
)

const (
	colorEquity   = "#3b82f6"
	colorDrawdown = "#f87171"

	htmlChartWidth  = "1200px"
	htmlChartHeight = "420px"
)

// RenderHTML writes an interactive equity and drawdown page for a run.
func RenderHTML(w io.Writer, res *backtest.Result) error {
	if res == nil || len(res.EquityCurve) == 0 {
		return fmt.Errorf("empty equity curve")
	}

	page := components.NewPage()
	page.PageTitle = fmt.Sprintf("%s %s", res.Strategy, res.RunID)
	page.AddCharts(equityChart(res), drawdownChart(res))
	return page.Render(w)
}

// WriteHTML renders the page into the run directory as report.html.
func (w *Writer) WriteHTML(dir string, res *backtest.Result) (string, error) {
	path := filepath.Join(dir, "report.html")
	f, err := os.Create(path)
	if err != nil {
		return "", err
	}
	defer f.Close()
	if err := RenderHTML(f, res); err != nil {
		return "", err
	}
	return path, nil
}

func equityChart(res *backtest.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  htmlChartWidth,
			Height: htmlChartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title: fmt.Sprintf("%s equity", res.Strategy),
			Subtitle: fmt.Sprintf("%s ~ %s  return %.2f%%  sharpe %.2f",
				res.Start.Format("2006-01-02"), res.End.Format("2006-01-02"),
				res.Metrics.TotalReturnPct, res.Metrics.SharpeRatio),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithDataZoomOpts(opts.DataZoom{Type: "slider", XAxisIndex: []int{0}}),
		charts.WithYAxisOpts(opts.YAxis{Scale: opts.Bool(true)}),
	)

	x := make([]string, 0, len(res.EquityCurve))
	y := make([]opts.LineData, 0, len(res.EquityCurve))
	for _, p := range res.EquityCurve {
		x = append(x, p.Time.Format("2006-01-02"))
		y = append(y, opts.LineData{Value: p.Equity})
	}
	line.SetXAxis(x)
	line.AddSeries("Equity", y, charts.WithLineStyleOpts(opts.LineStyle{Color: colorEquity, Width: 2}))
	return line
}

func drawdownChart(res *backtest.Result) *charts.Line {
	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{
			Theme:  types.ThemeWesteros,
			Width:  htmlChartWidth,
			Height: htmlChartHeight,
		}),
		charts.WithTitleOpts(opts.Title{
			Title:    "Drawdown",
			Subtitle: fmt.Sprintf("max %.2f%%", res.Metrics.MaxDrawdownPct),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithYAxisOpts(opts.YAxis{AxisLabel: &opts.AxisLabel{Formatter: "{value}%"}}),
	)

	x := make([]string, 0, len(res.EquityCurve))
	y := make([]opts.LineData, 0, len(res.EquityCurve))
	peak := 0.0
	for _, p := range res.EquityCurve {
		if p.Equity > peak {
			peak = p.Equity
		}
		dd := 0.0
		if peak > 0 {
			dd = (peak - p.Equity) / peak * 100
		}
		x = append(x, p.Time.Format("2006-01-02"))
		y = append(y, opts.LineData{Value: -dd})
	}
	line.SetXAxis(x)
	line.AddSeries("Drawdown", y, charts.WithLineStyleOpts(opts.LineStyle{Color: colorDrawdown, Width: 2}),
		charts.WithAreaStyleOpts(opts.AreaStyle{Opacity: opts.Float(0.25)}))
	return line
}
