package output

import (
	"encoding/json"
	"fmt"
	"html/template"
	"io"
	"time"

	"github.com/torosent/runnerprobe/internal/metrics"
	"github.com/torosent/runnerprobe/internal/threshold"
)

var reportTemplate = template.Must(template.New("report").Funcs(template.FuncMap{
	"formatFloat": func(f float64) string { return fmt.Sprintf("%.2f", f) },
}).Parse(htmlTemplate))

type thresholdRow struct {
	Threshold string
	Actual    float64
	Pass      bool
}

type thresholdTable struct {
	Passed int
	Total  int
	Rows   []thresholdRow
}

type reportPage struct {
	GeneratedAt     string
	Metrics         *metrics.TestMetrics
	MaxConcurrency  int
	AvgConcurrency  float64
	ConcurrencyFrom string
	Thresholds      *thresholdTable
	TimelineJSON    template.JS
	QueueJSON       template.JS
}

// GenerateHTMLReport writes a standalone HTML report with a concurrency
// timeline and queue-time chart.
func GenerateHTMLReport(w io.Writer, m *metrics.TestMetrics, results []threshold.Result) error {
	timeline, err := timelineSeries(m.Timeline)
	if err != nil {
		return err
	}
	queue, err := indexedSeries(m.QueueTimes)
	if err != nil {
		return err
	}
	page := reportPage{
		GeneratedAt:  time.Now().Format(time.RFC3339),
		Metrics:      m,
		Thresholds:   tableOf(results),
		TimelineJSON: timeline,
		QueueJSON:    queue,
	}
	page.MaxConcurrency, page.AvgConcurrency, page.ConcurrencyFrom = m.Concurrency.Authoritative()

	if err := reportTemplate.Execute(w, page); err != nil {
		return fmt.Errorf("render HTML report: %w", err)
	}
	return nil
}

func tableOf(results []threshold.Result) *thresholdTable {
	if len(results) == 0 {
		return nil
	}
	t := &thresholdTable{
		Total:  len(results),
		Passed: len(results) - threshold.Failures(results),
		Rows:   make([]thresholdRow, 0, len(results)),
	}
	for _, r := range results {
		t.Rows = append(t.Rows, thresholdRow{Threshold: r.Threshold.Raw, Actual: r.Actual, Pass: r.Pass})
	}
	return t
}

// timelineSeries lays out the timeline as uPlot's [xs, ys] data.
func timelineSeries(points []metrics.TimelinePoint) (template.JS, error) {
	xs := make([]float64, len(points))
	ys := make([]int, len(points))
	for i, p := range points {
		xs[i], ys[i] = p.OffsetSeconds, p.Active
	}
	return marshalJS([]any{xs, ys})
}

// indexedSeries plots samples against their 1-based dispatch order.
func indexedSeries(samples []float64) (template.JS, error) {
	xs := make([]int, len(samples))
	for i := range xs {
		xs[i] = i + 1
	}
	return marshalJS([]any{xs, samples})
}

func marshalJS(v any) (template.JS, error) {
	b, err := json.Marshal(v)
	if err != nil {
		return "", fmt.Errorf("encode chart data: %w", err)
	}
	return template.JS(b), nil
}

const htmlTemplate = `<!DOCTYPE html>
<html lang="en">
<head>
    <meta charset="UTF-8">
    <meta name="viewport" content="width=device-width, initial-scale=1.0">
    <title>Runner Load Test {{.Metrics.RunID}}</title>
    <link rel="stylesheet" href="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.min.css">
    <style>
        body { font-family: -apple-system, BlinkMacSystemFont, 'Segoe UI', Roboto, Arial, sans-serif; background: #f5f7fa; color: #2c3e50; padding: 20px; }
        .container { max-width: 1200px; margin: 0 auto; background: white; border-radius: 8px; padding: 30px 40px; }
        .grid { display: grid; grid-template-columns: repeat(auto-fit, minmax(200px, 1fr)); gap: 16px; margin: 24px 0; }
        .card { background: #f8f9fa; border-radius: 8px; padding: 16px; border-left: 4px solid #667eea; }
        .card h3 { font-size: 0.8rem; color: #6c757d; text-transform: uppercase; margin: 0 0 8px; }
        .card .value { font-size: 1.6rem; font-weight: bold; }
        .card.error { border-left-color: #ef4444; }
        table { width: 100%; border-collapse: collapse; margin-bottom: 24px; }
        th, td { text-align: left; padding: 6px 10px; border-bottom: 1px solid #e5e7eb; }
        .pass { color: #10b981; }
        .fail { color: #ef4444; }
        .meta { color: #6c757d; font-size: 0.9rem; }
    </style>
</head>
<body>
<div class="container">
    <h1>Runner Load Test</h1>
    <div class="meta">Run {{.Metrics.RunID}} &middot; profile {{.Metrics.Profile}} &middot; {{.Metrics.RunnerCount}} runners &middot; generated {{.GeneratedAt}}</div>

    <div class="grid">
        <div class="card"><h3>Dispatched</h3><div class="value">{{.Metrics.Counts.Dispatched}}</div></div>
        <div class="card"><h3>Completed</h3><div class="value">{{.Metrics.Counts.Completed}}</div></div>
        <div class="card{{if gt .Metrics.Counts.Failed 0}} error{{end}}"><h3>Failed</h3><div class="value">{{.Metrics.Counts.Failed}}</div></div>
        <div class="card{{if gt .Metrics.Counts.TimedOut 0}} error{{end}}"><h3>Timed out</h3><div class="value">{{.Metrics.Counts.TimedOut}}</div></div>
        <div class="card"><h3>Unmatched</h3><div class="value">{{.Metrics.Counts.Unmatched}}</div></div>
        <div class="card"><h3>Failure rate</h3><div class="value">{{formatFloat .Metrics.FailureRate}}%</div></div>
        <div class="card"><h3>Max concurrency</h3><div class="value">{{.MaxConcurrency}}</div><div class="meta">avg {{formatFloat .AvgConcurrency}} ({{.ConcurrencyFrom}})</div></div>
        <div class="card"><h3>Queue trend</h3><div class="value">{{.Metrics.QueueTrend}}</div></div>
    </div>

    <h2>Timings (seconds)</h2>
    <table>
        <tr><th>Series</th><th>n</th><th>Min</th><th>Mean</th><th>Median</th><th>P95</th><th>Max</th><th>Stdev</th></tr>
        {{with .Metrics.Queue}}<tr><td>Queue</td><td>{{.Count}}</td><td>{{formatFloat .Min}}</td><td>{{formatFloat .Mean}}</td><td>{{formatFloat .Median}}</td><td>{{formatFloat .P95}}</td><td>{{formatFloat .Max}}</td><td>{{formatFloat .Stdev}}</td></tr>{{end}}
        {{with .Metrics.Execution}}<tr><td>Execution</td><td>{{.Count}}</td><td>{{formatFloat .Min}}</td><td>{{formatFloat .Mean}}</td><td>{{formatFloat .Median}}</td><td>{{formatFloat .P95}}</td><td>{{formatFloat .Max}}</td><td>{{formatFloat .Stdev}}</td></tr>{{end}}
        {{with .Metrics.Total}}<tr><td>Total</td><td>{{.Count}}</td><td>{{formatFloat .Min}}</td><td>{{formatFloat .Mean}}</td><td>{{formatFloat .Median}}</td><td>{{formatFloat .P95}}</td><td>{{formatFloat .Max}}</td><td>{{formatFloat .Stdev}}</td></tr>{{end}}
    </table>

    {{with .Thresholds}}
    <h2>Thresholds ({{.Passed}}/{{.Total}} passed)</h2>
    <table>
        <tr><th>Threshold</th><th>Actual</th><th>Result</th></tr>
        {{range .Rows}}
        <tr><td>{{.Threshold}}</td><td>{{formatFloat .Actual}}</td><td class="{{if .Pass}}pass{{else}}fail{{end}}">{{if .Pass}}pass{{else}}fail{{end}}</td></tr>
        {{end}}
    </table>
    {{end}}

    {{if .Metrics.Runners}}
    <h2>Runner usage</h2>
    <table>
        <tr><th>Runner</th><th>Jobs</th><th>Busy seconds</th></tr>
        {{range .Metrics.Runners}}<tr><td>{{.Name}}</td><td>{{.Jobs}}</td><td>{{formatFloat .BusySeconds}}</td></tr>{{end}}
    </table>
    {{end}}

    <h2>Running jobs over time</h2>
    <div id="timeline-chart"></div>
    <h2>Queue time per job</h2>
    <div id="queue-chart"></div>
</div>
<script src="https://cdn.jsdelivr.net/npm/uplot@1.6.24/dist/uPlot.iife.min.js"></script>
<script>
    const timeline = {{.TimelineJSON}};
    const queue = {{.QueueJSON}};
    function plot(id, data, xLabel, yLabel) {
        if (!data[0].length) { return; }
        new uPlot({
            width: 1100, height: 280,
            scales: { x: { time: false } },
            axes: [{ label: xLabel }, { label: yLabel }],
            series: [{}, { label: yLabel, stroke: "#667eea", width: 2 }]
        }, data, document.getElementById(id));
    }
    plot("timeline-chart", timeline, "seconds since first start", "running jobs");
    plot("queue-chart", queue, "job", "queue seconds");
</script>
</body>
</html>
`
