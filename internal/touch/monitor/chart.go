package monitor

import (
	"bytes"
	"fmt"
	"net/http"
	"sort"
	"strconv"
	"time"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/components"
	"github.com/go-echarts/go-echarts/v2/opts"

	"github.com/banshee-data/touchbridge/internal/httputil"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

// statsDevice picks the device named by the request, or the first watched
// device by ID.
func (s *Server) statsDevice(r *http.Request) (string, bool) {
	s.statsMu.Lock()
	defer s.statsMu.Unlock()
	if id := r.URL.Query().Get("device"); id != "" {
		_, ok := s.stats[id]
		return id, ok
	}
	ids := make([]string, 0, len(s.stats))
	for id := range s.stats {
		ids = append(ids, id)
	}
	if len(ids) == 0 {
		return "", false
	}
	sort.Strings(ids)
	return ids[0], true
}

// handleStatsChart renders the frame statistics window of one device as a
// line chart of inter-frame intervals and contact counts.
func (s *Server) handleStatsChart(w http.ResponseWriter, r *http.Request) {
	id, ok := s.statsDevice(r)
	if !ok {
		httputil.WriteJSONError(w, http.StatusNotFound, "no frame stats for device %q", r.URL.Query().Get("device"))
		return
	}
	s.statsMu.Lock()
	fs := s.stats[id]
	s.statsMu.Unlock()

	intervals, contacts := fs.Window()
	sum := fs.Summary()

	// Intervals start one frame later than contact counts.
	x := make([]string, len(contacts))
	for i := range x {
		x[i] = strconv.Itoa(i - len(contacts) + 1)
	}
	contactData := make([]opts.LineData, len(contacts))
	for i, c := range contacts {
		contactData[i] = opts.LineData{Value: c}
	}
	intervalData := make([]opts.LineData, len(contacts))
	offset := len(contacts) - len(intervals)
	for i := range intervalData {
		if i < offset {
			intervalData[i] = opts.LineData{Value: "-"}
			continue
		}
		intervalData[i] = opts.LineData{Value: intervals[i-offset] * 1000}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Touch frame stats", Width: "100%", Height: "720px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{
			Title:    fmt.Sprintf("Touch frames: %s", id),
			Subtitle: fmt.Sprintf("%.1f Hz, %d frames, %s", sum.FrameRateHz, sum.Frames, time.Now().Format(time.RFC3339)),
		}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Name: "frame"}),
	)
	line.SetXAxis(x).
		AddSeries("interval (ms)", intervalData).
		AddSeries("contacts", contactData)

	page := components.NewPage()
	page.SetAssetsHost(echartsAssetsHost)
	page.AddCharts(line)

	var buf bytes.Buffer
	if err := page.Render(&buf); err != nil {
		httputil.WriteJSONError(w, http.StatusInternalServerError, "render error: %v", err)
		return
	}

	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
