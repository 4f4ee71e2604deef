package api

import (
	"bytes"
	"fmt"
	"io"
	"net/http"
	"strconv"

	"github.com/go-echarts/go-echarts/v2/charts"
	"github.com/go-echarts/go-echarts/v2/opts"
	"tailscale.com/tsweb"

	"github.com/banshee-data/boardwatch/internal/board"
	"github.com/banshee-data/boardwatch/internal/httputil"
	"github.com/banshee-data/boardwatch/internal/tracker"
)

const echartsAssetsHost = "https://go-echarts.github.io/go-echarts-assets/assets/"

func (s *Server) attachDebugRoutes(mux *http.ServeMux) {
	debug := tsweb.Debugger(mux)
	debug.HandleFunc("board", "Occupancy heatmap of the tracked board", s.handleBoardChart)
	debug.HandleFunc("confidence", "Confidence of recent scans", s.handleConfidenceChart)
}

// handleBoardChart renders the tracker's remembered grid as an 8x8 heatmap.
func (s *Server) handleBoardChart(w http.ResponseWriter, r *http.Request) {
	st := s.session.Status()

	files := make([]string, board.Size)
	ranks := make([]string, board.Size)
	for i := 0; i < board.Size; i++ {
		files[i] = string(rune('a' + i))
		ranks[i] = strconv.Itoa(i + 1)
	}

	data := make([]opts.HeatMapData, 0, board.Size*board.Size)
	for row := 0; row < board.Size; row++ {
		for col := 0; col < board.Size; col++ {
			v := 0
			if st.Grid.At(board.Square{Row: row, Col: col}) {
				v = 1
			}
			data = append(data, opts.HeatMapData{Value: [3]interface{}{col, board.Size - 1 - row, v}})
		}
	}

	subtitle := fmt.Sprintf("game=%s mode=%s scan=%d occupied=%d", st.GameID, st.Mode, st.ScanCount, st.Grid.Count())
	if st.AwaitingMove != "" {
		subtitle += " waiting for " + st.AwaitingMove
	}
	hm := charts.NewHeatMap()
	hm.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Board occupancy", Width: "640px", Height: "640px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Board occupancy", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true)}),
		charts.WithXAxisOpts(opts.XAxis{Type: "category"}),
		charts.WithYAxisOpts(opts.YAxis{Type: "category", Data: ranks}),
		charts.WithVisualMapOpts(opts.VisualMap{
			Show:    opts.Bool(false),
			Min:     0,
			Max:     1,
			InRange: &opts.VisualMapInRange{Color: []string{"#f0d9b5", "#7a4a1f"}},
		}),
	)
	hm.SetXAxis(files).AddSeries("occupied", data)

	s.render(w, hm)
}

// handleConfidenceChart plots the confidence of the scans in the session
// history, one series per result kind.
func (s *Server) handleConfidenceChart(w http.ResponseWriter, r *http.Request) {
	hist := s.session.History()
	if len(hist) == 0 {
		httputil.WriteJSONError(w, http.StatusNotFound, "no scans yet")
		return
	}

	xs := make([]string, len(hist))
	series := map[tracker.ResultKind][]opts.LineData{}
	for _, k := range []tracker.ResultKind{tracker.Candidate, tracker.Resynced} {
		series[k] = make([]opts.LineData, len(hist))
	}
	for i, p := range hist {
		xs[i] = strconv.Itoa(p.Scan)
		for k := range series {
			// Gaps keep the two series on a shared axis.
			series[k][i] = opts.LineData{Value: "-"}
		}
		if _, ok := series[p.Kind]; ok {
			series[p.Kind][i] = opts.LineData{Value: p.Confidence}
		}
	}

	subtitle := fmt.Sprintf("last %d scans", len(hist))
	if s.history != nil {
		if sum, err := s.history.CandidateConfidence(s.session.Status().GameID); err == nil && sum.Count > 0 {
			subtitle += fmt.Sprintf(", candidates n=%d mean=%.2f sd=%.2f", sum.Count, sum.Mean, sum.StdDev)
		}
	}

	line := charts.NewLine()
	line.SetGlobalOptions(
		charts.WithInitializationOpts(opts.Initialization{PageTitle: "Scan confidence", Width: "900px", Height: "420px", AssetsHost: echartsAssetsHost}),
		charts.WithTitleOpts(opts.Title{Title: "Scan confidence", Subtitle: subtitle}),
		charts.WithTooltipOpts(opts.Tooltip{Show: opts.Bool(true), Trigger: "axis"}),
		charts.WithLegendOpts(opts.Legend{Show: opts.Bool(true), Top: "bottom"}),
		charts.WithXAxisOpts(opts.XAxis{Name: "scan", NameLocation: "middle", NameGap: 25}),
		charts.WithYAxisOpts(opts.YAxis{Name: "confidence", Min: 0, Max: 1}),
	)
	line.SetXAxis(xs).
		AddSeries(tracker.Candidate.String(), series[tracker.Candidate]).
		AddSeries(tracker.Resynced.String(), series[tracker.Resynced])

	s.render(w, line)
}

func (s *Server) render(w http.ResponseWriter, c interface{ Render(io.Writer) error }) {
	var buf bytes.Buffer
	if err := c.Render(&buf); err != nil {
		httputil.InternalServerError(w, fmt.Sprintf("failed to render chart: %v", err))
		return
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, _ = w.Write(buf.Bytes())
}
