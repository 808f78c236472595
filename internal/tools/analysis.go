package tools

import (
	"fmt"
	"math"
	"sort"
	"time"

	"github.com/agentoven/agentoven/data-agent/internal/store"
)

// Analysis types accepted by analyze_data.
const (
	AnalysisStatistics = "statistics"
	AnalysisTrend      = "trend"
	AnalysisAnomaly    = "anomaly"
	AnalysisSummary    = "summary"
	AnalysisComparison = "comparison"
)

var analysisTypes = []string{AnalysisTrend, AnalysisAnomaly, AnalysisSummary, AnalysisComparison, AnalysisStatistics}

// AnalysisError is returned as tool output when the data cannot be analyzed.
type AnalysisError struct {
	Error string `json:"error"`
}

type Statistics struct {
	Type    string  `json:"type"`
	Metric  string  `json:"metric"`
	Count   int     `json:"count"`
	Sum     float64 `json:"sum"`
	Average float64 `json:"average"`
	Min     float64 `json:"min"`
	Max     float64 `json:"max"`
	Range   float64 `json:"range"`
}

type TrendPeriod struct {
	Period string  `json:"period"`
	Count  int     `json:"count"`
	Total  float64 `json:"total"`
}

type Trend struct {
	Type      string        `json:"type"`
	Periods   []TrendPeriod `json:"periods"`
	Direction string        `json:"direction"`
}

type Anomaly struct {
	ID          string  `json:"id"`
	Value       float64 `json:"value"`
	Name        string  `json:"name,omitempty"`
	Description string  `json:"description,omitempty"`
}

type AnomalyReport struct {
	Type              string    `json:"type"`
	Threshold         float64   `json:"threshold"`
	Average           float64   `json:"average"`
	StandardDeviation float64   `json:"standardDeviation"`
	Anomalies         []Anomaly `json:"anomalies"`
}

type Summary struct {
	Type         string           `json:"type"`
	TotalRecords int              `json:"totalRecords"`
	Sample       []store.Document `json:"sample"`
	Fields       []string         `json:"fields"`
}

type GroupStats struct {
	Group   string  `json:"group"`
	Count   int     `json:"count"`
	Total   float64 `json:"total"`
	Average float64 `json:"average"`
}

type Comparison struct {
	Type    string       `json:"type"`
	GroupBy string       `json:"groupBy"`
	Groups  []GroupStats `json:"groups"`
}

// trendDateFields are tried in order to place a record in a month.
var trendDateFields = []string{"date", "expectedCloseDate", "hireDate", "createdAt"}

// Analyze computes one analysis over already-projected rows.
func Analyze(rows []store.Document, analysisType, groupBy, metric string) interface{} {
	if len(rows) == 0 {
		return AnalysisError{Error: "No data provided for analysis"}
	}
	if metric == "" {
		metric = "amount"
	}

	switch analysisType {
	case AnalysisStatistics:
		values := numericValues(rows, metric)
		if len(values) == 0 {
			return AnalysisError{Error: "No numeric data found for statistics"}
		}
		sum, lo, hi := 0.0, math.Inf(1), math.Inf(-1)
		for _, v := range values {
			sum += v
			lo = math.Min(lo, v)
			hi = math.Max(hi, v)
		}
		return Statistics{
			Type:    AnalysisStatistics,
			Metric:  metric,
			Count:   len(values),
			Sum:     sum,
			Average: sum / float64(len(values)),
			Min:     lo,
			Max:     hi,
			Range:   hi - lo,
		}

	case AnalysisTrend:
		buckets := map[string]*TrendPeriod{}
		for _, row := range rows {
			month, ok := monthOf(row)
			if !ok {
				continue
			}
			p, exists := buckets[month]
			if !exists {
				p = &TrendPeriod{Period: month}
				buckets[month] = p
			}
			p.Count++
			v, _ := number(row[metric])
			p.Total += v
		}
		periods := make([]TrendPeriod, 0, len(buckets))
		for _, p := range buckets {
			periods = append(periods, *p)
		}
		sort.Slice(periods, func(i, j int) bool { return periods[i].Period < periods[j].Period })

		direction := "insufficient_data"
		if len(periods) >= 2 {
			direction = "decreasing"
			if periods[len(periods)-1].Total > periods[0].Total {
				direction = "increasing"
			}
		}
		return Trend{Type: AnalysisTrend, Periods: periods, Direction: direction}

	case AnalysisAnomaly:
		values := numericValues(rows, metric)
		if len(values) == 0 {
			return AnalysisError{Error: "No numeric data found for anomaly detection"}
		}
		avg := 0.0
		for _, v := range values {
			avg += v
		}
		avg /= float64(len(values))
		variance := 0.0
		for _, v := range values {
			variance += (v - avg) * (v - avg)
		}
		std := math.Sqrt(variance / float64(len(values)))
		threshold := avg + 2*std

		anomalies := make([]Anomaly, 0)
		for _, row := range rows {
			v, ok := number(row[metric])
			if !ok || v <= threshold {
				continue
			}
			a := Anomaly{ID: row.ID(), Value: v}
			a.Name, _ = row["name"].(string)
			a.Description, _ = row["description"].(string)
			anomalies = append(anomalies, a)
		}
		return AnomalyReport{
			Type:              AnalysisAnomaly,
			Threshold:         threshold,
			Average:           avg,
			StandardDeviation: std,
			Anomalies:         anomalies,
		}

	case AnalysisSummary:
		n := len(rows)
		if n > 5 {
			n = 5
		}
		fields := make([]string, 0, len(rows[0]))
		for k := range rows[0] {
			fields = append(fields, k)
		}
		sort.Strings(fields)
		return Summary{Type: AnalysisSummary, TotalRecords: len(rows), Sample: rows[:n], Fields: fields}

	case AnalysisComparison:
		if groupBy == "" {
			return AnalysisError{Error: "groupBy field required for comparison analysis"}
		}
		var order []string
		groups := map[string]*GroupStats{}
		for _, row := range rows {
			key := "unknown"
			if v, ok := row[groupBy]; ok && v != nil && v != "" {
				key = fmt.Sprint(v)
			}
			g, exists := groups[key]
			if !exists {
				g = &GroupStats{Group: key}
				groups[key] = g
				order = append(order, key)
			}
			g.Count++
			v, _ := number(row[metric])
			g.Total += v
		}
		out := make([]GroupStats, 0, len(order))
		for _, key := range order {
			g := groups[key]
			g.Average = g.Total / float64(g.Count)
			out = append(out, *g)
		}
		return Comparison{Type: AnalysisComparison, GroupBy: groupBy, Groups: out}
	}

	return AnalysisError{Error: fmt.Sprintf("Unknown analysis type: %s", analysisType)}
}

func numericValues(rows []store.Document, field string) []float64 {
	values := make([]float64, 0, len(rows))
	for _, row := range rows {
		if v, ok := number(row[field]); ok {
			values = append(values, v)
		}
	}
	return values
}

func monthOf(row store.Document) (string, bool) {
	for _, f := range trendDateFields {
		switch d := row[f].(type) {
		case string:
			if len(d) >= 7 {
				return d[:7], true
			}
		case time.Time:
			return d.Format("2006-01"), true
		}
	}
	return "", false
}
