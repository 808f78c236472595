package tools_test

import (
	"math"
	"testing"

	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/internal/tools"
)

func deals() []store.Document {
	return []store.Document{
		{"id": "d1", "name": "Acme", "value": 10.0, "stage": "won", "expectedCloseDate": "2024-01-10"},
		{"id": "d2", "name": "Globex", "value": 12.0, "stage": "won", "expectedCloseDate": "2024-01-22"},
		{"id": "d3", "name": "Initech", "value": 11.0, "stage": "lost", "expectedCloseDate": "2024-02-02"},
		{"id": "d4", "name": "Umbrella", "value": 9.0, "stage": "open", "expectedCloseDate": "2024-02-14"},
		{"id": "d5", "name": "Hooli", "value": 10.0, "stage": "open", "expectedCloseDate": "2024-03-01"},
		{"id": "d6", "name": "Stark", "value": 10.0, "stage": "won", "expectedCloseDate": "2024-03-09"},
		{"id": "d7", "name": "Wayne", "value": 11.0, "stage": "lost", "expectedCloseDate": "2024-03-15"},
		{"id": "d8", "name": "Tyrell", "value": 100.0, "stage": "won", "expectedCloseDate": "2024-03-20"},
	}
}

func TestAnalyze_Trend(t *testing.T) {
	out, ok := tools.Analyze(deals(), tools.AnalysisTrend, "", "value").(tools.Trend)
	if !ok {
		t.Fatal("Analyze(trend) did not return Trend")
	}
	if len(out.Periods) != 3 {
		t.Fatalf("periods = %+v, want 3", out.Periods)
	}
	if out.Periods[0].Period != "2024-01" || out.Periods[0].Count != 2 || out.Periods[0].Total != 22 {
		t.Errorf("first period = %+v", out.Periods[0])
	}
	if out.Direction != "increasing" {
		t.Errorf("Direction = %q, want increasing", out.Direction)
	}
}

func TestAnalyze_Anomaly(t *testing.T) {
	out := tools.Analyze(deals(), tools.AnalysisAnomaly, "", "value").(tools.AnomalyReport)
	if len(out.Anomalies) != 1 || out.Anomalies[0].ID != "d8" {
		t.Fatalf("anomalies = %+v, want [d8]", out.Anomalies)
	}
	if out.Anomalies[0].Name != "Tyrell" {
		t.Errorf("anomaly name = %q", out.Anomalies[0].Name)
	}
	if math.Abs(out.Threshold-(out.Average+2*out.StandardDeviation)) > 1e-9 {
		t.Errorf("threshold %v != avg + 2σ", out.Threshold)
	}
}

func TestAnalyze_Comparison(t *testing.T) {
	out := tools.Analyze(deals(), tools.AnalysisComparison, "stage", "value").(tools.Comparison)
	if len(out.Groups) != 3 {
		t.Fatalf("groups = %+v, want 3", out.Groups)
	}
	won := out.Groups[0]
	if won.Group != "won" || won.Count != 4 || won.Total != 132 || won.Average != 33 {
		t.Errorf("won group = %+v", won)
	}

	if _, ok := tools.Analyze(deals(), tools.AnalysisComparison, "", "value").(tools.AnalysisError); !ok {
		t.Error("comparison without groupBy did not return AnalysisError")
	}
}

func TestAnalyze_SummaryAndErrors(t *testing.T) {
	sum := tools.Analyze(deals(), tools.AnalysisSummary, "", "").(tools.Summary)
	if sum.TotalRecords != 8 || len(sum.Sample) != 5 {
		t.Errorf("summary = total %d sample %d", sum.TotalRecords, len(sum.Sample))
	}
	if sum.Fields[0] != "expectedCloseDate" {
		t.Errorf("fields not sorted: %v", sum.Fields)
	}

	if _, ok := tools.Analyze(nil, tools.AnalysisSummary, "", "").(tools.AnalysisError); !ok {
		t.Error("empty input did not return AnalysisError")
	}
	if _, ok := tools.Analyze(deals(), tools.AnalysisStatistics, "", "amount").(tools.AnalysisError); !ok {
		t.Error("statistics over missing metric did not return AnalysisError")
	}
	if _, ok := tools.Analyze(deals(), "forecast", "", "value").(tools.AnalysisError); !ok {
		t.Error("unknown type did not return AnalysisError")
	}
}
