package audit

import (
	"encoding/csv"
	"encoding/json"
	"io"
	"strconv"
	"time"

	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

var csvHeader = []string{"time", "type", "source", "tool_name", "collection", "status", "duration_ms", "rows", "error"}

// Status flattens the success and denied flags into one column value.
func Status(e models.AuditLogEntry) string {
	switch {
	case e.Denied:
		return "denied"
	case e.Success:
		return "success"
	default:
		return "error"
	}
}

// WriteCSV writes entries as flattened CSV rows with a header line.
func WriteCSV(w io.Writer, entries []models.AuditLogEntry) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(csvHeader); err != nil {
		return err
	}
	for _, e := range entries {
		row := []string{
			e.Timestamp.UTC().Format(time.RFC3339),
			string(e.Type),
			string(e.Source),
			e.ToolName,
			e.Collection,
			Status(e),
			strconv.FormatInt(e.DurationMs, 10),
			strconv.Itoa(e.RowCount),
			e.Error,
		}
		if err := cw.Write(row); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

// WriteJSON writes entries as a raw JSON array.
func WriteJSON(w io.Writer, entries []models.AuditLogEntry) error {
	if entries == nil {
		entries = []models.AuditLogEntry{}
	}
	return json.NewEncoder(w).Encode(entries)
}
