package tools

import (
	"context"
	"strings"

	"github.com/agentoven/agentoven/data-agent/internal/apperr"
	"github.com/agentoven/agentoven/data-agent/internal/dataaccess"
	"github.com/agentoven/agentoven/data-agent/internal/store"
	"github.com/agentoven/agentoven/data-agent/pkg/models"
)

// analyzeRowLimit bounds the rows analyze_data reads per call.
const analyzeRowLimit = 100

var queryCollectionDef = models.ToolDefinition{
	Name: QueryCollection,
	Description: "Query a data collection with filters. Use this to fetch specific records based on the user's question. " +
		"You can filter by date ranges, categories, status, amounts and department. Always specify filters to narrow results.",
	Parameters: &models.ParameterSchema{
		Type: "object",
		Properties: map[string]*models.ParameterSchema{
			"collection": {Type: "string", Description: "The collection to query"},
			"filters": {
				Type:        "object",
				Description: "Filter criteria to narrow down results",
				Properties: map[string]*models.ParameterSchema{
					"dateRange": {
						Type:        "object",
						Description: "Date range with start and end dates (YYYY-MM-DD)",
						Properties: map[string]*models.ParameterSchema{
							"start": {Type: "string", Description: "Start date"},
							"end":   {Type: "string", Description: "End date"},
						},
					},
					"category":       {Type: "string", Description: "Category filter"},
					"status":         {Type: "string", Description: "Status filter"},
					"minAmount":      {Type: "number", Description: "Minimum amount or deal value"},
					"maxAmount":      {Type: "number", Description: "Maximum amount or deal value"},
					"department":     {Type: "string", Description: "Department filter"},
					"limit":          {Type: "integer", Description: "Maximum number of records to return. Default: 50"},
					"orderBy":        {Type: "string", Description: "Field to order by", Enum: []string{"date", "amount", "createdAt", "updatedAt", "value"}},
					"orderDirection": {Type: "string", Description: "Sort direction", Enum: []string{"asc", "desc"}},
				},
			},
		},
		Required: []string{"collection"},
	},
}

var analyzeDataDef = models.ToolDefinition{
	Name: AnalyzeData,
	Description: "Analyze a collection for trends, anomalies, summaries, group comparisons or statistics. " +
		"Use this to provide insights beyond raw records.",
	Parameters: &models.ParameterSchema{
		Type: "object",
		Properties: map[string]*models.ParameterSchema{
			"collection":   {Type: "string", Description: "The collection to analyze"},
			"analysisType": {Type: "string", Description: "Type of analysis", Enum: analysisTypes},
			"groupBy":      {Type: "string", Description: "Field to group by (required for comparison)"},
			"metric":       {Type: "string", Description: "Numeric field to analyze, e.g. amount or value"},
		},
		Required: []string{"collection", "analysisType"},
	},
}

var getCollectionSchemaDef = models.ToolDefinition{
	Name:        GetCollectionSchema,
	Description: "Get the fields available in a collection. Use this when you need to know what data exists before querying.",
	Parameters: &models.ParameterSchema{
		Type: "object",
		Properties: map[string]*models.ParameterSchema{
			"collection": {Type: "string", Description: "The collection to describe"},
		},
		Required: []string{"collection"},
	},
}

// DataTools are the built-in tools backed by the secure data access layer.
type DataTools struct {
	layer *dataaccess.Layer
}

// RegisterDataTools registers query_collection, analyze_data and
// get_collection_schema.
func RegisterDataTools(r *Registry, layer *dataaccess.Layer) error {
	dt := &DataTools{layer: layer}
	for _, t := range []struct {
		def models.ToolDefinition
		h   Handler
	}{
		{queryCollectionDef, dt.queryCollection},
		{analyzeDataDef, dt.analyzeData},
		{getCollectionSchemaDef, dt.getCollectionSchema},
	} {
		if err := r.Register(t.def, t.h); err != nil {
			return err
		}
	}
	return nil
}

func (dt *DataTools) queryCollection(ctx context.Context, call Call, args map[string]interface{}) (*Result, error) {
	collection, _ := args["collection"].(string)
	filters, _ := args["filters"].(map[string]interface{})
	cs := dt.layer.Schema().Collection(collection)

	req := dataaccess.QueryRequest{
		CallerID:   call.CallerID,
		AgentID:    call.Agent.ID,
		Collection: collection,
		Filters:    BuildFilters(cs, filters),
	}
	if n, ok := number(filters["limit"]); ok {
		req.Limit = int(n)
	}
	if orderBy, ok := filters["orderBy"].(string); ok && orderBy != "" {
		if orderBy == "date" {
			orderBy = cs.DateField
		}
		req.OrderBy = orderBy
	}
	if dir, _ := filters["orderDirection"].(string); strings.EqualFold(dir, "asc") {
		req.Ascending = true
	}

	res, err := dt.layer.Query(ctx, req)
	if err != nil {
		return nil, err
	}
	return &Result{Output: res.Rows, Collection: collection, Count: res.Count}, nil
}

// BuildFilters maps the query_collection filter object onto field
// predicates using the collection's date and amount fields.
func BuildFilters(cs dataaccess.CollectionSchema, filters map[string]interface{}) []dataaccess.Filter {
	var out []dataaccess.Filter
	if dr, ok := filters["dateRange"].(map[string]interface{}); ok {
		if start, ok := dr["start"]; ok && start != nil {
			out = append(out, dataaccess.Filter{Field: cs.DateField, Op: store.OpGte, Value: start})
		}
		if end, ok := dr["end"]; ok && end != nil {
			out = append(out, dataaccess.Filter{Field: cs.DateField, Op: store.OpLte, Value: end})
		}
	}
	for _, field := range []string{"category", "status", "department"} {
		if v, ok := filters[field].(string); ok && v != "" {
			out = append(out, dataaccess.Filter{Field: field, Op: store.OpEq, Value: v})
		}
	}
	if v, ok := number(filters["minAmount"]); ok {
		out = append(out, dataaccess.Filter{Field: cs.AmountField, Op: store.OpGte, Value: v})
	}
	if v, ok := number(filters["maxAmount"]); ok {
		out = append(out, dataaccess.Filter{Field: cs.AmountField, Op: store.OpLte, Value: v})
	}
	return out
}

func (dt *DataTools) analyzeData(ctx context.Context, call Call, args map[string]interface{}) (*Result, error) {
	collection, _ := args["collection"].(string)
	analysisType, _ := args["analysisType"].(string)
	groupBy, _ := args["groupBy"].(string)
	metric, _ := args["metric"].(string)
	if metric == "" {
		metric = dt.layer.Schema().Collection(collection).AmountField
	}

	res, err := dt.layer.Query(ctx, dataaccess.QueryRequest{
		CallerID:   call.CallerID,
		AgentID:    call.Agent.ID,
		Collection: collection,
		Limit:      analyzeRowLimit,
	})
	if err != nil {
		return nil, err
	}
	return &Result{
		Output:     Analyze(res.Rows, analysisType, groupBy, metric),
		Collection: collection,
		Count:      res.Count,
	}, nil
}

// CollectionSchemaOutput is the get_collection_schema result.
type CollectionSchemaOutput struct {
	Collection  string   `json:"collection"`
	Fields      []string `json:"fields"`
	Description string   `json:"description"`
}

func (dt *DataTools) getCollectionSchema(_ context.Context, call Call, args map[string]interface{}) (*Result, error) {
	collection, _ := args["collection"].(string)
	if call.Agent.OwnerID != call.CallerID {
		return nil, apperr.AccessDenied("agent does not belong to caller")
	}

	allowed := dt.layer.AllowedCollections(call.Agent)
	names := make([]string, 0, len(allowed))
	for _, c := range allowed {
		if c.Name == collection {
			desc := dt.layer.Schema().Collection(collection).Description
			if desc == "" {
				desc = "Schema for " + collection + " collection"
			}
			return &Result{
				Output:     CollectionSchemaOutput{Collection: collection, Fields: c.Fields, Description: desc},
				Collection: collection,
			}, nil
		}
		names = append(names, c.Name)
	}
	return nil, apperr.AccessDenied("collection %s is not allowed for this agent; allowed collections: %s",
		collection, strings.Join(names, ", "))
}
