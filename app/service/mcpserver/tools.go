package mcpserver

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/Vladikasik/mcm-https/app/service/memory"
	"github.com/mark3labs/mcp-go/mcp"
)

var entityItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"name":         map[string]any{"type": "string", "description": "Unique entity name"},
		"type":         map[string]any{"type": "string", "description": "Entity type, becomes a node label"},
		"observations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"name", "type"},
}

var relationItemSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"source":       map[string]any{"type": "string", "description": "Source entity name"},
		"target":       map[string]any{"type": "string", "description": "Target entity name"},
		"relationType": map[string]any{"type": "string", "description": "Relation type, becomes the edge label"},
	},
	"required": []string{"source", "target", "relationType"},
}

var observationAdditionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entityName": map[string]any{"type": "string", "description": "Entity to attach observations to"},
		"contents":   map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"entityName", "contents"},
}

var observationDeletionSchema = map[string]any{
	"type": "object",
	"properties": map[string]any{
		"entityName":   map[string]any{"type": "string", "description": "Entity to remove observations from"},
		"observations": map[string]any{"type": "array", "items": map[string]any{"type": "string"}},
	},
	"required": []string{"entityName", "observations"},
}

func (s *Service) registerTools() {
	s.mcp.AddTool(mcp.NewTool("create_entities",
		mcp.WithDescription("Create or update entities in the knowledge graph. Existing entities with the same name are overwritten."),
		mcp.WithArray("entities",
			mcp.Required(),
			mcp.Description("Entities to upsert"),
			mcp.Items(entityItemSchema),
		),
	), s.handleCreateEntities)

	s.mcp.AddTool(mcp.NewTool("create_relations",
		mcp.WithDescription("Create directed relations between existing entities. Relations referencing unknown entities are silently skipped."),
		mcp.WithArray("relations",
			mcp.Required(),
			mcp.Description("Relations to upsert"),
			mcp.Items(relationItemSchema),
		),
	), s.handleCreateRelations)

	s.mcp.AddTool(mcp.NewTool("add_observations",
		mcp.WithDescription("Add observations to existing entities. Only genuinely new strings are stored, and the reply lists exactly what was added."),
		mcp.WithArray("observations",
			mcp.Required(),
			mcp.Description("Observation additions"),
			mcp.Items(observationAdditionSchema),
		),
	), s.handleAddObservations)

	s.mcp.AddTool(mcp.NewTool("delete_entities",
		mcp.WithDescription("Delete entities and every relation touching them. Unknown names are ignored."),
		mcp.WithArray("entityNames",
			mcp.Required(),
			mcp.Description("Names of entities to delete"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleDeleteEntities)

	s.mcp.AddTool(mcp.NewTool("delete_observations",
		mcp.WithDescription("Delete specific observation strings from entities. Non-matching strings are ignored."),
		mcp.WithArray("deletions",
			mcp.Required(),
			mcp.Description("Observation deletions"),
			mcp.Items(observationDeletionSchema),
		),
	), s.handleDeleteObservations)

	s.mcp.AddTool(mcp.NewTool("delete_relations",
		mcp.WithDescription("Delete relations matching the exact source, target and relationType. Non-matching triples are ignored."),
		mcp.WithArray("relations",
			mcp.Required(),
			mcp.Description("Relations to delete"),
			mcp.Items(relationItemSchema),
		),
	), s.handleDeleteRelations)

	s.mcp.AddTool(mcp.NewTool("read_graph",
		mcp.WithDescription("Read the entire knowledge graph."),
	), s.handleReadGraph)

	s.mcp.AddTool(mcp.NewTool("search_nodes",
		mcp.WithDescription("Search entities with a fulltext query over names, types and observations. Lucene query syntax is passed through as-is."),
		mcp.WithString("query",
			mcp.Required(),
			mcp.Description("Fulltext search query"),
		),
	), s.handleSearchNodes)

	s.mcp.AddTool(mcp.NewTool("find_nodes",
		mcp.WithDescription("Find specific entities by name, with their incident relations."),
		mcp.WithArray("names",
			mcp.Required(),
			mcp.Description("Entity names to find"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleFindNodes)

	s.mcp.AddTool(mcp.NewTool("open_nodes",
		mcp.WithDescription("Open specific entities by name, with their incident relations."),
		mcp.WithArray("names",
			mcp.Required(),
			mcp.Description("Entity names to open"),
			mcp.Items(map[string]any{"type": "string"}),
		),
	), s.handleOpenNodes)

	s.mcp.AddTool(mcp.NewTool("echo",
		mcp.WithDescription("Echo tool - returns the input text unchanged"),
		mcp.WithString("text",
			mcp.Required(),
			mcp.Description("The text to echo back"),
		),
	), s.handleEcho)

	s.mcp.AddTool(mcp.NewTool("kv_set",
		mcp.WithDescription("Store a value under a key in the server's in-memory store."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to store under")),
		mcp.WithString("value", mcp.Required(), mcp.Description("Value to store")),
	), s.handleKVSet)

	s.mcp.AddTool(mcp.NewTool("kv_get",
		mcp.WithDescription("Read a value from the server's in-memory store."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to read")),
	), s.handleKVGet)

	s.mcp.AddTool(mcp.NewTool("kv_delete",
		mcp.WithDescription("Delete a key from the server's in-memory store."),
		mcp.WithString("key", mcp.Required(), mcp.Description("Key to delete")),
	), s.handleKVDelete)

	s.mcp.AddTool(mcp.NewTool("kv_list",
		mcp.WithDescription("List all keys in the server's in-memory store."),
	), s.handleKVList)
}

func (s *Service) handleCreateEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Entities []memory.Entity `json:"entities"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	for _, e := range args.Entities {
		if e.Name == "" {
			return errorResult("entity name is required"), nil
		}
		if e.Type == "" {
			return errorResult("entity type is required"), nil
		}
	}

	entities, err := s.memorySvc.CreateEntities(ctx, args.Entities)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(entities)
}

func (s *Service) handleCreateRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Relations []memory.Relation `json:"relations"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	if err := validateRelations(args.Relations); err != nil {
		return errorResult("%v", err), nil
	}

	relations, err := s.memorySvc.CreateRelations(ctx, args.Relations)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(relations)
}

func (s *Service) handleAddObservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Observations []memory.ObservationAddition `json:"observations"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	for _, a := range args.Observations {
		if a.EntityName == "" {
			return errorResult("entityName is required"), nil
		}
	}

	results, err := s.memorySvc.AddObservations(ctx, args.Observations)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(results)
}

func (s *Service) handleDeleteEntities(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		EntityNames []string `json:"entityNames"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	if err := s.memorySvc.DeleteEntities(ctx, args.EntityNames); err != nil {
		return errorResult("%v", err), nil
	}

	return mcp.NewToolResultText("Entities deleted successfully"), nil
}

func (s *Service) handleDeleteObservations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Deletions []memory.ObservationDeletion `json:"deletions"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	for _, d := range args.Deletions {
		if d.EntityName == "" {
			return errorResult("entityName is required"), nil
		}
		// A nil list means the field was absent. Letting it through would
		// reach the engine as a Bolt null, where Cypher's three-valued
		// logic turns the list comprehension into a full wipe.
		if d.Observations == nil {
			return errorResult("observations is required"), nil
		}
	}

	if err := s.memorySvc.DeleteObservations(ctx, args.Deletions); err != nil {
		return errorResult("%v", err), nil
	}

	return mcp.NewToolResultText("Observations deleted successfully"), nil
}

func (s *Service) handleDeleteRelations(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	var args struct {
		Relations []memory.Relation `json:"relations"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	if err := validateRelations(args.Relations); err != nil {
		return errorResult("%v", err), nil
	}

	if err := s.memorySvc.DeleteRelations(ctx, args.Relations); err != nil {
		return errorResult("%v", err), nil
	}

	return mcp.NewToolResultText("Relations deleted successfully"), nil
}

func (s *Service) handleReadGraph(ctx context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	graph, err := s.memorySvc.ReadGraph(ctx)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(graph)
}

func (s *Service) handleSearchNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	query, err := req.RequireString("query")
	if err != nil {
		return errorResult("%v", err), nil
	}
	if strings.TrimSpace(query) == "" {
		return errorResult("query must not be empty"), nil
	}

	graph, err := s.memorySvc.SearchNodes(ctx, query)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(graph)
}

func (s *Service) handleFindNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.findNodes(ctx, req, s.memorySvc.FindNodes)
}

func (s *Service) handleOpenNodes(ctx context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return s.findNodes(ctx, req, s.memorySvc.OpenNodes)
}

func (s *Service) findNodes(ctx context.Context, req mcp.CallToolRequest, load func(context.Context, []string) (*memory.KnowledgeGraph, error)) (*mcp.CallToolResult, error) {
	var args struct {
		Names []string `json:"names"`
	}
	if err := req.BindArguments(&args); err != nil {
		return errorResult("invalid arguments: %v", err), nil
	}

	// An empty name list would produce the degenerate filter "name: ()",
	// which the engine rejects. Stop it here instead.
	if len(args.Names) == 0 {
		return errorResult("names must not be empty"), nil
	}

	graph, err := load(ctx, args.Names)
	if err != nil {
		return errorResult("%v", err), nil
	}

	return jsonResult(graph)
}

func (s *Service) handleEcho(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	text, err := req.RequireString("text")
	if err != nil {
		return errorResult("%v", err), nil
	}

	return mcp.NewToolResultText(text), nil
}

func (s *Service) handleKVSet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return errorResult("%v", err), nil
	}
	value, err := req.RequireString("value")
	if err != nil {
		return errorResult("%v", err), nil
	}

	s.kvSvc.Set(key, value)

	return mcp.NewToolResultText(fmt.Sprintf("Stored %q", key)), nil
}

func (s *Service) handleKVGet(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return errorResult("%v", err), nil
	}

	value, ok := s.kvSvc.Get(key)
	if !ok {
		return errorResult("key %q not found", key), nil
	}

	return mcp.NewToolResultText(value), nil
}

func (s *Service) handleKVDelete(_ context.Context, req mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	key, err := req.RequireString("key")
	if err != nil {
		return errorResult("%v", err), nil
	}

	if !s.kvSvc.Delete(key) {
		return errorResult("key %q not found", key), nil
	}

	return mcp.NewToolResultText(fmt.Sprintf("Deleted %q", key)), nil
}

func (s *Service) handleKVList(_ context.Context, _ mcp.CallToolRequest) (*mcp.CallToolResult, error) {
	return jsonResult(s.kvSvc.Keys())
}

func validateRelations(relations []memory.Relation) error {
	for _, r := range relations {
		if r.Source == "" || r.Target == "" || r.RelationType == "" {
			return fmt.Errorf("relation requires source, target and relationType")
		}
	}
	return nil
}

// errorResult converts a failure into a structured tool result. The "Error:"
// prefix is part of the caller-facing contract, raw engine errors never
// propagate as protocol faults.
func errorResult(format string, args ...any) *mcp.CallToolResult {
	return mcp.NewToolResultError("Error: " + fmt.Sprintf(format, args...))
}

func jsonResult(v any) (*mcp.CallToolResult, error) {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return errorResult("failed to serialize result: %v", err), nil
	}

	return mcp.NewToolResultText(string(data)), nil
}
