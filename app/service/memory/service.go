package memory

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/Vladikasik/mcm-https/app/client/graphdb"
	"github.com/Vladikasik/mcm-https/app/config"
	"github.com/elliotchance/pie/v2"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/samber/do"
)

// Executor runs parameterized Cypher against the graph engine.
// Satisfied by *graphdb.Client.
type Executor interface {
	ExecuteRead(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
	ExecuteWrite(ctx context.Context, cypher string, params map[string]any) ([]map[string]any, error)
}

type Service struct {
	cfg *config.Config
	db  Executor
}

func New(di *do.Injector) (*Service, error) {
	s := &Service{
		cfg: do.MustInvoke[*config.Config](di),
		db:  do.MustInvoke[*graphdb.Client](di),
	}

	appCtx := do.MustInvoke[context.Context](di)
	if err := s.ensureFulltextIndex(appCtx); err != nil {
		return nil, err
	}

	return s, nil
}

// ensureFulltextIndex creates the search index over entity name, type and
// observations. Runs once at construction; an already existing index is fine,
// any other failure is fatal since every search depends on the index.
func (s *Service) ensureFulltextIndex(ctx context.Context) error {
	if _, err := s.db.ExecuteWrite(ctx, createIndexCypher, nil); err != nil {
		if isIndexExistsError(err) {
			slog.Info("Fulltext index already exists", "index", fulltextIndexName)
			return nil
		}
		return fmt.Errorf("failed to create fulltext index: %w", err)
	}

	slog.Info("Fulltext index ready", "index", fulltextIndexName)
	return nil
}

// CreateEntities upserts entities by name, fully replacing type and
// observations on existing ones. Entities sharing a type label are applied
// as one statement; the batch as a whole is not atomic.
func (s *Service) CreateEntities(ctx context.Context, entities []Entity) ([]Entity, error) {
	grouped := make(map[string][]map[string]any)
	var order []string

	for _, e := range entities {
		label := sanitizeLabel(e.Type)
		if _, seen := grouped[label]; !seen {
			order = append(order, label)
		}
		grouped[label] = append(grouped[label], map[string]any{
			"name":         e.Name,
			"type":         e.Type,
			"observations": e.Observations,
		})
	}

	for _, label := range order {
		params := map[string]any{"entities": grouped[label]}
		if _, err := s.db.ExecuteWrite(ctx, createEntitiesCypher(label), params); err != nil {
			return nil, fmt.Errorf("failed to create entities: %w", err)
		}
	}

	slog.Info("Created entities", "count", len(entities))

	return entities, nil
}

// CreateRelations upserts edges keyed by (source, target, relationType).
// Relations whose endpoints do not exist are silently skipped: the MATCH
// finds nothing, no stub entity is created and no error is reported.
func (s *Service) CreateRelations(ctx context.Context, relations []Relation) ([]Relation, error) {
	grouped, order, err := groupByRelationType(relations)
	if err != nil {
		return nil, err
	}

	for _, relationType := range order {
		params := map[string]any{"relations": grouped[relationType]}
		if _, err := s.db.ExecuteWrite(ctx, createRelationsCypher(relationType), params); err != nil {
			return nil, fmt.Errorf("failed to create relations: %w", err)
		}
	}

	slog.Info("Created relations", "count", len(relations))

	return relations, nil
}

// AddObservations merges only genuinely new strings into each entity's
// observation list, preserving insertion order, and reports per entity
// exactly which strings were added.
func (s *Service) AddObservations(ctx context.Context, additions []ObservationAddition) ([]ObservationResult, error) {
	items := make([]map[string]any, 0, len(additions))
	for _, a := range additions {
		items = append(items, map[string]any{
			"entityName": a.EntityName,
			"contents":   dedupeOrdered(a.Contents),
		})
	}

	rows, err := s.db.ExecuteWrite(ctx, addObservationsCypher, map[string]any{"observations": items})
	if err != nil {
		return nil, fmt.Errorf("failed to add observations: %w", err)
	}

	// One row comes back per matched addition, in UNWIND order. Additions
	// referencing missing entities produce no row and report an empty list.
	pending := make(map[string][][]string)
	for _, row := range rows {
		name, _ := row["name"].(string)
		pending[name] = append(pending[name], toStringSlice(row["new"]))
	}

	results := make([]ObservationResult, 0, len(additions))
	for _, a := range additions {
		added := []string{}
		if queue := pending[a.EntityName]; len(queue) > 0 {
			added = queue[0]
			pending[a.EntityName] = queue[1:]
		}
		results = append(results, ObservationResult{
			EntityName:        a.EntityName,
			AddedObservations: added,
		})
	}

	slog.Info("Added observations", "entities", len(additions))

	return results, nil
}

// DeleteEntities detach-deletes the named entities together with every
// relation touching them. Unknown names are no-ops.
func (s *Service) DeleteEntities(ctx context.Context, names []string) error {
	if _, err := s.db.ExecuteWrite(ctx, deleteEntitiesCypher, map[string]any{"names": names}); err != nil {
		return fmt.Errorf("failed to delete entities: %w", err)
	}

	slog.Info("Deleted entities", "names", names)

	return nil
}

// DeleteObservations removes exact-match observation strings. Non-matching
// strings and unknown entities are no-ops.
func (s *Service) DeleteObservations(ctx context.Context, deletions []ObservationDeletion) error {
	items := make([]map[string]any, 0, len(deletions))
	for _, d := range deletions {
		// Never send null: `NOT o IN null` is null in Cypher, which would
		// make the retained-observations comprehension drop everything.
		observations := d.Observations
		if observations == nil {
			observations = []string{}
		}
		items = append(items, map[string]any{
			"entityName":   d.EntityName,
			"observations": observations,
		})
	}

	if _, err := s.db.ExecuteWrite(ctx, deleteObservationsCypher, map[string]any{"deletions": items}); err != nil {
		return fmt.Errorf("failed to delete observations: %w", err)
	}

	slog.Info("Deleted observations", "entities", len(deletions))

	return nil
}

// DeleteRelations removes edges matching the exact triple. Non-matching
// triples are no-ops.
func (s *Service) DeleteRelations(ctx context.Context, relations []Relation) error {
	grouped, order, err := groupByRelationType(relations)
	if err != nil {
		return err
	}

	for _, relationType := range order {
		params := map[string]any{"relations": grouped[relationType]}
		if _, err := s.db.ExecuteWrite(ctx, deleteRelationsCypher(relationType), params); err != nil {
			return fmt.Errorf("failed to delete relations: %w", err)
		}
	}

	slog.Info("Deleted relations", "count", len(relations))

	return nil
}

// ReadGraph returns the full graph snapshot.
func (s *Service) ReadGraph(ctx context.Context) (*KnowledgeGraph, error) {
	return s.loadGraph(ctx, "*")
}

// SearchNodes runs a caller-supplied Lucene query against the fulltext
// index. The query is passed through raw; malformed syntax surfaces as an
// engine error.
func (s *Service) SearchNodes(ctx context.Context, query string) (*KnowledgeGraph, error) {
	return s.loadGraph(ctx, query)
}

// FindNodes loads exactly the named entities plus their incident relations.
func (s *Service) FindNodes(ctx context.Context, names []string) (*KnowledgeGraph, error) {
	return s.loadGraph(ctx, "name: ("+strings.Join(names, " ")+")")
}

// OpenNodes is FindNodes under the caller-facing name.
func (s *Service) OpenNodes(ctx context.Context, names []string) (*KnowledgeGraph, error) {
	return s.FindNodes(ctx, names)
}

// loadGraph retrieves entities matching the fulltext filter plus every
// relation incident to any matched node, folded into a deduplicated graph.
func (s *Service) loadGraph(ctx context.Context, filter string) (*KnowledgeGraph, error) {
	rows, err := s.db.ExecuteRead(ctx, loadGraphCypher, map[string]any{"filter": filter})
	if err != nil {
		return nil, fmt.Errorf("failed to load graph: %w", err)
	}

	graph := &KnowledgeGraph{
		Entities:  []Entity{},
		Relations: []Relation{},
	}

	if len(rows) == 0 {
		return graph, nil
	}

	nodes, _ := rows[0]["nodes"].([]any)
	seenNames := make(map[string]bool)
	for _, raw := range nodes {
		node, ok := raw.(neo4j.Node)
		if !ok {
			continue
		}

		name, _ := node.Props["name"].(string)
		if name == "" || seenNames[name] {
			continue
		}
		seenNames[name] = true

		entityType, _ := node.Props["type"].(string)
		graph.Entities = append(graph.Entities, Entity{
			Name:         name,
			Type:         entityType,
			Observations: toStringSlice(node.Props["observations"]),
		})
	}

	rels, _ := rows[0]["rels"].([]any)
	seenRels := make(map[Relation]bool)
	for _, raw := range rels {
		fields, ok := raw.(map[string]any)
		if !ok {
			continue
		}

		relation := Relation{}
		relation.Source, _ = fields["source"].(string)
		relation.Target, _ = fields["target"].(string)
		relation.RelationType, _ = fields["relationType"].(string)

		// Rows produced by unmatched OPTIONAL MATCH carry nulls.
		if relation.Source == "" || relation.Target == "" || relation.RelationType == "" {
			continue
		}
		if seenRels[relation] {
			continue
		}
		seenRels[relation] = true

		graph.Relations = append(graph.Relations, relation)
	}

	slog.Info("Loaded graph",
		"filter", filter,
		"entities", len(graph.Entities),
		"relations", len(graph.Relations),
	)

	return graph, nil
}

func groupByRelationType(relations []Relation) (map[string][]map[string]any, []string, error) {
	grouped := make(map[string][]map[string]any)
	var order []string

	for _, r := range relations {
		relationType, err := sanitizeRelationType(r.RelationType)
		if err != nil {
			return nil, nil, err
		}
		if _, seen := grouped[relationType]; !seen {
			order = append(order, relationType)
		}
		grouped[relationType] = append(grouped[relationType], map[string]any{
			"source": r.Source,
			"target": r.Target,
		})
	}

	return grouped, order, nil
}

func dedupeOrdered(values []string) []string {
	result := make([]string, 0, len(values))
	for _, v := range values {
		if !pie.Contains(result, v) {
			result = append(result, v)
		}
	}
	return result
}

func toStringSlice(raw any) []string {
	switch items := raw.(type) {
	case []string:
		return items
	case []any:
		result := make([]string, 0, len(items))
		for _, item := range items {
			if s, ok := item.(string); ok {
				result = append(result, s)
			}
		}
		return result
	default:
		return []string{}
	}
}
