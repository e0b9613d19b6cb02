package memory

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"testing"

	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
)

type executedQuery struct {
	cypher string
	params map[string]any
}

type fakeExecutor struct {
	reads  []executedQuery
	writes []executedQuery

	readRows  []map[string]any
	readErr   error
	writeRows []map[string]any
	writeErr  error
}

func (f *fakeExecutor) ExecuteRead(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.reads = append(f.reads, executedQuery{cypher, params})
	return f.readRows, f.readErr
}

func (f *fakeExecutor) ExecuteWrite(_ context.Context, cypher string, params map[string]any) ([]map[string]any, error) {
	f.writes = append(f.writes, executedQuery{cypher, params})
	return f.writeRows, f.writeErr
}

func newTestService(db *fakeExecutor) *Service {
	return &Service{db: db}
}

func TestCreateEntitiesBatchesByTypeLabel(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	entities := []Entity{
		{Name: "Alice", Type: "Person", Observations: []string{"likes tea"}},
		{Name: "Bob", Type: "Person"},
		{Name: "Atlas", Type: "Project"},
	}

	result, err := svc.CreateEntities(context.Background(), entities)
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	if !reflect.DeepEqual(result, entities) {
		t.Errorf("expected input returned unchanged, got %+v", result)
	}

	if len(db.writes) != 2 {
		t.Fatalf("expected 2 statements (one per type label), got %d", len(db.writes))
	}

	if !strings.Contains(db.writes[0].cypher, "SET e:`Person`") {
		t.Errorf("first statement missing Person label:\n%s", db.writes[0].cypher)
	}
	if !strings.Contains(db.writes[1].cypher, "SET e:`Project`") {
		t.Errorf("second statement missing Project label:\n%s", db.writes[1].cypher)
	}
	if !strings.Contains(db.writes[0].cypher, "MERGE (e:Memory { name: entity.name })") {
		t.Errorf("upsert must merge by name:\n%s", db.writes[0].cypher)
	}

	people := db.writes[0].params["entities"].([]map[string]any)
	if len(people) != 2 {
		t.Errorf("expected 2 Person entities in batch, got %d", len(people))
	}
}

func TestCreateEntitiesSanitizesTypeLabel(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	_, err := svc.CreateEntities(context.Background(), []Entity{
		{Name: "x", Type: "Per`son]-> DETACH"},
	})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	if !strings.Contains(db.writes[0].cypher, "SET e:`PersonDETACH`") {
		t.Errorf("label was not sanitized:\n%s", db.writes[0].cypher)
	}
}

func TestCreateEntitiesWithoutUsableLabel(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	_, err := svc.CreateEntities(context.Background(), []Entity{{Name: "x", Type: "---"}})
	if err != nil {
		t.Fatalf("CreateEntities: %v", err)
	}

	if strings.Contains(db.writes[0].cypher, "SET e:`") {
		t.Errorf("entity with unusable type must keep only the generic label:\n%s", db.writes[0].cypher)
	}
	if !strings.Contains(db.writes[0].cypher, "e.type = entity.type") {
		t.Errorf("type property must still be set:\n%s", db.writes[0].cypher)
	}
}

func TestCreateRelationsBatchesByType(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	relations := []Relation{
		{Source: "Alice", Target: "Bob", RelationType: "knows"},
		{Source: "Bob", Target: "Alice", RelationType: "knows"},
		{Source: "Alice", Target: "Atlas", RelationType: "works_on"},
	}

	result, err := svc.CreateRelations(context.Background(), relations)
	if err != nil {
		t.Fatalf("CreateRelations: %v", err)
	}

	if !reflect.DeepEqual(result, relations) {
		t.Errorf("expected input returned unchanged, got %+v", result)
	}

	if len(db.writes) != 2 {
		t.Fatalf("expected 2 statements (one per relation type), got %d", len(db.writes))
	}
	if !strings.Contains(db.writes[0].cypher, "MERGE (from)-[:`knows`]->(to)") {
		t.Errorf("unexpected first statement:\n%s", db.writes[0].cypher)
	}
	if !strings.Contains(db.writes[1].cypher, "MERGE (from)-[:`works_on`]->(to)") {
		t.Errorf("unexpected second statement:\n%s", db.writes[1].cypher)
	}
}

func TestCreateRelationsSilentMiss(t *testing.T) {
	// The engine matches zero rows for unknown endpoints. The call must
	// still succeed without creating anything or reporting a skip.
	db := &fakeExecutor{writeRows: []map[string]any{}}
	svc := newTestService(db)

	relations := []Relation{{Source: "Ghost", Target: "Nobody", RelationType: "haunts"}}

	result, err := svc.CreateRelations(context.Background(), relations)
	if err != nil {
		t.Fatalf("expected silent miss, got error: %v", err)
	}
	if len(result) != 1 {
		t.Errorf("expected input echoed back, got %+v", result)
	}

	cypher := db.writes[0].cypher
	if !strings.Contains(cypher, "MATCH (from:Memory { name: rel.source })") ||
		!strings.Contains(cypher, "MATCH (to:Memory { name: rel.target })") {
		t.Errorf("endpoints must be matched, never created:\n%s", cypher)
	}
	if strings.Contains(cypher, "MERGE (from:") || strings.Contains(cypher, "MERGE (to:") {
		t.Errorf("statement must not create stub entities:\n%s", cypher)
	}
}

func TestCreateRelationsRejectsUnusableType(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	_, err := svc.CreateRelations(context.Background(), []Relation{
		{Source: "a", Target: "b", RelationType: "<>!"},
	})
	if err == nil {
		t.Fatal("expected error for relation type with no safe characters")
	}
	if len(db.writes) != 0 {
		t.Errorf("no statement should run for invalid input, got %d", len(db.writes))
	}
}

func TestAddObservationsReportsNewOnly(t *testing.T) {
	db := &fakeExecutor{
		writeRows: []map[string]any{
			{"name": "Alice", "new": []any{"plays chess"}},
		},
	}
	svc := newTestService(db)

	results, err := svc.AddObservations(context.Background(), []ObservationAddition{
		{EntityName: "Alice", Contents: []string{"likes tea", "plays chess"}},
		{EntityName: "Nobody", Contents: []string{"whatever"}},
	})
	if err != nil {
		t.Fatalf("AddObservations: %v", err)
	}

	if len(results) != 2 {
		t.Fatalf("expected one result per addition, got %d", len(results))
	}
	if !reflect.DeepEqual(results[0].AddedObservations, []string{"plays chess"}) {
		t.Errorf("Alice added = %v, want [plays chess]", results[0].AddedObservations)
	}
	if results[1].EntityName != "Nobody" || len(results[1].AddedObservations) != 0 {
		t.Errorf("missing entity must report an empty list, got %+v", results[1])
	}
}

func TestAddObservationsDeduplicatesContents(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	_, err := svc.AddObservations(context.Background(), []ObservationAddition{
		{EntityName: "Alice", Contents: []string{"a", "b", "a", "c", "b"}},
	})
	if err != nil {
		t.Fatalf("AddObservations: %v", err)
	}

	items := db.writes[0].params["observations"].([]map[string]any)
	contents := items[0]["contents"].([]string)
	if !reflect.DeepEqual(contents, []string{"a", "b", "c"}) {
		t.Errorf("contents = %v, want ordered dedup [a b c]", contents)
	}
}

func TestDeleteEntitiesDetaches(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	if err := svc.DeleteEntities(context.Background(), []string{"Alice", "Ghost"}); err != nil {
		t.Fatalf("DeleteEntities: %v", err)
	}

	if !strings.Contains(db.writes[0].cypher, "DETACH DELETE e") {
		t.Errorf("entity deletion must cascade to incident relations:\n%s", db.writes[0].cypher)
	}
	if !reflect.DeepEqual(db.writes[0].params["names"], []string{"Alice", "Ghost"}) {
		t.Errorf("unexpected params: %v", db.writes[0].params)
	}
}

func TestDeleteObservationsNoop(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	err := svc.DeleteObservations(context.Background(), []ObservationDeletion{
		{EntityName: "Alice", Observations: []string{"never added"}},
	})
	if err != nil {
		t.Fatalf("deleting unknown observations must be a no-op, got %v", err)
	}
}

func TestDeleteObservationsNilListSentAsEmpty(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	err := svc.DeleteObservations(context.Background(), []ObservationDeletion{
		{EntityName: "Alice"},
	})
	if err != nil {
		t.Fatalf("DeleteObservations: %v", err)
	}

	items := db.writes[0].params["deletions"].([]map[string]any)
	observations, ok := items[0]["observations"].([]string)
	if !ok || observations == nil {
		// A nil slice crosses Bolt as null, and the retained-observations
		// comprehension in the statement wipes the whole list under
		// Cypher's three-valued logic.
		t.Fatalf("nil observation list must be sent as an empty list, got %#v", items[0]["observations"])
	}
	if len(observations) != 0 {
		t.Errorf("unexpected observations: %v", observations)
	}
}

func TestDeleteRelationsExactTriple(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	err := svc.DeleteRelations(context.Background(), []Relation{
		{Source: "Alice", Target: "Bob", RelationType: "knows"},
	})
	if err != nil {
		t.Fatalf("DeleteRelations: %v", err)
	}

	cypher := db.writes[0].cypher
	if !strings.Contains(cypher, "-[r:`knows`]->") || !strings.Contains(cypher, "DELETE r") {
		t.Errorf("unexpected statement:\n%s", cypher)
	}
}

func TestLoadGraphFoldsAndFilters(t *testing.T) {
	db := &fakeExecutor{
		readRows: []map[string]any{{
			"nodes": []any{
				neo4j.Node{Props: map[string]any{
					"name":         "Alice",
					"type":         "Person",
					"observations": []any{"likes tea"},
				}},
				neo4j.Node{Props: map[string]any{
					"name": "Alice",
					"type": "Person",
				}},
				neo4j.Node{Props: map[string]any{
					"type": "Orphan",
				}},
				neo4j.Node{Props: map[string]any{
					"name": "Bob",
					"type": "Person",
				}},
			},
			"rels": []any{
				map[string]any{"source": "Alice", "target": "Bob", "relationType": "knows"},
				map[string]any{"source": "Alice", "target": "Bob", "relationType": "knows"},
				map[string]any{"source": nil, "target": nil, "relationType": nil},
			},
		}},
	}
	svc := newTestService(db)

	graph, err := svc.ReadGraph(context.Background())
	if err != nil {
		t.Fatalf("ReadGraph: %v", err)
	}

	if db.reads[0].params["filter"] != "*" {
		t.Errorf("read_graph must use the match-all filter, got %v", db.reads[0].params["filter"])
	}

	wantEntities := []Entity{
		{Name: "Alice", Type: "Person", Observations: []string{"likes tea"}},
		{Name: "Bob", Type: "Person", Observations: []string{}},
	}
	if !reflect.DeepEqual(graph.Entities, wantEntities) {
		t.Errorf("entities = %+v, want %+v", graph.Entities, wantEntities)
	}

	wantRelations := []Relation{{Source: "Alice", Target: "Bob", RelationType: "knows"}}
	if !reflect.DeepEqual(graph.Relations, wantRelations) {
		t.Errorf("relations = %+v, want %+v", graph.Relations, wantRelations)
	}
}

func TestLoadGraphEmptyResult(t *testing.T) {
	db := &fakeExecutor{readRows: []map[string]any{}}
	svc := newTestService(db)

	graph, err := svc.SearchNodes(context.Background(), "nonexistent-token-xyz")
	if err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}

	if graph.Entities == nil || graph.Relations == nil {
		t.Error("empty graph must serialize with empty arrays, not null")
	}
	if len(graph.Entities) != 0 || len(graph.Relations) != 0 {
		t.Errorf("expected empty graph, got %+v", graph)
	}
}

func TestSearchNodesPassesQueryThrough(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	query := `name: "Alice" AND type: Person~`
	if _, err := svc.SearchNodes(context.Background(), query); err != nil {
		t.Fatalf("SearchNodes: %v", err)
	}

	if db.reads[0].params["filter"] != query {
		t.Errorf("query must be passed through unescaped, got %v", db.reads[0].params["filter"])
	}
}

func TestFindNodesBuildsNameFilter(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	if _, err := svc.FindNodes(context.Background(), []string{"Alice", "Bob"}); err != nil {
		t.Fatalf("FindNodes: %v", err)
	}

	if db.reads[0].params["filter"] != "name: (Alice Bob)" {
		t.Errorf("filter = %v, want name disjunction", db.reads[0].params["filter"])
	}
}

func TestOpenNodesMatchesFindNodes(t *testing.T) {
	db := &fakeExecutor{}
	svc := newTestService(db)

	if _, err := svc.OpenNodes(context.Background(), []string{"Alice"}); err != nil {
		t.Fatalf("OpenNodes: %v", err)
	}

	if db.reads[0].params["filter"] != "name: (Alice)" {
		t.Errorf("filter = %v", db.reads[0].params["filter"])
	}
}

func TestEnsureFulltextIndex(t *testing.T) {
	tests := []struct {
		name    string
		err     error
		wantErr bool
	}{
		{"fresh index", nil, false},
		{"already exists", errors.New("Neo.ClientError.Schema.IndexAlreadyExists: An equivalent index already exists"), false},
		{"other failure", errors.New("connection refused"), true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			db := &fakeExecutor{}
			if tt.err != nil {
				db.writeErr = fmt.Errorf("write query failed: %w", tt.err)
			}
			svc := newTestService(db)

			err := svc.ensureFulltextIndex(context.Background())
			if (err != nil) != tt.wantErr {
				t.Errorf("ensureFulltextIndex() error = %v, wantErr %v", err, tt.wantErr)
			}
		})
	}
}
