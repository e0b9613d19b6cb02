package memory

// Entity is a node in the knowledge graph. Name is the sole identity key.
// Type doubles as an extra node label in storage.
type Entity struct {
	Name         string   `json:"name"`
	Type         string   `json:"type"`
	Observations []string `json:"observations"`
}

// Relation is a directed edge. RelationType becomes the edge label in
// storage, so the triple (source, target, relationType) identifies an edge.
type Relation struct {
	Source       string `json:"source"`
	Target       string `json:"target"`
	RelationType string `json:"relationType"`
}

type KnowledgeGraph struct {
	Entities  []Entity   `json:"entities"`
	Relations []Relation `json:"relations"`
}

type ObservationAddition struct {
	EntityName string   `json:"entityName"`
	Contents   []string `json:"contents"`
}

type ObservationDeletion struct {
	EntityName   string   `json:"entityName"`
	Observations []string `json:"observations"`
}

// ObservationResult reports which strings were actually new for one entity.
// AddedObservations is empty when all were duplicates or the entity is missing.
type ObservationResult struct {
	EntityName        string   `json:"entityName"`
	AddedObservations []string `json:"addedObservations"`
}
