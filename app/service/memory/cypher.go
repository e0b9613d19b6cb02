package memory

import (
	"fmt"
	"strings"
)

const (
	entityLabel       = "Memory"
	fulltextIndexName = "search"
)

const createIndexCypher = `CREATE FULLTEXT INDEX ` + fulltextIndexName + ` IF NOT EXISTS FOR (e:` + entityLabel + `) ON EACH [e.name, e.type, e.observations]`

const loadGraphCypher = `
CALL db.index.fulltext.queryNodes('` + fulltextIndexName + `', $filter)
YIELD node AS entity
OPTIONAL MATCH (entity)-[r]-(:` + entityLabel + `)
RETURN collect(DISTINCT entity) AS nodes,
       collect(DISTINCT { source: startNode(r).name, target: endNode(r).name, relationType: type(r) }) AS rels
`

const addObservationsCypher = `
UNWIND $observations AS obs
MATCH (e:` + entityLabel + ` { name: obs.entityName })
WITH e, [c IN obs.contents WHERE NOT c IN coalesce(e.observations, [])] AS new
SET e.observations = coalesce(e.observations, []) + new
RETURN e.name AS name, new
`

const deleteEntitiesCypher = `
UNWIND $names AS name
MATCH (e:` + entityLabel + ` { name: name })
DETACH DELETE e
`

const deleteObservationsCypher = `
UNWIND $deletions AS d
MATCH (e:` + entityLabel + ` { name: d.entityName })
SET e.observations = [o IN coalesce(e.observations, []) WHERE NOT o IN d.observations]
`

// createEntitiesCypher upserts one batch of entities sharing the same type
// label. Type and observations are fully replaced on merge. An empty label
// leaves the node with the generic label only.
func createEntitiesCypher(label string) string {
	query := `
UNWIND $entities AS entity
MERGE (e:` + entityLabel + ` { name: entity.name })
SET e.type = entity.type, e.observations = entity.observations`
	if label != "" {
		query += "\nSET e:`" + label + "`"
	}
	return query
}

// createRelationsCypher upserts same-type relations in one statement.
// Missing endpoints match nothing, so the relation is silently skipped.
func createRelationsCypher(relationType string) string {
	return `
UNWIND $relations AS rel
MATCH (from:` + entityLabel + ` { name: rel.source })
MATCH (to:` + entityLabel + ` { name: rel.target })
MERGE (from)-[:` + "`" + relationType + "`" + `]->(to)`
}

func deleteRelationsCypher(relationType string) string {
	return `
UNWIND $relations AS rel
MATCH (from:` + entityLabel + ` { name: rel.source })-[r:` + "`" + relationType + "`" + `]->(to:` + entityLabel + ` { name: rel.target })
DELETE r`
}

// sanitizeLabel restricts a caller-supplied label to a safe identifier
// charset before it is interpolated into Cypher as a structural label.
func sanitizeLabel(raw string) string {
	var b strings.Builder
	for _, ch := range raw {
		if ch >= 'a' && ch <= 'z' || ch >= 'A' && ch <= 'Z' || ch >= '0' && ch <= '9' || ch == '_' {
			b.WriteRune(ch)
		}
	}
	return b.String()
}

func sanitizeRelationType(raw string) (string, error) {
	sanitized := sanitizeLabel(raw)
	if sanitized == "" {
		return "", fmt.Errorf("invalid relation type %q", raw)
	}
	return sanitized, nil
}

// isIndexExistsError detects the "index already exists" condition, the one
// index creation failure that is treated as success.
func isIndexExistsError(err error) bool {
	if err == nil {
		return false
	}
	msg := strings.ToLower(err.Error())
	return strings.Contains(msg, "already exists") || strings.Contains(msg, "equivalentschemarulealreadyexists")
}
