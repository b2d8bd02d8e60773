package agents

// JSON schemas the planner hands to the provider chain. Structural fields
// are pinned so parsing cannot drift; descriptive fields stay permissive.

const documentSchema = `{
	"type": "object",
	"properties": {
		"summary": {"type": "string"},
		"currency": {"type": "string"},
		"themes": {"type": "array", "items": {"type": "string"}},
		"days": {
			"type": "array",
			"minItems": 1,
			"items": {
				"type": "object",
				"properties": {
					"dayNumber": {"type": "integer", "minimum": 1},
					"date": {"type": "string"},
					"location": {"type": "string"},
					"pacing": {"type": "string"},
					"nodes": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"id": {"type": "string"},
								"type": {"type": "string", "enum": ["attraction", "meal", "accommodation", "transport"]},
								"title": {"type": "string"},
								"location": {"type": "object"},
								"timing": {"type": "object"},
								"cost": {"type": "object"},
								"details": {"type": "object"},
								"tips": {"type": "object"}
							},
							"required": ["type", "title"]
						}
					},
					"edges": {
						"type": "array",
						"items": {
							"type": "object",
							"properties": {
								"from": {"type": "string"},
								"to": {"type": "string"},
								"transitInfo": {"type": "object"}
							},
							"required": ["from", "to"]
						}
					}
				},
				"required": ["dayNumber", "nodes"]
			}
		}
	},
	"required": ["days"]
}`

// changeSetSchema deliberately omits replace_document: modification runs
// may only express targeted edits.
const changeSetSchema = `{
	"type": "object",
	"properties": {
		"scope": {"type": "string", "enum": ["trip", "day"]},
		"day": {"type": "integer", "minimum": 1},
		"description": {"type": "string"},
		"ops": {
			"type": "array",
			"items": {
				"type": "object",
				"properties": {
					"op": {"type": "string", "enum": ["insert", "delete", "move", "update", "replace", "update_edge"]},
					"id": {"type": "string"},
					"after": {"type": "string"},
					"node": {"type": "object"},
					"patch": {"type": "object"},
					"startTime": {},
					"endTime": {},
					"day": {"type": "integer", "minimum": 1},
					"from": {"type": "string"},
					"to": {"type": "string"},
					"transitInfo": {"type": "object"}
				},
				"required": ["op"]
			}
		}
	},
	"required": ["scope", "ops"]
}`
