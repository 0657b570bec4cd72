package protocol

import (
	"encoding/json"

	"github.com/arkadyv/blinddb/internal/server/engine"
)

// envelope is the superset of all client → server messages. Which fields
// are meaningful depends on the session state and the command.
type envelope struct {
	// handshake
	Username *string `json:"username,omitempty"`
	Response *string `json:"response,omitempty"`

	// command framing
	Cmd   *string `json:"cmd,omitempty"`
	CmdID *int64  `json:"cmd_id,omitempty"`

	// command payloads
	Name    string                    `json:"name,omitempty"`
	Indices map[string]json.RawMessage `json:"indices,omitempty"`
	Table   string                    `json:"table,omitempty"`
	Rows    map[string]rowPayload     `json:"rows,omitempty"`
	Filter  json.RawMessage           `json:"filter,omitempty"`
	Mods    []modPayload              `json:"mods,omitempty"`
}

type rowPayload struct {
	Indexed map[string]string `json:"indexed"`
	Extra   string            `json:"extra"`
}

type modPayload struct {
	Op     string `json:"op"`
	Column string `json:"column,omitempty"`
	Value  string `json:"value"`
}

// challengeMsg answers a login attempt. A null challenge carries the error.
type challengeMsg struct {
	Challenge *string `json:"challenge"`
	Error     int     `json:"error,omitempty"`
}

// verifyMsg answers the decrypted-nonce response.
type verifyMsg struct {
	Success bool `json:"success"`
	Error   int  `json:"error,omitempty"`
}

// cmdResponse answers one command, correlated by the client-chosen id.
type cmdResponse struct {
	CmdID   int64                     `json:"cmd_id"`
	Success bool                      `json:"success"`
	Error   int                       `json:"error,omitempty"`
	Count   *int                      `json:"count,omitempty"`
	Results map[string]rowResult      `json:"results,omitempty"`
	Data    map[string]engine.RowData `json:"data,omitempty"`
}

// shapeError reports a message whose cmd_id could not even be read.
type shapeError struct {
	Success bool `json:"success"`
	Error   int  `json:"error"`
}

type farewellMsg struct {
	CmdID    int64 `json:"cmd_id"`
	Farewell bool  `json:"farewell"`
}

type rowResult struct {
	Success     bool     `json:"success"`
	Error       int      `json:"error,omitempty"`
	Columns     []string `json:"columns,omitempty"`
	Column      string   `json:"column,omitempty"`
	Value       string   `json:"value,omitempty"`
	ExistingRow string   `json:"existing_row,omitempty"`
}

func toRowResult(o engine.Outcome) rowResult {
	if o.OK {
		return rowResult{Success: true}
	}
	return rowResult{
		Error:       int(o.Code),
		Columns:     o.Columns,
		Column:      o.Column,
		Value:       o.Value,
		ExistingRow: o.ExistingRow,
	}
}

// parseSchema accepts both the long column form {"kind": "sort"} (with an
// optional modulus for homomorphic columns) and the bare string form
// "sort" used by older clients.
func parseSchema(indices map[string]json.RawMessage) (engine.Schema, error) {
	if len(indices) == 0 {
		return nil, engine.CodeMalformedRequest
	}
	schema := make(engine.Schema, len(indices))
	for col, raw := range indices {
		var kind string
		if err := json.Unmarshal(raw, &kind); err == nil {
			schema[col] = engine.ColumnSpec{Kind: engine.IndexKind(kind)}
			continue
		}
		var spec engine.ColumnSpec
		if err := json.Unmarshal(raw, &spec); err != nil {
			return nil, engine.CodeMalformedRequest
		}
		schema[col] = spec
	}
	return schema, nil
}

type rangePayload struct {
	Column string  `json:"column"`
	Low    *string `json:"low"`
	High   *string `json:"high"`
}

// parseFilter turns the wire representation into the engine's closed filter
// type. Exactly one variant key must be present at every level.
func parseFilter(raw json.RawMessage) (engine.Filter, error) {
	if len(raw) == 0 {
		return nil, engine.CodeMalformedRequest
	}
	var m map[string]json.RawMessage
	if err := json.Unmarshal(raw, &m); err != nil || len(m) != 1 {
		return nil, engine.CodeMalformedRequest
	}
	for key, v := range m {
		switch key {
		case "ids":
			var ids []string
			if err := json.Unmarshal(v, &ids); err != nil {
				return nil, engine.CodeMalformedRequest
			}
			return engine.IDFilter{IDs: ids}, nil
		case "range":
			var r rangePayload
			if err := json.Unmarshal(v, &r); err != nil || r.Column == "" {
				return nil, engine.CodeMalformedRequest
			}
			return engine.RangeFilter{Column: r.Column, Low: r.Low, High: r.High}, nil
		case "and", "or":
			var parts []json.RawMessage
			if err := json.Unmarshal(v, &parts); err != nil || len(parts) == 0 {
				return nil, engine.CodeMalformedRequest
			}
			operands := make([]engine.Filter, 0, len(parts))
			for _, p := range parts {
				f, err := parseFilter(p)
				if err != nil {
					return nil, err
				}
				operands = append(operands, f)
			}
			if key == "and" {
				return engine.AndFilter{Operands: operands}, nil
			}
			return engine.OrFilter{Operands: operands}, nil
		case "not":
			f, err := parseFilter(v)
			if err != nil {
				return nil, err
			}
			return engine.NotFilter{Operand: f}, nil
		default:
			return nil, engine.CodeMalformedRequest
		}
	}
	return nil, engine.CodeMalformedRequest
}

func parseMods(mods []modPayload) ([]engine.Modification, error) {
	if len(mods) == 0 {
		return nil, engine.CodeMalformedRequest
	}
	out := make([]engine.Modification, 0, len(mods))
	for _, m := range mods {
		out = append(out, engine.Modification{
			Op:     engine.ModOp(m.Op),
			Column: m.Column,
			Value:  m.Value,
		})
	}
	return out, nil
}
