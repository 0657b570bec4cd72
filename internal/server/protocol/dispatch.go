package protocol

import (
	"github.com/arkadyv/blinddb/internal/server/engine"
)

// dispatch validates the envelope's shape and routes it to the engine.
// Shape problems are rejected before any table state is touched.
func (s *session) dispatch(env *envelope) cmdResponse {
	cmdID := *env.CmdID

	switch *env.Cmd {
	case "create_table":
		if env.Name == "" {
			return failure(cmdID, engine.CodeMalformedRequest)
		}
		schema, err := parseSchema(env.Indices)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		if err := s.engine.CreateTable(s.username, env.Name, schema); err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		return success(cmdID)

	case "drop_table":
		if env.Name == "" {
			return failure(cmdID, engine.CodeMalformedRequest)
		}
		if err := s.engine.DropTable(s.username, env.Name); err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		return success(cmdID)

	case "insert":
		if env.Table == "" || len(env.Rows) == 0 {
			return failure(cmdID, engine.CodeMalformedRequest)
		}
		rows := make(map[string]engine.RowInput, len(env.Rows))
		for id, r := range env.Rows {
			rows[id] = engine.RowInput{Indexed: r.Indexed, Extra: r.Extra}
		}
		outcomes, err := s.engine.Insert(s.username, env.Table, rows)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		results := make(map[string]rowResult, len(outcomes))
		for id, o := range outcomes {
			results[id] = toRowResult(o)
		}
		resp := success(cmdID)
		resp.Results = results
		return resp

	case "query":
		filter, table, code := s.filterCommand(env)
		if code != 0 {
			return failure(cmdID, code)
		}
		data, err := s.engine.Query(s.username, table, filter)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		resp := success(cmdID)
		resp.Data = data
		return resp

	case "update":
		filter, table, code := s.filterCommand(env)
		if code != 0 {
			return failure(cmdID, code)
		}
		mods, err := parseMods(env.Mods)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		count, err := s.engine.Update(s.username, table, filter, mods)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		resp := success(cmdID)
		resp.Count = &count
		return resp

	case "delete":
		filter, table, code := s.filterCommand(env)
		if code != 0 {
			return failure(cmdID, code)
		}
		count, err := s.engine.Delete(s.username, table, filter)
		if err != nil {
			return failure(cmdID, engine.AsCode(err))
		}
		resp := success(cmdID)
		resp.Count = &count
		return resp

	default:
		return failure(cmdID, engine.CodeUnknownCommand)
	}
}

func (s *session) filterCommand(env *envelope) (engine.Filter, string, engine.Code) {
	if env.Table == "" {
		return nil, "", engine.CodeMalformedRequest
	}
	filter, err := parseFilter(env.Filter)
	if err != nil {
		return nil, "", engine.AsCode(err)
	}
	return filter, env.Table, 0
}

func success(cmdID int64) cmdResponse {
	return cmdResponse{CmdID: cmdID, Success: true}
}

func failure(cmdID int64, code engine.Code) cmdResponse {
	return cmdResponse{CmdID: cmdID, Error: int(code)}
}
