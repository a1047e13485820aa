package gateway

import (
	"database/sql"

	"github.com/cuemby/nestd/internal/wire"
)

// bindArgs converts wire params into database/sql driver arguments; Null
// binds as a literal nil so the driver writes a SQL NULL.
func bindArgs(params []wire.Param) []interface{} {
	args := make([]interface{}, len(params))
	for i, p := range params {
		switch p.Kind {
		case wire.ParamInt:
			args[i] = p.Int
		case wire.ParamFloat:
			args[i] = p.Float
		case wire.ParamText:
			args[i] = p.Text
		case wire.ParamBlob:
			args[i] = p.Blob
		case wire.ParamNull:
			args[i] = nil
		}
	}
	return args
}

// execStmt runs a prepared statement as a mutation (§4.3's "exec"), mapping
// driver errors through the Engine error taxonomy.
func execStmt(stmt *sql.Stmt, params []wire.Param) (wire.Response, error) {
	res, err := stmt.Exec(bindArgs(params)...)
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: exec failed", err)
	}
	lastID, err := res.LastInsertId()
	if err != nil {
		lastID = 0
	}
	affected, err := res.RowsAffected()
	if err != nil {
		affected = 0
	}
	return wire.Response{
		Type:         wire.TypeResult,
		LastInsertID: uint64(lastID),
		RowsAffected: uint64(affected),
	}, nil
}

// queryStmt runs a prepared statement as a query (§4.3's "query"), reading
// every row eagerly since the response's lifetime ends once Handle returns.
func queryStmt(stmt *sql.Stmt, params []wire.Param) (wire.Response, error) {
	rows, err := stmt.Query(bindArgs(params)...)
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: query failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: query failed", err)
	}

	var wireRows []wire.Row
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return wire.Response{}, wrapErr(CodeEngine, "gateway: query failed", err)
		}
		wireRows = append(wireRows, scanRowToWire(raw))
	}
	if err := rows.Err(); err != nil {
		return wire.Response{}, wrapErr(CodeEngine, "gateway: query failed", err)
	}

	return wire.Response{Type: wire.TypeRows, Columns: cols, Rows: wireRows}, nil
}

// scanRowToWire maps the database/sql driver value set onto the wire's
// fundamental-type taxonomy (§6.1's four-kind nibble header).
func scanRowToWire(raw []interface{}) wire.Row {
	kinds := make([]wire.ParamKind, len(raw))
	values := make([]wire.Param, len(raw))
	for i, v := range raw {
		switch t := v.(type) {
		case nil:
			kinds[i] = wire.ParamNull
			values[i] = wire.Param{Kind: wire.ParamNull}
		case int64:
			kinds[i] = wire.ParamInt
			values[i] = wire.Param{Kind: wire.ParamInt, Int: t}
		case float64:
			kinds[i] = wire.ParamFloat
			values[i] = wire.Param{Kind: wire.ParamFloat, Float: t}
		case []byte:
			kinds[i] = wire.ParamBlob
			values[i] = wire.Param{Kind: wire.ParamBlob, Blob: t}
		case string:
			kinds[i] = wire.ParamText
			values[i] = wire.Param{Kind: wire.ParamText, Text: t}
		default:
			kinds[i] = wire.ParamNull
			values[i] = wire.Param{Kind: wire.ParamNull}
		}
	}
	return wire.Row{Kinds: kinds, Values: values}
}
