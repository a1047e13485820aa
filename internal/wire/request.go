package wire

// Request is the tagged-variant enum (§9 "hand-rolled polymorphism via
// macros" replaced with a parametric abstraction) over every request schema
// the client may send. Exactly one of the typed fields is meaningful for a
// given Type.
type Request struct {
	Type Type

	// client
	ClientID uint64

	// heartbeat
	Timestamp uint64

	// open
	Name  string
	Flags uint64
	VFS   string

	// prepare / exec_sql / query_sql
	DBID uint32
	SQL  string

	// exec / query / finalize
	StmtID uint32
	Params []Param
}

// Param is one bound value of a typed parameter tuple. Kind mirrors the
// SQLite fundamental types the gateway binds against.
type Param struct {
	Kind  ParamKind
	Int   int64
	Float float64
	Text  string
	Blob  []byte
	// Null carries no payload; Kind == ParamNull is sufficient.
}

type ParamKind uint8

const (
	ParamInt ParamKind = iota
	ParamFloat
	ParamText
	ParamBlob
	ParamNull
)

// DecodeRequest parses a request body according to its header Type. The
// body slice must be exactly header.BodyLen() bytes (the connfsm passes the
// already-delimited body, not the whole receive buffer).
func DecodeRequest(h Header, body []byte) (Request, error) {
	b := &Buffer{}
	b.heap = body
	bodyLen := len(body)

	req := Request{Type: h.Type}
	switch h.Type {
	case TypeLeader:
		// no fields
	case TypeClient:
		id, err := b.GetUint64(bodyLen)
		if err != nil {
			return req, err
		}
		req.ClientID = id
	case TypeHeartbeat:
		ts, err := b.GetUint64(bodyLen)
		if err != nil {
			return req, err
		}
		req.Timestamp = ts
	case TypeOpen:
		name, err := b.GetText(bodyLen)
		if err != nil {
			return req, err
		}
		flags, err := b.GetUint64(bodyLen)
		if err != nil {
			return req, err
		}
		vfs, err := b.GetText(bodyLen)
		if err != nil {
			return req, err
		}
		req.Name, req.Flags, req.VFS = name, flags, vfs
	case TypePrepare:
		dbID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		sql, err := b.GetText(bodyLen)
		if err != nil {
			return req, err
		}
		req.DBID, req.SQL = dbID, sql
	case TypeExec, TypeQuery:
		dbID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		stmtID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		params, err := decodeParams(b, bodyLen)
		if err != nil {
			return req, err
		}
		req.DBID, req.StmtID, req.Params = dbID, stmtID, params
	case TypeFinalize:
		dbID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		stmtID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		req.DBID, req.StmtID = dbID, stmtID
	case TypeExecSQL, TypeQuerySQL:
		dbID, err := b.GetUint32(bodyLen)
		if err != nil {
			return req, err
		}
		sql, err := b.GetText(bodyLen)
		if err != nil {
			return req, err
		}
		params, err := decodeParams(b, bodyLen)
		if err != nil {
			return req, err
		}
		req.DBID, req.SQL, req.Params = dbID, sql, params
	default:
		return req, ErrUnknownType
	}
	return req, nil
}

// decodeParams reads the n_params/types prefix and the typed value tuple
// that follows it, per §6.1's exec/query body layout.
func decodeParams(b *Buffer, bodyLen int) ([]Param, error) {
	n, err := b.GetUint8(bodyLen)
	if err != nil {
		return nil, err
	}
	if n == 0 {
		b.pad()
		return nil, nil
	}
	kinds := make([]ParamKind, n)
	for i := range kinds {
		k, err := b.GetUint8(bodyLen)
		if err != nil {
			return nil, err
		}
		kinds[i] = ParamKind(k)
	}
	b.pad()

	params := make([]Param, n)
	for i, k := range kinds {
		p := Param{Kind: k}
		switch k {
		case ParamInt:
			v, err := b.GetInt64(bodyLen)
			if err != nil {
				return nil, err
			}
			p.Int = v
		case ParamFloat:
			v, err := b.GetDouble(bodyLen)
			if err != nil {
				return nil, err
			}
			p.Float = v
		case ParamText:
			v, err := b.GetText(bodyLen)
			if err != nil {
				return nil, err
			}
			p.Text = v
		case ParamBlob:
			n32, err := b.GetUint32(bodyLen)
			if err != nil {
				return nil, err
			}
			if err := b.ensureRead(int(n32), bodyLen); err != nil {
				return nil, err
			}
			blob := make([]byte, n32)
			copy(blob, b.Bytes()[b.offset:b.offset+int(n32)])
			b.offset += int(n32)
			b.pad()
			p.Blob = blob
		case ParamNull:
			// no payload
		default:
			return nil, ErrUnknownType
		}
		params[i] = p
	}
	return params, nil
}

// EncodeParams is the inverse of decodeParams over a Buffer. The client
// library does not call it; it encodes through EncodeRequest.
func EncodeParams(b *Buffer, params []Param) error {
	if err := b.PutUint8(uint8(len(params))); err != nil {
		return err
	}
	for _, p := range params {
		if err := b.PutUint8(uint8(p.Kind)); err != nil {
			return err
		}
	}
	b.pad()
	for _, p := range params {
		switch p.Kind {
		case ParamInt:
			if err := b.PutInt64(p.Int); err != nil {
				return err
			}
		case ParamFloat:
			if err := b.PutDouble(p.Float); err != nil {
				return err
			}
		case ParamText:
			if err := b.PutText(p.Text); err != nil {
				return err
			}
		case ParamBlob:
			if err := b.PutUint32(uint32(len(p.Blob))); err != nil {
				return err
			}
			if err := b.ensure(len(p.Blob)); err != nil {
				return err
			}
			copy(b.Bytes()[b.offset:], p.Blob)
			b.offset += len(p.Blob)
			b.pad()
		case ParamNull:
		}
	}
	return nil
}
