package wire

// Response is the tagged-variant enum over every response schema (§6.1). The
// gateway returns it by value and the connection encodes it with Encode.
type Response struct {
	Type Type

	// failure
	Code        uint64
	Description string

	// server
	Address string

	// welcome
	HeartbeatTimeout uint64

	// servers
	Addresses []string

	// db
	DBID uint32

	// stmt
	StmtID uint32

	// result
	LastInsertID uint64
	RowsAffected uint64

	// rows
	Columns []string
	Rows    []Row
}

// Row is one decoded row of a query response: a packed nibble-type header
// (recovered into Kinds for convenience) plus the column values.
type Row struct {
	Kinds  []ParamKind
	Values []Param
}

// Encode renders a Response onto the wire using a fresh Builder, returning
// the framed message bytes.
func Encode(r Response) []byte {
	b := NewBuilder()
	switch r.Type {
	case TypeFailure:
		b.PutUint64(r.Code)
		b.PutText(r.Description)
	case TypeServer:
		b.PutText(r.Address)
	case TypeWelcome:
		b.PutUint64(r.HeartbeatTimeout)
	case TypeServers:
		b.PutTextList(r.Addresses)
	case TypeDb:
		b.PutUint32(r.DBID)
	case TypeStmt:
		b.PutUint32(r.DBID)
		b.PutUint32(r.StmtID)
	case TypeResult:
		b.PutUint64(r.LastInsertID)
		b.PutUint64(r.RowsAffected)
	case TypeRows:
		b.PutUint64(uint64(len(r.Columns)))
		for _, c := range r.Columns {
			b.PutText(c)
		}
		for _, row := range r.Rows {
			encodeRowHeader(b, row.Kinds)
			for _, v := range row.Values {
				encodeRowValue(b, v)
			}
		}
	case TypeEmpty:
		// no fields
	}
	return b.Finish(r.Type, 0)
}

// encodeRowHeader packs one 4-bit type tag per column into successive
// nibbles, the layout used by the "rows" response per §6.1.
func encodeRowHeader(b *Builder, kinds []ParamKind) {
	packed := make([]byte, (len(kinds)+1)/2)
	for i, k := range kinds {
		nibble := byte(k) & 0x0f
		if i%2 == 0 {
			packed[i/2] |= nibble
		} else {
			packed[i/2] |= nibble << 4
		}
	}
	b.PutBytes(packed)
	// pad the nibble header out to the builder's word boundary before values.
	for len(b.buf)%wordSize != 0 {
		b.buf = append(b.buf, 0)
	}
}

func encodeRowValue(b *Builder, v Param) {
	switch v.Kind {
	case ParamInt:
		b.PutInt64(v.Int)
	case ParamFloat:
		b.PutDouble(v.Float)
	case ParamText:
		b.PutText(v.Text)
	case ParamBlob:
		b.PutUint32(uint32(len(v.Blob)))
		b.PutBytes(v.Blob)
		for len(b.buf)%wordSize != 0 {
			b.buf = append(b.buf, 0)
		}
	case ParamNull:
	}
}

// DecodeResponse parses a response body according to its header Type; used
// by the client-side wire library (pkg/dqclient) and by integration tests
// that drive the server end to end.
func DecodeResponse(h Header, body []byte) (Response, error) {
	b := &Buffer{heap: body}
	bodyLen := len(body)
	r := Response{Type: h.Type}

	switch h.Type {
	case TypeFailure:
		code, err := b.GetUint64(bodyLen)
		if err != nil {
			return r, err
		}
		desc, err := b.GetText(bodyLen)
		if err != nil {
			return r, err
		}
		r.Code, r.Description = code, desc
	case TypeServer:
		addr, err := b.GetText(bodyLen)
		if err != nil {
			return r, err
		}
		r.Address = addr
	case TypeWelcome:
		t, err := b.GetUint64(bodyLen)
		if err != nil {
			return r, err
		}
		r.HeartbeatTimeout = t
	case TypeServers:
		addrs, err := b.GetTextList(bodyLen)
		if err != nil {
			return r, err
		}
		r.Addresses = addrs
	case TypeDb:
		id, err := b.GetUint32(bodyLen)
		if err != nil {
			return r, err
		}
		r.DBID = id
	case TypeStmt:
		dbID, err := b.GetUint32(bodyLen)
		if err != nil {
			return r, err
		}
		stmtID, err := b.GetUint32(bodyLen)
		if err != nil {
			return r, err
		}
		r.DBID, r.StmtID = dbID, stmtID
	case TypeResult:
		lastID, err := b.GetUint64(bodyLen)
		if err != nil {
			return r, err
		}
		affected, err := b.GetUint64(bodyLen)
		if err != nil {
			return r, err
		}
		r.LastInsertID, r.RowsAffected = lastID, affected
	case TypeRows:
		n, err := b.GetUint64(bodyLen)
		if err != nil {
			return r, err
		}
		cols := make([]string, n)
		for i := range cols {
			cols[i], err = b.GetText(bodyLen)
			if err != nil {
				return r, err
			}
		}
		r.Columns = cols
		rows, err := decodeRows(b, bodyLen, int(n))
		if err != nil {
			return r, err
		}
		r.Rows = rows
	case TypeEmpty:
		// no fields
	default:
		return r, ErrUnknownType
	}
	return r, nil
}

func decodeRows(b *Buffer, bodyLen, ncols int) ([]Row, error) {
	var rows []Row
	for b.offset < bodyLen {
		packed := (ncols + 1) / 2
		if err := b.ensureRead(packed, bodyLen); err != nil {
			return nil, err
		}
		raw := b.Bytes()[b.offset : b.offset+packed]
		kinds := make([]ParamKind, ncols)
		for i := 0; i < ncols; i++ {
			var nibble byte
			if i%2 == 0 {
				nibble = raw[i/2] & 0x0f
			} else {
				nibble = raw[i/2] >> 4
			}
			kinds[i] = ParamKind(nibble)
		}
		b.offset += packed
		b.pad()

		values := make([]Param, ncols)
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
			}
			values[i] = p
		}
		rows = append(rows, Row{Kinds: kinds, Values: values})
	}
	return rows, nil
}

// EncodeRequest is the client-side counterpart of DecodeRequest.
func EncodeRequest(r Request) []byte {
	b := NewBuilder()
	switch r.Type {
	case TypeLeader:
		// one unused word: an empty body is a framing error (ValidateBodyLen)
		b.PutUint64(0)
	case TypeClient:
		b.PutUint64(r.ClientID)
	case TypeHeartbeat:
		b.PutUint64(r.Timestamp)
	case TypeOpen:
		b.PutText(r.Name)
		b.PutUint64(r.Flags)
		b.PutText(r.VFS)
	case TypePrepare:
		b.PutUint32(r.DBID)
		b.PutText(r.SQL)
	case TypeExec, TypeQuery:
		b.PutUint32(r.DBID)
		b.PutUint32(r.StmtID)
		encodeParamsBuilder(b, r.Params)
	case TypeFinalize:
		b.PutUint32(r.DBID)
		b.PutUint32(r.StmtID)
	case TypeExecSQL, TypeQuerySQL:
		b.PutUint32(r.DBID)
		b.PutText(r.SQL)
		encodeParamsBuilder(b, r.Params)
	}
	return b.Finish(r.Type, 0)
}

func encodeParamsBuilder(b *Builder, params []Param) {
	b.PutUint8(uint8(len(params)))
	for _, p := range params {
		b.PutUint8(uint8(p.Kind))
	}
	for len(b.buf)%wordSize != 0 {
		b.buf = append(b.buf, 0)
	}
	for _, p := range params {
		switch p.Kind {
		case ParamInt:
			b.PutInt64(p.Int)
		case ParamFloat:
			b.PutDouble(p.Float)
		case ParamText:
			b.PutText(p.Text)
		case ParamBlob:
			b.PutUint32(uint32(len(p.Blob)))
			b.PutBytes(p.Blob)
			for len(b.buf)%wordSize != 0 {
				b.buf = append(b.buf, 0)
			}
		case ParamNull:
		}
	}
}
