package remote

import (
	"fmt"
	"strconv"

	"github.com/tinylib/msgp/msgp"

	"github.com/bowmanmike/libsync/internal/app"
)

// ContentType is the media type of the updates message.
const ContentType = "application/msgpack"

// UpdatePair is one (track, value) entry of an updates message.
type UpdatePair struct {
	TrackID string
	Value   string
}

// UpdatesMessage is the body of GET /updates. A non-nil Error means the
// server refused the request and Updates must be ignored.
type UpdatesMessage struct {
	Error   *string
	Updates map[string][]UpdatePair
}

var (
	_ msgp.Encodable = (*UpdatesMessage)(nil)
	_ msgp.Decodable = (*UpdatesMessage)(nil)
)

// NewUpdatesMessage groups pending updates by field, keeping their order.
func NewUpdatesMessage(pending []app.PendingUpdate) *UpdatesMessage {
	msg := &UpdatesMessage{Updates: make(map[string][]UpdatePair)}
	for _, p := range pending {
		key := p.Field.String()
		msg.Updates[key] = append(msg.Updates[key], UpdatePair{TrackID: p.TrackID, Value: p.Value})
	}
	return msg
}

// ErrorMessage builds a refusal.
func ErrorMessage(reason string) *UpdatesMessage {
	return &UpdatesMessage{Error: &reason}
}

// Pending flattens the message back into updates. Unknown fields or any
// entry that would not pass as an edit make the whole message malformed.
func (m *UpdatesMessage) Pending() ([]app.PendingUpdate, error) {
	for key := range m.Updates {
		if _, err := app.ParseField(key); err != nil {
			return nil, fmt.Errorf("malformed updates message: %w", err)
		}
	}
	var out []app.PendingUpdate
	for _, field := range app.DrainOrder {
		for i, pair := range m.Updates[field.String()] {
			upd := app.PendingUpdate{Field: field, TrackID: pair.TrackID, Value: pair.Value}
			if err := upd.Validate(); err != nil {
				return nil, fmt.Errorf("malformed updates message: %s[%d]: %w", field, i, err)
			}
			out = append(out, upd)
		}
	}
	return out, nil
}

// EncodeMsg writes {"error": str|nil, "updates": {field: [[id, value], ...]}}.
// Fields are written in drain order.
func (m *UpdatesMessage) EncodeMsg(w *msgp.Writer) error {
	if err := w.WriteMapHeader(2); err != nil {
		return err
	}

	if err := w.WriteString("error"); err != nil {
		return err
	}
	if m.Error == nil {
		if err := w.WriteNil(); err != nil {
			return err
		}
	} else if err := w.WriteString(*m.Error); err != nil {
		return err
	}

	if err := w.WriteString("updates"); err != nil {
		return err
	}
	var fields []string
	for _, f := range app.DrainOrder {
		if len(m.Updates[f.String()]) > 0 {
			fields = append(fields, f.String())
		}
	}
	if err := w.WriteMapHeader(uint32(len(fields))); err != nil {
		return err
	}
	for _, field := range fields {
		if err := w.WriteString(field); err != nil {
			return err
		}
		pairs := m.Updates[field]
		if err := w.WriteArrayHeader(uint32(len(pairs))); err != nil {
			return err
		}
		for _, p := range pairs {
			if err := w.WriteArrayHeader(2); err != nil {
				return err
			}
			if err := w.WriteString(p.TrackID); err != nil {
				return err
			}
			if err := w.WriteString(p.Value); err != nil {
				return err
			}
		}
	}
	return nil
}

// DecodeMsg reads an updates message. Entries may be [id, value] pairs or a
// bare id (a play increment); scalar values of any type are read as text.
func (m *UpdatesMessage) DecodeMsg(r *msgp.Reader) error {
	n, err := r.ReadMapHeader()
	if err != nil {
		return msgp.WrapError(err)
	}
	m.Error = nil
	m.Updates = make(map[string][]UpdatePair)

	for i := uint32(0); i < n; i++ {
		key, err := r.ReadString()
		if err != nil {
			return msgp.WrapError(err)
		}
		switch key {
		case "error":
			if r.IsNil() {
				if err := r.ReadNil(); err != nil {
					return msgp.WrapError(err, "error")
				}
				continue
			}
			reason, err := readScalar(r)
			if err != nil {
				return msgp.WrapError(err, "error")
			}
			m.Error = &reason
		case "updates":
			if r.IsNil() {
				if err := r.ReadNil(); err != nil {
					return msgp.WrapError(err, "updates")
				}
				continue
			}
			if err := m.decodeUpdates(r); err != nil {
				return msgp.WrapError(err, "updates")
			}
		default:
			if err := r.Skip(); err != nil {
				return msgp.WrapError(err, key)
			}
		}
	}
	return nil
}

func (m *UpdatesMessage) decodeUpdates(r *msgp.Reader) error {
	fields, err := r.ReadMapHeader()
	if err != nil {
		return err
	}
	for i := uint32(0); i < fields; i++ {
		field, err := r.ReadString()
		if err != nil {
			return err
		}
		count, err := r.ReadArrayHeader()
		if err != nil {
			return msgp.WrapError(err, field)
		}
		pairs := make([]UpdatePair, 0, count)
		for j := uint32(0); j < count; j++ {
			pair, err := readPair(r)
			if err != nil {
				return msgp.WrapError(err, field, j)
			}
			pairs = append(pairs, pair)
		}
		m.Updates[field] = pairs
	}
	return nil
}

func readPair(r *msgp.Reader) (UpdatePair, error) {
	t, err := r.NextType()
	if err != nil {
		return UpdatePair{}, err
	}
	if t != msgp.ArrayType {
		id, err := readScalar(r)
		return UpdatePair{TrackID: id}, err
	}

	n, err := r.ReadArrayHeader()
	if err != nil {
		return UpdatePair{}, err
	}
	if n == 0 {
		return UpdatePair{}, fmt.Errorf("empty update entry")
	}
	var p UpdatePair
	if p.TrackID, err = readScalar(r); err != nil {
		return UpdatePair{}, err
	}
	if n > 1 {
		if p.Value, err = readScalar(r); err != nil {
			return UpdatePair{}, err
		}
	}
	for k := uint32(2); k < n; k++ {
		if err := r.Skip(); err != nil {
			return UpdatePair{}, err
		}
	}
	return p, nil
}

func readScalar(r *msgp.Reader) (string, error) {
	t, err := r.NextType()
	if err != nil {
		return "", err
	}
	switch t {
	case msgp.StrType:
		return r.ReadString()
	case msgp.BinType:
		b, err := r.ReadBytes(nil)
		return string(b), err
	case msgp.IntType:
		v, err := r.ReadInt64()
		return strconv.FormatInt(v, 10), err
	case msgp.UintType:
		v, err := r.ReadUint64()
		return strconv.FormatUint(v, 10), err
	case msgp.Float32Type, msgp.Float64Type:
		v, err := r.ReadFloat64()
		return strconv.FormatFloat(v, 'f', -1, 64), err
	case msgp.NilType:
		return "", r.ReadNil()
	default:
		return "", fmt.Errorf("unexpected %s in update entry", t)
	}
}
