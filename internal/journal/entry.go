// Package journal records every primitive the bridge emits to its accessory sinks, so
// a consumer outside the process can follow what the accessories were told.
package journal

import (
	"bufio"
	"bytes"
	"fmt"
	"time"

	"google.golang.org/protobuf/encoding/protodelim"
	"google.golang.org/protobuf/types/known/structpb"
	"google.golang.org/protobuf/types/known/timestamppb"
)

// Entry kinds.
const (
	KindPhoneState    = "phone_state"
	KindClcc          = "clcc"
	KindCallAdded     = "call_added"
	KindCallState     = "call_state"
	KindCallRemoved   = "call_removed"
	KindCallsList     = "calls_list"
	KindRequestResult = "request_result"
)

// Entry is one journaled primitive.
type Entry struct {
	Seq    uint64
	At     time.Time
	Kind   string
	Fields map[string]any
}

// Marshal encodes e as a length-delimited timestamp followed by a length-delimited
// struct holding seq, kind and the fields.
func (e Entry) Marshal() ([]byte, error) {
	body := make(map[string]any, len(e.Fields)+2)
	for k, v := range e.Fields {
		body[k] = v
	}
	body["seq"] = e.Seq
	body["kind"] = e.Kind

	st, err := structpb.NewStruct(body)
	if err != nil {
		return nil, fmt.Errorf("encode %s entry: %w", e.Kind, err)
	}
	var buf bytes.Buffer
	if _, err := protodelim.MarshalTo(&buf, timestamppb.New(e.At)); err != nil {
		return nil, fmt.Errorf("encode timestamp: %w", err)
	}
	if _, err := protodelim.MarshalTo(&buf, st); err != nil {
		return nil, fmt.Errorf("encode body: %w", err)
	}
	return buf.Bytes(), nil
}

// Unmarshal decodes an entry written by Marshal. Numbers come back as float64.
func Unmarshal(b []byte) (Entry, error) {
	r := bufio.NewReader(bytes.NewReader(b))
	ts := &timestamppb.Timestamp{}
	if err := protodelim.UnmarshalFrom(r, ts); err != nil {
		return Entry{}, fmt.Errorf("decode timestamp: %w", err)
	}
	st := &structpb.Struct{}
	if err := protodelim.UnmarshalFrom(r, st); err != nil {
		return Entry{}, fmt.Errorf("decode body: %w", err)
	}

	fields := st.AsMap()
	e := Entry{At: ts.AsTime(), Fields: fields}
	if seq, ok := fields["seq"].(float64); ok {
		e.Seq = uint64(seq)
	}
	if kind, ok := fields["kind"].(string); ok {
		e.Kind = kind
	}
	delete(fields, "seq")
	delete(fields, "kind")
	return e, nil
}
