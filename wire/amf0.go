package wire

import (
	"encoding/binary"
	"math"
	"sort"
)

// AMF0 type markers, from the teacher's amf0.go.
const (
	amf0Number      = 0x00
	amf0Bool        = 0x01
	amf0String      = 0x02
	amf0Object      = 0x03
	amf0Null        = 0x05
	amf0Undefined   = 0x06
	amf0ECMAArray   = 0x08
	amf0ObjectEnd   = 0x09
	amf0StrictArray = 0x0A
)

// AMF0Value is a small encode-only value tree used by the core to build
// command arguments (connect results, onStatus bodies, shared-object
// events). Decoding inbound AMF0 is outside the core's scope — by the time
// a packet reaches the core's Handler it has already been classified; any
// application-level command parsing is the external codec's job
// (spec.md §1).
type AMF0Value struct {
	kind    byte
	boolVal bool
	strVal  string
	numVal  float64
	props   map[string]*AMF0Value
	order   []string // preserves insertion order for object/array properties
}

func AMF0Null() *AMF0Value      { return &AMF0Value{kind: amf0Null} }
func AMF0Undefined() *AMF0Value { return &AMF0Value{kind: amf0Undefined} }

func AMF0Bool(b bool) *AMF0Value {
	return &AMF0Value{kind: amf0Bool, boolVal: b}
}

func AMF0Number(n float64) *AMF0Value {
	return &AMF0Value{kind: amf0Number, numVal: n}
}

func AMF0String(s string) *AMF0Value {
	return &AMF0Value{kind: amf0String, strVal: s}
}

// AMF0Object creates an empty, settable object value.
func AMF0Object() *AMF0Value {
	return &AMF0Value{kind: amf0Object, props: make(map[string]*AMF0Value)}
}

// Set attaches a property to an object value, preserving insertion order.
func (v *AMF0Value) Set(key string, val *AMF0Value) *AMF0Value {
	if v.props == nil {
		v.props = make(map[string]*AMF0Value)
	}
	if _, exists := v.props[key]; !exists {
		v.order = append(v.order, key)
	}
	v.props[key] = val
	return v
}

// Encode serialises the value tree to AMF0 bytes.
func (v *AMF0Value) Encode() []byte {
	if v == nil {
		return []byte{amf0Undefined}
	}
	switch v.kind {
	case amf0Null:
		return []byte{amf0Null}
	case amf0Undefined:
		return []byte{amf0Undefined}
	case amf0Bool:
		b := byte(0)
		if v.boolVal {
			b = 1
		}
		return []byte{amf0Bool, b}
	case amf0Number:
		buf := make([]byte, 9)
		buf[0] = amf0Number
		binary.BigEndian.PutUint64(buf[1:], math.Float64bits(v.numVal))
		return buf
	case amf0String:
		return encodeAMF0String(v.strVal, true)
	case amf0Object:
		return v.encodeObject()
	default:
		return []byte{amf0Undefined}
	}
}

func encodeAMF0String(s string, withMarker bool) []byte {
	b := []byte(s)
	out := make([]byte, 0, len(b)+3)
	if withMarker {
		out = append(out, amf0String)
	}
	lenBuf := make([]byte, 2)
	binary.BigEndian.PutUint16(lenBuf, uint16(len(b)))
	out = append(out, lenBuf...)
	out = append(out, b...)
	return out
}

func (v *AMF0Value) encodeObject() []byte {
	keys := v.order
	if keys == nil {
		keys = make([]string, 0, len(v.props))
		for k := range v.props {
			keys = append(keys, k)
		}
		sort.Strings(keys)
	}
	out := []byte{amf0Object}
	for _, k := range keys {
		out = append(out, encodeAMF0String(k, false)...)
		out = append(out, v.props[k].Encode()...)
	}
	out = append(out, 0x00, 0x00, amf0ObjectEnd)
	return out
}

// EncodeAMF0Command builds a full command message body: the command name
// string, the transaction id, and each argument, concatenated in order
// (the shape every Invoke/Notify body takes per the RTMP command protocol).
func EncodeAMF0Command(name string, transactionID float64, args ...*AMF0Value) []byte {
	out := encodeAMF0String(name, true)
	out = append(out, AMF0Number(transactionID).Encode()...)
	for _, a := range args {
		out = append(out, a.Encode()...)
	}
	return out
}
