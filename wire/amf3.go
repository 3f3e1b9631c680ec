package wire

import (
	"encoding/binary"
	"math"
)

// AMF3 type markers and the UI29/string/double encoders below are adapted
// directly from the teacher's amf3.go — the core only ever needs to
// *build* AMF3 bodies (the "flex" shared-object/invoke variant selected
// when a connection's encoding is AMF3), never decode them.
const (
	amf3Undefined = 0x00
	amf3Null      = 0x01
	amf3False     = 0x02
	amf3True      = 0x03
	amf3Integer   = 0x04
	amf3Double    = 0x05
	amf3String    = 0x06
)

func amf3EncodeUI29(num uint32) []byte {
	switch {
	case num < 0x80:
		return []byte{byte(num)}
	case num < 0x4000:
		return []byte{byte(num & 0x7F), byte((num >> 7) | 0x80)}
	case num < 0x200000:
		return []byte{byte(num & 0x7F), byte((num >> 7) & 0x7F), byte((num >> 14) | 0x80)}
	default:
		return []byte{byte(num & 0xFF), byte((num >> 8) & 0x7F), byte((num >> 15) | 0x7F), byte((num >> 22) | 0x7F)}
	}
}

func amf3EncodeString(s string) []byte {
	b := []byte(s)
	out := amf3EncodeUI29(uint32(len(b))<<1 | 1)
	return append(out, b...)
}

func amf3EncodeDouble(d float64) []byte {
	b := make([]byte, 8)
	binary.BigEndian.PutUint64(b, math.Float64bits(d))
	return b
}

// AMF3Value is the encode-only counterpart of AMF0Value, used for the
// "flex" variant of shared-object and command messages.
type AMF3Value struct {
	kind   byte
	i      int32
	d      float64
	s      string
}

func AMF3Null() *AMF3Value    { return &AMF3Value{kind: amf3Null} }
func AMF3Bool(b bool) *AMF3Value {
	if b {
		return &AMF3Value{kind: amf3True}
	}
	return &AMF3Value{kind: amf3False}
}
func AMF3Integer(i int32) *AMF3Value  { return &AMF3Value{kind: amf3Integer, i: i} }
func AMF3Double(d float64) *AMF3Value { return &AMF3Value{kind: amf3Double, d: d} }
func AMF3String(s string) *AMF3Value  { return &AMF3Value{kind: amf3String, s: s} }

func (v *AMF3Value) Encode() []byte {
	if v == nil {
		return []byte{amf3Undefined}
	}
	switch v.kind {
	case amf3Null, amf3True, amf3False, amf3Undefined:
		return []byte{v.kind}
	case amf3Integer:
		return append([]byte{amf3Integer}, amf3EncodeUI29(uint32(v.i)&0x3FFFFFFF)...)
	case amf3Double:
		return append([]byte{amf3Double}, amf3EncodeDouble(v.d)...)
	case amf3String:
		return append([]byte{amf3String}, amf3EncodeString(v.s)...)
	default:
		return []byte{amf3Undefined}
	}
}

// EncodeAMF3Command mirrors EncodeAMF0Command for the flex variant: an
// AMF0-encoded command name/transaction-id pair (flex messages still use
// AMF0 for these two fields, per the RTMP spec) followed by AMF3-encoded
// arguments.
func EncodeAMF3Command(name string, transactionID float64, args ...*AMF3Value) []byte {
	out := encodeAMF0String(name, true)
	out = append(out, AMF0Number(transactionID).Encode()...)
	for _, a := range args {
		out = append(out, a.Encode()...)
	}
	return out
}
