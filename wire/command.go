package wire

import "encoding/binary"

// Encoding selects which AMF variant a connection uses for command
// arguments, decided once at connect time from objectEncoding (spec.md §4.1).
type Encoding int

const (
	AMF0 Encoding = iota
	AMF3
)

// Limit types for Set Peer Bandwidth (spec.md §4.7).
const (
	LimitHard    byte = 0
	LimitSoft    byte = 1
	LimitDynamic byte = 2
)

// BuildWindowAckSize builds a Window Acknowledgement Size control message
// (server bandwidth advertisement), sent on channel 2.
func BuildWindowAckSize(size uint32) *Packet {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Packet{ChannelID: ChannelProtocol, DataType: TypeWindowAckSize, Payload: payload}
}

// BuildSetPeerBandwidth builds a Set Peer Bandwidth control message (client
// bandwidth advertisement), sent on channel 2.
func BuildSetPeerBandwidth(size uint32, limitType byte) *Packet {
	payload := make([]byte, 5)
	binary.BigEndian.PutUint32(payload[:4], size)
	payload[4] = limitType
	return &Packet{ChannelID: ChannelProtocol, DataType: TypeSetPeerBandwidth, Payload: payload}
}

// BuildSetChunkSize builds a Set Chunk Size control message.
func BuildSetChunkSize(size uint32) *Packet {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, size)
	return &Packet{ChannelID: ChannelProtocol, DataType: TypeSetChunkSize, Payload: payload}
}

// BuildBytesRead builds an Acknowledgement (BytesRead) message, sent on
// channel 2 when the read-byte watermark advances (spec.md §4.6).
func BuildBytesRead(value uint32) *Packet {
	payload := make([]byte, 4)
	binary.BigEndian.PutUint32(payload, value)
	return &Packet{ChannelID: ChannelProtocol, DataType: TypeAcknowledgement, Payload: payload}
}

// BuildPing builds a User Control Message with the given event type and
// one or two big-endian uint32 values, sent on channel 2. A client-ping
// (PING_CLIENT event 6) carries value2 = low32(now) for RTT measurement
// (spec.md §4.5).
func BuildPing(eventType uint16, value1 uint32, hasValue2 bool, value2 uint32) *Packet {
	size := 6
	if hasValue2 {
		size = 10
	}
	payload := make([]byte, size)
	binary.BigEndian.PutUint16(payload[0:2], eventType)
	binary.BigEndian.PutUint32(payload[2:6], value1)
	if hasValue2 {
		binary.BigEndian.PutUint32(payload[6:10], value2)
	}
	return &Packet{ChannelID: ChannelProtocol, DataType: TypeControl, Payload: payload}
}

// ParsePing decodes a User Control Message payload into its event type and
// up to two values (the second only present when the payload carries 10
// bytes, as client-pong echoes do).
func ParsePing(payload []byte) (eventType uint16, value1 uint32, value2 uint32, hasValue2 bool) {
	if len(payload) < 6 {
		return 0, 0, 0, false
	}
	eventType = binary.BigEndian.Uint16(payload[0:2])
	value1 = binary.BigEndian.Uint32(payload[2:6])
	if len(payload) >= 10 {
		value2 = binary.BigEndian.Uint32(payload[6:10])
		hasValue2 = true
	}
	return
}

// BuildInvoke builds an Invoke (AMF0) or Flex Message (AMF3) command
// carrying a transaction id, for the RPC ledger (spec.md §4.4).
func BuildInvoke(channel uint32, streamID uint32, encoding Encoding, name string, transactionID float64, args ...interface{}) *Packet {
	var payload []byte
	dataType := uint32(TypeInvoke)
	if encoding == AMF3 {
		dataType = TypeFlexMessage
		payload = append(payload, 0x00) // flex marker byte
		payload = append(payload, EncodeAMF3Command(name, transactionID, toAMF3Args(args)...)...)
	} else {
		payload = EncodeAMF0Command(name, transactionID, toAMF0Args(args)...)
	}
	return &Packet{ChannelID: channel, DataType: dataType, StreamID: streamID, Payload: payload}
}

// BuildNotify builds a Notify message: the same shape as Invoke but with
// transaction id 0 and no pending-call correlation (spec.md §4.4).
func BuildNotify(channel uint32, streamID uint32, encoding Encoding, name string, args ...interface{}) *Packet {
	return BuildInvoke(channel, streamID, encoding, name, 0, args...)
}

// BuildStatus builds an onStatus Notify carrying {level, code, description}
// (spec.md §4.4/§4.7's NOT_CONNECTED, NetStream.* statuses).
func BuildStatus(channel uint32, streamID uint32, encoding Encoding, level string, code string, description string) *Packet {
	info := AMF0Object().
		Set("level", AMF0String(level)).
		Set("code", AMF0String(code)).
		Set("description", AMF0String(description))
	return BuildInvoke(channel, streamID, encoding, "onStatus", 0, info)
}

func toAMF0Args(args []interface{}) []*AMF0Value {
	out := make([]*AMF0Value, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case *AMF0Value:
			out = append(out, v)
		case string:
			out = append(out, AMF0String(v))
		case float64:
			out = append(out, AMF0Number(v))
		case bool:
			out = append(out, AMF0Bool(v))
		case nil:
			out = append(out, AMF0Null())
		default:
			out = append(out, AMF0Null())
		}
	}
	return out
}

func toAMF3Args(args []interface{}) []*AMF3Value {
	out := make([]*AMF3Value, 0, len(args))
	for _, a := range args {
		switch v := a.(type) {
		case *AMF3Value:
			out = append(out, v)
		case string:
			out = append(out, AMF3String(v))
		case float64:
			out = append(out, AMF3Double(v))
		case bool:
			out = append(out, AMF3Bool(v))
		case nil:
			out = append(out, AMF3Null())
		default:
			out = append(out, AMF3Null())
		}
	}
	return out
}

// SharedObjectEvent is one event inside a shared-object message (spec.md
// §4.7 sendSharedObjectMessage).
type SharedObjectEvent struct {
	Type byte
	Name string
	Data *AMF0Value
}

// BuildSharedObjectMessage builds a SharedObject (AMF0) or FlexObject (AMF3)
// message carrying the given events, on channel 3.
func BuildSharedObjectMessage(name string, version uint32, persistent bool, encoding Encoding, events []SharedObjectEvent) *Packet {
	header := encodeAMF0String(name, false)
	verBuf := make([]byte, 4)
	binary.BigEndian.PutUint32(verBuf, version)
	header = append(header, verBuf...)
	persistBuf := make([]byte, 4)
	if persistent {
		persistBuf[3] = 1
	}
	header = append(header, persistBuf...)
	header = append(header, 0, 0, 0, 0) // reserved

	body := make([]byte, 0)
	for _, ev := range events {
		var data []byte
		if ev.Data != nil {
			data = ev.Data.Encode()
		}
		body = append(body, ev.Type)
		lenBuf := make([]byte, 4)
		binary.BigEndian.PutUint32(lenBuf, uint32(len(data)+len(ev.Name)))
		body = append(body, lenBuf[2:]...)
		if ev.Name != "" {
			body = append(body, encodeAMF0String(ev.Name, false)...)
		}
		body = append(body, data...)
	}

	dataType := uint32(TypeSharedObject)
	if encoding == AMF3 {
		dataType = TypeFlexObject
	}
	return &Packet{ChannelID: ChannelInvoke, DataType: dataType, Payload: append(header, body...)}
}
