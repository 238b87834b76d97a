// Package volc implements the binary websocket framing shared by the
// Volcengine speech services (bigmodel ASR and unidirectional TTS).
package volc

import (
	"bytes"
	"compress/gzip"
	"encoding/binary"
	"fmt"
	"io"
)

// 帧格式：
// 4 字节 header | [4 字节 sequence] | [event | session id | connect id] | [4 字节 error code] | 4 字节 payload size | payload

const protocolVersion = 0b0001

// Kind is the message type nibble.
type Kind uint8

const (
	FullClientRequest       Kind = 0b0001
	AudioOnlyRequest        Kind = 0b0010
	FullServerResponse      Kind = 0b1001
	AudioOnlyServerResponse Kind = 0b1011 // ASR 中作为 ack
	ServerError             Kind = 0b1111
)

// Flags is the message-specific flags nibble.
type Flags uint8

const (
	NoSequence       Flags = 0b0000
	PositiveSequence Flags = 0b0001
	LastNoSequence   Flags = 0b0010
	LastNegSequence  Flags = 0b0011
	WithEvent        Flags = 0b0100
)

// Serialization of the payload.
type Serialization uint8

const (
	SerialNone Serialization = 0b0000
	SerialJSON Serialization = 0b0001
)

// Compression of the payload.
type Compression uint8

const (
	CompressNone Compression = 0b0000
	CompressGzip Compression = 0b0001
)

// Event 服务端事件编号，仅在 WithEvent 帧中出现。
type Event int32

const (
	EventNone               Event = 0
	EventStartConnection    Event = 1
	EventFinishConnection   Event = 2
	EventConnectionStarted  Event = 50
	EventConnectionFailed   Event = 51
	EventConnectionFinished Event = 52
	EventSessionStarted     Event = 150
	EventSessionFinished    Event = 152
	EventSessionFailed      Event = 153
)

func (e Event) hasSessionID() bool {
	switch e {
	case EventStartConnection, EventFinishConnection,
		EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return false
	}
	return true
}

func (e Event) hasConnectID() bool {
	switch e {
	case EventConnectionStarted, EventConnectionFailed, EventConnectionFinished:
		return true
	}
	return false
}

// Frame is one binary websocket message.
type Frame struct {
	Kind          Kind
	Flags         Flags
	Serialization Serialization
	Compression   Compression
	Sequence      int32
	Event         Event
	SessionID     string
	ConnectID     string
	ErrorCode     uint32
	Payload       []byte
}

func (f Frame) hasSequence() bool {
	switch f.Flags & 0b0011 {
	case PositiveSequence, LastNegSequence:
		return true
	}
	return false
}

func (f Frame) hasEvent() bool {
	return f.Flags&WithEvent == WithEvent
}

// Last reports whether the sender marked this as the final frame.
func (f Frame) Last() bool {
	switch f.Flags & 0b0011 {
	case LastNoSequence, LastNegSequence:
		return true
	}
	return false
}

// Marshal encodes the frame.
func (f Frame) Marshal() []byte {
	var buf bytes.Buffer
	buf.WriteByte(protocolVersion<<4 | 0b0001)
	buf.WriteByte(uint8(f.Kind)<<4 | uint8(f.Flags))
	buf.WriteByte(uint8(f.Serialization)<<4 | uint8(f.Compression))
	buf.WriteByte(0)

	word := make([]byte, 4)
	putWord := func(v uint32) {
		binary.BigEndian.PutUint32(word, v)
		buf.Write(word)
	}
	putString := func(s string) {
		putWord(uint32(len(s)))
		buf.WriteString(s)
	}

	if f.hasSequence() {
		putWord(uint32(f.Sequence))
	}
	if f.hasEvent() {
		putWord(uint32(f.Event))
		if f.Event.hasSessionID() {
			putString(f.SessionID)
		}
		if f.Event.hasConnectID() {
			putString(f.ConnectID)
		}
	}
	if f.Kind == ServerError {
		putWord(f.ErrorCode)
	}
	putWord(uint32(len(f.Payload)))
	buf.Write(f.Payload)
	return buf.Bytes()
}

// Parse decodes one frame.
func Parse(data []byte) (Frame, error) {
	r := bytes.NewReader(data)
	head := make([]byte, 4)
	if _, err := io.ReadFull(r, head); err != nil {
		return Frame{}, fmt.Errorf("read header: %w", err)
	}
	if version := head[0] >> 4; version != protocolVersion {
		return Frame{}, fmt.Errorf("unsupported protocol version %d", version)
	}

	f := Frame{
		Kind:          Kind(head[1] >> 4),
		Flags:         Flags(head[1] & 0x0F),
		Serialization: Serialization(head[2] >> 4),
		Compression:   Compression(head[2] & 0x0F),
	}

	// header size is counted in 4-byte words
	if extra := int(head[0]&0x0F)*4 - 4; extra > 0 {
		if _, err := io.CopyN(io.Discard, r, int64(extra)); err != nil {
			return Frame{}, fmt.Errorf("read extended header: %w", err)
		}
	}

	if f.hasSequence() {
		if err := binary.Read(r, binary.BigEndian, &f.Sequence); err != nil {
			return Frame{}, fmt.Errorf("read sequence: %w", err)
		}
	}
	if f.hasEvent() {
		var ev int32
		if err := binary.Read(r, binary.BigEndian, &ev); err != nil {
			return Frame{}, fmt.Errorf("read event: %w", err)
		}
		f.Event = Event(ev)
		if f.Event.hasSessionID() {
			s, err := readString(r)
			if err != nil {
				return Frame{}, fmt.Errorf("read session id: %w", err)
			}
			f.SessionID = s
		}
		if f.Event.hasConnectID() {
			s, err := readString(r)
			if err != nil {
				return Frame{}, fmt.Errorf("read connect id: %w", err)
			}
			f.ConnectID = s
		}
	}
	if f.Kind == ServerError {
		if err := binary.Read(r, binary.BigEndian, &f.ErrorCode); err != nil {
			return Frame{}, fmt.Errorf("read error code: %w", err)
		}
	}

	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return Frame{}, fmt.Errorf("read payload size: %w", err)
	}
	if size > 0 {
		f.Payload = make([]byte, size)
		if _, err := io.ReadFull(r, f.Payload); err != nil {
			return Frame{}, fmt.Errorf("read payload (expected %d bytes): %w", size, err)
		}
	}
	return f, nil
}

func readString(r io.Reader) (string, error) {
	var size uint32
	if err := binary.Read(r, binary.BigEndian, &size); err != nil {
		return "", err
	}
	if size == 0 {
		return "", nil
	}
	buf := make([]byte, size)
	if _, err := io.ReadFull(r, buf); err != nil {
		return "", err
	}
	return string(buf), nil
}

// Body returns the payload with compression removed.
func (f Frame) Body() ([]byte, error) {
	switch f.Compression {
	case CompressNone:
		return f.Payload, nil
	case CompressGzip:
		return Gunzip(f.Payload)
	default:
		return nil, fmt.Errorf("unsupported compression method %d", f.Compression)
	}
}

// NewRequest wraps a JSON request, gzipped when compress is set.
func NewRequest(jsonPayload []byte, compress bool) (Frame, error) {
	f := Frame{
		Kind:          FullClientRequest,
		Flags:         NoSequence,
		Serialization: SerialJSON,
		Compression:   CompressNone,
		Payload:       jsonPayload,
	}
	if compress {
		packed, err := Gzip(jsonPayload)
		if err != nil {
			return Frame{}, err
		}
		f.Compression = CompressGzip
		f.Payload = packed
	}
	return f, nil
}

// NewAudio wraps one gzipped audio chunk. The final chunk carries a negative sequence.
func NewAudio(chunk []byte, sequence int32, isLast bool) (Frame, error) {
	packed, err := Gzip(chunk)
	if err != nil {
		return Frame{}, err
	}
	f := Frame{
		Kind:          AudioOnlyRequest,
		Flags:         PositiveSequence,
		Serialization: SerialNone,
		Compression:   CompressGzip,
		Sequence:      sequence,
		Payload:       packed,
	}
	if isLast {
		f.Flags = LastNegSequence
		f.Sequence = -sequence
	}
	return f, nil
}

// Gzip compresses data.
func Gzip(data []byte) ([]byte, error) {
	var buf bytes.Buffer
	w := gzip.NewWriter(&buf)
	if _, err := w.Write(data); err != nil {
		w.Close()
		return nil, fmt.Errorf("gzip write: %w", err)
	}
	if err := w.Close(); err != nil {
		return nil, fmt.Errorf("gzip close: %w", err)
	}
	return buf.Bytes(), nil
}

// Gunzip decompresses data.
func Gunzip(data []byte) ([]byte, error) {
	r, err := gzip.NewReader(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("gzip reader: %w", err)
	}
	defer r.Close()
	out, err := io.ReadAll(r)
	if err != nil {
		return nil, fmt.Errorf("gzip read: %w", err)
	}
	return out, nil
}
