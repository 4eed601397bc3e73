// Package wire implements the ECS network frame format: a fixed-width
// big-endian header followed by a protobuf-encoded body. Two shapes exist
// on the wire — an inbound client request and an outbound response or
// tracked-component delta — because only the outbound direction needs an
// entity id to route the payload back to a connection.
package wire

import (
	"bytes"
	"crypto/md5"
	"encoding/binary"
	"fmt"
	"io"
)

// InboundHeaderSize is the length of the header the client sends before
// every protobuf body: body length followed by command id.
const InboundHeaderSize = 8

// OutboundHeaderSize is the length of the header this server sends before
// every protobuf body: total length (minus itself), entity id, command id.
const OutboundHeaderSize = 12

// InboundHeader describes a frame read from a connection.
type InboundHeader struct {
	BodyLength uint32
	CommandID  uint32
}

// Empty reports whether the header has not been parsed yet.
func (h InboundHeader) Empty() bool {
	return h.CommandID == 0 && h.BodyLength == 0
}

// ParseInboundHeader reads an 8-byte big-endian header.
func ParseInboundHeader(b []byte) (InboundHeader, error) {
	if len(b) < InboundHeaderSize {
		return InboundHeader{}, fmt.Errorf("wire: short inbound header: %d bytes (need %d)", len(b), InboundHeaderSize)
	}
	return InboundHeader{
		BodyLength: binary.BigEndian.Uint32(b[0:4]),
		CommandID:  binary.BigEndian.Uint32(b[4:8]),
	}, nil
}

// OutboundFrame is a fully assembled response/delta frame ready to write.
type OutboundFrame struct {
	EntityID  uint32
	CommandID uint32
	Body      []byte
}

// Marshal encodes the frame as `[u32 total_length_minus_4][u32 entity_id][u32 command_id][body]`.
func (f OutboundFrame) Marshal() []byte {
	total := OutboundHeaderSize + len(f.Body)
	buf := make([]byte, total)
	binary.BigEndian.PutUint32(buf[0:4], uint32(total-4))
	binary.BigEndian.PutUint32(buf[4:8], f.EntityID)
	binary.BigEndian.PutUint32(buf[8:12], f.CommandID)
	copy(buf[12:], f.Body)
	return buf
}

// WriteOutboundFrame marshals and writes a frame to w.
func WriteOutboundFrame(w io.Writer, f OutboundFrame) error {
	_, err := w.Write(f.Marshal())
	return err
}

// ReadOutboundFrame reads one full outbound frame from r, for clients and
// tests that need to decode what the server produced.
func ReadOutboundFrame(r io.Reader) (OutboundFrame, error) {
	var lenBuf [4]byte
	if _, err := io.ReadFull(r, lenBuf[:]); err != nil {
		return OutboundFrame{}, err
	}
	total := binary.BigEndian.Uint32(lenBuf[:]) + 4
	if total < OutboundHeaderSize {
		return OutboundFrame{}, fmt.Errorf("wire: outbound frame too short: %d", total)
	}
	rest := make([]byte, total-4)
	if _, err := io.ReadFull(r, rest); err != nil {
		return OutboundFrame{}, err
	}
	buf := bytes.NewReader(rest)
	var entityID, cmdID uint32
	if err := binary.Read(buf, binary.BigEndian, &entityID); err != nil {
		return OutboundFrame{}, err
	}
	if err := binary.Read(buf, binary.BigEndian, &cmdID); err != nil {
		return OutboundFrame{}, err
	}
	body := make([]byte, buf.Len())
	if _, err := io.ReadFull(buf, body); err != nil {
		return OutboundFrame{}, err
	}
	return OutboundFrame{EntityID: entityID, CommandID: cmdID, Body: body}, nil
}

// CommandID derives the wire command identifier for a protobuf message
// type name: the big-endian first four bytes of md5(utf8(name)).
func CommandID(messageTypeName string) uint32 {
	sum := md5.Sum([]byte(messageTypeName))
	return binary.BigEndian.Uint32(sum[:4])
}
