package protocol

import (
	"encoding/binary"
	"fmt"
	"io"
	"time"
)

// HeaderSize is the fixed wire size of a packet header.
//
// Layout (network byte order):
//
//	offset 0  type     u8
//	offset 1  id       u8   invitation ID
//	offset 2  role     u8   0=none, 1=first, 2=second
//	offset 3  reserved u8   zero on send, ignored on receive
//	offset 4  size     u16  payload length
//	offset 6  reserved u16  zero on send, ignored on receive
//	offset 8  sec      u32  send timestamp, seconds
//	offset 12 nsec     u32  send timestamp, nanoseconds
const HeaderSize = 16

// DefaultMaxPayload bounds the payload size accepted by Recv when the
// caller passes 0. Usernames, move strings and rendered boards are all
// far below this.
const DefaultMaxPayload = 4096

// Type identifies a packet.
type Type uint8

// Packet type codes. The numeric values are part of the wire protocol
// and must not be reordered.
const (
	TypeNone Type = iota

	// Client to server.
	TypeLogin  // payload: username
	TypeUsers  // response payload: name<TAB>rating<LF> per user
	TypeInvite // payload: target username, role: invited role
	TypeRevoke // id: source's invitation ID
	TypeDecline
	TypeAccept
	TypeMove // payload: move text
	TypeResign

	// Server to client.
	TypeAck  // optional payload
	TypeNack
	TypeInvited  // payload: inviter username
	TypeRevoked
	TypeDeclined
	TypeAccepted // payload: initial board iff recipient moves first
	TypeMoved    // payload: rendered board, optionally "X/O to move"
	TypeResigned
	TypeEnded // role: winner role, 0 for draw
)

var typeNames = map[Type]string{
	TypeNone:     "NONE",
	TypeLogin:    "LOGIN",
	TypeUsers:    "USERS",
	TypeInvite:   "INVITE",
	TypeRevoke:   "REVOKE",
	TypeDecline:  "DECLINE",
	TypeAccept:   "ACCEPT",
	TypeMove:     "MOVE",
	TypeResign:   "RESIGN",
	TypeAck:      "ACK",
	TypeNack:     "NACK",
	TypeInvited:  "INVITED",
	TypeRevoked:  "REVOKED",
	TypeDeclined: "DECLINED",
	TypeAccepted: "ACCEPTED",
	TypeMoved:    "MOVED",
	TypeResigned: "RESIGNED",
	TypeEnded:    "ENDED",
}

func (t Type) String() string {
	if s, ok := typeNames[t]; ok {
		return s
	}
	return fmt.Sprintf("UNKNOWN(0x%02X)", uint8(t))
}

// Role codes carried in the header role field.
const (
	RoleNone   uint8 = 0
	RoleFirst  uint8 = 1
	RoleSecond uint8 = 2
)

// Header is the decoded fixed-size packet header.
type Header struct {
	Type          Type
	ID            uint8
	Role          uint8
	Size          uint16
	TimestampSec  uint32
	TimestampNsec uint32
}

// ErrPayloadTooLarge is returned by Recv when the header announces a
// payload above the configured maximum. The session treats it as a
// transport error and closes the connection.
var ErrPayloadTooLarge = fmt.Errorf("payload exceeds maximum size")

// Send stamps hdr with the current time, sets hdr.Size from payload and
// writes header plus payload to w in a single Write call, so the packet
// appears atomic provided all writers to w serialize on the same lock.
func Send(w io.Writer, hdr *Header, payload []byte) error {
	if len(payload) > int(^uint16(0)) {
		return fmt.Errorf("payload of %d bytes does not fit in header", len(payload))
	}
	hdr.Size = uint16(len(payload))

	now := time.Now()
	hdr.TimestampSec = uint32(now.Unix())
	hdr.TimestampNsec = uint32(now.Nanosecond())

	buf := make([]byte, HeaderSize+len(payload))
	buf[0] = uint8(hdr.Type)
	buf[1] = hdr.ID
	buf[2] = hdr.Role
	binary.BigEndian.PutUint16(buf[4:6], hdr.Size)
	binary.BigEndian.PutUint32(buf[8:12], hdr.TimestampSec)
	binary.BigEndian.PutUint32(buf[12:16], hdr.TimestampNsec)
	copy(buf[HeaderSize:], payload)

	if _, err := w.Write(buf); err != nil {
		return fmt.Errorf("writing packet: %w", err)
	}
	return nil
}

// Recv reads one packet from r. Multi-byte header fields are decoded
// after the full header has been read. maxPayload bounds the accepted
// payload size; 0 selects DefaultMaxPayload.
//
// A clean half-close before the first header byte is reported as io.EOF.
// EOF in the middle of a packet surfaces as io.ErrUnexpectedEOF.
func Recv(r io.Reader, maxPayload int) (Header, []byte, error) {
	if maxPayload <= 0 {
		maxPayload = DefaultMaxPayload
	}

	var raw [HeaderSize]byte
	if _, err := io.ReadFull(r, raw[:]); err != nil {
		if err == io.EOF {
			return Header{}, nil, io.EOF
		}
		return Header{}, nil, fmt.Errorf("reading packet header: %w", err)
	}

	hdr := Header{
		Type:          Type(raw[0]),
		ID:            raw[1],
		Role:          raw[2],
		Size:          binary.BigEndian.Uint16(raw[4:6]),
		TimestampSec:  binary.BigEndian.Uint32(raw[8:12]),
		TimestampNsec: binary.BigEndian.Uint32(raw[12:16]),
	}

	if int(hdr.Size) > maxPayload {
		return hdr, nil, fmt.Errorf("%w: %d > %d", ErrPayloadTooLarge, hdr.Size, maxPayload)
	}
	if hdr.Size == 0 {
		return hdr, nil, nil
	}

	payload := make([]byte, hdr.Size)
	if _, err := io.ReadFull(r, payload); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		return hdr, nil, fmt.Errorf("reading packet payload: %w", err)
	}
	return hdr, payload, nil
}
