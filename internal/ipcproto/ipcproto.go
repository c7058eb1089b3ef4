// Package ipcproto implements the framed IPC wire message: a pure codec
// for the UI-facing protocol, plus a streaming scanner for pulling
// complete messages out of a rolling receive buffer.
package ipcproto

import (
	"encoding/binary"
	"errors"
	"fmt"
)

// Header is the fixed 2-byte sentinel that opens every message.
const Header uint16 = 0xA5A5

// Group identifies the message catalogue group.
type Group uint8

const (
	GroupHelp Group = 0
	GroupSet  Group = 1
	GroupCar  Group = 11
	// GroupDiag carries the optional CAN/OBD-II diagnostics bridge's
	// snapshots; it is additive and a client that never asks for it sees
	// no difference from the base HELP/SET/CAR protocol.
	GroupDiag Group = 12
)

// Well-known message ids within their groups.
const (
	MsgHelpStatus = 0

	MsgSetSubscription = 50
	MsgSetPushInterval = 51
	MsgSetIdentity     = 52

	MsgCarIndicator  = 100
	MsgCarMeter      = 101
	MsgCarDrivetrain = 102

	// MsgDiagSnapshot requests (or, on NotifyChange, carries) the most
	// recent diagnostics bridge snapshot, JSON-encoded in Data.
	MsgDiagSnapshot = 120
)

const baseLen = 2 + 1 + 1 + 2 // HEADER + GROUP + MSG_ID + LENGTH

// Message is a decoded IPC frame.
type Message struct {
	Group Group
	MsgID uint8
	Data  []byte
}

// ErrFrameInvalid is returned by Deserialize for a malformed buffer: bad
// header, truncated payload, or a LENGTH that does not match the data
// actually present.
var ErrFrameInvalid = errors.New("ipcproto: invalid frame")

// Serialize encodes msg into HEADER|GROUP|MSG_ID|LENGTH(be)|DATA.
func Serialize(msg Message) ([]byte, error) {
	if len(msg.Data) > 0xFFFF {
		return nil, fmt.Errorf("ipcproto: data length %d exceeds uint16", len(msg.Data))
	}
	out := make([]byte, baseLen+len(msg.Data))
	binary.BigEndian.PutUint16(out[0:2], Header)
	out[2] = byte(msg.Group)
	out[3] = msg.MsgID
	binary.BigEndian.PutUint16(out[4:6], uint16(len(msg.Data)))
	copy(out[6:], msg.Data)
	return out, nil
}

// Deserialize decodes exactly one message from buf. buf must be exactly
// one full message (HEADER..DATA, no trailing bytes); use the streaming
// Scan to pull messages out of a rolling receive buffer instead.
func Deserialize(buf []byte) (Message, error) {
	if len(buf) < baseLen {
		return Message{}, ErrFrameInvalid
	}
	if binary.BigEndian.Uint16(buf[0:2]) != Header {
		return Message{}, ErrFrameInvalid
	}
	length := binary.BigEndian.Uint16(buf[4:6])
	if len(buf) != baseLen+int(length) {
		return Message{}, ErrFrameInvalid
	}
	data := append([]byte(nil), buf[baseLen:]...)
	return Message{Group: Group(buf[2]), MsgID: buf[3], Data: data}, nil
}

// maxJunkWindow bounds how far Scan will advance looking for a header
// before giving up for this call and waiting for more bytes, matching the
// PTL parser's resynchronization bound.
const maxJunkWindow = 20

// Scan extracts zero or more complete messages from the head of buf,
// returning them along with the unconsumed remainder. It consumes up to
// maxJunkWindow junk bytes (anything before a recognizable HEADER) ahead
// of a message per call; a longer junk run trims the scanned bytes and
// stops. A LENGTH that would overrun the available bytes simply stops the
// scan, leaving that partial message in the remainder for next time.
func Scan(buf []byte) (messages []Message, remainder []byte) {
	pos := 0
	junk := 0
	for {
		if len(buf)-pos < baseLen {
			break
		}
		if binary.BigEndian.Uint16(buf[pos:pos+2]) != Header {
			pos++
			junk++
			if junk > maxJunkWindow {
				break
			}
			continue
		}
		length := int(binary.BigEndian.Uint16(buf[pos+4 : pos+6]))
		total := baseLen + length
		if len(buf)-pos < total {
			break // incomplete message; wait for more bytes
		}
		msg, err := Deserialize(buf[pos : pos+total])
		if err != nil {
			pos++
			junk++
			if junk > maxJunkWindow {
				break
			}
			continue
		}
		messages = append(messages, msg)
		pos += total
		junk = 0
	}
	return messages, buf[pos:]
}
