package ws

import (
	"encoding/binary"
	"fmt"
)

type opcode byte

const (
	opContinuation opcode = 0x0
	opText         opcode = 0x1
	opBinary       opcode = 0x2
	opClose        opcode = 0x8
	opPing         opcode = 0x9
	opPong         opcode = 0xa
)

func (o opcode) String() string {
	switch o {
	case opContinuation:
		return "continuation"
	case opText:
		return "text"
	case opBinary:
		return "binary"
	case opClose:
		return "close"
	case opPing:
		return "ping"
	case opPong:
		return "pong"
	default:
		return fmt.Sprintf("opcode(0x%x)", byte(o))
	}
}

const (
	finBit  = 0x80
	rsv1Bit = 0x40
	maskBit = 0x80

	maxControlPayload = 125
)

var errFrameTooLarge = fmt.Errorf("%w: payload too large", ErrFrame)

type frame struct {
	fin     bool
	rsv1    bool
	opcode  opcode
	masked  bool
	length  uint64
	maskKey [4]byte
	payload []byte
}

// decodeFrame parses one frame from the front of buf and returns it together
// with the number of bytes it occupied. If buf does not yet hold the whole
// frame it returns 0 and leaves buf untouched.
//
// A masked payload is unmasked in place, so the returned payload aliases buf.
// maxPayload bounds the declared payload length; 0 means no bound.
func decodeFrame(buf []byte, maxPayload uint64) (frame, int, error) {
	if len(buf) < 2 {
		return frame{}, 0, nil
	}

	f := frame{
		fin:    buf[0]&finBit != 0,
		rsv1:   buf[0]&rsv1Bit != 0,
		opcode: opcode(buf[0] & 0x0f),
		masked: buf[1]&maskBit != 0,
	}

	off := 2
	length := uint64(buf[1] & 0x7f)
	switch length {
	case 126:
		if len(buf) < off+2 {
			return frame{}, 0, nil
		}
		length = uint64(binary.BigEndian.Uint16(buf[off:]))
		off += 2
	case 127:
		if len(buf) < off+8 {
			return frame{}, 0, nil
		}
		length = binary.BigEndian.Uint64(buf[off:])
		off += 8
		if length>>63 != 0 {
			return frame{}, 0, fmt.Errorf("%w: 64-bit length has the most significant bit set", ErrFrame)
		}
	}
	if maxPayload > 0 && length > maxPayload {
		return frame{}, 0, fmt.Errorf("%w: %d bytes exceeds limit of %d", errFrameTooLarge, length, maxPayload)
	}

	if f.masked {
		if len(buf) < off+4 {
			return frame{}, 0, nil
		}
		copy(f.maskKey[:], buf[off:off+4])
		off += 4
	}

	if uint64(len(buf)-off) < length {
		return frame{}, 0, nil
	}

	end := off + int(length)
	f.length = length
	f.payload = buf[off:end:end]
	if f.masked {
		maskBytes(f.payload, f.maskKey)
	}
	return f, end, nil
}

// appendFrame appends a complete, masked, final frame to dst.
func appendFrame(dst []byte, op opcode, rsv1 bool, payload []byte, key [4]byte) []byte {
	b0 := finBit | byte(op)
	if rsv1 {
		b0 |= rsv1Bit
	}

	n := len(payload)
	switch {
	case n < 126:
		dst = append(dst, b0, maskBit|byte(n))
	case n < 1<<16:
		dst = append(dst, b0, maskBit|126)
		dst = binary.BigEndian.AppendUint16(dst, uint16(n))
	default:
		dst = append(dst, b0, maskBit|127)
		dst = binary.BigEndian.AppendUint64(dst, uint64(n))
	}

	dst = append(dst, key[:]...)
	start := len(dst)
	dst = append(dst, payload...)
	maskBytes(dst[start:], key)
	return dst
}

// maskBytes XORs b with key. Applying it twice restores the input.
func maskBytes(b []byte, key [4]byte) {
	for i := range b {
		b[i] ^= key[i&3]
	}
}

// closePayload builds a close frame body. A zero code means no body.
func closePayload(code int, reason string) []byte {
	if code == 0 {
		return nil
	}
	p := binary.BigEndian.AppendUint16(make([]byte, 0, 2+len(reason)), uint16(code))
	return append(p, reason...)
}

// parseClosePayload extracts the status code and reason. Payloads shorter
// than two bytes carry neither.
func parseClosePayload(p []byte) (int, string) {
	if len(p) < 2 {
		return 0, ""
	}
	return int(binary.BigEndian.Uint16(p)), string(p[2:])
}
