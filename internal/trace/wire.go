package trace

import (
	"encoding/binary"
	"fmt"
	"io"
)

// Wire format: length-prefixed, self-describing frames, replayable and
// stable across compilers and architectures (unlike a raw memcpy-a-struct
// framing):
//
//	[2 bytes event tag, big endian]
//	[4 bytes payload length, big endian]
//	[payload_len bytes payload]
//
// Every tag's payload has a fixed width, so the length field is
// redundant for any one frame but keeps the stream self-describing and
// lets a consumer skip frame kinds it does not understand.

type wireTag uint16

const (
	tagPc         wireTag = 1
	tagInstr      wireTag = 2
	tagMemAccess  wireTag = 3
	tagSyscall    wireTag = 4
	tagLoad       wireTag = 5
	tagTerminator wireTag = 0xFFFF
)

const frameHeaderSize = 6

// frameEncoder accumulates one frame's payload bytes.
type frameEncoder struct {
	buf []byte
}

func newFrameEncoder() *frameEncoder {
	return &frameEncoder{buf: make([]byte, 0, 64)}
}

func (e *frameEncoder) reset() { e.buf = e.buf[:0] }

func (e *frameEncoder) uint8(v uint8)   { e.buf = append(e.buf, v) }
func (e *frameEncoder) bool(v bool) {
	if v {
		e.buf = append(e.buf, 1)
	} else {
		e.buf = append(e.buf, 0)
	}
}
func (e *frameEncoder) uint64(v uint64) {
	var b [8]byte
	binary.BigEndian.PutUint64(b[:], v)
	e.buf = append(e.buf, b[:]...)
}
func (e *frameEncoder) int64(v int64) { e.uint64(uint64(v)) }
func (e *frameEncoder) bytes(b []byte) {
	e.buf = append(e.buf, b...)
}

// encodeEvent serializes ev into a complete wire frame (header + payload).
func encodeEvent(ev *Event, out *frameEncoder) []byte {
	out.reset()

	var tag wireTag
	switch ev.Kind {
	case KindPc:
		tag = tagPc
		out.uint64(ev.Pc.PC)
		out.bool(ev.Pc.IsBranch)
	case KindInstr:
		tag = tagInstr
		out.uint64(ev.Instr.PC)
		out.uint8(ev.Instr.OpcodeSize)
		out.bytes(ev.Instr.Opcode[:])
	case KindMemAccess:
		tag = tagMemAccess
		out.uint64(ev.MemAccess.PC)
		out.uint64(ev.MemAccess.Addr)
		out.bool(ev.MemAccess.IsWrite)
	case KindSyscall:
		tag = tagSyscall
		out.int64(ev.Syscall.Num)
		out.int64(ev.Syscall.Rv)
		for _, a := range ev.Syscall.Args {
			out.uint64(a)
		}
	case KindLoad:
		tag = tagLoad
		out.uint64(ev.Load.Min)
		out.uint64(ev.Load.Max)
		out.uint64(ev.Load.Entry)
		out.uint8(ev.Load.Prot)
	default:
		panic(fmt.Sprintf("trace: encode of invalid event kind %d", ev.Kind))
	}

	frame := make([]byte, frameHeaderSize+len(out.buf))
	binary.BigEndian.PutUint16(frame[0:2], uint16(tag))
	binary.BigEndian.PutUint32(frame[2:6], uint32(len(out.buf)))
	copy(frame[frameHeaderSize:], out.buf)
	return frame
}

func terminatorFrame() []byte {
	var frame [frameHeaderSize]byte
	binary.BigEndian.PutUint16(frame[0:2], uint16(tagTerminator))
	return frame[:]
}

// ReadEvent reads one frame from r and decodes it into an Event. It
// returns io.EOF only at a clean stream boundary (no bytes of the next
// header were read). A terminator frame is reported as (nil, false, nil)
// so callers can stop without treating it as a parse error.
func ReadEvent(r io.Reader) (*Event, bool, error) {
	var header [frameHeaderSize]byte
	if _, err := io.ReadFull(r, header[:]); err != nil {
		return nil, false, err
	}
	tag := wireTag(binary.BigEndian.Uint16(header[0:2]))
	length := binary.BigEndian.Uint32(header[2:6])

	payload := make([]byte, length)
	if length > 0 {
		if _, err := io.ReadFull(r, payload); err != nil {
			if err == io.EOF {
				err = io.ErrUnexpectedEOF
			}
			return nil, false, err
		}
	}

	if tag == tagTerminator {
		return nil, false, nil
	}

	d := decoder{buf: payload}
	ev := &Event{}
	switch tag {
	case tagPc:
		ev.Kind = KindPc
		ev.Pc.PC = d.uint64()
		ev.Pc.IsBranch = d.bool()
	case tagInstr:
		ev.Kind = KindInstr
		ev.Instr.PC = d.uint64()
		ev.Instr.OpcodeSize = d.uint8()
		copy(ev.Instr.Opcode[:], d.take(maxOpcodeBytes))
	case tagMemAccess:
		ev.Kind = KindMemAccess
		ev.MemAccess.PC = d.uint64()
		ev.MemAccess.Addr = d.uint64()
		ev.MemAccess.IsWrite = d.bool()
	case tagSyscall:
		ev.Kind = KindSyscall
		ev.Syscall.Num = d.int64()
		ev.Syscall.Rv = d.int64()
		for i := range ev.Syscall.Args {
			ev.Syscall.Args[i] = d.uint64()
		}
	case tagLoad:
		ev.Kind = KindLoad
		ev.Load.Min = d.uint64()
		ev.Load.Max = d.uint64()
		ev.Load.Entry = d.uint64()
		ev.Load.Prot = d.uint8()
	default:
		return nil, false, fmt.Errorf("trace: unknown wire tag 0x%04x", tag)
	}
	if d.err != nil {
		return nil, false, d.err
	}
	return ev, true, nil
}

// decoder reads fixed-width fields out of a frame's payload. It never
// returns an error per field; it latches the first short-read into d.err
// and every subsequent read becomes a no-op, which keeps the per-field
// call sites above free of error checks.
type decoder struct {
	buf []byte
	pos int
	err error
}

func (d *decoder) take(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	if d.pos+n > len(d.buf) {
		d.err = io.ErrUnexpectedEOF
		return make([]byte, n)
	}
	v := d.buf[d.pos : d.pos+n]
	d.pos += n
	return v
}

func (d *decoder) uint8() uint8 {
	b := d.take(1)
	return b[0]
}

func (d *decoder) bool() bool {
	return d.uint8() != 0
}

func (d *decoder) uint64() uint64 {
	return binary.BigEndian.Uint64(d.take(8))
}

func (d *decoder) int64() int64 {
	return int64(d.uint64())
}
