package abi

import "encoding/binary"

// CmdEnd and CmdAddMethod are the commands in a class description block, the
// byte stream the compiler emits as a global constant and that
// wren_init_class walks at startup to populate a class's method table.
const (
	CmdEnd byte = iota
	CmdAddMethod
)

// FlagStatic marks an added method as a static (class-side) method
// rather than an instance method.
const FlagStatic uint32 = 1 << 0

// ClassDescBuilder appends class description commands to a byte stream,
// mirroring the teacher's opcode-append style (a flat []byte plus
// helpers that encode each operand in a fixed layout).
type ClassDescBuilder struct {
	buf []byte
}

// AddMethod appends an ADD_METHOD command: flags, a NUL-terminated name,
// and the native function reference (an opaque handle into whatever
// symbol table the linker resolves function pointers against — here,
// internal/codegen passes the method's signature id truncated to 32 bits).
func (b *ClassDescBuilder) AddMethod(flags uint32, name string, fnRef uint32) {
	b.buf = append(b.buf, CmdAddMethod)
	var flagBuf [4]byte
	binary.LittleEndian.PutUint32(flagBuf[:], flags)
	b.buf = append(b.buf, flagBuf[:]...)
	b.buf = append(b.buf, []byte(name)...)
	b.buf = append(b.buf, 0)
	var fnBuf [4]byte
	binary.LittleEndian.PutUint32(fnBuf[:], fnRef)
	b.buf = append(b.buf, fnBuf[:]...)
}

// Bytes finalizes the block with a terminating END command and returns
// the encoded stream.
func (b *ClassDescBuilder) Bytes() []byte {
	out := make([]byte, len(b.buf)+1)
	copy(out, b.buf)
	out[len(b.buf)] = CmdEnd
	return out
}

// MethodEntry is one decoded ADD_METHOD command, used by this package's
// tests.
type MethodEntry struct {
	Flags uint32
	Name  string
	FnRef uint32
}

// IsStatic reports whether the entry's flags mark it as a static method.
func (m MethodEntry) IsStatic() bool { return m.Flags&FlagStatic != 0 }

// DecodeClassDesc parses a class description block back into its method
// entries, mirroring the teacher's disassembler pattern of walking a
// flat byte stream by command.
func DecodeClassDesc(block []byte) []MethodEntry {
	var out []MethodEntry
	i := 0
	for i < len(block) {
		cmd := block[i]
		i++
		switch cmd {
		case CmdEnd:
			return out
		case CmdAddMethod:
			flags := binary.LittleEndian.Uint32(block[i : i+4])
			i += 4
			start := i
			for block[i] != 0 {
				i++
			}
			name := string(block[start:i])
			i++ // skip NUL
			fnRef := binary.LittleEndian.Uint32(block[i : i+4])
			i += 4
			out = append(out, MethodEntry{Flags: flags, Name: name, FnRef: fnRef})
		default:
			return out
		}
	}
	return out
}
