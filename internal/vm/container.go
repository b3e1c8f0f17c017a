package vm

import (
	"bytes"
	"encoding/binary"
	"encoding/hex"
	"fmt"
	"math"
)

const (
	tagUndefined byte = 0x00
	tagNumber    byte = 0x01
	tagString    byte = 0x02
)

// encodeTriple writes the plain container layout from spec.md §4.5 (const
// pool, function table, code stream) to buf.
func encodeTriple(buf *bytes.Buffer, c *Chunk) error {
	var u32 [4]byte

	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Consts)))
	buf.Write(u32[:])
	for _, v := range c.Consts {
		switch v.Kind {
		case KindUndefined:
			buf.WriteByte(tagUndefined)
		case KindNumber:
			buf.WriteByte(tagNumber)
			var bits [8]byte
			binary.LittleEndian.PutUint64(bits[:], math.Float64bits(v.Num))
			buf.Write(bits[:])
		case KindString:
			buf.WriteByte(tagString)
			binary.LittleEndian.PutUint32(u32[:], uint32(len(v.Str)))
			buf.Write(u32[:])
			buf.WriteString(v.Str)
		default:
			return fmt.Errorf("constant pool entry has non-serializable kind %s", kindName(v.Kind))
		}
	}

	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Funcs)))
	buf.Write(u32[:])
	for _, fn := range c.Funcs {
		binary.LittleEndian.PutUint32(u32[:], uint32(fn.Entry))
		buf.Write(u32[:])
		binary.LittleEndian.PutUint32(u32[:], uint32(fn.Arity))
		buf.Write(u32[:])
		binary.LittleEndian.PutUint32(u32[:], uint32(len(fn.ParamNameIdx)))
		buf.Write(u32[:])
		for _, p := range fn.ParamNameIdx {
			binary.LittleEndian.PutUint32(u32[:], uint32(p))
			buf.Write(u32[:])
		}
	}

	binary.LittleEndian.PutUint32(u32[:], uint32(len(c.Code)))
	buf.Write(u32[:])
	buf.Write(c.Code)
	return nil
}

// tripleReader walks a decoded container payload, tracking position for
// truncation errors.
type tripleReader struct {
	data []byte
	pos  int
}

func (r *tripleReader) u32() (uint32, error) {
	if r.pos+4 > len(r.data) {
		return 0, fmt.Errorf("truncated container at offset %d", r.pos)
	}
	v := binary.LittleEndian.Uint32(r.data[r.pos:])
	r.pos += 4
	return v, nil
}

func (r *tripleReader) byte() (byte, error) {
	if r.pos >= len(r.data) {
		return 0, fmt.Errorf("truncated container at offset %d", r.pos)
	}
	b := r.data[r.pos]
	r.pos++
	return b, nil
}

func (r *tripleReader) bytes(n int) ([]byte, error) {
	if r.pos+n > len(r.data) {
		return nil, fmt.Errorf("truncated container at offset %d", r.pos)
	}
	b := r.data[r.pos : r.pos+n]
	r.pos += n
	return b, nil
}

func decodeTriple(data []byte) (*Chunk, int, error) {
	r := &tripleReader{data: data}
	c := NewChunk()

	constCount, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	for i := uint32(0); i < constCount; i++ {
		tag, err := r.byte()
		if err != nil {
			return nil, 0, err
		}
		switch tag {
		case tagUndefined:
			c.Consts = append(c.Consts, Undefined)
		case tagNumber:
			bits, err := r.bytes(8)
			if err != nil {
				return nil, 0, err
			}
			c.Consts = append(c.Consts, Num(math.Float64frombits(binary.LittleEndian.Uint64(bits))))
		case tagString:
			n, err := r.u32()
			if err != nil {
				return nil, 0, err
			}
			s, err := r.bytes(int(n))
			if err != nil {
				return nil, 0, err
			}
			c.Consts = append(c.Consts, Str(string(s)))
		default:
			return nil, 0, fmt.Errorf("invalid constant tag 0x%02x", tag)
		}
	}

	funcCount, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	for i := uint32(0); i < funcCount; i++ {
		entry, err := r.u32()
		if err != nil {
			return nil, 0, err
		}
		arity, err := r.u32()
		if err != nil {
			return nil, 0, err
		}
		paramCount, err := r.u32()
		if err != nil {
			return nil, 0, err
		}
		if uint64(paramCount)*4 > uint64(len(r.data)-r.pos) {
			return nil, 0, fmt.Errorf("truncated container at offset %d", r.pos)
		}
		if paramCount != arity {
			return nil, 0, fmt.Errorf("function arity %d does not match parameter count %d", arity, paramCount)
		}
		params := make([]int, paramCount)
		for j := uint32(0); j < paramCount; j++ {
			p, err := r.u32()
			if err != nil {
				return nil, 0, err
			}
			if int(p) >= len(c.Consts) {
				return nil, 0, fmt.Errorf("function parameter name index %d out of range", p)
			}
			params[j] = int(p)
		}
		c.Funcs = append(c.Funcs, FuncDescriptor{Entry: int(entry), Arity: int(arity), ParamNameIdx: params})
	}

	codeLen, err := r.u32()
	if err != nil {
		return nil, 0, err
	}
	code, err := r.bytes(int(codeLen))
	if err != nil {
		return nil, 0, err
	}
	c.Code = append([]byte(nil), code...)

	return c, r.pos, nil
}

// PackPlain is the pack_plain API from spec.md §6: serialize the compiled
// triple into a lowercase hex-encoded byte image.
func PackPlain(c *Chunk) (string, error) {
	var buf bytes.Buffer
	if err := encodeTriple(&buf, c); err != nil {
		return "", err
	}
	return hex.EncodeToString(buf.Bytes()), nil
}

// UnpackPlain is the inverse of PackPlain.
func UnpackPlain(hexImage string) (*Chunk, error) {
	data, err := decodeHex(hexImage)
	if err != nil {
		return nil, err
	}
	c, n, err := decodeTriple(data)
	if err != nil {
		return nil, err
	}
	if n != len(data) {
		return nil, fmt.Errorf("trailing garbage after container payload")
	}
	return c, nil
}

func decodeHex(s string) ([]byte, error) {
	if len(s)%2 != 0 {
		return nil, fmt.Errorf("hex image has odd length")
	}
	data, err := hex.DecodeString(s)
	if err != nil {
		return nil, fmt.Errorf("hex image contains non-hex characters: %w", err)
	}
	return data, nil
}
