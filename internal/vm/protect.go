package vm

import (
	"bytes"
	"crypto/rand"
	"encoding/binary"
	"encoding/hex"
	"fmt"

	"github.com/jsvmp-lang/jsvmp/internal/config"
)

// Protected image layout (spec.md §4.6):
//
//	byte 0-1   magic "VM"
//	byte 2     version, always 0x03
//	byte 3-6   seed, big-endian uint32
//	byte 7     permutation table length K (number of logical opcodes in use)
//	byte 8..   K permutation bytes: physical byte for logical opcode i is
//	           perm[i]; physical byte 0 is never assigned (reserved)
//	then       the plain (consts, functions, code) triple, with every code
//	           byte re-mapped through perm and every immediate XORed with
//	           mask(seed, its absolute offset in the code stream)
//	last 4     big-endian uint32 integrity tag over everything from byte 3
//	           through the last code byte (exclusive of the tag itself)
const (
	magic0  byte = config.ProtectedMagic0
	magic1  byte = config.ProtectedMagic1
	version byte = config.ProtectedVersion
)

// mask derives the XOR pad applied to the immediate byte at the given
// absolute code offset, avalanche-mixed from the per-image seed so that
// flipping one offset does not predictably flip its neighbors.
func mask(seed, offset uint32) byte {
	x := (seed ^ offset) + 0x9E3779B1
	x &= 0xFFFFFFFF
	x = (x ^ (x >> 16)) * 0x85EBCA6B
	x &= 0xFFFFFFFF
	return byte((x >> 24) & 0xFF)
}

// integrityTag computes the keyed 32-bit tag covering data, per spec.md
// §4.6: fold each byte into the accumulator via XOR then a fixed odd
// multiplier, seeded from the image's permutation seed.
func integrityTag(seed uint32, data []byte) uint32 {
	h := seed ^ 0x9E3779B1
	for _, b := range data {
		h ^= uint32(b)
		h *= 2654435761
		h &= 0xFFFFFFFF
	}
	return h
}

// permutation maps each logical opcode to the physical byte it is encoded
// as in one protected image. Physical byte 0 is always reserved and never
// assigned, so a corrupted leading zero byte in the code stream is
// detectably invalid.
type permutation struct {
	forward [opcodeCount]byte
}

// newPermutation draws a random bijection from the opcodeCount logical
// opcodes onto the physical bytes 1..opcodeCount (inclusive), reserving
// physical byte 0.
func newPermutation() (*permutation, error) {
	physical := make([]byte, opcodeCount)
	for i := range physical {
		physical[i] = byte(i + 1)
	}
	if err := shuffleBytes(physical); err != nil {
		return nil, err
	}

	p := &permutation{}
	copy(p.forward[:], physical)
	return p, nil
}

// shuffleBytes performs a cryptographically random Fisher-Yates shuffle.
func shuffleBytes(b []byte) error {
	for i := len(b) - 1; i > 0; i-- {
		j, err := randIndex(i + 1)
		if err != nil {
			return err
		}
		b[i], b[j] = b[j], b[i]
	}
	return nil
}

// randIndex returns a uniformly random integer in [0, n) using crypto/rand.
func randIndex(n int) (int, error) {
	if n <= 0 {
		return 0, nil
	}
	var maxB [8]byte
	if _, err := rand.Read(maxB[:]); err != nil {
		return 0, fmt.Errorf("reading random bytes: %w", err)
	}
	v := binary.BigEndian.Uint64(maxB[:])
	return int(v % uint64(n)), nil
}

func randomSeed() (uint32, error) {
	var b [4]byte
	if _, err := rand.Read(b[:]); err != nil {
		return 0, fmt.Errorf("reading random seed: %w", err)
	}
	return binary.BigEndian.Uint32(b[:]), nil
}

// encodeProtectedCode writes plain into dst, remapping each opcode byte
// through perm and masking each immediate byte with mask(seed, offset),
// where offset is that immediate's position in dst (identical to its
// position in plain, since the permutation preserves code length).
func encodeProtectedCode(plain []byte, perm *permutation, seed uint32) ([]byte, error) {
	out := make([]byte, len(plain))
	i := 0
	for i < len(plain) {
		op := Opcode(plain[i])
		if op >= opcodeCount {
			return nil, fmt.Errorf("%w %d", errBadOpcode, op)
		}
		out[i] = perm.forward[op]
		i++
		if hasImmediate(op) {
			if i >= len(plain) {
				return nil, fmt.Errorf("truncated bytecode at offset %d", i)
			}
			out[i] = plain[i] ^ mask(seed, uint32(i))
			i++
		}
	}
	return out, nil
}

// PackProtected is the pack_protected API from spec.md §6: it compiles
// chunk's code through a freshly drawn random permutation and per-byte
// immediate mask, wraps the result in the VMP container, and hex-encodes
// it. Every call produces a different physical encoding of the same
// logical program.
func PackProtected(c *Chunk) (string, error) {
	perm, err := newPermutation()
	if err != nil {
		return "", err
	}
	seed, err := randomSeed()
	if err != nil {
		return "", err
	}

	protectedCode, err := encodeProtectedCode(c.Code, perm, seed)
	if err != nil {
		return "", err
	}
	protectedChunk := &Chunk{Code: protectedCode, Consts: c.Consts, Funcs: c.Funcs}

	var payload bytes.Buffer
	if err := encodeTriple(&payload, protectedChunk); err != nil {
		return "", err
	}

	var buf bytes.Buffer
	buf.WriteByte(magic0)
	buf.WriteByte(magic1)
	buf.WriteByte(version)

	var seedB [4]byte
	binary.BigEndian.PutUint32(seedB[:], seed)
	buf.Write(seedB[:])

	buf.WriteByte(byte(opcodeCount))
	buf.Write(perm.forward[:])

	buf.Write(payload.Bytes())

	tag := integrityTag(seed, buf.Bytes()[3:])
	var tagB [4]byte
	binary.BigEndian.PutUint32(tagB[:], tag)
	buf.Write(tagB[:])

	return hex.EncodeToString(buf.Bytes()), nil
}

// protectedImage is a parsed-but-not-yet-decoded VMP container: the header
// fields and the still-permuted/masked triple payload.
type protectedImage struct {
	seed    uint32
	inv     protection
	payload []byte
}

// parseProtected validates the magic, version and integrity tag, and
// returns the header fields needed to streaming-decode the payload.
// Validation happens before any byte of the payload is interpreted as an
// instruction, per spec.md §4.6.
func parseProtected(hexImage string) (*protectedImage, error) {
	data, err := decodeHex(hexImage)
	if err != nil {
		return nil, err
	}
	if len(data) < 3+4+1+4 {
		return nil, fmt.Errorf("truncated container header")
	}
	if data[0] != magic0 || data[1] != magic1 {
		return nil, errBadMagic
	}
	if data[2] != version {
		return nil, errBadVersion
	}

	seed := binary.BigEndian.Uint32(data[3:7])
	permLen := int(data[7])
	pos := 8
	if permLen != int(opcodeCount) {
		return nil, fmt.Errorf("invalid permutation table length %d", permLen)
	}
	if pos+permLen > len(data) {
		return nil, fmt.Errorf("truncated permutation table")
	}
	permBytes := data[pos : pos+permLen]
	pos += permLen

	if len(data) < pos+4 {
		return nil, fmt.Errorf("truncated container: missing integrity tag")
	}
	body := data[:len(data)-4]
	wantTag := binary.BigEndian.Uint32(data[len(data)-4:])
	gotTag := integrityTag(seed, body[3:])
	if gotTag != wantTag {
		return nil, errIntegrityFailed
	}

	var inv protection
	inv.seed = seed
	seen := make(map[byte]bool, permLen)
	for logical, phys := range permBytes {
		if phys == 0 {
			return nil, fmt.Errorf("invalid permutation: physical byte 0 is reserved")
		}
		if seen[phys] {
			return nil, fmt.Errorf("invalid permutation: duplicate physical byte %d", phys)
		}
		seen[phys] = true
		inv.invMap[phys] = Opcode(logical)
		inv.have[phys] = true
	}

	payload := data[pos : len(data)-4]
	return &protectedImage{seed: seed, inv: inv, payload: payload}, nil
}

// UnpackProtected validates and decodes a protected image back into a
// plain Chunk, undoing the permutation and immediate masking eagerly. It
// is used by disassembly and by tests that want to inspect a protected
// program's logical structure; RunProtected instead keeps the image
// permuted and decodes it on the fly as the interpreter fetches it.
func UnpackProtected(hexImage string) (*Chunk, error) {
	img, err := parseProtected(hexImage)
	if err != nil {
		return nil, err
	}
	c, n, err := decodeTriple(img.payload)
	if err != nil {
		return nil, err
	}
	if n != len(img.payload) {
		return nil, fmt.Errorf("trailing garbage after container payload")
	}

	plain := make([]byte, len(c.Code))
	i := 0
	for i < len(c.Code) {
		raw := c.Code[i]
		if !img.inv.have[raw] {
			return nil, fmt.Errorf("Unknown physical opcode: %d at position %d", raw, i)
		}
		op := img.inv.invMap[raw]
		plain[i] = byte(op)
		i++
		if hasImmediate(op) {
			if i >= len(c.Code) {
				return nil, fmt.Errorf("truncated bytecode at offset %d", i)
			}
			plain[i] = c.Code[i] ^ mask(img.seed, uint32(i))
			i++
		}
	}
	c.Code = plain
	return c, nil
}

// RunProtected is the run_protected API from spec.md §6: it validates the
// container and executes it directly against the still-permuted,
// still-masked code stream, decoding each instruction only as the
// interpreter's fetch loop reaches it.
func RunProtected(hexImage string, builtins map[string]HostFunc) (Value, error) {
	img, err := parseProtected(hexImage)
	if err != nil {
		return Value{}, err
	}
	c, n, err := decodeTriple(img.payload)
	if err != nil {
		return Value{}, err
	}
	if n != len(img.payload) {
		return Value{}, fmt.Errorf("trailing garbage after container payload")
	}

	interp := NewInterp(c, builtins)
	prot := img.inv
	interp.prot = &prot
	return interp.Run()
}
