package chain

import (
	"encoding/binary"
	"fmt"
	"math/big"

	"golang.org/x/crypto/blake2b"
)

// scaleReader decodes the fixed-width SCALE values used by the oracle
// contract's events.
type scaleReader struct {
	buf []byte
	off int
}

func (r *scaleReader) take(n int) ([]byte, error) {
	if r.off+n > len(r.buf) {
		return nil, fmt.Errorf("scale: need %d bytes at offset %d, have %d", n, r.off, len(r.buf)-r.off)
	}
	b := r.buf[r.off : r.off+n]
	r.off += n
	return b, nil
}

func (r *scaleReader) u8() (byte, error) {
	b, err := r.take(1)
	if err != nil {
		return 0, err
	}
	return b[0], nil
}

func (r *scaleReader) u64() (uint64, error) {
	b, err := r.take(8)
	if err != nil {
		return 0, err
	}
	return binary.LittleEndian.Uint64(b), nil
}

func (r *scaleReader) fixed32() ([32]byte, error) {
	var out [32]byte
	b, err := r.take(32)
	if err != nil {
		return out, err
	}
	copy(out[:], b)
	return out, nil
}

// requestEvent is the ink! Request event payload after the variant byte.
type requestEvent struct {
	From       [32]byte
	RequestID  uint64
	IPFSHash   [32]byte
	Expiration uint64
}

func decodeRequestEvent(data []byte, variant byte) (requestEvent, bool, error) {
	var ev requestEvent
	r := &scaleReader{buf: data}
	idx, err := r.u8()
	if err != nil {
		return ev, false, err
	}
	if idx != variant {
		return ev, false, nil
	}
	if ev.From, err = r.fixed32(); err != nil {
		return ev, false, err
	}
	if ev.RequestID, err = r.u64(); err != nil {
		return ev, false, err
	}
	if ev.IPFSHash, err = r.fixed32(); err != nil {
		return ev, false, err
	}
	if ev.Expiration, err = r.u64(); err != nil {
		return ev, false, err
	}
	return ev, true, nil
}

func appendU64(buf []byte, v uint64) []byte {
	return binary.LittleEndian.AppendUint64(buf, v)
}

// appendU128 writes v (at most 128 bits) little endian.
func appendU128(buf []byte, v *big.Int) []byte {
	var be [16]byte
	v.FillBytes(be[:])
	for i := 15; i >= 0; i-- {
		buf = append(buf, be[i])
	}
	return buf
}

// messageSelector is the ink! selector of a message name.
func messageSelector(name string) [4]byte {
	sum := blake2b.Sum256([]byte(name))
	var sel [4]byte
	copy(sel[:], sum[:4])
	return sel
}

// encodeCallback builds the simple_callback call data:
// selector, request_id u64, callback_addr AccountId, result Numeric(u128).
func encodeCallback(requestID uint64, callback []byte, value *big.Int) []byte {
	sel := messageSelector("simple_callback")
	out := append([]byte{}, sel[:]...)
	out = appendU64(out, requestID)
	out = append(out, callback...)
	out = append(out, 0x00)
	return appendU128(out, value)
}
