package ipfs

import (
	"fmt"

	"github.com/mr-tron/base58"
)

// sha2-256 multihash header: function code 0x12, digest length 0x20.
var multihashPrefix = [2]byte{0x12, 0x20}

// CIDFromBytes32 turns an on-chain bytes32 digest into a CIDv0.
func CIDFromBytes32(digest [32]byte) string {
	buf := make([]byte, 0, 34)
	buf = append(buf, multihashPrefix[:]...)
	buf = append(buf, digest[:]...)
	return base58.Encode(buf)
}

// Bytes32FromCID extracts the sha2-256 digest of a CIDv0.
func Bytes32FromCID(cid string) ([32]byte, error) {
	var out [32]byte
	raw, err := base58.Decode(cid)
	if err != nil {
		return out, fmt.Errorf("decode cid %q: %w", cid, err)
	}
	if len(raw) != 34 || raw[0] != multihashPrefix[0] || raw[1] != multihashPrefix[1] {
		return out, fmt.Errorf("cid %q is not a sha2-256 CIDv0", cid)
	}
	copy(out[:], raw[2:])
	return out, nil
}
