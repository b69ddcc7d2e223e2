package chain

import (
	"bytes"
	"encoding/hex"
	"errors"
	"fmt"
	"strings"

	"github.com/mr-tron/base58"
	"golang.org/x/crypto/blake2b"
)

// DefaultSS58Prefix is the generic Substrate address prefix.
const DefaultSS58Prefix uint16 = 42

var ss58Pre = []byte("SS58PRE")

// SS58Encode renders a 32-byte account id with the given network prefix.
func SS58Encode(pub []byte, prefix uint16) (string, error) {
	if len(pub) != 32 {
		return "", fmt.Errorf("ss58: account id must be 32 bytes, got %d", len(pub))
	}
	if prefix > 16383 {
		return "", fmt.Errorf("ss58: prefix %d out of range", prefix)
	}

	var ident []byte
	if prefix < 64 {
		ident = []byte{byte(prefix)}
	} else {
		ident = []byte{
			byte((prefix&0xFC)>>2) | 0x40,
			byte(prefix>>8) | byte((prefix&0x03)<<6),
		}
	}

	payload := append(append([]byte{}, ident...), pub...)
	sum := ss58Checksum(payload)
	return base58.Encode(append(payload, sum[:2]...)), nil
}

// SS58Decode parses an address into its account id and prefix.
func SS58Decode(addr string) ([]byte, uint16, error) {
	raw, err := base58.Decode(addr)
	if err != nil {
		return nil, 0, fmt.Errorf("ss58: %w", err)
	}
	if len(raw) < 3 {
		return nil, 0, errors.New("ss58: address too short")
	}

	var prefix uint16
	identLen := 1
	if raw[0]&0x40 == 0 {
		prefix = uint16(raw[0])
	} else {
		identLen = 2
		prefix = uint16(raw[0]&0x3F)<<2 | uint16(raw[1]>>6) | uint16(raw[1]&0x3F)<<8
	}
	if len(raw) != identLen+32+2 {
		return nil, 0, fmt.Errorf("ss58: unsupported address length %d", len(raw))
	}

	payload := raw[:len(raw)-2]
	sum := ss58Checksum(payload)
	if !bytes.Equal(sum[:2], raw[len(raw)-2:]) {
		return nil, 0, errors.New("ss58: checksum mismatch")
	}
	return append([]byte(nil), payload[identLen:]...), prefix, nil
}

// AccountID accepts either an SS58 address or a 0x-prefixed hex account id.
func AccountID(s string) ([]byte, error) {
	s = strings.TrimSpace(s)
	if strings.HasPrefix(s, "0x") {
		pub, err := hex.DecodeString(s[2:])
		if err != nil {
			return nil, fmt.Errorf("account id: %w", err)
		}
		if len(pub) != 32 {
			return nil, fmt.Errorf("account id must be 32 bytes, got %d", len(pub))
		}
		return pub, nil
	}
	pub, _, err := SS58Decode(s)
	return pub, err
}

func ss58Checksum(payload []byte) [64]byte {
	return blake2b.Sum512(append(append([]byte{}, ss58Pre...), payload...))
}
