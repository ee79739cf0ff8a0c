package engine

import (
	"bufio"
	"bytes"

	"github.com/emersion/go-message/textproto"
	"golang.org/x/crypto/blake2b"
)

// headerDigest derives the message's identity from its headers alone: the
// accumulated bytes are parsed as a message envelope, the body is dropped,
// and the canonical header-only serialization is hashed. Identity is
// therefore stable no matter where a partial read happened to truncate the
// body.
func headerDigest(raw []byte) ([]byte, error) {
	hdr, err := textproto.ReadHeader(bufio.NewReader(bytes.NewReader(raw)))
	if err != nil {
		return nil, err
	}

	var canonical bytes.Buffer
	if err := textproto.WriteHeader(&canonical, hdr); err != nil {
		return nil, err
	}

	sum := blake2b.Sum512(canonical.Bytes())
	return sum[:], nil
}
