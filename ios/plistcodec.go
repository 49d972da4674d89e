package ios

import (
	"bytes"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"reflect"

	log "github.com/sirupsen/logrus"
)

// maxPlistMessageSize guards against reading garbage lengths from a broken stream.
const maxPlistMessageSize = 64 * 1024 * 1024

// PlistCodec is a codec for PLIST based services with [4 byte big endian length][plist-payload] based messages
type PlistCodec struct{}

// NewPlistCodec create a codec for PLIST based services with [4 byte big endian length][plist-payload] based messages
func NewPlistCodec() PlistCodec {
	return PlistCodec{}
}

// Encode converts message to an XML plist and prefixes it with
// a 4 byte unsigned big endian length.
func (plistCodec PlistCodec) Encode(message interface{}) ([]byte, error) {
	content, err := ToPlistBytes(message)
	if err != nil {
		return nil, err
	}
	log.Tracef("plist send %v", reflect.TypeOf(message))
	buf := new(bytes.Buffer)
	err = binary.Write(buf, binary.BigEndian, uint32(len(content)))
	if err != nil {
		return nil, err
	}
	buf.Write(content)
	return buf.Bytes(), nil
}

// Decode reads one length prefixed message from r and returns the plist payload.
func (plistCodec PlistCodec) Decode(r io.Reader) ([]byte, error) {
	if r == nil {
		return nil, errors.New("reader was nil")
	}
	var length uint32
	err := binary.Read(r, binary.BigEndian, &length)
	if err != nil {
		return nil, err
	}
	if length > maxPlistMessageSize {
		return nil, fmt.Errorf("plist message of %d bytes exceeds limit", length)
	}
	payloadBytes := make([]byte, length)
	n, err := io.ReadFull(r, payloadBytes)
	if err != nil {
		return nil, fmt.Errorf("plist payload had incorrect size: %d expected: %d original error: %w", n, length, err)
	}
	return payloadBytes, nil
}
