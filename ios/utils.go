package ios

import (
	"encoding/binary"
	"fmt"

	"github.com/Masterminds/semver"
	plist "howett.net/plist"
)

// ParsePlist tries to parse the given bytes, which should be a Plist, into a map[string]interface.
// It returns the map or an error if the decoding step fails.
func ParsePlist(data []byte) (map[string]interface{}, error) {
	var result map[string]interface{}
	_, err := plist.Unmarshal(data, &result)
	return result, err
}

// ToPlistBytes converts a given struct to an XML Plist. Make sure your struct is exported.
func ToPlistBytes(data interface{}) ([]byte, error) {
	bytes, err := plist.Marshal(data, plist.XMLFormat)
	if err != nil {
		return nil, fmt.Errorf("failed converting %T to plist: %w", data, err)
	}
	return bytes, nil
}

// ToXMLPlist renders data as a tab indented XML plist document ending in a newline.
func ToXMLPlist(data interface{}) ([]byte, error) {
	bytes, err := plist.MarshalIndent(data, plist.XMLFormat, "\t")
	if err != nil {
		return nil, fmt.Errorf("failed rendering %T as xml plist: %w", data, err)
	}
	if len(bytes) > 0 && bytes[len(bytes)-1] != '\n' {
		bytes = append(bytes, '\n')
	}
	return bytes, nil
}

// Ntohs swaps the byte order of port, like the C function of the same name.
// usbmuxd expects ports in network byte order.
func Ntohs(port uint16) uint16 {
	buf := make([]byte, 2)
	binary.BigEndian.PutUint16(buf, port)
	return binary.LittleEndian.Uint16(buf)
}

// ParseProductVersion parses a lockdown ProductVersion like "16.4.1".
func ParseProductVersion(productVersion string) (*semver.Version, error) {
	v, err := semver.NewVersion(productVersion)
	if err != nil {
		return nil, fmt.Errorf("invalid ProductVersion '%s': %w", productVersion, err)
	}
	return v, nil
}
