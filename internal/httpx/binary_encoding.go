package httpx

import "fmt"

// BinaryEncodingMode selects how binary-column cell values travel over the
// wire in the JSON-row ingest path (C10) and in query results.
type BinaryEncodingMode int

const (
	// HEX is the default: the hexadecimal representation of the bytes,
	// stored as a JSON string.
	HEX BinaryEncodingMode = iota
	// B64 encodes the bytes with standard Base64, padded.
	B64
	// ARRAY represents the bytes as a JSON array of 0..255 integers.
	ARRAY
)

var allowedBinaryEncodingModes = []string{"hex", "b64", "array"}

// ParseBinaryEncoding validates and parses the wire name of an encoding mode.
func ParseBinaryEncoding(str string) (BinaryEncodingMode, error) {
	for i, name := range allowedBinaryEncodingModes {
		if name == str {
			return BinaryEncodingMode(i), nil
		}
	}
	return 0, fmt.Errorf("invalid argument: '%s' is not one of %v", str, allowedBinaryEncodingModes)
}

// BinaryEncoding2String renders the wire name of mode.
func BinaryEncoding2String(mode BinaryEncodingMode) (string, error) {
	if int(mode) < 0 || int(mode) >= len(allowedBinaryEncodingModes) {
		return "", fmt.Errorf("invalid argument: binary encoding mode %d is not one of %v", int(mode), allowedBinaryEncodingModes)
	}
	return allowedBinaryEncodingModes[mode], nil
}
