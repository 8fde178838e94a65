// Package httpx holds the small, dependency-free primitives shared by the
// async client, the embedded server, and the module framework: the
// method enumeration, the binary-encoding enumeration, and endpoint URL
// parsing.
package httpx

import "fmt"

// Method is a closed enumeration of the HTTP verbs the control plane
// understands. Anything outside this set is rejected at the boundary
// rather than threaded through as a bare string.
type Method int

const (
	GET Method = iota
	POST
	PUT
	DELETE
)

// allowedMethods mirrors the canonical ordering used for error messages
// and round-trip tests.
var allowedMethods = []string{"GET", "POST", "PUT", "DELETE"}

// String renders the canonical wire representation of the method.
func (m Method) String() string {
	s, err := Method2String(m)
	if err != nil {
		return "UNKNOWN"
	}
	return s
}

// Method2String returns the canonical string for m.
func Method2String(m Method) (string, error) {
	if int(m) < 0 || int(m) >= len(allowedMethods) {
		return "", fmt.Errorf("invalid argument: method %d is not one of %v", int(m), allowedMethods)
	}
	return allowedMethods[m], nil
}

// String2Method parses the canonical string into a Method.
func String2Method(str string) (Method, error) {
	for i, name := range allowedMethods {
		if name == str {
			return Method(i), nil
		}
	}
	return 0, fmt.Errorf("invalid argument: '%s' is not one of %v", str, allowedMethods)
}
