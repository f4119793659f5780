// Package handshake validates a single TLS record carrying a ClientHello
// and extracts the SNI host name, without interpreting anything else in
// the handshake.
package handshake

import (
	"encoding/binary"
	"errors"
)

// recordHeaderLen is the fixed span validated before any variable-length
// field is consulted: content_type(1) | legacy_version(2) | record_len(2) |
// handshake_type(1) | handshake_len(3) | client_version(2) | random(32).
const recordHeaderLen = 43

const (
	contentTypeHandshake  = 0x16
	handshakeTypeClientHi = 0x01
	extServerName         = 0x0000
	serverNameTypeHost    = 0x00
)

// ErrMalformed is returned for any input that fails the fixed-offset
// validation of the TLS record and handshake layers. It carries no detail
// beyond "malformed": the caller's only correct response is to emit an
// alert and close, never to branch on the specific cause.
var ErrMalformed = errors.New("handshake: malformed ClientHello")

// ClientHello is the result of a successful parse: the data the rest of
// the proxy needs, nothing more.
type ClientHello struct {
	// LegacyVersion is the two version bytes from the record header,
	// echoed verbatim by the alert emitter on failure paths that occur
	// after this record has been accepted.
	LegacyVersion [2]byte

	// ServerName is the SNI host name, or "" if the extension was absent.
	// Absence is not itself a parse failure.
	ServerName string
}

// Parse validates b as a single TLS record containing a ClientHello and
// extracts its SNI extension, if present. b must be the entire record as
// read in one chunk; Parse never buffers across calls.
func Parse(b []byte) (ClientHello, error) {
	var hello ClientHello

	l := len(b)
	if l <= recordHeaderLen {
		return hello, ErrMalformed
	}

	contentType := b[0]
	legacyVersion := [2]byte{b[1], b[2]}
	recordLen := int(binary.BigEndian.Uint16(b[3:5]))
	handshakeType := b[5]
	handshakeLen := int(b[6])<<16 | int(b[7])<<8 | int(b[8])

	if contentType != contentTypeHandshake {
		return hello, ErrMalformed
	}
	if legacyVersion != [2]byte{0x03, 0x01} {
		return hello, ErrMalformed
	}
	if handshakeType != handshakeTypeClientHi {
		return hello, ErrMalformed
	}

	if recordLen != l-5 {
		return hello, ErrMalformed
	}
	if handshakeLen != l-5-4 {
		return hello, ErrMalformed
	}

	hello.LegacyVersion = legacyVersion

	// client_version(2) | random(32) already accounted for by
	// recordHeaderLen; the cursor resumes at the session_id vector.
	rest := b[recordHeaderLen:]

	sessionID, rest, err := takeVector(rest, 1)
	if err != nil {
		return hello, err
	}
	_ = sessionID

	cipherSuites, rest, err := takeVector(rest, 2)
	if err != nil {
		return hello, err
	}
	_ = cipherSuites

	compressionMethods, rest, err := takeVector(rest, 1)
	if err != nil {
		return hello, err
	}
	_ = compressionMethods

	extensions, rest, err := takeVector(rest, 2)
	if err != nil {
		return hello, err
	}
	if len(rest) != 0 {
		return hello, ErrMalformed
	}

	serverName, err := parseExtensions(extensions)
	if err != nil {
		return hello, err
	}
	hello.ServerName = serverName

	return hello, nil
}

// takeVector reads a length-prefixed vector (lenBytes of 1 or 2 bytes,
// big-endian) from the front of b, returning the vector body and the
// remaining bytes after it. The declared length must not exceed the
// bytes actually remaining.
func takeVector(b []byte, lenBytes int) (body, rest []byte, err error) {
	if len(b) < lenBytes {
		return nil, nil, ErrMalformed
	}
	var n int
	switch lenBytes {
	case 1:
		n = int(b[0])
	case 2:
		n = int(binary.BigEndian.Uint16(b[0:2]))
	default:
		return nil, nil, ErrMalformed
	}
	b = b[lenBytes:]
	if n > len(b) {
		return nil, nil, ErrMalformed
	}
	return b[:n], b[n:], nil
}

// parseExtensions walks the extensions block, validating the fixed shape
// of every entry and extracting the SNI host name if a server_name
// extension is present. An absent server_name extension yields "", nil.
func parseExtensions(b []byte) (string, error) {
	serverName := ""
	for len(b) > 0 {
		if len(b) < 4 {
			return "", ErrMalformed
		}
		extType := binary.BigEndian.Uint16(b[0:2])
		extLen := int(binary.BigEndian.Uint16(b[2:4]))
		b = b[4:]
		if extLen > len(b) {
			return "", ErrMalformed
		}
		body := b[:extLen]
		b = b[extLen:]

		if extType == extServerName {
			name, err := parseServerNameExtension(body)
			if err != nil {
				return "", err
			}
			serverName = name
		}
	}
	return serverName, nil
}

// parseServerNameExtension validates and extracts the host name from a
// server_name extension body per the fixed-offset layout: a 2-byte
// server_name_list length, then a single entry of
// type(1) | name_len(2) | name[name_len] that must fill the body exactly.
func parseServerNameExtension(body []byte) (string, error) {
	if len(body) < 5 {
		return "", ErrMalformed
	}
	listLen := int(binary.BigEndian.Uint16(body[0:2]))
	if listLen != len(body)-2 {
		return "", ErrMalformed
	}
	nameType := body[2]
	if nameType != serverNameTypeHost {
		return "", ErrMalformed
	}
	nameLen := int(binary.BigEndian.Uint16(body[3:5]))
	if nameLen != len(body)-5 {
		return "", ErrMalformed
	}
	return string(body[5 : 5+nameLen]), nil
}
