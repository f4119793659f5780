package handshake

const (
	alertContentType      = 0x15
	alertLevelFatal       = 0x02
	alertHandshakeFailure = 0x28
)

// Alert builds the 7-byte fatal handshake_failure TLS alert record this
// proxy emits on every unroutable or malformed ClientHello:
// 0x15 | version(2) | 0x00 0x02 | level=0x02 | description=0x28.
// version is echoed from the ClientHello's legacy_version field so a
// client sees an alert in the TLS version it proposed.
func Alert(version [2]byte) []byte {
	return []byte{
		alertContentType,
		version[0], version[1],
		0x00, 0x02,
		alertLevelFatal,
		alertHandshakeFailure,
	}
}
