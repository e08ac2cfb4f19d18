package cluster

import (
	"strings"

	"golang.org/x/mod/semver"

	"github.com/alvarosanz/loadit/internal/loaditerr"
)

// ProtocolVersion is this central's wire-protocol version, checked against
// the version a client sends; clients also send it as their own version.
const ProtocolVersion = "v1.0.0"

// CheckClientVersion rejects a client whose advertised protocol version is
// not compatible with ProtocolVersion. An empty clientVersion is allowed
// (older clients, or ones that never set it); a malformed one is rejected
// outright rather than silently accepted.
func CheckClientVersion(clientVersion string) error {
	if clientVersion == "" {
		return nil
	}

	server, client := normalizeVersion(ProtocolVersion), normalizeVersion(clientVersion)
	if !semver.IsValid(server) || !semver.IsValid(client) {
		return loaditerr.Newf(loaditerr.KindProtocol, "invalid client version %q", clientVersion)
	}
	if semver.Major(server) != semver.Major(client) {
		return loaditerr.Newf(loaditerr.KindProtocol, "incompatible client version %q, central runs %q", clientVersion, ProtocolVersion)
	}
	return nil
}

func normalizeVersion(v string) string {
	if !strings.HasPrefix(v, "v") {
		v = "v" + v
	}
	return v
}
