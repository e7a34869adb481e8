package ingress

import (
	"fmt"

	"github.com/Masterminds/semver/v3"
)

// VersionGate enforces the protocol-version handshake: if the first
// frame on a connection declares a client version (tag 9001), that
// version must satisfy the configured constraint range or the
// connection is rejected. A first frame without the tag is not checked.
type VersionGate struct {
	constraints *semver.Constraints
}

// NewVersionGate parses a constraint range like ">=1.0.0, <2.0.0".
func NewVersionGate(rangeExpr string) (*VersionGate, error) {
	c, err := semver.NewConstraint(rangeExpr)
	if err != nil {
		return nil, fmt.Errorf("parse protocol version range %q: %w", rangeExpr, err)
	}
	return &VersionGate{constraints: c}, nil
}

// Accepts reports whether clientVersion satisfies the configured range.
func (g *VersionGate) Accepts(clientVersion string) bool {
	v, err := semver.NewVersion(clientVersion)
	if err != nil {
		return false
	}
	return g.constraints.Check(v)
}
