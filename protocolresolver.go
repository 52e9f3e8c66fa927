package signalr

// minimumDelayedStartVersion is the first protocol version where clients
// issue an explicit start request after connecting.
var minimumDelayedStartVersion = NewVersion(1, 4)

// transportListVersion is the first protocol version where negotiate
// advertises the transport list instead of the TryWebSockets flag.
var transportListVersion = NewVersion(1, 6)

// ProtocolResolver clamps the protocol version declared by a client against
// the bounds supported by the server. It has no state besides the bounds
// and is safe for concurrent use.
type ProtocolResolver struct {
	min Version
	max Version
}

// NewProtocolResolver creates a ProtocolResolver with the default
// supported range 1.2 to 1.6.
func NewProtocolResolver() *ProtocolResolver {
	return NewProtocolResolverBetween(NewVersion(1, 2), NewVersion(1, 6))
}

// NewProtocolResolverBetween creates a ProtocolResolver for the inclusive range [min, max].
func NewProtocolResolverBetween(min, max Version) *ProtocolResolver {
	return &ProtocolResolver{min: min, max: max}
}

// Resolve parses clientProtocol and clamps it into the supported range.
// An empty or unparsable value resolves to the minimum supported version.
func (p *ProtocolResolver) Resolve(clientProtocol string) Version {
	v, err := ParseVersion(clientProtocol)
	if err != nil {
		return p.min
	}
	if v.Compare(p.max) > 0 {
		return p.max
	}
	if v.Compare(p.min) < 0 {
		return p.min
	}
	return v
}

// SupportsDelayedStart reports whether the resolved client protocol uses the
// explicit start request (protocol 1.4 and newer).
func (p *ProtocolResolver) SupportsDelayedStart(clientProtocol string) bool {
	return p.IsClientProtocolEqualOrNewer(clientProtocol, minimumDelayedStartVersion)
}

// IsClientProtocolEqualOrNewer reports whether the resolved client protocol
// is equal to or newer than version.
func (p *ProtocolResolver) IsClientProtocolEqualOrNewer(clientProtocol string, version Version) bool {
	return p.Resolve(clientProtocol).Compare(version) >= 0
}
