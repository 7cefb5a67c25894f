//go:build !linux

package iodispatch

// NewDefaultSource falls back to the portable channel-driven source on
// platforms without epoll, per spec.md's instruction to treat the
// readiness mechanism as abstract.
func NewDefaultSource() (ReadinessSource, error) {
	return NewChanSource(0), nil
}
