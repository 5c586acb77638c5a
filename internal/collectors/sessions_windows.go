//go:build windows

package collectors

// NewSessionSource returns the session table reader for this platform.
func NewSessionSource() SessionSource {
	return NewQuserSource()
}

// NewSecuritySource returns the Security log reader for this platform.
func NewSecuritySource() SecurityEventSource {
	return NewWevtutilSource()
}
