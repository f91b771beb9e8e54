//go:build !linux

package reactor

// OpenSelector returns an error for unsupported platforms.
func OpenSelector() (Selector, error) {
	return nil, ErrUnsupportedPlatform
}
