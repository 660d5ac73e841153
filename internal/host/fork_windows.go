//go:build windows

package host

import "context"

// Fork is unsupported on Windows: the clone transport relies on FIFOs.
func (m *Manager) Fork(ctx context.Context, id string) (*Session, error) {
	return nil, ErrForkUnsupported
}
