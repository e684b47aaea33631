//go:build !linux

package tamper

func newWatcher(Options) (Watcher, error) {
	return nil, ErrUnsupported
}
