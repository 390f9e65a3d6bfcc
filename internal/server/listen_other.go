//go:build !linux

package server

// reusePort is a no-op outside Linux; SO_REUSEPORT has no portable
// equivalent, and spec §4.5 only requires it "on Linux".
func reusePort(fd uintptr) error {
	return nil
}
