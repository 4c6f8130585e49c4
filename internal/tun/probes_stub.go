//go:build !linux

package tun

// The netlink probes only exist on Linux; everything else already fails the
// platform gate before reaching the doctor.
func platformChecks() []CheckItem {
	return nil
}
