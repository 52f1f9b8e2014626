//go:build unix

package extent

import "golang.org/x/sys/unix"

// Allocated reports the bytes of backing storage used by path. Holes left by
// the reconstruction do not count.
func Allocated(path string) (int64, error) {
	var st unix.Stat_t
	if err := unix.Stat(path, &st); err != nil {
		return 0, err
	}
	return int64(st.Blocks) * 512, nil
}
