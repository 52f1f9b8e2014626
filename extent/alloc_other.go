//go:build !unix

package extent

import "errors"

func Allocated(path string) (int64, error) {
	return 0, errors.New("allocation accounting is not supported on this platform")
}
