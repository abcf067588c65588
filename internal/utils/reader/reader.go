package reader

import (
	"bufio"
	"fmt"
)

// ReadLine - reads a whole line regardless of the bufio buffer size. The line ending is not included. The
// data read before an error is returned together with the error.
func ReadLine(r *bufio.Reader) ([]byte, error) {
	var res []byte
	for {
		line, isPrefix, err := r.ReadLine()
		if err != nil {
			return res, fmt.Errorf("unable to read line: %w", err)
		}
		res = append(res, line...)
		if !isPrefix {
			return res, nil
		}
	}
}
