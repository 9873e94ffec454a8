//go:build !linux

package pms5003

import (
	"errors"
	"os"
)

const syscallNoCtty = 0

func configurePort(*os.File) error {
	return errors.New("serial configuration is only supported on linux")
}
