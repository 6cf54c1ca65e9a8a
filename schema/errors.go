package schema

import (
	"errors"
)

var (
	ErrNotExist     = errors.New("not_exist_record")
)
