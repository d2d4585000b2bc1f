// Package all registers every built-in backend.
package all

import (
	_ "github.com/hootrhino/gomodbus-backends/backends/rtu"
	_ "github.com/hootrhino/gomodbus-backends/backends/rtuovertcp"
	_ "github.com/hootrhino/gomodbus-backends/backends/tcp"
)
