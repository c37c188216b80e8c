// errors/rbac_errors.go
package errors

import "errors"

var ErrPermissionLoadFailed = errors.New("permission load failed")
