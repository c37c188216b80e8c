// rbac/ui_permissions.go
package rbac

import (
	"go.uber.org/zap"

	logger "github.com/aria7-op/adcg-engine/logging"
)

// uiPermissionTable maps UI-level tokens to (resource, action) pairs so
// presentation code never hard-codes raw resource/action strings.
var uiPermissionTable = map[string][2]string{
	"tasks:view":      {"task", "read"},
	"tasks:create":    {"task", "create"},
	"tasks:edit":      {"task", "update"},
	"tasks:delete":    {"task", "delete"},
	"users:view":      {"user", "read"},
	"users:edit":      {"user", "update"},
	"users:delete":    {"user", "delete"},
	"invoices:view":   {"invoice", "read"},
	"invoices:create": {"invoice", "create"},
	"invoices:edit":   {"invoice", "update"},
	"payslips:view":   {"payslip", "read"},
	"payslips:create": {"payslip", "create"},
	"leads:view":      {"lead", "read"},
	"leads:edit":      {"lead", "update"},
	"reports:view":    {"report", "read"},
	"settings:edit":   {"settings", "update"},
}

// CheckUIPermission resolves a UI token through the fixed table and
// delegates to CheckPermission. Unknown tokens deny.
func (e *Engine) CheckUIPermission(token string) bool {
	pair, ok := uiPermissionTable[token]
	if !ok {
		logger.Warn("Unknown UI permission token", zap.String("token", token))
		return false
	}
	return e.CheckPermission(pair[0], pair[1], nil)
}
