package shared

// Payroll cycle permissions.
const (
	PermPayrollCycleView    = "payroll.cycle.view"
	PermPayrollCycleCreate  = "payroll.cycle.create"
	PermPayrollCycleEdit    = "payroll.cycle.edit"
	PermPayrollCycleDelete  = "payroll.cycle.delete"
	PermPayrollCycleProcess = "payroll.cycle.process"
)

// PayrollScopes lists all permissions related to payroll cycles.
func PayrollScopes() []string {
	return []string{
		PermPayrollCycleView,
		PermPayrollCycleCreate,
		PermPayrollCycleEdit,
		PermPayrollCycleDelete,
		PermPayrollCycleProcess,
	}
}
