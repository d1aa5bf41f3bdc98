package shared

// PayrollTickLockKey is the redis key guarding the scheduler control loop.
// Only one tick may hold it at a time.
const PayrollTickLockKey = "payroll:cycle:tick:lock"
