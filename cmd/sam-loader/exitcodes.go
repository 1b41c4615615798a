package main

const (
	exitOK      = 0
	exitFailure = 1
)

// exitCode maps a command error to the process status. Usage errors share the failure status;
// error_kind in the failure line tells them apart.
func exitCode(err error) int {
	if err == nil {
		return exitOK
	}
	return exitFailure
}
