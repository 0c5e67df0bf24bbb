package core

// Process exit codes. Config and validation failures will fail again on
// restart; the others may not.
const (
	ExitCodeSuccess = 0
	ExitCodeError   = 1

	// ExitCodeConfig: the config file or environment did not parse or validate.
	ExitCodeConfig = 2

	// ExitCodeValidation: a startup check failed (directories, disk, ports).
	ExitCodeValidation = 3

	// ExitCodeDatabase: the session database could not be opened or migrated.
	ExitCodeDatabase = 4

	// Signal exits use 128 + signal number.
	ExitCodeSIGINT  = 130
	ExitCodeSIGTERM = 143
)

var exitCodeNames = map[int]string{
	ExitCodeSuccess:    "success",
	ExitCodeError:      "error",
	ExitCodeConfig:     "configuration error",
	ExitCodeValidation: "startup validation failed",
	ExitCodeDatabase:   "session database unavailable",
	ExitCodeSIGINT:     "interrupted (SIGINT)",
	ExitCodeSIGTERM:    "terminated (SIGTERM)",
}

// ExitCodeName describes code for the exit message.
func ExitCodeName(code int) string {
	if name, ok := exitCodeNames[code]; ok {
		return name
	}
	return "unknown"
}
