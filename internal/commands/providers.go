package commands

import "os/exec"

// lookPath resolves a binary name or path the same way the process adapter
// does, so /providers reports exactly what RunWorker would actually find.
func lookPath(bin string) (string, error) {
	return exec.LookPath(bin)
}
