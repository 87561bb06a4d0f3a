package task

import (
	"os/exec"
	"strings"
)

// BuildCommand constructs the child command for c.Command. Plain commands are
// executed directly; anything with shell metacharacters, or an explicit
// "sh -c ..." prefix, runs under /bin/sh.
func (c RunConfig) BuildCommand() *exec.Cmd {
	cmd := c.command()
	cmd.Dir = c.WorkDir
	cmd.Env = c.Env
	return cmd
}

func (c RunConfig) command() *exec.Cmd {
	cmdStr := strings.TrimSpace(c.Command)
	if cmdStr == "" {
		// #nosec G204
		return exec.Command("/bin/true")
	}
	if script, ok := explicitShell(cmdStr); ok {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", script)
	}
	if strings.ContainsAny(cmdStr, "|&;<>*?`$\"'(){}[]~=") {
		// #nosec G204
		return exec.Command("/bin/sh", "-c", cmdStr)
	}
	parts := strings.Fields(cmdStr)
	// #nosec G204
	return exec.Command(parts[0], parts[1:]...)
}

// explicitShell returns the script of "sh -c <script>" style commands with one
// pair of enclosing quotes removed.
func explicitShell(cmdStr string) (string, bool) {
	for _, p := range []string{"sh -c ", "/bin/sh -c ", "/usr/bin/sh -c "} {
		after, ok := strings.CutPrefix(cmdStr, p)
		if !ok {
			continue
		}
		if n := len(after); n >= 2 {
			if (after[0] == '\'' && after[n-1] == '\'') || (after[0] == '"' && after[n-1] == '"') {
				after = after[1 : n-1]
			}
		}
		return after, true
	}
	return "", false
}
