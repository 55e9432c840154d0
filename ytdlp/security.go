package ytdlp

import (
	"fmt"
	"strings"

	"github.com/google/shlex"
)

// Flags the service sets itself; extra args must not override them or make
// yt-dlp write or run anything outside the task's work directory.
var reservedFlags = []string{
	"-o", "--output",
	"-P", "--paths",
	"-f", "--format",
	"-a", "--batch-file",
	"--exec", "--exec-before-download",
	"--config-location", "--config-locations",
	"--progress-template",
}

// SplitArgs securely splits an argument string without involving a shell.
func SplitArgs(args string) ([]string, error) {
	split, err := shlex.Split(args)
	if err != nil {
		return nil, fmt.Errorf("invalid argument syntax: %w", err)
	}
	return split, nil
}

// ValidateExtraArgs rejects reserved flags and shell metacharacters.
func ValidateExtraArgs(args []string) error {
	for _, arg := range args {
		name := arg
		if i := strings.Index(arg, "="); i > 0 && strings.HasPrefix(arg, "--") {
			name = arg[:i]
		}
		for _, flag := range reservedFlags {
			if name == flag {
				return fmt.Errorf("flag %s is managed by the service and cannot be overridden", flag)
			}
		}
		if strings.ContainsAny(arg, "|&;`$()<>") {
			return fmt.Errorf("disallowed character found in argument: %s", arg)
		}
	}
	return nil
}

// ParseExtraArgs splits and validates the configured extra arguments.
func ParseExtraArgs(raw string) ([]string, error) {
	args, err := SplitArgs(raw)
	if err != nil {
		return nil, err
	}
	if err := ValidateExtraArgs(args); err != nil {
		return nil, err
	}
	return args, nil
}
