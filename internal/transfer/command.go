package transfer

import (
	"fmt"
	"strings"
)

// placeholder substituted for the credential file argument in logs.
const redacted = "--password-file=***"

// buildArgs assembles the argument vector in the fixed order the
// remote tool expects: base flags, port override, credential file,
// bandwidth/exclude/include, then source and destination.
func (c *Client) buildArgs(secretFile string, extra []string, src, dst string) []string {
	var args []string

	if c.cfg.Flags != "" {
		args = append(args, strings.Fields(c.cfg.Flags)...)
	}
	if c.cfg.Compress {
		args = append(args, "--compress")
	}
	if c.cfg.DryRun {
		args = append(args, "--dry-run")
	}
	if c.cfg.Port > 0 && c.cfg.Port != defaultPort {
		args = append(args, fmt.Sprintf("--port=%d", c.cfg.Port))
	}
	if secretFile != "" {
		args = append(args, "--password-file="+secretFile)
	}
	if c.cfg.BWLimitKBps > 0 {
		args = append(args, fmt.Sprintf("--bwlimit=%d", c.cfg.BWLimitKBps))
	}
	if c.cfg.ExcludeFrom != "" {
		args = append(args, "--exclude-from="+toProtocolPath(c.cfg.ExcludeFrom))
	}
	if c.cfg.IncludeFrom != "" {
		args = append(args, "--include-from="+toProtocolPath(c.cfg.IncludeFrom))
	}
	args = append(args, extra...)
	args = append(args, src, dst)

	return args
}

// remoteURL builds the daemon-style remote address
// <protocol>://<user>@<host>:<port>/<module>/<relative-path>.
func (c *Client) remoteURL(subPath string) string {
	var b strings.Builder
	b.WriteString(c.cfg.Protocol)
	b.WriteString("://")
	if c.cfg.User != "" {
		b.WriteString(c.cfg.User)
		b.WriteString("@")
	}
	b.WriteString(c.cfg.Host)
	b.WriteString(fmt.Sprintf(":%d", c.port()))
	b.WriteString("/")
	b.WriteString(c.cfg.Module)

	rel := joinRemotePath(c.cfg.BasePath, subPath)
	if rel != "" {
		b.WriteString("/")
		b.WriteString(rel)
	}
	return b.String()
}

func (c *Client) port() int {
	if c.cfg.Port > 0 {
		return c.cfg.Port
	}
	return defaultPort
}

// joinRemotePath joins a configured base path with a caller-supplied
// sub-path, trimming duplicate separators so the same logical path is
// never assembled twice.
func joinRemotePath(base, sub string) string {
	base = strings.Trim(toProtocolPath(base), "/")
	sub = strings.Trim(toProtocolPath(sub), "/")

	switch {
	case base == "":
		return sub
	case sub == "":
		return base
	case sub == base || strings.HasPrefix(sub, base+"/"):
		// Caller already included the base prefix.
		return sub
	default:
		return base + "/" + sub
	}
}

// toProtocolPath normalizes a native path to the slash-form the
// transfer tool expects. Windows drive prefixes become /cygdrive/<d>/
// paths, matching the tool's convention.
func toProtocolPath(p string) string {
	p = strings.ReplaceAll(p, "\\", "/")
	if len(p) >= 2 && p[1] == ':' &&
		(p[0] >= 'a' && p[0] <= 'z' || p[0] >= 'A' && p[0] <= 'Z') {
		drive := strings.ToLower(string(p[0]))
		p = "/cygdrive/" + drive + p[2:]
	}
	for strings.Contains(p, "//") {
		p = strings.ReplaceAll(p, "//", "/")
	}
	return p
}

// redactArgs returns a copy of the argument vector safe for logging:
// the credential file argument is substituted with a placeholder.
func redactArgs(args []string) []string {
	out := make([]string, len(args))
	for i, a := range args {
		if strings.HasPrefix(a, "--password-file=") {
			out[i] = redacted
		} else {
			out[i] = a
		}
	}
	return out
}
