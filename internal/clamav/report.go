package clamav

import (
	"errors"
	"regexp"
	"strings"
)

// ErrNoThreatsInOutput means clamscan exited with the infected status but
// named no signature.
var ErrNoThreatsInOutput = errors.New("clamscan reported an infection without naming it")

var databaseDatePattern = regexp.MustCompile(`ClamAV \d+\.\d+\.\d+/\d+/([A-Za-z]{3} [A-Za-z]{3}\s+\d+\s+\d+:\d+:\d+ \d{4})`)

// parseReport turns clamscan output into a Report.
// Exit code 0 is clean, 1 is infected, anything else is a scanner failure
// and must be handled by the caller.
func parseReport(output []byte, exitCode int, engine string) (Report, error) {
	r := Report{
		Clean:        exitCode == 0,
		Engine:       engine,
		DatabaseDate: databaseDate(engine),
	}
	if r.Clean {
		return r, nil
	}

	r.Threats = threats(string(output))
	if len(r.Threats) == 0 {
		return r, ErrNoThreatsInOutput
	}
	return r, nil
}

// threats collects signature names from "<path>: <name> FOUND" lines.
func threats(output string) []string {
	var found []string
	for _, line := range strings.Split(output, "\n") {
		line = strings.TrimSpace(line)
		if !strings.HasSuffix(line, " FOUND") {
			continue
		}
		i := strings.LastIndex(line, ": ")
		if i < 0 {
			continue
		}
		name := strings.TrimSuffix(line[i+2:], " FOUND")
		if name = strings.TrimSpace(name); name != "" {
			found = append(found, name)
		}
	}
	return found
}

// databaseDate extracts the signature database date from a version string
// such as "ClamAV 1.5.1/27805/Mon Oct 27 09:50:30 2025".
func databaseDate(engine string) string {
	if m := databaseDatePattern.FindStringSubmatch(engine); len(m) == 2 {
		return m[1]
	}
	return "unknown"
}
