package backends

import (
	"fmt"
	"regexp"
	"strings"
)

var hostnameLabelRE = regexp.MustCompile(`^[a-zA-Z0-9-]+$`)

// validateHostname checks basic DNS label constraints on a configured
// backend host before it is handed to the resolver. Literal IP addresses
// are accepted by the caller before this runs; only names reach here.
func validateHostname(host string) error {
	host = strings.TrimSpace(host)
	if host == "" {
		return fmt.Errorf("hostname is empty")
	}
	if len(host) > 253 {
		return fmt.Errorf("hostname too long")
	}
	if strings.HasPrefix(host, ".") || strings.HasSuffix(host, ".") {
		return fmt.Errorf("hostname must not start or end with a dot")
	}
	if strings.Contains(host, "..") {
		return fmt.Errorf("hostname has empty label")
	}

	for _, label := range strings.Split(host, ".") {
		if len(label) == 0 {
			return fmt.Errorf("hostname has empty label")
		}
		if len(label) > 63 {
			return fmt.Errorf("label %q too long", label)
		}
		if !hostnameLabelRE.MatchString(label) {
			return fmt.Errorf("label %q contains invalid characters", label)
		}
		if strings.HasPrefix(label, "-") || strings.HasSuffix(label, "-") {
			return fmt.Errorf("label %q must not start or end with a hyphen", label)
		}
	}
	return nil
}
