// Package privacy scrubs endpoints, credentials and installation identifiers
// from text that leaves the process, such as telemetry events and logs.
package privacy

import (
	"crypto/sha256"
	"fmt"
	"net"
	"net/url"
	"regexp"
	"strings"

	"github.com/tphakala/notifyd/internal/logger"
)

var (
	// URLs in free text, including broker and notification service schemes
	urlPattern = regexp.MustCompile(`\b(?:https?|wss?|tcp|ssl|mqtts?|ntfy|gotify|telegram|discord|slack|smtp|pushover|generic)://\S+`)

	// installation ids and trigger ids are UUIDs
	uuidPattern = regexp.MustCompile(`\b[0-9a-fA-F]{8}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{4}-[0-9a-fA-F]{12}\b`)
)

// ScrubMessage removes credentials, anonymizes URLs and hashes UUIDs. The
// result keeps enough structure to group identical failures.
func ScrubMessage(message string) string {
	message = logger.RedactSensitiveData(message)
	message = urlPattern.ReplaceAllStringFunc(message, AnonymizeURL)
	return uuidPattern.ReplaceAllStringFunc(message, func(id string) string {
		return "uuid-" + shortHash(strings.ToLower(id), 4)
	})
}

// AnonymizeURL replaces a URL with a stable hash of its scheme, host class,
// port and path shape. Two URLs pointing at the same kind of endpoint hash
// the same way; hostnames and path contents never appear.
func AnonymizeURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil {
		return "url-hash-" + shortHash(rawURL, 8)
	}

	var parts []string
	if u.Scheme != "" {
		parts = append(parts, u.Scheme)
	}
	if host := u.Hostname(); host != "" {
		parts = append(parts, categorizeHost(host))
	}
	if port := u.Port(); port != "" {
		parts = append(parts, "port-"+port)
	}
	if u.Path != "" && u.Path != "/" {
		parts = append(parts, anonymizePath(u.Path))
	}
	return "url-" + shortHash(strings.Join(parts, ":"), 12)
}

// DisplayURL strips credentials, path and query, keeping scheme, host and
// port for log lines. Values that are not URLs are returned unchanged.
func DisplayURL(rawURL string) string {
	u, err := url.Parse(rawURL)
	if err != nil || u.Host == "" {
		return rawURL
	}
	return u.Scheme + "://" + u.Host
}

func shortHash(s string, n int) string {
	sum := sha256.Sum256([]byte(s))
	return fmt.Sprintf("%x", sum[:n])
}

// categorizeHost keeps the kind of host without the host itself
func categorizeHost(host string) string {
	if host == "localhost" {
		return "localhost"
	}
	if ip := net.ParseIP(host); ip != nil {
		switch {
		case ip.IsLoopback():
			return "localhost"
		case ip.IsPrivate(), ip.IsLinkLocalUnicast():
			return "private-ip"
		default:
			return "public-ip"
		}
	}
	if i := strings.LastIndexByte(host, '.'); i >= 0 && i < len(host)-1 {
		return "domain-" + host[i+1:]
	}
	return "unknown-host"
}

// anonymizePath keeps the number of segments and which ones are numeric
func anonymizePath(path string) string {
	path = strings.Trim(path, "/")
	if path == "" {
		return "root"
	}
	segments := strings.Split(path, "/")
	out := make([]string, 0, len(segments))
	for _, segment := range segments {
		switch {
		case segment == "":
			continue
		case isNumeric(segment):
			out = append(out, "numeric")
		default:
			out = append(out, "seg-"+shortHash(segment, 4))
		}
	}
	return strings.Join(out, "/")
}

func isNumeric(s string) bool {
	for _, r := range s {
		if r < '0' || r > '9' {
			return false
		}
	}
	return s != ""
}
