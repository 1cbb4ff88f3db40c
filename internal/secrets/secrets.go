// Package secrets resolves credential settings that reference the
// environment or a mounted secret file instead of holding the value.
//
// A setting is resolved as follows:
//   - "file:/run/secrets/backend_token" reads the file, trailing newlines trimmed
//   - "${TOKEN}" or "${TOKEN:-fallback}" expands environment variables
//   - anything else is used literally
package secrets

import (
	"os"
	"path/filepath"
	"strings"

	"github.com/tphakala/notifyd/internal/errors"
	"github.com/tphakala/notifyd/internal/logger"
)

const (
	componentName = "secrets"

	// FilePrefix marks a setting holding the path of a secret file
	FilePrefix = "file:"

	// maxSecretFileSize bounds secret file reads, tokens and passwords are small
	maxSecretFileSize = 64 * 1024
)

// Resolve returns the secret value referenced by value. name identifies the
// setting in errors and logs; the secret itself never appears in either.
func Resolve(name, value string) (string, error) {
	if path, ok := strings.CutPrefix(value, FilePrefix); ok {
		return ReadFile(name, path)
	}
	return ExpandString(name, value)
}

// ExpandString expands ${VAR} and ${VAR:-fallback} references. A referenced
// variable that is unset and has no fallback is an error.
func ExpandString(name, s string) (string, error) {
	if !strings.Contains(s, "$") {
		return s, nil
	}

	var missing []string
	expanded := os.Expand(s, func(key string) string {
		varName, fallback, hasFallback := strings.Cut(key, ":-")
		if v := os.Getenv(varName); v != "" {
			return v
		}
		if hasFallback {
			return fallback
		}
		missing = append(missing, varName)
		return ""
	})

	if len(missing) > 0 {
		return "", errors.Newf("%s references unset environment variable(s): %s", name, strings.Join(missing, ", ")).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("setting", name).
			Build()
	}
	return expanded, nil
}

// ReadFile reads a Docker or Kubernetes style secret file. Files readable by
// group or others are accepted with a warning.
func ReadFile(name, path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return "", configError(name, "secret file path is empty")
	}
	clean := filepath.Clean(path)

	info, err := os.Stat(clean)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("setting", name).
			Context("path", clean).
			Build()
	}
	switch {
	case !info.Mode().IsRegular():
		return "", configError(name, "secret path is not a regular file: "+clean)
	case info.Size() > maxSecretFileSize:
		return "", configError(name, "secret file is too large: "+clean)
	}
	if perm := info.Mode().Perm(); perm&0o077 != 0 {
		logger.Global().Module(componentName).Warn("secret file is readable by group or others",
			logger.String("setting", name),
			logger.String("path", clean),
			logger.String("mode", perm.String()))
	}

	data, err := os.ReadFile(clean)
	if err != nil {
		return "", errors.New(err).
			Component(componentName).
			Category(errors.CategoryConfiguration).
			Context("setting", name).
			Build()
	}
	secret := strings.TrimRight(string(data), "\r\n")
	if secret == "" {
		return "", configError(name, "secret file is empty: "+clean)
	}
	return secret, nil
}

func configError(name, msg string) error {
	return errors.Newf("%s: %s", name, msg).
		Component(componentName).
		Category(errors.CategoryConfiguration).
		Context("setting", name).
		Build()
}
