package storage

import (
	"regexp"
	"strings"
	"time"

	"github.com/segmentio/ksuid"

	"github.com/ehr/emr/internal/platform/apierr"
)

// DefaultModule is used when SaveData is called without a module id.
const DefaultModule = "core"

const (
	metaSuffix     = ".meta.json"
	maxFilenameLen = 100
)

var (
	keyPattern    = regexp.MustCompile(`^[A-Za-z0-9._/-]+$`)
	modulePattern = regexp.MustCompile(`^[A-Za-z0-9._-]+$`)
	unsafeChars   = regexp.MustCompile(`[^A-Za-z0-9._-]+`)
)

// NewKey builds "<module>/<yyyy-MM>/<ksuid>[-<filename>]".
func NewKey(moduleID, filename string, at time.Time) (string, error) {
	if moduleID == "" {
		moduleID = DefaultModule
	}
	if !modulePattern.MatchString(moduleID) || strings.Trim(moduleID, ".") == "" {
		return "", apierr.Invalid("module_id", "storage.moduleId.invalid", "invalid module id %q", moduleID)
	}
	key := moduleID + "/" + at.UTC().Format("2006-01") + "/" + ksuid.New().String()
	if name := SanitizeFilename(filename); name != "" {
		key += "-" + name
	}
	return key, nil
}

// SanitizeFilename keeps the base name of filename with every run of unsafe
// characters replaced by "_".
func SanitizeFilename(filename string) string {
	if i := strings.LastIndexAny(filename, `/\`); i >= 0 {
		filename = filename[i+1:]
	}
	name := strings.Trim(unsafeChars.ReplaceAllString(filename, "_"), "._")
	if len(name) > maxFilenameLen {
		name = name[len(name)-maxFilenameLen:]
	}
	return name
}

// ValidateKey rejects keys that could escape the store or collide with
// metadata sidecars.
func ValidateKey(key string) error {
	switch {
	case key == "":
		return apierr.Invalid("key", "storage.key.empty", "key is required")
	case strings.HasPrefix(key, "/"), strings.Contains(key, ".."), strings.Contains(key, "//"):
		return apierr.Invalid("key", "storage.key.invalid", "invalid key %q", key)
	case !keyPattern.MatchString(key), strings.HasSuffix(key, metaSuffix):
		return apierr.Invalid("key", "storage.key.invalid", "invalid key %q", key)
	}
	return nil
}
