// Package filecontext resolves per-file context values through the 4-level
// priority chain: static defaults, regex patterns over the file path,
// JSONPath patterns over parsed content, and allowlisted user overrides.
// Resolved contexts stay separate from extracted frames; merging them is a
// deliberate output-builder step.
package filecontext

import (
	"errors"
	"fmt"
	"log/slog"
	"path/filepath"
	"regexp"
	"strings"
	"time"

	"github.com/granarydata/granary/internal/jsonpath"
	"github.com/granarydata/granary/internal/profile"
)

// ErrSkipFile signals that the current file should be dropped because a
// required pattern with on_fail=skip_file did not match. It is control
// flow, not a failure; the executor converts it into skipping the file.
var ErrSkipFile = errors.New("skip file")

// RequiredPatternError reports a required pattern that failed to match
// under on_fail=error.
type RequiredPatternError struct {
	Field string
	Where string
}

func (e *RequiredPatternError) Error() string {
	return fmt.Sprintf("REQUIRED_PATTERN_MISSING: required pattern %q not matched in %s", e.Field, e.Where)
}

// Context is the resolved mapping from field name to scalar value.
type Context map[string]any

// Clone returns a shallow copy.
func (c Context) Clone() Context {
	out := make(Context, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// Extractor resolves context values for one file at a time.
type Extractor struct {
	logger *slog.Logger
}

// NewExtractor returns a context extractor.
func NewExtractor() *Extractor {
	return &Extractor{logger: slog.Default().With("component", "context-extractor")}
}

// Extract resolves the context for one file. Later levels override
// earlier ones: defaults < regex < content patterns < user overrides.
// Overrides outside the profile's allowlist are discarded with a warning.
// Returns the resolved context plus the warnings accumulated along the
// way; ErrSkipFile propagates when a skip_file pattern fires.
func (e *Extractor) Extract(p *profile.Profile, filePath string, content any, overrides map[string]any) (Context, []string, error) {
	ctx := Context{}
	var warnings []string

	cd := p.ContextDefault
	if cd == nil {
		ctx, warnings = applyOverrides(ctx, overrides, nil, warnings, e.logger)
		return ctx, warnings, nil
	}

	for k, v := range cd.Defaults {
		ctx[k] = v
	}

	for _, rp := range cd.RegexPatterns {
		value, matched, err := e.applyRegex(rp, filePath)
		if err != nil {
			return nil, warnings, err
		}
		if matched {
			ctx[rp.Field] = value
			continue
		}
		if rp.Required {
			switch rp.OnFail {
			case "error":
				return nil, warnings, &RequiredPatternError{Field: rp.Field, Where: scopeValue(rp.Scope, filePath)}
			case "skip_file":
				return nil, warnings, fmt.Errorf("required pattern %q: %w", rp.Field, ErrSkipFile)
			default:
				msg := fmt.Sprintf("required pattern %q not matched in %s", rp.Field, scopeValue(rp.Scope, filePath))
				warnings = append(warnings, msg)
				e.logger.Warn("required pattern missed", "field", rp.Field, "file", filePath)
			}
		}
	}

	if content != nil {
		for _, cp := range cd.ContentPatterns {
			value, found := jsonpath.Get(content, normalizePath(cp.Path))
			switch {
			case found && value != nil:
				ctx[cp.Field] = value
			case cp.Default != nil:
				ctx[cp.Field] = cp.Default
			case cp.Required:
				switch cp.OnFail {
				case "error":
					return nil, warnings, &RequiredPatternError{Field: cp.Field, Where: cp.Path}
				case "skip_file":
					return nil, warnings, fmt.Errorf("required content pattern %q: %w", cp.Field, ErrSkipFile)
				default:
					msg := fmt.Sprintf("required content pattern %q not found at %s", cp.Field, cp.Path)
					warnings = append(warnings, msg)
					e.logger.Warn("required content pattern missed", "field", cp.Field, "file", filePath)
				}
			}
		}
	}

	ctx, warnings = applyOverrides(ctx, overrides, cd.AllowUserOverride, warnings, e.logger)
	return ctx, warnings, nil
}

// applyOverrides applies user overrides for allowlisted fields only. An
// empty allowlist accepts every override.
func applyOverrides(ctx Context, overrides map[string]any, allowed []string, warnings []string, logger *slog.Logger) (Context, []string) {
	if len(overrides) == 0 {
		return ctx, warnings
	}
	allowedSet := map[string]bool{}
	for _, a := range allowed {
		allowedSet[a] = true
	}
	for key, value := range overrides {
		if len(allowed) > 0 && !allowedSet[key] {
			warnings = append(warnings, fmt.Sprintf("user override for %q not allowed; ignored", key))
			logger.Warn("user override rejected", "field", key)
			continue
		}
		ctx[key] = value
	}
	return ctx, warnings
}

// applyRegex applies one regex pattern; the captured group named after the
// pattern's field becomes the value.
func (e *Extractor) applyRegex(rp profile.RegexPattern, filePath string) (any, bool, error) {
	re, err := regexp.Compile(rp.Pattern)
	if err != nil {
		// Patterns are validated at profile load; a failure here means the
		// profile bypassed the loader.
		return nil, false, fmt.Errorf("compile pattern for %q: %w", rp.Field, err)
	}

	subject := scopeValue(rp.Scope, filePath)
	match := re.FindStringSubmatch(subject)
	if match == nil {
		return nil, false, nil
	}
	for i, name := range re.SubexpNames() {
		if name == rp.Field && i < len(match) {
			return applyTransform(match[i], rp.Transform, rp.TransformArgs), true, nil
		}
	}
	return nil, false, nil
}

func scopeValue(scope, filePath string) string {
	switch scope {
	case "path":
		return filepath.Dir(filePath)
	case "full_path":
		return filePath
	default:
		return filepath.Base(filePath)
	}
}

func normalizePath(path string) string {
	if !strings.HasPrefix(path, "$") {
		return "$." + path
	}
	return path
}

// applyTransform runs the optional built-in transform on a captured value.
// A parse failure leaves the raw value in place.
func applyTransform(value, transform string, args map[string]any) any {
	switch transform {
	case "parse_date":
		format := "%Y%m%d"
		if args != nil {
			if f, ok := args["format"].(string); ok && f != "" {
				format = f
			}
		}
		if t, err := time.Parse(goLayout(format), value); err == nil {
			return t
		}
		return value
	case "uppercase":
		return strings.ToUpper(value)
	case "lowercase":
		return strings.ToLower(value)
	case "strip":
		return strings.TrimSpace(value)
	default:
		return value
	}
}

// goLayout converts the strftime-style directives profiles carry into a Go
// time layout.
var strftimeRepl = strings.NewReplacer(
	"%Y", "2006",
	"%y", "06",
	"%m", "01",
	"%d", "02",
	"%H", "15",
	"%M", "04",
	"%S", "05",
)

func goLayout(format string) string {
	return strftimeRepl.Replace(format)
}
