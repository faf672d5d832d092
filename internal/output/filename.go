package output

import (
	"regexp"
	"strings"
	"time"

	"github.com/granarydata/granary/internal/filecontext"
	"github.com/granarydata/granary/internal/frame"
	"github.com/granarydata/granary/internal/profile"
)

var (
	invalidFilenameChars  = regexp.MustCompile(`[<>:"/\\|?*]`)
	repeatedUnderscores   = regexp.MustCompile(`_+`)
	strftimeFilenameRepl  = strings.NewReplacer(
		"%Y", "2006", "%y", "06", "%m", "01", "%d", "02",
		"%H", "15", "%M", "04", "%S", "05",
	)
	defaultFilenameFormat = "20060102_150405"
)

// Filename renders an output filename from the profile's template,
// substituting {profile_id}, {profile_title}, {timestamp}, {output_id},
// and any context key, then sanitizing when configured. The extension is
// the caller's concern.
func Filename(p *profile.Profile, ctx filecontext.Context, outputID string, now time.Time) string {
	template := p.FileNaming.Template
	if template == "" {
		template = "{profile_id}_{timestamp}"
	}
	tsFormat := defaultFilenameFormat
	if p.FileNaming.TimestampFormat != "" {
		tsFormat = strftimeFilenameRepl.Replace(p.FileNaming.TimestampFormat)
	}

	subs := map[string]string{
		"profile_id":    p.Meta.ProfileID,
		"profile_title": p.Meta.Title,
		"timestamp":     now.Format(tsFormat),
		"output_id":     outputID,
	}
	for key, value := range ctx {
		if _, reserved := subs[key]; !reserved {
			subs[key] = frame.AsString(value)
		}
	}

	name := template
	for key, value := range subs {
		name = strings.ReplaceAll(name, "{"+key+"}", value)
	}

	if p.FileNaming.SanitizeEnabled() {
		name = invalidFilenameChars.ReplaceAllString(name, "_")
		name = repeatedUnderscores.ReplaceAllString(name, "_")
		name = strings.Trim(name, "_")
	}
	return name
}
