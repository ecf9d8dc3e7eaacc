package config

import (
	"github.com/yeswehack/ywh2bugtracker/internal/syncerr"
)

// Validate checks the whole document and returns every problem found, so a
// user can fix a config file in one pass. An empty slice means the document
// is usable.
func (r *Root) Validate() []error {
	var errs []error

	if len(r.Trackers) == 0 {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration, "no trackers configured"))
	}
	for name, cfg := range r.Trackers {
		errs = append(errs, cfg.Validate(name)...)
	}

	if len(r.Platforms) == 0 {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration, "no yeswehack platform configured"))
	}
	for name, platform := range r.Platforms {
		errs = append(errs, r.validatePlatform(name, platform)...)
	}
	return errs
}

func (r *Root) validatePlatform(name string, p *PlatformConfig) []error {
	var errs []error

	if p.APIURL == "" {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"yeswehack.%s: missing api_url", name))
	}
	if p.AppsHeader() == "" {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"yeswehack.%s: apps_headers must carry a non-blank X-YesWeHack-Apps header", name))
	}
	if p.PAT == "" && (p.Login == "" || p.Password == "") {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"yeswehack.%s: credentials must be either a pat or login plus password", name))
	}

	if len(p.Programs) == 0 {
		errs = append(errs, syncerr.New(syncerr.KindConfiguration,
			"yeswehack.%s: no programs configured", name))
	}
	for i, program := range p.Programs {
		if program.Slug == "" {
			errs = append(errs, syncerr.New(syncerr.KindConfiguration,
				"yeswehack.%s.programs[%d]: missing slug", name, i))
		}
		if len(program.Trackers) == 0 {
			errs = append(errs, syncerr.New(syncerr.KindConfiguration,
				"yeswehack.%s.programs[%d]: bugtrackers_name is empty", name, i))
		}
		// Every referenced tracker must exist in the trackers section.
		for _, trackerName := range program.Trackers {
			if _, ok := r.Trackers[trackerName]; !ok {
				errs = append(errs, syncerr.New(syncerr.KindConfiguration,
					"yeswehack.%s.programs[%d]: unknown tracker %q", name, i, trackerName))
			}
		}
	}
	return errs
}
