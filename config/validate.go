package config

import (
	"errors"
	"fmt"
)

// validate enforces the cross-section invariants before any harvesting
// starts. Every violation is a configuration error and aborts the run.
func (c *Config) validate() error {
	var errs []error

	if c.Global.TranslationServerURL == "" {
		errs = append(errs, errors.New("global: translation_server_url is required"))
	}
	if c.Global.DownloadDelay.DefaultDelay > c.Global.DownloadDelay.MaxDelay {
		errs = append(errs, errors.New("global: default_download_delay_ms exceeds max_download_delay_ms"))
	}

	seenZederIDs := make(map[string]string)
	for _, j := range c.Journals {
		if j.EntryPointURL == "" && j.HarvesterOperation != HarvesterEmail {
			errs = append(errs, fmt.Errorf("journal %s: entry_point_url is required", j.Name))
		}
		if j.Group == "" {
			errs = append(errs, fmt.Errorf("journal %s: group is required", j.Name))
		} else if _, ok := c.Groups[j.Group]; !ok {
			errs = append(errs, fmt.Errorf("journal %s: unknown group %q", j.Name, j.Group))
		}
		if j.Subgroup != "" {
			if _, ok := c.Groups[j.Subgroup]; !ok {
				errs = append(errs, fmt.Errorf("journal %s: unknown subgroup %q", j.Name, j.Subgroup))
			}
		}

		// At least one complete ISSN+PPN pair; a half-configured pair is
		// always a mistake.
		onlineComplete := j.OnlineISSN != "" && j.OnlinePPN != ""
		printComplete := j.PrintISSN != "" && j.PrintPPN != ""
		if j.OnlineISSN != "" && j.OnlinePPN == "" {
			errs = append(errs, fmt.Errorf("journal %s: online_issn without online_ppn", j.Name))
		}
		if j.PrintISSN != "" && j.PrintPPN == "" {
			errs = append(errs, fmt.Errorf("journal %s: print_issn without print_ppn", j.Name))
		}
		if !onlineComplete && !printComplete {
			errs = append(errs, fmt.Errorf("journal %s: needs a complete online or print ISSN+PPN pair", j.Name))
		}

		switch j.HarvesterOperation {
		case HarvesterCrawl:
			if j.ExtractionRegex == nil {
				errs = append(errs, fmt.Errorf("journal %s: CRAWL requires extraction_regex", j.Name))
			}
			if j.MaxCrawlDepth < 1 {
				errs = append(errs, fmt.Errorf("journal %s: max_crawl_depth must be >= 1", j.Name))
			}
		case HarvesterEmail:
			if j.EmailSubjectRegex == nil {
				errs = append(errs, fmt.Errorf("journal %s: EMAIL requires emailcrawl_subject_regex", j.Name))
			}
		case HarvesterAPIQuery:
			if j.OnlineISSN == "" {
				errs = append(errs, fmt.Errorf("journal %s: APIQUERY requires online_issn", j.Name))
			}
		}

		key := fmt.Sprintf("%d/%s", j.ZederID, j.ZederInstance)
		if other, ok := seenZederIDs[key]; ok {
			errs = append(errs, fmt.Errorf("journal %s: zeder id %s already used by %s", j.Name, key, other))
		}
		seenZederIDs[key] = j.Name
	}

	return errors.Join(errs...)
}
