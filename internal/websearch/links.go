package websearch

import (
	"net/url"
	"regexp"
	"strings"
)

// FilterLinks normalizes links (fragment stripped), drops anything that is
// not http(s) or matches one of the exclusion patterns, and removes
// duplicates while keeping first-seen order.
func FilterLinks(links []string, exclusions []string) []string {
	patterns := make([]*regexp.Regexp, 0, len(exclusions))
	for _, ex := range exclusions {
		if re, err := regexp.Compile(ex); err == nil {
			patterns = append(patterns, re)
		}
	}

	var out []string
	seen := make(map[string]bool)

	for _, link := range links {
		u, err := url.Parse(strings.TrimSpace(link))
		if err != nil || u.Host == "" || (u.Scheme != "http" && u.Scheme != "https") {
			continue
		}

		u.Fragment = ""
		u.Host = strings.ToLower(u.Host)
		normalized := u.String()

		excluded := false
		for _, re := range patterns {
			if re.MatchString(normalized) {
				excluded = true
				break
			}
		}
		if excluded || seen[normalized] {
			continue
		}
		seen[normalized] = true
		out = append(out, normalized)
	}
	return out
}

// resolveRedirect unwraps DuckDuckGo result links of the form
// //duckduckgo.com/l/?uddg=<target>.
func resolveRedirect(href string) string {
	if strings.HasPrefix(href, "//") {
		href = "https:" + href
	}
	u, err := url.Parse(href)
	if err != nil {
		return href
	}
	if target := u.Query().Get("uddg"); target != "" {
		return target
	}
	return href
}
