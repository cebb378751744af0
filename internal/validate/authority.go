package validate

import (
	"net/url"
	"strings"
)

// Authority groups, strongest first
const (
	GroupPrimary   = "primary"
	GroupSecondary = "secondary"
	GroupTertiary  = "tertiary"
)

// defaultPrimaryDomains are regulators, standards bodies and statistics offices
var defaultPrimaryDomains = []string{
	"gov.uk",
	"europa.eu",
	"who.int",
	"oecd.org",
	"iso.org",
	"worldbank.org",
	"imf.org",
}

// defaultSecondaryDomains are established news and analyst outlets
var defaultSecondaryDomains = []string{
	"reuters.com",
	"apnews.com",
	"bloomberg.com",
	"ft.com",
	"wsj.com",
	"economist.com",
	"gartner.com",
	"forrester.com",
	"mckinsey.com",
}

// AuthorityClassifier infers the authority group of a claim's source URL
type AuthorityClassifier struct {
	domainMap    map[string]string
	primaryMap   map[string]bool
	secondaryMap map[string]bool
}

// NewAuthorityClassifier creates a classifier. domainMap pins hosts to a
// group and takes precedence over the built-in lists.
func NewAuthorityClassifier(domainMap map[string]string) *AuthorityClassifier {
	classifier := &AuthorityClassifier{
		domainMap:    make(map[string]string, len(domainMap)),
		primaryMap:   make(map[string]bool),
		secondaryMap: make(map[string]bool),
	}
	for host, group := range domainMap {
		classifier.domainMap[strings.ToLower(host)] = parseGroup(group)
	}
	for _, domain := range defaultPrimaryDomains {
		classifier.primaryMap[domain] = true
	}
	for _, domain := range defaultSecondaryDomains {
		classifier.secondaryMap[domain] = true
	}
	return classifier
}

// Classify returns the authority group of a URL. Unparseable URLs are tertiary.
func (a *AuthorityClassifier) Classify(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil || parsed.Host == "" {
		return GroupTertiary
	}
	host := strings.ToLower(parsed.Hostname())
	host = strings.TrimPrefix(host, "www.")

	if group, ok := a.domainMap[host]; ok {
		return group
	}
	if matchesDomain(host, a.primaryMap) {
		return GroupPrimary
	}
	if matchesDomain(host, a.secondaryMap) {
		return GroupSecondary
	}

	// Government and academic TLDs
	if strings.HasSuffix(host, ".gov") || strings.HasSuffix(host, ".edu") || strings.HasSuffix(host, ".ac.uk") {
		return GroupPrimary
	}
	return GroupTertiary
}

// matchesDomain reports whether host is, or is a subdomain of, a listed domain
func matchesDomain(host string, domains map[string]bool) bool {
	if domains[host] {
		return true
	}
	for domain := range domains {
		if strings.HasSuffix(host, "."+domain) {
			return true
		}
	}
	return false
}

// parseGroup normalizes a group name or numeric tier
func parseGroup(group string) string {
	switch strings.ToLower(strings.TrimSpace(group)) {
	case "primary", "1":
		return GroupPrimary
	case "secondary", "2":
		return GroupSecondary
	default:
		return GroupTertiary
	}
}

// rank orders groups: primary 0, secondary 1, anything else 2
func rank(group string) int {
	switch group {
	case GroupPrimary:
		return 0
	case GroupSecondary:
		return 1
	default:
		return 2
	}
}
