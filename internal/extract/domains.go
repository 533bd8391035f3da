package extract

import "strings"

// domainList matches email domains against configured entries. A plain entry
// matches that domain only; "*.host" or ".host" also covers every subdomain.
type domainList map[string]bool

func newDomainList(entries []string) domainList {
	list := make(domainList, len(entries))
	for _, raw := range entries {
		entry := strings.ToLower(strings.TrimSpace(raw))
		wildcard := strings.HasPrefix(entry, "*.") || strings.HasPrefix(entry, ".")
		entry = strings.TrimLeft(entry, "*.")
		if entry == "" {
			continue
		}
		list[entry] = list[entry] || wildcard
	}
	return list
}

// has walks domain from the full name toward the TLD. The full name matches
// any entry; a parent matches only wildcard entries.
func (l domainList) has(domain string) bool {
	domain = strings.TrimSuffix(strings.ToLower(strings.TrimSpace(domain)), ".")
	if domain == "" || len(l) == 0 {
		return false
	}
	if _, ok := l[domain]; ok {
		return true
	}
	for i := strings.IndexByte(domain, '.'); i >= 0; i = strings.IndexByte(domain, '.') {
		domain = domain[i+1:]
		if l[domain] {
			return true
		}
	}
	return false
}
