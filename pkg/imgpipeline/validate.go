// Copyright 2025
// SPDX-License-Identifier: Apache-2.0

package imgpipeline

import (
	"net/url"
	"strings"
)

// URLValidator enforces the scheme, host allow-list, and extension deny-list
// before any network I/O happens. It fails closed: anything that does not
// parse cleanly is rejected.
type URLValidator struct {
	allowHosts []string
	denyExts   []string
}

// NewURLValidator builds a validator from host tokens and path suffixes.
// Tokens are matched case-insensitively as suffix-or-infix against the host.
func NewURLValidator(allowHosts, denyExts []string) *URLValidator {
	v := &URLValidator{
		allowHosts: make([]string, 0, len(allowHosts)),
		denyExts:   make([]string, 0, len(denyExts)),
	}
	for _, h := range allowHosts {
		h = strings.ToLower(strings.TrimSpace(h))
		if h != "" {
			v.allowHosts = append(v.allowHosts, h)
		}
	}
	for _, e := range denyExts {
		e = strings.ToLower(strings.TrimSpace(e))
		if e != "" {
			v.denyExts = append(v.denyExts, e)
		}
	}
	return v
}

// Validate reports whether raw is an HTTPS URL on an allowed host whose path
// does not end in a denied extension.
func (v *URLValidator) Validate(raw string) bool {
	u, err := url.Parse(raw)
	if err != nil {
		return false
	}
	if u.Scheme != "https" {
		return false
	}
	host := strings.ToLower(u.Hostname())
	if host == "" {
		return false
	}

	allowed := false
	for _, tok := range v.allowHosts {
		if strings.Contains(host, tok) {
			allowed = true
			break
		}
	}
	if !allowed {
		return false
	}

	path := strings.ToLower(u.Path)
	for _, ext := range v.denyExts {
		if strings.HasSuffix(path, ext) {
			return false
		}
	}
	return true
}
