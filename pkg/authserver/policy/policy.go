// SPDX-FileCopyrightText: Copyright 2025 FleetAuth Authors
// SPDX-License-Identifier: Apache-2.0

// Package policy decides which authenticated users may obtain tokens.
// Policy is enforced once, at the end of the IdP callback, before any
// authorization code is minted: a denied user never receives a code.
package policy

import (
	"strings"
)

// Wildcard allows every authenticated user.
const Wildcard = "*"

// AccessPolicy is an allow-list of provider logins. The zero value
// denies everyone.
type AccessPolicy struct {
	allowAll bool
	logins   map[string]struct{}
}

// Parse builds an AccessPolicy from a comma-separated list of logins.
// A single "*" entry allows all users. Entries are trimmed and matched
// case-insensitively, matching GitHub login semantics.
func Parse(spec string) *AccessPolicy {
	p := &AccessPolicy{logins: make(map[string]struct{})}
	for _, entry := range strings.Split(spec, ",") {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		if entry == Wildcard {
			p.allowAll = true
			continue
		}
		p.logins[strings.ToLower(entry)] = struct{}{}
	}
	return p
}

// Allows reports whether the login may obtain tokens.
func (p *AccessPolicy) Allows(login string) bool {
	if p == nil {
		return false
	}
	if p.allowAll {
		return true
	}
	if login == "" {
		return false
	}
	_, ok := p.logins[strings.ToLower(login)]
	return ok
}

// AllowsAll reports whether the policy is the wildcard policy.
func (p *AccessPolicy) AllowsAll() bool {
	return p != nil && p.allowAll
}

// Size returns the number of explicitly allowed logins.
func (p *AccessPolicy) Size() int {
	if p == nil {
		return 0
	}
	return len(p.logins)
}
