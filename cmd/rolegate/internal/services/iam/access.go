package iam

import (
	"strings"

	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/auth"
	"github.com/terraconstructs/rolegate/cmd/rolegate/internal/config"
)

// Tier is a route's sensitivity level.
type Tier string

const (
	TierAuthenticated Tier = "authenticated"
	TierOrgAdmin      Tier = "org_admin"
	TierPlatformAdmin Tier = "platform_admin"
)

// Verdict is the gate's decision for one request.
type Verdict string

const (
	VerdictAllow        Verdict = "allow"
	VerdictDeny         Verdict = "deny"
	VerdictBypassPrompt Verdict = "bypass_prompt"
	VerdictBypassed     Verdict = "bypassed"
	VerdictRedirect     Verdict = "redirect"
)

// RouteRule is one entry of the path access matrix.
type RouteRule struct {
	Pattern    string
	Methods    []string
	Tier       Tier
	Roles      []auth.Role
	RequireOrg bool
}

// Decision is the outcome of evaluating a rule for a resolved request.
type Decision struct {
	Verdict Verdict     `json:"verdict"`
	Tier    Tier        `json:"tier"`
	Pattern string      `json:"pattern,omitempty"`
	Roles   []auth.Role `json:"roles,omitempty"`

	// Err explains a deny: ErrInsufficientPermission or ErrOrganizationNotFound.
	Err error `json:"-"`
}

// Allowed reports whether the request may proceed.
func (d Decision) Allowed() bool {
	return d.Verdict == VerdictAllow || d.Verdict == VerdictBypassed
}

// AccessPolicy evaluates the ordered path access matrix. First match wins;
// unmatched protected paths require authentication only.
type AccessPolicy struct {
	rules     []RouteRule
	authority *AuthorityResolver
}

// NewAccessPolicy converts the configured matrix into rules.
func NewAccessPolicy(routes []config.RouteRuleConfig, authority *AuthorityResolver) *AccessPolicy {
	rules := make([]RouteRule, 0, len(routes))
	for _, rc := range routes {
		tier := Tier(rc.Tier)
		if tier == "" {
			tier = TierAuthenticated
		}
		methods := make([]string, 0, len(rc.Methods))
		for _, m := range rc.Methods {
			methods = append(methods, strings.ToUpper(m))
		}
		rules = append(rules, RouteRule{
			Pattern:    rc.Pattern,
			Methods:    methods,
			Tier:       tier,
			Roles:      auth.RolesFromStrings(rc.Roles),
			RequireOrg: rc.RequireOrg,
		})
	}
	return &AccessPolicy{rules: rules, authority: authority}
}

// Rules returns the matrix in evaluation order.
func (p *AccessPolicy) Rules() []RouteRule {
	return p.rules
}

// Match returns the first rule matching path and method.
func (p *AccessPolicy) Match(path, method string) RouteRule {
	method = strings.ToUpper(method)
	for _, rule := range p.rules {
		if !auth.MatchPath(path, rule.Pattern) {
			continue
		}
		if len(rule.Methods) > 0 && !containsString(rule.Methods, method) {
			continue
		}
		return rule
	}
	return RouteRule{Pattern: "", Tier: TierAuthenticated}
}

// Satisfies reports whether an authority context passes rule's tier.
func (p *AccessPolicy) Satisfies(a AuthorityContext, rule RouteRule) bool {
	switch rule.Tier {
	case TierPlatformAdmin:
		return p.authority.IsSuperAdmin(a)
	case TierOrgAdmin:
		if len(rule.Roles) > 0 {
			return p.authority.HasRole(a, rule.Roles...)
		}
		return p.authority.IsAdmin(a)
	default:
		return true
	}
}

// Evaluate decides a resolved request against rule.
//
// Not emulating: the full multi-source authority decides allow or deny.
// Emulating: the emulated role is checked alone first. When it fails but the
// full authority passes the request is soft-denied with a bypass prompt, and
// admitted as bypassed when the caller explicitly asked for the bypass.
func (p *AccessPolicy) Evaluate(res *Resolution, rule RouteRule, bypassRequested bool) Decision {
	d := Decision{Tier: rule.Tier, Pattern: rule.Pattern, Roles: rule.Roles}

	if rule.RequireOrg && res.Effective.EffectiveOrgID == "" {
		d.Verdict = VerdictDeny
		d.Err = auth.ErrOrganizationNotFound
		return d
	}

	if !res.Effective.IsEmulating {
		if p.Satisfies(res.Authority, rule) {
			d.Verdict = VerdictAllow
			return d
		}
		d.Verdict = VerdictDeny
		d.Err = auth.ErrInsufficientPermission
		return d
	}

	if p.Satisfies(EffectiveAuthority(res.Effective.EffectiveRole), rule) {
		d.Verdict = VerdictAllow
		return d
	}
	if p.Satisfies(res.Authority, rule) {
		if bypassRequested {
			d.Verdict = VerdictBypassed
		} else {
			d.Verdict = VerdictBypassPrompt
			d.Err = auth.ErrInsufficientPermission
		}
		return d
	}

	d.Verdict = VerdictDeny
	d.Err = auth.ErrInsufficientPermission
	return d
}

func containsString(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
