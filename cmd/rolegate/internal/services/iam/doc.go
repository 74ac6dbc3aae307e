// Package iam resolves identity and authority for every request.
//
// The service composes:
//
//   - SessionEstablisher: reads the session cookies, refreshes once when close
//     to expiry, and asks the provider for the user
//   - EmulationManager: the start/validate/stop state machine; expiry is
//     computed on read from expiresAt and never stored
//   - AuthorityResolver: OR of independent role sources (emulation original
//     role, profile role, token claims, provider metadata)
//   - PermissionResolver: role set to permission set through a TTL cache
//     (in-memory LRU or Redis) backed by the role_permissions relation
//   - AccessPolicy: the path access matrix and the hard/soft deny decision
//
// Request Flow:
//
//	Request → Gate → Service.Resolve → Resolution{Authority, Effective}
//	       ↓
//	   Service.Authorize(path) → allow | deny | bypass_prompt | bypassed
//
// Expired emulation behaves exactly like absent emulation for the effective
// role and org. The emulation original role still counts as an authority
// source until the emulation is stopped, so a super admin is never locked out.
package iam
