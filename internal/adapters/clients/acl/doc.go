// Package acl is the anti-corruption layer between the remote quote source
// and the domain.
//
// External DTOs stay unexported in this package. Transport failures and
// non-2xx responses become domain errors:
//
//   - 400/422 → [domain.ErrValidation], naming the first rejected field
//   - 409 Conflict → [domain.ErrConflict]
//   - anything else, and network failures → [domain.ErrUnavailable]
//
// A sync treats every one of these as a failed fetch. The submit queue drops
// validation and conflict failures instead of retrying them.
package acl
