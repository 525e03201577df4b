// Package auth implements the Token Verifier component.
//
// The Token Verifier:
//   - Validates bearer tokens (JWT) against a configured issuer and audience
//   - Fetches the issuer's JSON Web Key Set over HTTP
//   - Caches signing keys per key-id for the process lifetime; a key-id
//     cache miss triggers exactly one re-fetch of the key set before failing
//   - Classifies every failure with a terminal AuthError reason
package auth
