/*
Package cipher compiles the signature routine of a YouTube player release into
a small program and replays it against obfuscated signatures.

Every player release ships a minified routine that scrambles stream signatures
with three primitives: drop a prefix, reverse, and swap the first character
with another. The routine is located structurally, its helper methods are
classified by body shape, and the result is a Program that is cheap to store
and apply without running any JavaScript.

# Architecture

1. Decompile
  - Find the "signature",NAME( entry point
  - Extract NAME=function(a){a=a.split("");...;return a.join("")}
  - Classify each helper method as slice, reverse or swap

2. Store
  - Programs are keyed by release id
  - Encoded as "s3 r w49"

3. Apply
  - Runs a Program over the runes of a signature
  - Swap indexes are bounds checked

4. Resolve
  - Store lookup, then fetch and decompile on a miss
  - Concurrent misses for one release share the work

# Usage

	r := cipher.NewResolver(httpClient, fileStore)
	p, err := r.Resolve(ctx, types.PlayerRef{ReleaseID: "19834", ScriptURL: scriptURL})
	if err != nil {
		switch {
		case cipher.IsFetchError(err):
			// retry later
		case cipher.IsPatternNotFound(err):
			// the player changed shape
		}
		return err
	}
	sig, err := r.Decipher(obfuscated, p)

# Error Codes

- PATTERN_NOT_FOUND: the routine or a helper method was not recognised
- FETCH_FAILED: the player script could not be retrieved
- INDEX_OUT_OF_RANGE: a swap index was outside the working value
- STORE_WRITE_FAILED: a program could not be persisted
- INVALID_PROGRAM: an encoded program could not be decoded

Every *Error also matches errs.ErrCipherFailed with errors.Is.

# Verification

Verify runs the extracted routine and its helper object in goja on a probe
string and compares the output with Apply. Nothing else from the player script
is evaluated.
*/
package cipher
