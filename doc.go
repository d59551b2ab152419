// Package ytcipher resolves YouTube player signature routines into compact
// programs and applies them to obfuscated stream signatures.
//
// Features:
//   - Structural decompilation of the per-release signature routine
//   - Durable per-release program store shared across processes
//   - Concurrent resolution of many releases with miss collapsing
//   - Optional verification against the routine itself
package ytcipher
