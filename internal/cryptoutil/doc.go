// Package cryptoutil holds the integrity checks applied to site bundles:
// constant-time digest comparison and detached signature verification
// against an AWS KMS public key (ECDSA P-256/P-384, RSA-PSS).
package cryptoutil
