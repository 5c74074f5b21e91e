// Package verify contains webhook signature verification.
//
// Verification always runs over the raw request bytes, before any parsing;
// a parsed-then-reserialized body is not byte-identical and breaks HMAC
// comparison. Every verifier fails closed: missing header, missing secret,
// or any mismatch rejects the delivery.
package verify
