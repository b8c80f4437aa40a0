// Package crypto implements the symmetric primitives the reconciliation engine
// relies on: AES-256-GCM key wrapping and the base64 field encoding used for
// encrypted notification payloads (UTF-8 text, decimal integers, epoch
// milliseconds).
package crypto
