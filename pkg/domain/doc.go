// Package domain defines the error model shared by gulfwatch's outer surfaces.
//
// This package has no dependencies outside the Go standard library. The
// configuration loader, the proxy and the CLI wrap these sentinels so callers
// can classify failures with errors.Is without importing each other.
package domain
