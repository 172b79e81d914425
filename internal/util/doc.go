// Package util provides small helpers shared across the server packages.
//
// Key utilities:
//   - SafeTruncate: Safely truncates strings for logging sensitive data
//   - NormalizeURL: Trims trailing slashes so issuer URLs compare equal
//   - IsLoopbackHostname: Detects loopback redirect targets
package util
