// Package testutil provides test fixtures, PKCE helpers and a mock clock for
// deterministic expiry tests.
package testutil
