// Package tests holds end-to-end tests that span several packages.
//
// They start real listeners and are skipped with -short:
//
//	go test ./internal/tests/...
package tests
