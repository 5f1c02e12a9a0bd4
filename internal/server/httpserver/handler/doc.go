// Package handler implements the admin HTTP endpoints. Optional
// capabilities (backup, cluster status) are interfaces so that each
// substrate exposes only what it supports; a missing capability answers
// 501.
package handler
