// Package tlsroots builds the TLS configurations used by the RESP listener
// and the remote client backend.
//
// Server side, a Watcher keeps the listener's key pair current by reloading
// it when the files change (fsnotify). Client side, ClientConfig trusts the
// system roots plus an optional CA bundle.
package tlsroots
