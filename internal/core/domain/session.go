// Package domain defines the core domain models for SeqMesh.
package domain

import (
	"strings"
)

// Resource name prefixes derived from a SessionID.
const (
	NamespacePrefix     = "message-store"
	SenderCounterPrefix = "NextSenderMsgSeqNumCounter"
	TargetCounterPrefix = "NextTargetMsgSeqNumCounter"
)

// CounterRole tags one of the two sequence counters of a session.
type CounterRole string

const (
	// RoleSender is the next outbound (sender) sequence number.
	RoleSender CounterRole = "sender"
	// RoleTarget is the next inbound (target) sequence number.
	RoleTarget CounterRole = "target"
)

// SessionID identifies one FIX session.
//
// It is a comparable value type and is used to derive the names of every
// per-session resource in the shared store.
type SessionID struct {
	BeginString      string `json:"begin_string" yaml:"begin_string"`
	SenderCompID     string `json:"sender_comp_id" yaml:"sender_comp_id"`
	SenderSubID      string `json:"sender_sub_id,omitempty" yaml:"sender_sub_id,omitempty"`
	SenderLocationID string `json:"sender_location_id,omitempty" yaml:"sender_location_id,omitempty"`
	TargetCompID     string `json:"target_comp_id" yaml:"target_comp_id"`
	TargetSubID      string `json:"target_sub_id,omitempty" yaml:"target_sub_id,omitempty"`
	TargetLocationID string `json:"target_location_id,omitempty" yaml:"target_location_id,omitempty"`
	Qualifier        string `json:"qualifier,omitempty" yaml:"qualifier,omitempty"`
}

// NewSessionID creates a SessionID from the three mandatory fields.
func NewSessionID(beginString, senderCompID, targetCompID string) SessionID {
	return SessionID{
		BeginString:  beginString,
		SenderCompID: senderCompID,
		TargetCompID: targetCompID,
	}
}

// String renders the canonical form
// BeginString:Sender[/SubID[/LocationID]]->Target[/SubID[/LocationID]][:Qualifier].
func (s SessionID) String() string {
	var b strings.Builder
	b.WriteString(s.BeginString)
	b.WriteByte(':')
	writeParty(&b, s.SenderCompID, s.SenderSubID, s.SenderLocationID)
	b.WriteString("->")
	writeParty(&b, s.TargetCompID, s.TargetSubID, s.TargetLocationID)
	if s.Qualifier != "" {
		b.WriteByte(':')
		b.WriteString(s.Qualifier)
	}
	return b.String()
}

func writeParty(b *strings.Builder, compID, subID, locationID string) {
	b.WriteString(compID)
	if subID != "" || locationID != "" {
		b.WriteByte('/')
		b.WriteString(subID)
	}
	if locationID != "" {
		b.WriteByte('/')
		b.WriteString(locationID)
	}
}

// ParseSessionID parses the canonical form produced by String.
func ParseSessionID(raw string) (SessionID, error) {
	var sid SessionID

	begin, rest, ok := strings.Cut(raw, ":")
	if !ok {
		return sid, ErrInvalidArgument.WithDetailsf("session id %q: missing begin string", raw)
	}
	sender, target, ok := strings.Cut(rest, "->")
	if !ok {
		return sid, ErrInvalidArgument.WithDetailsf("session id %q: missing '->'", raw)
	}
	if t, q, found := strings.Cut(target, ":"); found {
		target = t
		sid.Qualifier = q
	}

	sid.BeginString = begin
	sid.SenderCompID, sid.SenderSubID, sid.SenderLocationID = splitParty(sender)
	sid.TargetCompID, sid.TargetSubID, sid.TargetLocationID = splitParty(target)

	if err := sid.Validate(); err != nil {
		return SessionID{}, err
	}
	return sid, nil
}

func splitParty(s string) (compID, subID, locationID string) {
	parts := strings.SplitN(s, "/", 3)
	compID = parts[0]
	if len(parts) > 1 {
		subID = parts[1]
	}
	if len(parts) > 2 {
		locationID = parts[2]
	}
	return compID, subID, locationID
}

// Validate checks the mandatory fields.
func (s SessionID) Validate() error {
	switch {
	case s.BeginString == "":
		return ErrInvalidArgument.WithDetails("session id: begin string is required")
	case s.SenderCompID == "":
		return ErrInvalidArgument.WithDetails("session id: sender comp id is required")
	case s.TargetCompID == "":
		return ErrInvalidArgument.WithDetails("session id: target comp id is required")
	}
	return nil
}

// IsZero reports whether s is the zero SessionID.
func (s SessionID) IsZero() bool {
	return s == SessionID{}
}

// NamespaceName returns the name of the session's message log namespace.
func (s SessionID) NamespaceName() string {
	return NamespacePrefix + "-" + s.String()
}

// CounterName returns the name of the session's counter for role.
func (s SessionID) CounterName(role CounterRole) string {
	if role == RoleTarget {
		return TargetCounterPrefix + "-" + s.String()
	}
	return SenderCounterPrefix + "-" + s.String()
}
