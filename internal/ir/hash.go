package ir

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
)

// Domain prefixes for content-addressed identity. The version suffix allows
// the hashing scheme to change without colliding with old ids.
const (
	DomainEvent = "cascade/event/v1"
	DomainState = "cascade/state/v1"
)

// hashWithDomain computes SHA256(domain || 0x00 || data).
func hashWithDomain(domain string, data []byte) string {
	h := sha256.New()
	h.Write([]byte(domain))
	h.Write([]byte{0x00})
	h.Write(data)
	return hex.EncodeToString(h.Sum(nil))
}

// EventID computes the content-addressed id of one dispatched event.
// Identical inputs replayed under the same flow token and seq yield the same id.
func EventID(flowToken string, target InstanceRef, event string, payload Object, seq int64) (string, error) {
	if payload == nil {
		payload = Object{}
	}
	obj := Object{
		"flow_token":  String(flowToken),
		"component":   String(target.Component),
		"instance_id": String(target.ID),
		"event":       String(event),
		"payload":     payload,
		"seq":         Int(seq),
	}

	canonical, err := MarshalCanonical(obj)
	if err != nil {
		return "", fmt.Errorf("EventID: %w", err)
	}
	return hashWithDomain(DomainEvent, canonical), nil
}

// StateHash digests an instance record. Two records hash equal exactly when
// their canonical JSON is equal.
func StateHash(record Object) (string, error) {
	if record == nil {
		record = Object{}
	}
	canonical, err := MarshalCanonical(record)
	if err != nil {
		return "", fmt.Errorf("StateHash: %w", err)
	}
	return hashWithDomain(DomainState, canonical), nil
}

// MustEventID is like EventID but panics on error. Tests only.
func MustEventID(flowToken string, target InstanceRef, event string, payload Object, seq int64) string {
	id, err := EventID(flowToken, target, event, payload, seq)
	if err != nil {
		panic(err)
	}
	return id
}
