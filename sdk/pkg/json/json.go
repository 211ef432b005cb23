package json

import (
	jsoniter "github.com/json-iterator/go"
)

// JSON is the shared jsoniter instance used across tenantcore components.
// ConfigCompatibleWithStandardLibrary keeps behavior identical to encoding/json
// while being considerably faster, which matters on the per-request paths
// (public-config blobs, mapping documents).
var JSON = jsoniter.ConfigCompatibleWithStandardLibrary

// JSONFast trades some standard-library compatibility for maximum throughput.
// Only use it for payloads that never leave the process.
var JSONFast = jsoniter.ConfigFastest

// Marshal serializes v. Drop-in replacement for json.Marshal.
func Marshal(v interface{}) ([]byte, error) {
	return JSON.Marshal(v)
}

// MarshalIndent serializes v with indentation, for persisted documents
// that humans may need to inspect or edit.
func MarshalIndent(v interface{}, prefix, indent string) ([]byte, error) {
	return JSON.MarshalIndent(v, prefix, indent)
}

// Unmarshal deserializes data into v. Drop-in replacement for json.Unmarshal.
func Unmarshal(data []byte, v interface{}) error {
	return JSON.Unmarshal(data, v)
}

// MarshalToString serializes v directly to a string.
func MarshalToString(v interface{}) (string, error) {
	return JSON.MarshalToString(v)
}

// UnmarshalFromString deserializes s into v.
func UnmarshalFromString(s string, v interface{}) error {
	return JSON.UnmarshalFromString(s, v)
}
