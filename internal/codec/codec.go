// Package codec defines the pluggable value serializer used for keys,
// values, and the canonical stringification of listener targets. The wire
// byte format itself is opaque to the server; the client only needs
// encode/decode to round-trip and a deterministic Encode for canonicalization.
package codec

import (
	"encoding/json"
	"fmt"

	"github.com/gridkv/grid-go-client/internal/coherrors"
)

// Codec converts application values to and from the opaque byte
// representation carried on the wire.
type Codec interface {
	// Encode must be deterministic for identical inputs: the dispatcher
	// relies on Encode to canonicalize listener targets.
	Encode(value interface{}) ([]byte, error)
	Decode(data []byte, out interface{}) error
	Format() string
}

// jsonCodec is the built-in textual codec. encoding/json's map key and
// struct field ordering is deterministic for a fixed Go type, which is
// sufficient for the stringification use described in spec §4.6/§9.
type jsonCodec struct{}

// JSON returns the built-in JSON codec.
func JSON() Codec { return jsonCodec{} }

func (jsonCodec) Format() string { return "json" }

func (jsonCodec) Encode(value interface{}) ([]byte, error) {
	b, err := json.Marshal(value)
	if err != nil {
		return nil, coherrors.New(coherrors.BadValue, "codec.Encode", err)
	}
	return b, nil
}

func (jsonCodec) Decode(data []byte, out interface{}) error {
	if len(data) == 0 {
		return nil
	}
	if err := json.Unmarshal(data, out); err != nil {
		return coherrors.New(coherrors.BadValue, "codec.Decode", err)
	}
	return nil
}

// Stringify produces the canonical textual key used to deduplicate listener
// registrations and index ListenerGroups (spec §4.6 "Key canonicalization").
func Stringify(c Codec, target interface{}) (string, error) {
	b, err := c.Encode(target)
	if err != nil {
		return "", fmt.Errorf("stringify: %w", err)
	}
	return string(b), nil
}

// ByFormat resolves a codec by its format tag. Only "json" is built in;
// applications inject their own Codec for other formats (spec §1's
// "value-serialization plugin registry" is out of scope here — this client
// only needs the Codec interface, not a registry of third-party codecs).
func ByFormat(format string) (Codec, error) {
	switch format {
	case "", "json":
		return JSON(), nil
	default:
		return nil, coherrors.New(coherrors.BadConfig, "codec.ByFormat", fmt.Errorf("unknown codec format %q", format))
	}
}
