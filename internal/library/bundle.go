package library

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"
)

// BundleFormat is the only manifest format this firmware understands.
const BundleFormat = 1

// Bundle kinds.
const (
	KindSensor   = "sensor"
	KindActuator = "actuator"
)

// Bundle is the CBOR manifest carried (base64 encoded) in an install-library command.
type Bundle struct {
	Format   int                `cbor:"1,keyasint" json:"format"`
	Kind     string             `cbor:"2,keyasint" json:"kind"`
	Template string             `cbor:"3,keyasint" json:"template"`
	Unit     string             `cbor:"4,keyasint,omitempty" json:"unit,omitempty"`
	Params   map[string]float64 `cbor:"5,keyasint,omitempty" json:"params,omitempty"`
}

// Param returns Params[key] or def.
func (b Bundle) Param(key string, def float64) float64 {
	if v, ok := b.Params[key]; ok {
		return v
	}
	return def
}

// decodeBundle parses and structurally validates a manifest.
func decodeBundle(blob []byte) (Bundle, error) {
	var b Bundle
	if err := cbor.Unmarshal(blob, &b); err != nil {
		return Bundle{}, fmt.Errorf("%w: %v", ErrInvalidBundle, err)
	}
	if b.Format != BundleFormat {
		return Bundle{}, fmt.Errorf("%w: format %d", ErrInvalidBundle, b.Format)
	}
	if b.Kind != KindSensor && b.Kind != KindActuator {
		return Bundle{}, fmt.Errorf("%w: kind %q", ErrInvalidBundle, b.Kind)
	}
	if b.Template == "" {
		return Bundle{}, fmt.Errorf("%w: template is required", ErrInvalidBundle)
	}
	return b, nil
}

// EncodeBundle produces the CBOR bytes for a manifest. Tooling and tests use
// it to build install payloads.
func EncodeBundle(b Bundle) ([]byte, error) {
	return cbor.Marshal(b)
}
