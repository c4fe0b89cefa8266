// Package payload converts user values to and from the opaque payloads that
// cross the worker boundary. Encoding is delegated to the Temporal SDK
// payload converters; decoding is dynamic because workflow arguments have no
// declared Go type on this side of the wire.
package payload

import (
	"encoding/json"
	"fmt"

	commonpb "go.temporal.io/api/common/v1"
	"go.temporal.io/sdk/converter"
)

// Known encodings, in conversion order. The strings are part of the wire
// contract.
const (
	metadataEncodingKey = "encoding"

	// EncodingNull marks a nil value; the payload carries no data.
	EncodingNull = "binary/null"
	// EncodingBinary marks a raw byte slice.
	EncodingBinary = "binary/plain"
	// EncodingJSON marks a UTF-8 JSON document.
	EncodingJSON = "json/plain"
)

// Converter encodes and decodes workflow arguments and results.
type Converter struct {
	dc converter.DataConverter
}

// NewConverter creates a converter with the standard encoding chain.
func NewConverter() *Converter {
	return &Converter{
		dc: converter.NewCompositeDataConverter(
			converter.NewNilPayloadConverter(),
			converter.NewByteSlicePayloadConverter(),
			converter.NewJSONPayloadConverter(),
		),
	}
}

// ToPayload encodes a single value.
func (c *Converter) ToPayload(v any) (*commonpb.Payload, error) {
	p, err := c.dc.ToPayload(v)
	if err != nil {
		return nil, fmt.Errorf("encode payload: %w", err)
	}
	return p, nil
}

// ToPayloads encodes a value list in order. A nil value encodes as a
// binary/null payload, so a workflow that returns nothing still produces
// exactly one payload.
func (c *Converter) ToPayloads(vs ...any) (*commonpb.Payloads, error) {
	ps, err := c.dc.ToPayloads(vs...)
	if err != nil {
		return nil, fmt.Errorf("encode payloads: %w", err)
	}
	return ps, nil
}

// FromPayload decodes a single payload into a dynamic value: nil for
// binary/null, a byte slice for binary/plain, and the JSON-shaped value
// (string, float64, bool, map, slice) for json/plain.
func (c *Converter) FromPayload(p *commonpb.Payload) (any, error) {
	if p == nil {
		return nil, nil
	}
	enc := string(p.GetMetadata()[metadataEncodingKey])
	switch enc {
	case EncodingNull:
		return nil, nil
	case EncodingBinary:
		return append([]byte(nil), p.GetData()...), nil
	case EncodingJSON:
		var v any
		if err := json.Unmarshal(p.GetData(), &v); err != nil {
			return nil, fmt.Errorf("decode json/plain payload: %w", err)
		}
		return v, nil
	default:
		return nil, fmt.Errorf("unknown payload encoding %q", enc)
	}
}

// FromPayloads decodes a payload list in order.
func (c *Converter) FromPayloads(ps *commonpb.Payloads) ([]any, error) {
	if ps == nil {
		return nil, nil
	}
	vs := make([]any, 0, len(ps.GetPayloads()))
	for i, p := range ps.GetPayloads() {
		v, err := c.FromPayload(p)
		if err != nil {
			return nil, fmt.Errorf("payload %d: %w", i, err)
		}
		vs = append(vs, v)
	}
	return vs, nil
}
