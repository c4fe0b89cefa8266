package payload

import (
	"bytes"
	"testing"

	commonpb "go.temporal.io/api/common/v1"
)

func encodingOf(p *commonpb.Payload) string {
	return string(p.GetMetadata()["encoding"])
}

func TestToPayload_Nil(t *testing.T) {
	c := NewConverter()

	p, err := c.ToPayload(nil)
	if err != nil {
		t.Fatalf("failed to encode nil: %v", err)
	}
	if enc := encodingOf(p); enc != "binary/null" {
		t.Errorf("expected binary/null, got %s", enc)
	}
	if len(p.GetData()) != 0 {
		t.Errorf("expected no data for nil payload, got %q", p.GetData())
	}
}

func TestToPayload_Bytes(t *testing.T) {
	c := NewConverter()

	p, err := c.ToPayload([]byte("world"))
	if err != nil {
		t.Fatalf("failed to encode bytes: %v", err)
	}
	if enc := encodingOf(p); enc != "binary/plain" {
		t.Errorf("expected binary/plain, got %s", enc)
	}
	if !bytes.Equal(p.GetData(), []byte("world")) {
		t.Errorf("expected raw bytes, got %q", p.GetData())
	}
}

func TestToPayload_JSON(t *testing.T) {
	c := NewConverter()

	p, err := c.ToPayload("success")
	if err != nil {
		t.Fatalf("failed to encode string: %v", err)
	}
	if enc := encodingOf(p); enc != "json/plain" {
		t.Errorf("expected json/plain, got %s", enc)
	}
	if got := string(p.GetData()); got != `"success"` {
		t.Errorf("expected JSON string, got %q", got)
	}
}

func TestFromPayloads_MixedEncodings(t *testing.T) {
	c := NewConverter()

	ps, err := c.ToPayloads("Hello", nil, []byte("world"))
	if err != nil {
		t.Fatalf("failed to encode payloads: %v", err)
	}
	if len(ps.GetPayloads()) != 3 {
		t.Fatalf("expected 3 payloads, got %d", len(ps.GetPayloads()))
	}

	vs, err := c.FromPayloads(ps)
	if err != nil {
		t.Fatalf("failed to decode payloads: %v", err)
	}
	if len(vs) != 3 {
		t.Fatalf("expected 3 values, got %d", len(vs))
	}
	if vs[0] != "Hello" {
		t.Errorf("expected Hello, got %v", vs[0])
	}
	if vs[1] != nil {
		t.Errorf("expected nil, got %v", vs[1])
	}
	if b, ok := vs[2].([]byte); !ok || !bytes.Equal(b, []byte("world")) {
		t.Errorf("expected world bytes, got %v", vs[2])
	}
}

func TestFromPayloads_Nil(t *testing.T) {
	c := NewConverter()

	vs, err := c.FromPayloads(nil)
	if err != nil {
		t.Fatalf("unexpected error for nil payloads: %v", err)
	}
	if vs != nil {
		t.Errorf("expected nil values, got %v", vs)
	}
}

func TestFromPayload_UnknownEncoding(t *testing.T) {
	c := NewConverter()

	_, err := c.FromPayload(&commonpb.Payload{
		Metadata: map[string][]byte{"encoding": []byte("binary/protobuf")},
	})
	if err == nil {
		t.Error("expected error for unknown encoding")
	}
}

func TestFromPayload_JSONValues(t *testing.T) {
	c := NewConverter()

	for _, tc := range []struct {
		in any
	}{
		{in: map[string]any{"a": float64(1)}},
		{in: []any{"x", float64(2)}},
		{in: true},
		{in: float64(3.5)},
	} {
		p, err := c.ToPayload(tc.in)
		if err != nil {
			t.Fatalf("failed to encode %v: %v", tc.in, err)
		}
		got, err := c.FromPayload(p)
		if err != nil {
			t.Fatalf("failed to decode %v: %v", tc.in, err)
		}
		switch want := tc.in.(type) {
		case map[string]any:
			m, ok := got.(map[string]any)
			if !ok || len(m) != len(want) {
				t.Errorf("map round-trip failed: %v", got)
			}
		case []any:
			s, ok := got.([]any)
			if !ok || len(s) != len(want) {
				t.Errorf("slice round-trip failed: %v", got)
			}
		default:
			if got != tc.in {
				t.Errorf("expected %v, got %v", tc.in, got)
			}
		}
	}
}
