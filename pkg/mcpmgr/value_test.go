package mcpmgr

import (
	"encoding/json"
	"reflect"
	"testing"
)

func TestValuePreservesKeyOrder(t *testing.T) {
	t.Parallel()

	raw := `{"zeta":1,"alpha":{"y":true,"x":null},"mid":[1,"two",3.5]}`
	v, err := DecodeValue(json.RawMessage(raw))
	if err != nil {
		t.Fatalf("DecodeValue() error: %v", err)
	}
	if got := v.Keys(); !reflect.DeepEqual(got, []string{"zeta", "alpha", "mid"}) {
		t.Fatalf("Keys() = %v", got)
	}
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(out) != raw {
		t.Fatalf("Marshal() = %s, expected %s", out, raw)
	}

	mid, _ := v.Get("mid")
	if mid.Kind() != ValueArray || mid.Len() != 3 {
		t.Fatalf("mid = %v", mid)
	}
	if second, _ := mid.Index(1); second.String() != "two" {
		t.Fatalf("mid[1] = %v, expected two", second)
	}
	if f, ok := v.Get("zeta"); !ok {
		t.Fatalf("zeta missing")
	} else if n, _ := f.Number(); n != 1 {
		t.Fatalf("zeta = %v, expected 1", n)
	}
	alpha, _ := v.Get("alpha")
	if x, _ := alpha.Get("x"); !x.IsNull() {
		t.Fatalf("alpha.x = %v, expected null", x)
	}
}

func TestValueKeepsNumberText(t *testing.T) {
	t.Parallel()

	v, err := DecodeValue(json.RawMessage(`{"big":12345678901234567890}`))
	if err != nil {
		t.Fatalf("DecodeValue() error: %v", err)
	}
	out, _ := json.Marshal(v)
	if string(out) != `{"big":12345678901234567890}` {
		t.Fatalf("Marshal() = %s, expected the original digits", out)
	}
}

func TestValueText(t *testing.T) {
	t.Parallel()

	cases := map[string]string{
		`{"content":[{"type":"text","text":"a"},{"type":"image","data":"x"},{"type":"text","text":"b"}]}`: "a\nb",
		`{"content":[]}`:  `{"content":[]}`,
		`"plain"`:         "plain",
		`{"time":"noon"}`: `{"time":"noon"}`,
		``:                "null",
	}
	for raw, expected := range cases {
		v, err := DecodeValue(json.RawMessage(raw))
		if err != nil {
			t.Fatalf("DecodeValue(%s) error: %v", raw, err)
		}
		if got := v.Text(); got != expected {
			t.Fatalf("Text(%s) = %q, expected %q", raw, got, expected)
		}
	}
}

func TestValueIsToolError(t *testing.T) {
	t.Parallel()

	v, _ := DecodeValue(json.RawMessage(`{"isError":true,"content":[{"type":"text","text":"boom"}]}`))
	if !v.IsToolError() {
		t.Fatalf("IsToolError() = false, expected true")
	}
	if ObjectValue("isError", false).IsToolError() {
		t.Fatalf("IsToolError() = true for isError=false")
	}
}

func TestObjectValueBuilder(t *testing.T) {
	t.Parallel()

	v := ObjectValue("name", "x", "n", 2, "ok", true, "list", ArrayValue(StringValue("a")))
	out, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("Marshal() error: %v", err)
	}
	if string(out) != `{"name":"x","n":2,"ok":true,"list":["a"]}` {
		t.Fatalf("Marshal() = %s", out)
	}
	var zero Value
	if !zero.IsNull() || zero.Kind().String() != "null" {
		t.Fatalf("zero Value should be null")
	}
}
