package mcpgateway

import (
	"reflect"
	"testing"

	"github.com/vikashloomba/mcp-toolhost-go/pkg/mcpmgr"
)

func TestFeatureIndexReplace(t *testing.T) {
	t.Parallel()

	fi := newFeatureIndex(ServerPrefixNamespace{})
	removed, added := fi.Replace([]mcpmgr.ToolDescriptor{
		{Server: "alpha", Name: "echo", Description: "Echo input"},
		{Server: "beta", Name: "echo"},
	})
	if len(removed) != 0 {
		t.Fatalf("Replace() removed = %v, expected none", removed)
	}
	if len(added) != 2 {
		t.Fatalf("Replace() added %d tools, expected 2", len(added))
	}
	target := added[0].Target
	if target.GatewayName != "alpha__echo" || target.ServerID != "alpha" || target.NativeName != "echo" {
		t.Fatalf("Replace() target = %+v", target)
	}
	lookup, ok := fi.ToolTarget("beta__echo")
	if !ok || lookup.ServerID != "beta" {
		t.Fatalf("ToolTarget(beta__echo) = %+v, %v", lookup, ok)
	}
	meta := added[0].Tool.Meta
	if meta[metaKeyServerID] != "alpha" || meta[metaKeyNativeName] != "echo" {
		t.Fatalf("tool meta = %+v", meta)
	}
	if added[0].Tool.Description != "Echo input" {
		t.Fatalf("Description = %q, expected %q", added[0].Tool.Description, "Echo input")
	}

	removed, added = fi.Replace([]mcpmgr.ToolDescriptor{{Server: "beta", Name: "other"}})
	if !reflect.DeepEqual(sortedCopy(removed), []string{"alpha__echo", "beta__echo"}) {
		t.Fatalf("second Replace() removed = %v", removed)
	}
	if len(added) != 1 || added[0].Target.GatewayName != "beta__other" {
		t.Fatalf("second Replace() added = %+v", added)
	}
	if _, ok := fi.ToolTarget("alpha__echo"); ok {
		t.Fatalf("ToolTarget(alpha__echo) still resolves after removal")
	}
	if got := fi.ServerTools("alpha"); len(got) != 0 {
		t.Fatalf("ServerTools(alpha) = %v, expected empty", got)
	}
}

func TestFeatureIndexSkipsDuplicates(t *testing.T) {
	t.Parallel()

	fi := newFeatureIndex(ServerPrefixNamespace{})
	_, added := fi.Replace([]mcpmgr.ToolDescriptor{
		{Server: "alpha", Name: "echo", Description: "first"},
		{Server: "alpha", Name: "echo", Description: "second"},
	})
	if len(added) != 1 || added[0].Tool.Description != "first" {
		t.Fatalf("Replace() added = %+v, expected only the first echo", added)
	}
	if got := fi.ServerTools("alpha"); !reflect.DeepEqual(got, []string{"alpha__echo"}) {
		t.Fatalf("ServerTools(alpha) = %v", got)
	}
}

func TestBuildToolSchemas(t *testing.T) {
	t.Parallel()

	cases := []struct {
		name       string
		desc       mcpmgr.ToolDescriptor
		input      map[string]any
		wantOutput bool
		wantAnn    bool
	}{
		{
			name:  "missing input schema",
			desc:  mcpmgr.ToolDescriptor{Name: "a"},
			input: map[string]any{"type": "object"},
		},
		{
			name:  "broken input schema",
			desc:  mcpmgr.ToolDescriptor{Name: "a", InputSchema: []byte(`[1,2]`)},
			input: map[string]any{"type": "object"},
		},
		{
			name: "properties kept",
			desc: mcpmgr.ToolDescriptor{
				Name:         "a",
				InputSchema:  []byte(`{"properties":{"q":{"type":"string"}}}`),
				OutputSchema: []byte(`{"type":"object"}`),
				Annotations:  []byte(`{"readOnlyHint":true}`),
			},
			input: map[string]any{
				"type":       "object",
				"properties": map[string]any{"q": map[string]any{"type": "string"}},
			},
			wantOutput: true,
			wantAnn:    true,
		},
		{
			name:  "non-object output dropped",
			desc:  mcpmgr.ToolDescriptor{Name: "a", OutputSchema: []byte(`{"type":"string"}`)},
			input: map[string]any{"type": "object"},
		},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			tool := buildTool(tc.desc, "srv__a")
			if !reflect.DeepEqual(tool.InputSchema, tc.input) {
				t.Fatalf("InputSchema = %#v, expected %#v", tool.InputSchema, tc.input)
			}
			if got := tool.OutputSchema != nil; got != tc.wantOutput {
				t.Fatalf("OutputSchema set = %v, expected %v", got, tc.wantOutput)
			}
			if got := tool.Annotations != nil; got != tc.wantAnn {
				t.Fatalf("Annotations set = %v, expected %v", got, tc.wantAnn)
			}
			if tc.wantAnn && !tool.Annotations.ReadOnlyHint {
				t.Fatalf("ReadOnlyHint = false, expected true")
			}
		})
	}
}
