package id_test

import (
	"encoding/json"
	"testing"

	"github.com/xraph/dialrun/id"
)

func TestNew_GeneratesPrefixedIDs(t *testing.T) {
	tests := []struct {
		name   string
		gen    func() id.ID
		prefix id.Prefix
	}{
		{"run", id.NewRunID, id.PrefixRun},
		{"row", id.NewRowID, id.PrefixRow},
		{"call", id.NewCallID, id.PrefixCall},
		{"org", id.NewOrgID, id.PrefixOrg},
		{"campaign", id.NewCampaignID, id.PrefixCampaign},
		{"dispatcher", id.NewDispatcherID, id.PrefixDispatcher},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			generated := tt.gen()
			if generated.IsNil() {
				t.Fatal("generated ID is nil")
			}
			if generated.Prefix() != tt.prefix {
				t.Errorf("Prefix() = %q, want %q", generated.Prefix(), tt.prefix)
			}
		})
	}
}

func TestParse_RoundTrip(t *testing.T) {
	original := id.NewRunID()

	parsed, err := id.ParseRunID(original.String())
	if err != nil {
		t.Fatalf("ParseRunID(%q) error: %v", original.String(), err)
	}
	if parsed.String() != original.String() {
		t.Errorf("round trip mismatch: got %q, want %q", parsed.String(), original.String())
	}
}

func TestParseWithPrefix_RejectsWrongPrefix(t *testing.T) {
	rowID := id.NewRowID()

	if _, err := id.ParseRunID(rowID.String()); err == nil {
		t.Errorf("ParseRunID(%q) should reject a row-prefixed ID", rowID.String())
	}
}

func TestParse_RejectsInvalid(t *testing.T) {
	for _, s := range []string{"", "not-a-typeid", "run_"} {
		if _, err := id.Parse(s); err == nil {
			t.Errorf("Parse(%q) should fail", s)
		}
	}
}

func TestNil_Behaviour(t *testing.T) {
	if !id.Nil.IsNil() {
		t.Error("Nil.IsNil() = false")
	}
	if id.Nil.String() != "" {
		t.Errorf("Nil.String() = %q, want empty", id.Nil.String())
	}

	v, err := id.Nil.Value()
	if err != nil {
		t.Fatalf("Nil.Value() error: %v", err)
	}
	if v != nil {
		t.Errorf("Nil.Value() = %v, want nil", v)
	}
}

func TestJSON_RoundTrip(t *testing.T) {
	type wrapper struct {
		ID id.ID `json:"id"`
	}

	w := wrapper{ID: id.NewCallID()}
	data, err := json.Marshal(w)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}

	var out wrapper
	if err := json.Unmarshal(data, &out); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if out.ID.String() != w.ID.String() {
		t.Errorf("JSON round trip mismatch: got %q, want %q", out.ID.String(), w.ID.String())
	}
}

func TestScan_SQLSources(t *testing.T) {
	original := id.NewRowID()

	var fromString id.ID
	if err := fromString.Scan(original.String()); err != nil {
		t.Fatalf("Scan(string) error: %v", err)
	}
	if fromString.String() != original.String() {
		t.Errorf("Scan(string) = %q, want %q", fromString.String(), original.String())
	}

	var fromNil id.ID
	if err := fromNil.Scan(nil); err != nil {
		t.Fatalf("Scan(nil) error: %v", err)
	}
	if !fromNil.IsNil() {
		t.Error("Scan(nil) should produce the Nil ID")
	}
}
