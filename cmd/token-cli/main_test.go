package main

import (
	"testing"
)

func TestParseField(t *testing.T) {
	tests := []struct {
		in        string
		wantName  string
		wantValue string
		wantErr   bool
	}{
		{"issuer=acme", "issuer", "acme", false},
		{"url=https://x.io/?a=b", "url", "https://x.io/?a=b", false},
		{" note =", "note", "", false},
		{"novalue", "", "", true},
		{"=value", "", "", true},
	}
	for _, tt := range tests {
		got, err := parseField(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("parseField(%q) err = %v, wantErr %v", tt.in, err, tt.wantErr)
			continue
		}
		if got.Name != tt.wantName || got.Value != tt.wantValue {
			t.Errorf("parseField(%q) = %+v, want %s=%s", tt.in, got, tt.wantName, tt.wantValue)
		}
	}
}

func TestFieldList_Set(t *testing.T) {
	var f fieldList
	if err := f.Set("a=1"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set("b=2"); err != nil {
		t.Fatalf("Set: %v", err)
	}
	if err := f.Set("bad"); err == nil {
		t.Error("expected error for missing '='")
	}
	if got := f.String(); got != "a=1,b=2" {
		t.Errorf("String() = %q, want %q", got, "a=1,b=2")
	}
}

func TestKeystoreDir(t *testing.T) {
	if got := keystoreDir("/data"); got != "/data/keystore" {
		t.Errorf("keystoreDir = %q, want /data/keystore", got)
	}
}
