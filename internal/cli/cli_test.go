package cli

import (
	"bytes"
	"strings"
	"testing"
)

func TestCommandTree(t *testing.T) {
	want := []string{"run", "serve", "collect", "show", "export", "version"}
	for _, name := range want {
		cmd, _, err := rootCmd.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered: %v", name, err)
		}
	}
}

func TestVersionCommand(t *testing.T) {
	var out bytes.Buffer
	versionCmd.SetOut(&out)
	versionCmd.Run(versionCmd, nil)

	if !strings.Contains(out.String(), "pricefeed version: dev") {
		t.Fatalf("unexpected version output %q", out.String())
	}
}

func TestShowFlags(t *testing.T) {
	if f := showCmd.Flags().Lookup("ticker"); f == nil || f.DefValue != "btc_usd" {
		t.Fatalf("show --ticker flag missing or wrong default")
	}
	if f := exportCmd.Flags().Lookup("csv"); f == nil {
		t.Fatalf("export --csv flag missing")
	}
}

func TestParseInstant(t *testing.T) {
	got, err := parseInstant("--from", "1700000000000")
	if err != nil || got == nil || got.Format("2006-01-02T15:04:05Z07:00") != "2023-11-14T22:13:20Z" {
		t.Fatalf("epoch ms: got %v, %v", got, err)
	}

	got, err = parseInstant("--to", "2025-03-01T10:00:00Z")
	if err != nil || got == nil || got.UnixMilli() != 1740823200000 {
		t.Fatalf("rfc3339: got %v, %v", got, err)
	}

	if got, err := parseInstant("--to", ""); got != nil || err != nil {
		t.Fatalf("empty input should yield nil, got %v, %v", got, err)
	}
	if _, err := parseInstant("--to", "yesterday"); err == nil || !strings.Contains(err.Error(), "--to") {
		t.Fatalf("expected flag name in error, got %v", err)
	}
}
