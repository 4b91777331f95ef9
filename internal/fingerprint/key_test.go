package fingerprint

import (
	"testing"

	"example.com/agentwatch/internal/domain"
)

func TestKeyIsStableAndUnambiguous(t *testing.T) {
	if Key("a", "b") != Key("a", "b") {
		t.Fatal("Key not deterministic")
	}
	if Key("a|b", "c") == Key("a", "b|c") {
		t.Error("separator collision")
	}
	if len(Key()) != 64 {
		t.Errorf("unexpected key length %d", len(Key()))
	}
}

func TestThemeChecksumIgnoresExportTime(t *testing.T) {
	s := domain.ThemeSnapshot{Name: "ocean", DisplayName: "Ocean", Version: "1", ExportedAt: 1}
	sum := ThemeChecksum(s)
	s.ExportedAt = 2
	if ThemeChecksum(s) != sum {
		t.Error("export time changed checksum")
	}
	s.Colors.Primary = "#000000"
	if ThemeChecksum(s) == sum {
		t.Error("color change did not change checksum")
	}
}
