package main

import (
	"strings"
	"testing"

	"github.com/BurntSushi/toml"
	"tools.zach/dev/tallybot/internal/config"
)

// ///////////////////////////////////////////////
// parseSectionPath / sectionName Tests
// ///////////////////////////////////////////////

func TestParseSectionPath(t *testing.T) {
	tests := []struct {
		name    string
		section string
		want    []string
	}{
		{"single segment", "store", []string{"store"}},
		{"two segments", "store.mongo", []string{"store", "mongo"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := parseSectionPath(tt.section)
			if strings.Join(got, "|") != strings.Join(tt.want, "|") {
				t.Errorf("parseSectionPath(%q) = %v, want %v", tt.section, got, tt.want)
			}
		})
	}
}

func TestSectionName(t *testing.T) {
	tests := []struct {
		section string
		want    string
	}{
		{"commands", "Commands"},
		{"store.mongo", "Mongo"},
		{"Log", "Log"},
		{"a", "A"},
		{"", ""},
	}

	for _, tt := range tests {
		t.Run(tt.section, func(t *testing.T) {
			if got := sectionName(tt.section); got != tt.want {
				t.Errorf("sectionName(%q) = %q, want %q", tt.section, got, tt.want)
			}
		})
	}
}

// ///////////////////////////////////////////////
// injectOmitted Tests
// ///////////////////////////////////////////////

func TestInjectOmittedNoSection(t *testing.T) {
	var out []string
	injectOmitted(&out, nil, config.ConfigDocs, map[string]bool{})
	if len(out) != 0 {
		t.Errorf("injectOmitted with nil section produced %d lines, want 0", len(out))
	}
}

func TestInjectOmittedSkipsEmitted(t *testing.T) {
	docs := map[string]config.FieldDoc{
		"update.check":        {Comment: "check"},
		"update.manifest_url": {Comment: "url", Alternatives: []string{`manifest_url = "x"`}},
	}
	var out []string
	injectOmitted(&out, []string{"update"}, docs, map[string]bool{"update.check": true})

	got := strings.Join(out, "\n")
	if strings.Contains(got, "# check") {
		t.Error("emitted key was injected again")
	}
	if !strings.Contains(got, "# url") || !strings.Contains(got, `# manifest_url = "x"`) {
		t.Errorf("omitted key missing from output:\n%s", got)
	}
}

// ///////////////////////////////////////////////
// render Tests
// ///////////////////////////////////////////////

func TestRender(t *testing.T) {
	got, err := render(config.ExampleConfig(), config.ConfigDocs)
	if err != nil {
		t.Fatalf("render: %v", err)
	}

	for _, want := range []string{
		"# Tallybot Configuration",
		"# ///// Commands /////",
		"[commands]",
		`prefix = "!!"`,
		"# Session store:",
		`# manifest_url = "https://`,
	} {
		if !strings.Contains(got, want) {
			t.Errorf("rendered config missing %q", want)
		}
	}

	// The annotated output must still decode and validate.
	cfg, err := config.Parse([]byte(got))
	if err != nil {
		t.Fatalf("rendered config does not parse: %v", err)
	}
	var decoded map[string]any
	if _, err := toml.Decode(got, &decoded); err != nil {
		t.Fatalf("toml.Decode: %v", err)
	}
	if cfg.Commands.Prefix != "!!" {
		t.Errorf("Prefix = %q", cfg.Commands.Prefix)
	}
}
