package config

import (
	"os"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/relaycore/relay/internal/domain/service"
)

func TestToSubtypeConfigs(t *testing.T) {
	in := []SubtypeConfig{
		{Name: "coder", ToolGroups: []string{"fs"}, SkillTags: []string{"code"}, Prompt: "be precise", MaxIterations: 10, SkipTaskPlanner: true},
	}
	out := ToSubtypeConfigs(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 converted subtype, got %d", len(out))
	}
	got := out[0]
	if got.Name != "coder" || got.Prompt != "be precise" || got.MaxIterations != 10 || !got.SkipTaskPlanner {
		t.Errorf("unexpected conversion: %+v", got)
	}
	if len(got.ToolGroups) != 1 || got.ToolGroups[0] != "fs" {
		t.Errorf("expected tool groups to carry through, got %v", got.ToolGroups)
	}
}

func TestToSkillConfigs(t *testing.T) {
	in := []SkillConfig{
		{Name: "finance", Tags: []string{"money"}, Instructions: "be careful", RequiresTools: []string{"stock_analysis"}, AutoSubtype: "analyst"},
	}
	out := ToSkillConfigs(in)
	if len(out) != 1 {
		t.Fatalf("expected 1 converted skill, got %d", len(out))
	}
	got := out[0]
	if got.Name != "finance" || got.Instructions != "be careful" || got.AutoSubtype != "analyst" {
		t.Errorf("unexpected conversion: %+v", got)
	}
	if len(got.RequiresTools) != 1 || got.RequiresTools[0] != "stock_analysis" {
		t.Errorf("expected required tools to carry through, got %v", got.RequiresTools)
	}
}

// recordingSubtypeReloader/recordingSkillReloader record every Replace
// call reload() makes, so the test can assert on what Load() produced.
type recordingSubtypeReloader struct {
	calls [][]service.SubtypeConfig
}

func (r *recordingSubtypeReloader) Replace(configs []service.SubtypeConfig) {
	r.calls = append(r.calls, configs)
}

type recordingSkillReloader struct {
	calls [][]service.SkillConfig
}

func (r *recordingSkillReloader) Replace(configs []service.SkillConfig) {
	r.calls = append(r.calls, configs)
}

func TestHotReloader_ReloadAppliesConfigOnce(t *testing.T) {
	home := t.TempDir()
	t.Setenv("HOME", home)

	configDir := filepath.Join(home, ".ngoclaw")
	if err := os.MkdirAll(configDir, 0755); err != nil {
		t.Fatalf("failed to create config dir: %v", err)
	}
	configYAML := `
agent:
  subtypes:
    - name: coder
      prompt: "be precise"
  skills:
    - name: finance
      instructions: "be careful"
`
	if err := os.WriteFile(filepath.Join(configDir, "config.yaml"), []byte(configYAML), 0644); err != nil {
		t.Fatalf("failed to write config.yaml: %v", err)
	}

	subtypes := &recordingSubtypeReloader{}
	skills := &recordingSkillReloader{}

	r, err := NewHotReloader(filepath.Join(configDir, "config.yaml"), subtypes, skills, zap.NewNop())
	if err != nil {
		t.Fatalf("NewHotReloader failed: %v", err)
	}
	defer r.Stop()

	r.reload()

	if len(subtypes.calls) != 1 || len(subtypes.calls[0]) != 1 || subtypes.calls[0][0].Name != "coder" {
		t.Errorf("expected one reload call carrying the 'coder' subtype, got %+v", subtypes.calls)
	}
	if len(skills.calls) != 1 || len(skills.calls[0]) != 1 || skills.calls[0][0].Name != "finance" {
		t.Errorf("expected one reload call carrying the 'finance' skill, got %+v", skills.calls)
	}
}
