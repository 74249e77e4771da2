package ui

import (
	"bytes"
	"strings"
	"testing"
)

func TestFormatError(t *testing.T) {
	out := FormatError(ErrorOptions{
		Level:        ErrorLevelError,
		Context:      "scene not found",
		Problem:      "Cannot find scene 'rbot.usda'.",
		Consequence:  "Nothing was converted.",
		Suggestions:  []string{"robot.usda", "rob.usda"},
		HelpCommands: []string{"Get help: usdbridge --help"},
		NoColor:      true,
	})

	for _, want := range []string{
		"❌ SCENE NOT FOUND: Cannot find scene 'rbot.usda'.",
		"   Nothing was converted.",
		"   Did you mean: robot.usda, rob.usda?",
		"   → Get help: usdbridge --help",
	} {
		if !strings.Contains(out, want) {
			t.Errorf("expected %q in output:\n%s", want, out)
		}
	}
}

func TestFormatErrorWithoutContext(t *testing.T) {
	out := Warning("3 entities have no matching node", nil, true)
	if !strings.HasPrefix(out, "⚠️ 3 entities have no matching node\n") {
		t.Errorf("unexpected warning %q", out)
	}
	if strings.Contains(out, "Did you mean") {
		t.Errorf("no suggestions expected, got %q", out)
	}
}

func TestSceneNotFoundError(t *testing.T) {
	out := SceneNotFoundError("scenes/rbot.usda", []string{"robot.usda"}, true)
	if !strings.Contains(out, "SCENE NOT FOUND") || !strings.Contains(out, "robot.usda?") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestConverterError(t *testing.T) {
	out := ConverterError("usd2gltf not found", "No model was written.", true)
	if !strings.Contains(out, "CONVERSION FAILED") || !strings.Contains(out, "No model was written.") {
		t.Errorf("unexpected output:\n%s", out)
	}
	if !strings.Contains(out, "--converter") {
		t.Errorf("expected converter hint:\n%s", out)
	}
}

func TestConfigError(t *testing.T) {
	out := ConfigError("cache.backend must be memory, redis or none", []string{"memory"}, true)
	if !strings.Contains(out, "CONFIGURATION ERROR") || !strings.Contains(out, "usdbridge.yaml") {
		t.Errorf("unexpected output:\n%s", out)
	}
}

func TestWriteSuccess(t *testing.T) {
	var buf bytes.Buffer
	WriteSuccess(&buf, "Injected 3 entities", true)
	if buf.String() != "✓ Injected 3 entities\n" {
		t.Errorf("unexpected output %q", buf.String())
	}

	buf.Reset()
	WriteError(&buf, ErrorOptions{Level: ErrorLevelInfo, Problem: "watching scenes", NoColor: true})
	if !strings.HasPrefix(buf.String(), "ℹ️ watching scenes") {
		t.Errorf("unexpected output %q", buf.String())
	}
}
