package commands

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/usdbridge/usdbridge/internal/cli/config"
	"github.com/usdbridge/usdbridge/internal/converter"
	"github.com/usdbridge/usdbridge/internal/history"
	"github.com/usdbridge/usdbridge/internal/pipeline"
)

const robotArm = `#usda 1.0
(
    customLayerData = {
        string site = "cell-7"
    }
)

def Xform "Base" (
    customData = {
        string role = "anchor"
    }
)
{
    def Xform "Gripper" (
        customData = {
            string vendor = "acme"
            float min = 0
            float max = 40
        }
    )
    {
    }
}
`

const robotArmGLTF = `{
  "asset": {"version": "2.0"},
  "nodes": [
    {"name": "Base", "children": [1]},
    {"name": "Gripper", "extras": {"tag": "kept"}}
  ]
}`

// project is a temporary working tree with a config file pointing at it
type project struct {
	root   string
	scenes string
	output string
	dsn    string
	config string
}

func newProject(t *testing.T, extra string) *project {
	t.Helper()

	root := t.TempDir()
	p := &project{
		root:   root,
		scenes: filepath.Join(root, "scenes"),
		output: filepath.Join(root, "models"),
		dsn:    filepath.Join(root, "history.db"),
		config: filepath.Join(root, "usdbridge.yaml"),
	}
	require.NoError(t, os.MkdirAll(p.scenes, 0o755))

	cfg := "storage:\n" +
		"  scenes_dir: " + p.scenes + "\n" +
		"  output_dir: " + p.output + "\n" +
		"history:\n" +
		"  driver: sqlite3\n" +
		"  dsn: " + p.dsn + "\n" +
		"log:\n" +
		"  level: error\n" +
		extra
	require.NoError(t, os.WriteFile(p.config, []byte(cfg), 0o644))
	return p
}

func (p *project) writeScene(t *testing.T, name, content string) string {
	t.Helper()
	path := filepath.Join(p.scenes, name)
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func (p *project) load(t *testing.T) *config.Config {
	t.Helper()
	cfg, err := config.Load(p.config)
	require.NoError(t, err)
	return cfg
}

// fakeTool writes a shell script that copies robotArmGLTF to the -o argument
func fakeTool(t *testing.T, body string) string {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("fake converter scripts need a POSIX shell")
	}
	path := filepath.Join(t.TempDir(), "usd2gltf")
	require.NoError(t, os.WriteFile(path, []byte("#!/bin/sh\n"+body+"\n"), 0o755))
	return path
}

func copyGLTFTool(t *testing.T) string {
	gltfPath := filepath.Join(t.TempDir(), "converted.gltf")
	require.NoError(t, os.WriteFile(gltfPath, []byte(robotArmGLTF), 0o644))
	return fakeTool(t, `cp "`+gltfPath+`" "$3"`)
}

// execute runs the root command with args and returns stdout and stderr
func execute(t *testing.T, p *project, args ...string) (string, string, error) {
	t.Helper()

	root := NewRootCommand()
	var stdout, stderr bytes.Buffer
	root.SetOut(&stdout)
	root.SetErr(&stderr)
	if p != nil {
		args = append(args, "--config", p.config)
	}
	root.SetArgs(append(args, "--no-color"))

	err := root.ExecuteContext(context.Background())
	return stdout.String(), stderr.String(), err
}

func decodeJSON(t *testing.T, data []byte) map[string]any {
	t.Helper()
	var out map[string]any
	require.NoError(t, json.Unmarshal(data, &out))
	return out
}

func nodeExtras(t *testing.T, doc map[string]any, index int) map[string]any {
	t.Helper()
	nodes, ok := doc["nodes"].([]any)
	require.True(t, ok, "nodes array")
	require.Greater(t, len(nodes), index)
	node := nodes[index].(map[string]any)
	extras, ok := node["extras"].(map[string]any)
	require.True(t, ok, "node %d has extras", index)
	return extras
}

func TestInvalidConfigExplained(t *testing.T) {
	p := newProject(t, "cache:\n  backend: memcached\n")
	scene := p.writeScene(t, "robot.usda", robotArm)

	_, stderr, err := execute(t, p, "extract", scene)
	require.Error(t, err)
	assert.Contains(t, stderr, "CONFIGURATION ERROR")
	assert.Contains(t, stderr, "cache.backend")
	assert.Contains(t, stderr, "cat usdbridge.yaml")
}

func TestExtractCommand(t *testing.T) {
	p := newProject(t, "")
	scene := p.writeScene(t, "robot.usda", robotArm)

	t.Run("prints JSON", func(t *testing.T) {
		stdout, _, err := execute(t, p, "extract", scene)
		require.NoError(t, err)

		out := decodeJSON(t, []byte(stdout))
		assert.Contains(t, out, "__customLayerData__")
		assert.Contains(t, out, "Base")
		gripper := out["Gripper"].(map[string]any)
		assert.Equal(t, "acme", gripper["vendor"])
	})

	t.Run("prints YAML", func(t *testing.T) {
		stdout, _, err := execute(t, p, "extract", scene, "--format", "yaml")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Gripper:")
		assert.Contains(t, stdout, "vendor: acme")
	})

	t.Run("writes file", func(t *testing.T) {
		target := filepath.Join(p.root, "out", "robot.json")
		stdout, stderr, err := execute(t, p, "extract", scene, "-o", target)
		require.NoError(t, err)
		assert.Empty(t, stdout)
		assert.Contains(t, stderr, "Wrote 2 entities")

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Contains(t, decodeJSON(t, data), "Gripper")
	})

	t.Run("verbose lists blocks", func(t *testing.T) {
		_, stderr, err := execute(t, p, "extract", scene, "--verbose")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Block")
		assert.Contains(t, stderr, "Gripper")
	})

	t.Run("verbose reports document lines and per-block keys", func(t *testing.T) {
		dup := p.writeScene(t, "dup.usda", `def Xform "Arm" (
    customData = {
        string a = "1"
        bool on = 1
        string c = "3"
    }
)
{
}
def Xform "Arm" (
    customData = {
        string a = "4"
    }
)
{
}
`)
		_, stderr, err := execute(t, p, "extract", dup, "--verbose")
		require.NoError(t, err)
		assert.Contains(t, stderr, "Arm: line 4: ")
		assert.Regexp(t, `Arm\s+1\s+2\s+1`, stderr)
		assert.Regexp(t, `Arm\s+10\s+1\s+0`, stderr)
	})

	t.Run("unknown format", func(t *testing.T) {
		_, _, err := execute(t, p, "extract", scene, "--format", "xml")
		require.Error(t, err)
	})

	t.Run("missing scene suggests similar names", func(t *testing.T) {
		_, stderr, err := execute(t, p, "extract", filepath.Join(p.scenes, "robt.usda"))
		require.Error(t, err)
		assert.Contains(t, err.Error(), "not found")
		assert.Contains(t, stderr, "robot.usda")
	})
}

func TestInjectCommand(t *testing.T) {
	p := newProject(t, "")
	scene := p.writeScene(t, "robot.usda", robotArm)

	writeTarget := func(t *testing.T) string {
		target := filepath.Join(t.TempDir(), "robot.gltf")
		require.NoError(t, os.WriteFile(target, []byte(robotArmGLTF), 0o644))
		return target
	}

	t.Run("rewrites target in place", func(t *testing.T) {
		target := writeTarget(t)
		stdout, _, err := execute(t, p, "inject", scene, target)
		require.NoError(t, err)
		assert.Contains(t, stdout, "Injected metadata into "+target)
		assert.Contains(t, stdout, "Nodes:")

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		doc := decodeJSON(t, data)

		extras := nodeExtras(t, doc, 1)
		assert.Equal(t, "kept", extras["tag"])
		custom := extras["customData"].(map[string]any)
		assert.Equal(t, "acme", custom["vendor"])

		docExtras := doc["extras"].(map[string]any)
		assert.Contains(t, docExtras, "customLayerData")
	})

	t.Run("output flag keeps target", func(t *testing.T) {
		target := writeTarget(t)
		output := filepath.Join(t.TempDir(), "annotated.gltf")
		_, _, err := execute(t, p, "inject", scene, target, "-o", output)
		require.NoError(t, err)

		original, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.Equal(t, robotArmGLTF, string(original))
		assert.FileExists(t, output)
	})

	t.Run("no-layer", func(t *testing.T) {
		target := writeTarget(t)
		_, _, err := execute(t, p, "inject", scene, target, "--no-layer")
		require.NoError(t, err)

		data, err := os.ReadFile(target)
		require.NoError(t, err)
		assert.NotContains(t, decodeJSON(t, data), "extras")
	})

	t.Run("warns about unmatched entities", func(t *testing.T) {
		ghost := p.writeScene(t, "ghost.usda", robotArm+`
def Xform "Ghost" (
    customData = {
        string note = "no node"
    }
)
{
}
`)
		target := writeTarget(t)
		_, stderr, err := execute(t, p, "inject", ghost, target)
		require.NoError(t, err)
		assert.Contains(t, stderr, "Ghost")
	})

	t.Run("requires two arguments", func(t *testing.T) {
		_, _, err := execute(t, p, "inject", scene)
		require.Error(t, err)
	})
}

func TestConvertCommand(t *testing.T) {
	t.Run("single scene", func(t *testing.T) {
		p := newProject(t, "")
		scene := p.writeScene(t, "robot.usda", robotArm)
		tool := copyGLTFTool(t)
		output := filepath.Join(p.root, "robot.gltf")

		stdout, _, err := execute(t, p, "convert", scene, "--converter", tool, "-o", output)
		require.NoError(t, err)
		assert.Contains(t, stdout, output)

		data, err := os.ReadFile(output)
		require.NoError(t, err)
		custom := nodeExtras(t, decodeJSON(t, data), 1)["customData"].(map[string]any)
		assert.Equal(t, "acme", custom["vendor"])
	})

	t.Run("several scenes go to the output directory", func(t *testing.T) {
		p := newProject(t, "")
		first := p.writeScene(t, "robot.usda", robotArm)
		second := p.writeScene(t, "cell.usda", robotArm)
		tool := copyGLTFTool(t)

		stdout, _, err := execute(t, p, "convert", first, second, "--converter", tool, "--format", "gltf")
		require.NoError(t, err)
		assert.Contains(t, stdout, "Scene")

		assert.FileExists(t, filepath.Join(p.output, "robot.gltf"))
		assert.FileExists(t, filepath.Join(p.output, "cell.gltf"))
	})

	t.Run("missing converter explains the fix", func(t *testing.T) {
		p := newProject(t, "")
		scene := p.writeScene(t, "robot.usda", robotArm)

		_, stderr, err := execute(t, p, "convert", scene, "--converter", filepath.Join(p.root, "no-such-tool"))
		require.Error(t, err)
		assert.True(t, errors.Is(err, converter.ErrToolNotFound))
		assert.Contains(t, stderr, "--converter")
	})

	t.Run("converter failure", func(t *testing.T) {
		p := newProject(t, "")
		scene := p.writeScene(t, "robot.usda", robotArm)
		tool := fakeTool(t, `echo "unsupported prim" >&2
exit 3`)

		_, stderr, err := execute(t, p, "convert", scene, "--converter", tool)
		var convErr *converter.ConversionError
		require.ErrorAs(t, err, &convErr)
		assert.Equal(t, 3, convErr.ExitCode)
		assert.Contains(t, stderr, "code 3")
	})

	t.Run("invalid format", func(t *testing.T) {
		p := newProject(t, "")
		scene := p.writeScene(t, "robot.usda", robotArm)

		_, _, err := execute(t, p, "convert", scene, "--format", "obj")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "glb or gltf")
	})
}

func TestHistoryCommand(t *testing.T) {
	p := newProject(t, "")

	store, err := history.Open(history.DriverSQLite, p.dsn)
	require.NoError(t, err)
	require.NoError(t, store.Migrate(context.Background()))
	require.NoError(t, store.Record(context.Background(), &history.Record{
		Source: "robot.usda", Output: "models/robot.glb", Format: "glb", Injected: 2,
	}))
	require.NoError(t, store.Record(context.Background(), &history.Record{
		Source: "broken.usda", Output: "models/broken.glb", Format: "glb",
		Status: history.StatusFailed, Error: "converter exited with code 1",
	}))
	require.NoError(t, store.Close())

	t.Run("table", func(t *testing.T) {
		stdout, stderr, err := execute(t, p, "history")
		require.NoError(t, err)
		assert.Contains(t, stdout, "robot.usda")
		assert.Contains(t, stdout, "broken.usda")
		assert.Contains(t, stdout, "failed")
		assert.Contains(t, stderr, "exited with code 1")
	})

	t.Run("json", func(t *testing.T) {
		stdout, _, err := execute(t, p, "history", "--json", "--limit", "1")
		require.NoError(t, err)

		var records []history.Record
		require.NoError(t, json.Unmarshal([]byte(stdout), &records))
		assert.Len(t, records, 1)
	})

	t.Run("disabled", func(t *testing.T) {
		disabled := newProject(t, "")
		cfg := strings.Replace(mustRead(t, disabled.config), "driver: sqlite3", `driver: ""`, 1)
		require.NoError(t, os.WriteFile(disabled.config, []byte(cfg), 0o644))

		_, _, err := execute(t, disabled, "history")
		require.Error(t, err)
		assert.Contains(t, err.Error(), "history is disabled")
	})
}

func mustRead(t *testing.T, path string) string {
	t.Helper()
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	return string(data)
}

type recordedLog struct {
	mu      sync.Mutex
	records []history.Record
}

func (r *recordedLog) Record(ctx context.Context, rec *history.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records = append(r.records, *rec)
	return nil
}

func TestRebuilder(t *testing.T) {
	p := newProject(t, "converter:\n  format: gltf\n")
	scene := p.writeScene(t, "robot.usda", robotArm)
	cfg := p.load(t)

	newRebuilder := func(tool string) (*rebuilder, *recordedLog, *bytes.Buffer) {
		log := &recordedLog{}
		var out bytes.Buffer
		cmd := NewWatchCommand(&globalOptions{})
		cmd.SetOut(&out)
		return &rebuilder{
			cfg:      cfg,
			pipeline: pipeline.New(converter.New(tool, 0, nil), nil),
			history:  log,
			logger:   zap.NewNop(),
			noColor:  true,
			cmd:      cmd,
		}, log, &out
	}

	t.Run("converts and records", func(t *testing.T) {
		r, log, out := newRebuilder(copyGLTFTool(t))

		require.NoError(t, r.rebuild(context.Background(), []string{scene}))
		assert.FileExists(t, filepath.Join(p.output, "robot.gltf"))
		assert.Contains(t, out.String(), "✓ robot.usda")

		require.Len(t, log.records, 1)
		assert.Equal(t, history.StatusOK, log.records[0].Status)
		assert.Equal(t, "robot.usda", log.records[0].Source)
		assert.Equal(t, 2, log.records[0].Injected)
	})

	t.Run("records failures", func(t *testing.T) {
		r, log, out := newRebuilder(fakeTool(t, "exit 2"))

		err := r.rebuild(context.Background(), []string{scene})
		require.Error(t, err)
		assert.Contains(t, out.String(), "✗ robot.usda")

		require.Len(t, log.records, 1)
		assert.Equal(t, history.StatusFailed, log.records[0].Status)
		assert.NotEmpty(t, log.records[0].Error)
	})
}
