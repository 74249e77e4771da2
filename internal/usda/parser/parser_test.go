package parser

import (
	"encoding/json"
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"
)

func TestParseDictionary_Example(t *testing.T) {
	body := "string role = \"sensor\"\nfloat threshold = 42.5\nstring[] tags = [\"a\", \"b\"]\ndictionary limits = {\n  float max = 10\n}\n"

	dict, err := ParseDictionary(body)
	require.NoError(t, err)

	assert.Equal(t, []string{"role", "threshold", "tags", "limits"}, dict.Keys())

	role, _ := dict.Get("role")
	assert.Equal(t, String("sensor"), role)

	threshold, _ := dict.Get("threshold")
	assert.Equal(t, Float(42.5), threshold)

	tags, _ := dict.Get("tags")
	assert.Equal(t, StringArray{"a", "b"}, tags)

	limits, ok := dict.Get("limits")
	require.True(t, ok)
	require.Equal(t, KindDictionary, limits.Kind())
	max, _ := limits.(*Dictionary).Get("max")
	assert.Equal(t, Float(10.0), max)

	data, err := json.Marshal(dict)
	require.NoError(t, err)
	assert.JSONEq(t, `{"role":"sensor","threshold":42.5,"tags":["a","b"],"limits":{"max":10}}`, string(data))
}

func TestParseDictionary_Scalars(t *testing.T) {
	tests := []struct {
		name string
		line string
		key  string
		want Value
	}{
		{"plain string", `string name = "robot arm"`, "name", String("robot arm")},
		{"empty string", `string empty = ""`, "empty", String("")},
		{"escaped quote", `string quote = "say \"hi\""`, "quote", String(`say "hi"`)},
		{"token alias", `token kind = "component"`, "kind", String("component")},
		{"namespaced key", `string ur:model = "ur3e"`, "ur:model", String("ur3e")},
		{"integer float", `float count = 3`, "count", Float(3)},
		{"negative float", `float offset = -0.25`, "offset", Float(-0.25)},
		{"signed float", `float gain = +1.5`, "gain", Float(1.5)},
		{"leading dot", `float ratio = .5`, "ratio", Float(0.5)},
		{"trailing dot", `float whole = 2.`, "whole", Float(2)},
		{"double alias", `double precise = 0.125`, "precise", Float(0.125)},
		{"int alias", `int joints = 6`, "joints", Float(6)},
		{"extra spacing", `float   spaced   =   7.5  `, "spaced", Float(7.5)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict, err := ParseDictionary(tt.line)
			require.NoError(t, err)

			got, ok := dict.Get(tt.key)
			require.True(t, ok, "key %q not parsed", tt.key)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDictionary_Arrays(t *testing.T) {
	tests := []struct {
		name string
		line string
		want StringArray
	}{
		{"two items", `string[] tags = ["a", "b"]`, StringArray{"a", "b"}},
		{"order kept", `string[] tags = ["z", "a", "m"]`, StringArray{"z", "a", "m"}},
		{"empty", `string[] tags = []`, StringArray{}},
		{"no spaces", `string[] tags = ["x","y"]`, StringArray{"x", "y"}},
		{"comma inside item", `string[] tags = ["a, b", "c"]`, StringArray{"a, b", "c"}},
		{"token array", `token[] tags = ["left", "right"]`, StringArray{"left", "right"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dict, err := ParseDictionary(tt.line)
			require.NoError(t, err)

			got, ok := dict.Get("tags")
			require.True(t, ok)
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestParseDictionary_EmptyArrayMarshalsAsList(t *testing.T) {
	dict, err := ParseDictionary(`string[] tags = []`)
	require.NoError(t, err)

	data, err := json.Marshal(dict)
	require.NoError(t, err)
	assert.Equal(t, `{"tags":[]}`, string(data))
}

func TestParseDictionary_SkipsCommentsBlanksAndUnknownLines(t *testing.T) {
	body := `
# a comment
    # indented comment

string a = "1"
bool flag = true
float sci = 1e5
asset file = @./model.usd@
string b = "2"
`
	p := New(nil)
	dict, err := p.ParseDictionary(body)
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, dict.Keys())

	diags := p.Diagnostics()
	require.Len(t, diags, 3)
	for _, d := range diags {
		assert.Equal(t, CodeUnrecognizedLine, d.Code)
		assert.Equal(t, Info, d.Severity)
	}
	assert.Equal(t, 6, diags[0].Line)
	assert.Equal(t, 7, diags[1].Line)
	assert.Equal(t, 8, diags[2].Line)
}

func TestParseDictionary_ScientificNotationRejected(t *testing.T) {
	dict, err := ParseDictionary("float big = 1.5e3\nfloat small = 2E-2")
	require.NoError(t, err)
	assert.Equal(t, 0, dict.Len())
}

func TestParseDictionary_DeepNesting(t *testing.T) {
	body := `dictionary a = {
    dictionary b = {
        dictionary c = {
            string leaf = "deep"
        }
        float sibling = 1
    }
}
string tail = "end"`

	dict, err := ParseDictionary(body)
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "tail"}, dict.Keys())

	a, _ := dict.Get("a")
	b, _ := a.(*Dictionary).Get("b")
	bd := b.(*Dictionary)
	assert.Equal(t, []string{"c", "sibling"}, bd.Keys())

	c, _ := bd.Get("c")
	leaf, _ := c.(*Dictionary).Get("leaf")
	assert.Equal(t, String("deep"), leaf)

	tail, _ := dict.Get("tail")
	assert.Equal(t, String("end"), tail)
}

func TestParseDictionary_MultipleBracesPerLine(t *testing.T) {
	body := `dictionary outer = {
    dictionary inner = {
        string s = "v"
    } }
string after = "kept"`

	dict, err := ParseDictionary(body)
	require.NoError(t, err)

	// "} }" closes both levels at once, so inner's opener has no terminator
	// within outer's captured body and outer degrades to raw text.
	outer, _ := dict.Get("outer")
	assert.Equal(t, Raw("    dictionary inner = {\n        string s = \"v\""), outer)

	after, _ := dict.Get("after")
	assert.Equal(t, String("kept"), after)
}

func TestParseDictionary_UnbalancedNestedFallsBackToRaw(t *testing.T) {
	body := `string before = "x"
dictionary broken = {
    dictionary inner = {
        float v = 1
    }}
}
string after = "y"`

	p := New(nil)
	dict, err := p.ParseDictionary(body)
	require.NoError(t, err)

	assert.Equal(t, []string{"before", "broken", "after"}, dict.Keys())

	broken, _ := dict.Get("broken")
	assert.Equal(t, Raw("    dictionary inner = {\n        float v = 1"), broken)

	before, _ := dict.Get("before")
	assert.Equal(t, String("x"), before)
	after, _ := dict.Get("after")
	assert.Equal(t, String("y"), after)

	var codes []string
	for _, d := range p.Diagnostics() {
		codes = append(codes, d.Code)
	}
	assert.Contains(t, codes, CodeNestedFallback)
}

func TestParseDictionary_UnterminatedAtTopLevel(t *testing.T) {
	body := `string first = "ok"
dictionary open = {
    float v = 1
string lost = "swallowed"`

	dict, err := ParseDictionary(body)
	require.Error(t, err)
	assert.True(t, errors.Is(err, ErrUnterminatedDictionary))

	first, _ := dict.Get("first")
	assert.Equal(t, String("ok"), first)

	open, ok := dict.Get("open")
	require.True(t, ok)
	assert.Equal(t, Raw("    float v = 1\nstring lost = \"swallowed\""), open)

	_, ok = dict.Get("lost")
	assert.False(t, ok)
}

func TestParseDictionary_InlineDictionary(t *testing.T) {
	dict, err := ParseDictionary("dictionary empty = {}\ndictionary one = { float v = 1 }\nstring s = \"x\"")
	require.NoError(t, err)

	empty, _ := dict.Get("empty")
	require.Equal(t, KindDictionary, empty.Kind())
	assert.Equal(t, 0, empty.(*Dictionary).Len())

	one, _ := dict.Get("one")
	v, _ := one.(*Dictionary).Get("v")
	assert.Equal(t, Float(1), v)

	s, _ := dict.Get("s")
	assert.Equal(t, String("x"), s)
}

func TestParseDictionary_DuplicateKeyLastWins(t *testing.T) {
	dict, err := ParseDictionary("string a = \"1\"\nstring b = \"2\"\nfloat a = 3")
	require.NoError(t, err)

	assert.Equal(t, []string{"a", "b"}, dict.Keys())
	a, _ := dict.Get("a")
	assert.Equal(t, Float(3), a)
}

func TestParseDictionary_CRLF(t *testing.T) {
	dict, err := ParseDictionary("string a = \"1\"\r\ndictionary d = {\r\n  float x = 2\r\n}\r\n")
	require.NoError(t, err)
	assert.Equal(t, []string{"a", "d"}, dict.Keys())
}

func TestParseDictionary_Empty(t *testing.T) {
	dict, err := ParseDictionary("")
	require.NoError(t, err)
	assert.NotNil(t, dict)
	assert.Equal(t, 0, dict.Len())
}

func TestParser_LogsDegradedEntries(t *testing.T) {
	core, logs := observer.New(zap.DebugLevel)
	p := New(zap.New(core))

	_, err := p.ParseDictionary("nonsense here\ndictionary d = {\n  dictionary x = {\n}}")
	require.NoError(t, err)

	assert.Equal(t, 1, logs.FilterMessage("dictionary entry skipped").Len())
	assert.GreaterOrEqual(t, logs.FilterMessage("dictionary entry degraded").Len(), 1)
}

func TestParser_DiagnosticsResetBetweenCalls(t *testing.T) {
	p := New(nil)

	_, _ = p.ParseDictionary("garbage")
	require.Len(t, p.Diagnostics(), 1)

	_, _ = p.ParseDictionary(`string ok = "1"`)
	assert.Empty(t, p.Diagnostics())
}

func TestDictionary_NativeAndOrder(t *testing.T) {
	d := NewDictionary()
	d.Set("z", Float(1))
	d.Set("a", StringArray{"x"})
	nested := NewDictionary()
	nested.Set("k", Raw("text"))
	d.Set("m", nested)
	d.Set("z", String("replaced"))

	assert.Equal(t, []string{"z", "a", "m"}, d.Keys())
	assert.Equal(t, map[string]any{
		"z": "replaced",
		"a": []any{"x"},
		"m": map[string]any{"k": "text"},
	}, d.Native())

	data, err := json.Marshal(d)
	require.NoError(t, err)
	assert.Equal(t, `{"z":"replaced","a":["x"],"m":{"k":"text"}}`, string(data))
}

func TestKind_String(t *testing.T) {
	assert.Equal(t, "string", KindString.String())
	assert.Equal(t, "float", KindFloat.String())
	assert.Equal(t, "dictionary", KindDictionary.String())
	assert.Equal(t, "string[]", KindStringArray.String())
	assert.Equal(t, "raw", KindRaw.String())
	assert.Equal(t, "unknown", Kind(99).String())
}
