package model

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const profileYAML = `
name: custom
num_anchors: 8
input_width: 64
input_height: 32
color_order: rgb
mean: [123.68, 116.779, 103.939]
std: [58.4, 57.1, 57.4]
inputs:
  image: image_input
  placeholders:
    - name: box_mask
      channels: 1
outputs:
  boxes: out/boxes
  class_indices: out/classes
  scores: out/scores
queue:
  enqueue: q/enqueue
  batch: q/batch
`

func TestParse(t *testing.T) {
	p, err := Parse([]byte(profileYAML))
	require.NoError(t, err, "valid YAML profile should parse")

	assert.Equal(t, Name("custom"), p.Name)
	assert.Equal(t, 8, p.NumAnchors)
	assert.Equal(t, 3, p.Channels, "channels should default to 3")
	assert.Equal(t, ColorOrderRGB, p.ColorOrder)
	assert.Equal(t, []Placeholder{{Name: "box_mask", Channels: 1}}, p.Inputs.Placeholders)
	assert.Equal(t, []string{"out/boxes", "out/classes", "out/scores"}, p.Outputs.Names())
	assert.True(t, p.Queue.Enabled())
}

func TestParseDefaults(t *testing.T) {
	p, err := Parse([]byte(`
num_anchors: 4
input_width: 8
input_height: 8
mean: [0, 0, 0]
inputs: {image: x}
outputs: {boxes: b, class_indices: c, scores: s}
`))
	require.NoError(t, err)
	assert.Equal(t, ColorOrderBGR, p.ColorOrder)
	assert.Equal(t, []float32{1, 1, 1}, p.Std)
	assert.False(t, p.Queue.Enabled())
}

func TestValidate(t *testing.T) {
	base, err := Parse([]byte(profileYAML))
	require.NoError(t, err)

	tests := []struct {
		name   string
		mutate func(p *Profile)
	}{
		{"zero anchors", func(p *Profile) { p.NumAnchors = 0 }},
		{"bad size", func(p *Profile) { p.InputWidth = -1 }},
		{"short mean", func(p *Profile) { p.Mean = []float32{1} }},
		{"zero std", func(p *Profile) { p.Std = []float32{1, 0, 1} }},
		{"unknown order", func(p *Profile) { p.ColorOrder = "hsv" }},
		{"missing image", func(p *Profile) { p.Inputs.Image = "" }},
		{"bad placeholder", func(p *Profile) { p.Inputs.Placeholders = []Placeholder{{Name: "x"}} }},
		{"missing output", func(p *Profile) { p.Outputs.Scores = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			p := base.Clone()
			tt.mutate(&p)
			assert.True(t, errdefs.IsInvalidArgument(p.Validate()), "%s should be rejected", tt.name)
		})
	}
}

func TestWithOutputLayer(t *testing.T) {
	p, err := Parse([]byte(profileYAML))
	require.NoError(t, err)

	require.NoError(t, p.WithOutputLayer("a, b ,c"))
	assert.Equal(t, []string{"a", "b", "c"}, p.Outputs.Names())

	assert.True(t, errdefs.IsInvalidArgument(p.WithOutputLayer("only-one")))
}

func TestLoadFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "profile.yaml")
	require.NoError(t, os.WriteFile(path, []byte(profileYAML), 0o644))

	p, err := LoadFile(path)
	require.NoError(t, err)
	assert.Equal(t, 64, p.InputWidth)

	_, err = LoadFile(filepath.Join(dir, "missing.yaml"))
	assert.True(t, errdefs.IsNotFound(err))

	bad := filepath.Join(dir, "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("num_anchors: [oops"), 0o644))
	_, err = LoadFile(bad)
	assert.Error(t, err)
}
