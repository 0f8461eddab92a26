// Package model - Model topology profiles.
//
// A Profile describes everything that couples the pipeline to one trained
// graph: the input resolution and normalization, the tensor names fed and
// fetched, the auxiliary placeholder tensors and the queue ops that move a
// batch through the graph. Profiles are loaded from YAML so a different
// export of the network can be used without code changes.
package model

import (
	"os"
	"strings"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/nvr-ai/label-image/errdefs"
)

// Name is the unique identifier of a built-in profile.
type Name string

// ColorOrder is the channel order the network was trained with.
type ColorOrder string

const (
	// ColorOrderBGR feeds channels as blue, green, red (OpenCV order).
	ColorOrderBGR ColorOrder = "bgr"
	// ColorOrderRGB feeds channels as red, green, blue.
	ColorOrderRGB ColorOrder = "rgb"
)

// Placeholder is an auxiliary input that must be fed alongside the image
// even though inference ignores its contents. It is fed as zeros with shape
// [1, NumAnchors, Channels].
type Placeholder struct {
	Name     string `json:"name" yaml:"name"`
	Channels int    `json:"channels" yaml:"channels"`
}

// Inputs names the tensors fed to the graph.
type Inputs struct {
	// Image is the name of the image input tensor.
	Image string `json:"image" yaml:"image"`
	// Placeholders are fed as zero tensors next to the image.
	Placeholders []Placeholder `json:"placeholders" yaml:"placeholders"`
}

// Outputs names the three tensors fetched after the batch is dequeued.
type Outputs struct {
	Boxes        string `json:"boxes" yaml:"boxes"`
	ClassIndices string `json:"class_indices" yaml:"class_indices"`
	Scores       string `json:"scores" yaml:"scores"`
}

// Names returns the output names in fetch order: boxes, class indices, scores.
func (o Outputs) Names() []string {
	return []string{o.Boxes, o.ClassIndices, o.Scores}
}

// Queue names the ops run as targets before the outputs are fetched. Graphs
// exported without input queues leave both empty and are run in one pass.
type Queue struct {
	Enqueue string `json:"enqueue" yaml:"enqueue"`
	Batch   string `json:"batch" yaml:"batch"`
}

// Enabled reports whether the graph needs the enqueue and batch passes.
func (q Queue) Enabled() bool {
	return q.Enqueue != "" || q.Batch != ""
}

// Profile is the model topology injected into the pipeline.
type Profile struct {
	Name        Name       `json:"name" yaml:"name"`
	NumAnchors  int        `json:"num_anchors" yaml:"num_anchors"`
	InputWidth  int        `json:"input_width" yaml:"input_width"`
	InputHeight int        `json:"input_height" yaml:"input_height"`
	Channels    int        `json:"channels" yaml:"channels"`
	ColorOrder  ColorOrder `json:"color_order" yaml:"color_order"`
	// Mean is subtracted per channel, in ColorOrder.
	Mean []float32 `json:"mean" yaml:"mean"`
	// Std divides each channel after the mean is subtracted.
	Std     []float32 `json:"std" yaml:"std"`
	Inputs  Inputs    `json:"inputs" yaml:"inputs"`
	Outputs Outputs   `json:"outputs" yaml:"outputs"`
	Queue   Queue     `json:"queue" yaml:"queue"`
}

// Validate checks the profile for values the pipeline cannot work with.
//
// Returns:
//   - error: An errdefs.ErrInvalidArgument error naming the first bad field.
func (p *Profile) Validate() error {
	if p.NumAnchors <= 0 {
		return errdefs.InvalidArgumentf("num_anchors must be positive, got %d", p.NumAnchors)
	}
	if p.InputWidth <= 0 || p.InputHeight <= 0 {
		return errdefs.InvalidArgumentf("invalid input size %dx%d", p.InputWidth, p.InputHeight)
	}
	if p.Channels != 3 {
		return errdefs.InvalidArgumentf("channels must be 3, got %d", p.Channels)
	}
	switch p.ColorOrder {
	case ColorOrderBGR, ColorOrderRGB:
	default:
		return errdefs.InvalidArgumentf("unknown color_order %q", p.ColorOrder)
	}
	if len(p.Mean) != p.Channels {
		return errdefs.InvalidArgumentf("mean needs %d values, got %d", p.Channels, len(p.Mean))
	}
	if len(p.Std) != p.Channels {
		return errdefs.InvalidArgumentf("std needs %d values, got %d", p.Channels, len(p.Std))
	}
	for i, s := range p.Std {
		if s == 0 {
			return errdefs.InvalidArgumentf("std[%d] must not be zero", i)
		}
	}
	if p.Inputs.Image == "" {
		return errdefs.InvalidArgumentf("inputs.image is required")
	}
	for i, ph := range p.Inputs.Placeholders {
		if ph.Name == "" || ph.Channels <= 0 {
			return errdefs.InvalidArgumentf("inputs.placeholders[%d] needs a name and positive channels", i)
		}
	}
	for _, name := range p.Outputs.Names() {
		if name == "" {
			return errdefs.InvalidArgumentf("outputs.boxes, outputs.class_indices and outputs.scores are required")
		}
	}
	return nil
}

// Clone returns a deep copy so callers can override fields safely.
func (p Profile) Clone() Profile {
	p.Mean = append([]float32(nil), p.Mean...)
	p.Std = append([]float32(nil), p.Std...)
	p.Inputs.Placeholders = append([]Placeholder(nil), p.Inputs.Placeholders...)
	return p
}

// WithOutputLayer overrides the output tensor names from a comma-separated
// list "boxes,class_indices,scores".
func (p *Profile) WithOutputLayer(layers string) error {
	parts := strings.Split(layers, ",")
	if len(parts) != 3 {
		return errdefs.InvalidArgumentf("output layer %q must name boxes,class_indices,scores", layers)
	}
	p.Outputs = Outputs{
		Boxes:        strings.TrimSpace(parts[0]),
		ClassIndices: strings.TrimSpace(parts[1]),
		Scores:       strings.TrimSpace(parts[2]),
	}
	return nil
}

// Parse decodes a YAML profile.
func Parse(data []byte) (*Profile, error) {
	var p Profile
	if err := yaml.Unmarshal(data, &p); err != nil {
		return nil, errors.Wrap(err, "decode model profile")
	}
	if p.Channels == 0 {
		p.Channels = 3
	}
	if p.ColorOrder == "" {
		p.ColorOrder = ColorOrderBGR
	}
	if len(p.Std) == 0 {
		p.Std = []float32{1, 1, 1}
	}
	if err := p.Validate(); err != nil {
		return nil, err
	}
	return &p, nil
}

// LoadFile reads and validates a YAML profile from disk.
//
// Arguments:
//   - path: Path of the YAML file.
//
// Returns:
//   - *Profile: The decoded profile.
//   - error: errdefs.ErrNotFound if the file is missing, ErrInvalidArgument if invalid.
func LoadFile(path string) (*Profile, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil, errdefs.NotFoundf("model profile %s", path)
		}
		return nil, errors.Wrapf(err, "read model profile %s", path)
	}
	p, err := Parse(data)
	if err != nil {
		return nil, errors.Wrapf(err, "model profile %s", path)
	}
	return p, nil
}
