// Package models - Registry of built-in model profiles.
package models

import (
	"sort"
	"strings"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
)

const (
	// NameSqueezeDet is the 624x384 detection graph with input queues and
	// 16848 anchors.
	NameSqueezeDet model.Name = "squeezedet"
	// NameSqueezeDetDirect is the same network exported without input queues,
	// run in a single pass (e.g. an ONNX export).
	NameSqueezeDetDirect model.Name = "squeezedet-direct"
)

// squeezeDet is the topology of the graph the tool was written for.
var squeezeDet = model.Profile{
	Name:        NameSqueezeDet,
	NumAnchors:  16848,
	InputWidth:  624,
	InputHeight: 384,
	Channels:    3,
	ColorOrder:  model.ColorOrderBGR,
	Mean:        []float32{103.939, 116.779, 123.68},
	Std:         []float32{1, 1, 1},
	Inputs: model.Inputs{
		Image: "image_input",
		Placeholders: []model.Placeholder{
			{Name: "box_mask", Channels: 1},
			{Name: "box_delta_input", Channels: 4},
			{Name: "box_input", Channels: 4},
			{Name: "labels", Channels: 3},
		},
	},
	Outputs: model.Outputs{
		Boxes:        "bbox/trimming/bbox",
		ClassIndices: "probability/class_idx",
		Scores:       "probability/score",
	},
	Queue: model.Queue{
		Enqueue: "fifo_queue_EnqueueMany",
		Batch:   "batch/fifo_queue_enqueue",
	},
}

var registry = map[model.Name]model.Profile{
	NameSqueezeDet: squeezeDet,
	NameSqueezeDetDirect: func() model.Profile {
		p := squeezeDet.Clone()
		p.Name = NameSqueezeDetDirect
		p.Inputs.Placeholders = nil
		p.Queue = model.Queue{}
		return p
	}(),
}

// DefaultProfile returns a copy of the profile used when none is configured.
func DefaultProfile() model.Profile {
	return squeezeDet.Clone()
}

// Names lists the built-in profile names in sorted order.
func Names() []model.Name {
	names := make([]model.Name, 0, len(registry))
	for name := range registry {
		names = append(names, name)
	}
	sort.Slice(names, func(i, j int) bool { return names[i] < names[j] })
	return names
}

// Lookup returns a copy of a built-in profile.
//
// Arguments:
//   - name: The profile name.
//
// Returns:
//   - model.Profile: The profile.
//   - error: errdefs.ErrNotFound if no built-in profile has that name.
func Lookup(name model.Name) (model.Profile, error) {
	p, ok := registry[name]
	if !ok {
		return model.Profile{}, errdefs.NotFoundf("model profile %q", name)
	}
	return p.Clone(), nil
}

// Resolve turns a --model-config value into a profile. An empty value selects
// the default profile, a built-in name selects that profile and anything else
// is read as a YAML file.
func Resolve(nameOrPath string) (*model.Profile, error) {
	if nameOrPath == "" {
		p := DefaultProfile()
		return &p, nil
	}
	if p, err := Lookup(model.Name(nameOrPath)); err == nil {
		return &p, nil
	}
	if !strings.HasSuffix(nameOrPath, ".yaml") && !strings.HasSuffix(nameOrPath, ".yml") {
		return nil, errdefs.NotFoundf("model profile %q (built-in profiles: %v)", nameOrPath, Names())
	}
	return model.LoadFile(nameOrPath)
}
