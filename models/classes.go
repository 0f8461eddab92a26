package models

import (
	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
)

// OutputClass is one detection label.
type OutputClass struct {
	// The integer index returned by the model.
	Index int
	// The human-readable label.
	Name string
}

// kittiClasses are the three classes the squeezedet graphs were trained on.
var kittiClasses = []OutputClass{
	{0, "car"},
	{1, "pedestrian"},
	{2, "cyclist"},
}

var classSets = map[model.Name][]OutputClass{
	NameSqueezeDet:       kittiClasses,
	NameSqueezeDetDirect: kittiClasses,
}

// ClassNames returns the built-in label names of a profile, ordered by class
// index. It is used when no label file is given.
//
// Arguments:
//   - name: The profile name.
//
// Returns:
//   - []string: The names, index i holding class i.
//   - error: errdefs.ErrNotFound if the profile has no built-in labels.
func ClassNames(name model.Name) ([]string, error) {
	set, ok := classSets[name]
	if !ok {
		return nil, errdefs.NotFoundf("no built-in labels for model %q", name)
	}
	names := make([]string, len(set))
	for _, c := range set {
		names[c.Index] = c.Name
	}
	return names, nil
}
