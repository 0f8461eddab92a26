// Package inference - The annotate pipeline: preprocess, run, rank, decode, draw, write.
package inference

import (
	"context"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/images"
	"github.com/nvr-ai/label-image/inference/providers"
	"github.com/nvr-ai/label-image/labels"
	"github.com/nvr-ai/label-image/models/model/preprocess"
	"github.com/nvr-ai/label-image/models/postprocess"
	"github.com/nvr-ai/label-image/profiler"
	"github.com/nvr-ai/label-image/render"
)

// DefaultTopK is the number of detections drawn when none is configured.
const DefaultTopK = 3

// Request names the image to annotate and where to write the result.
type Request struct {
	// ImagePath is the source image.
	ImagePath string
	// OutputPath receives the annotated image.
	OutputPath string
	// DumpPath, when set, receives the resized model input.
	DumpPath string
}

// Report describes one annotate run.
type Report struct {
	// Detections in score order, boxes in original image coordinates.
	Detections []postprocess.Detection
	// OutputPath is where the annotated image was written.
	OutputPath string
	// Width and Height are the original image size.
	Width, Height int
	// Checksum is the MD5 of the annotated pixels.
	Checksum string
}

// Engine runs the detection pipeline on single images.
type Engine struct {
	runner       providers.Runner
	preprocessor preprocess.Preprocessor
	preConfig    preprocess.Config
	renderer     *render.Renderer
	labels       *labels.List
	log          logrus.FieldLogger
	profiler     *profiler.Profiler
	topK         int
	numAnchors   int
}

// EngineBuilder assembles an Engine with a fluent API.
type EngineBuilder struct {
	engine Engine
	err    error
}

// NewEngineBuilder creates a new engine builder.
//
// Returns:
//   - *EngineBuilder: The engine builder with default top-k, style and logger.
func NewEngineBuilder() *EngineBuilder {
	return &EngineBuilder{engine: Engine{
		renderer: render.NewRenderer(render.DefaultStyle()),
		log:      logrus.StandardLogger(),
		topK:     DefaultTopK,
	}}
}

// WithRunner sets the model runner. The engine takes ownership and closes it.
func (b *EngineBuilder) WithRunner(r providers.Runner) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.runner = r
	return b
}

// WithPreprocessor sets the preprocessor and the configuration it was built
// with, which is needed to reconstruct the input for the debug dump.
func (b *EngineBuilder) WithPreprocessor(p preprocess.Preprocessor, cfg preprocess.Config) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.preprocessor = p
	b.engine.preConfig = cfg
	return b
}

// WithRenderer overrides the default renderer.
func (b *EngineBuilder) WithRenderer(r *render.Renderer) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.renderer = r
	return b
}

// WithLabels sets the class names used in log output.
func (b *EngineBuilder) WithLabels(l *labels.List) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.labels = l
	return b
}

// WithLogger sets the logger.
func (b *EngineBuilder) WithLogger(l logrus.FieldLogger) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.log = l
	return b
}

// WithProfiler records stage timings into p.
func (b *EngineBuilder) WithProfiler(p *profiler.Profiler) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.profiler = p
	return b
}

// WithTopK sets how many detections are drawn.
//
// Arguments:
//   - k: Must be positive.
//
// Returns:
//   - *EngineBuilder: The engine builder.
func (b *EngineBuilder) WithTopK(k int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	if k <= 0 {
		b.err = errdefs.InvalidArgumentf("top_k must be positive, got %d", k)
		return b
	}
	b.engine.topK = k
	return b
}

// WithNumAnchors makes the engine reject outputs whose anchor count differs.
func (b *EngineBuilder) WithNumAnchors(n int) *EngineBuilder {
	if b.HasError() {
		return b
	}
	b.engine.numAnchors = n
	return b
}

// HasError checks if the engine builder has errors.
//
// Returns:
//   - bool: True if there are errors, false otherwise.
func (b *EngineBuilder) HasError() bool {
	return b.err != nil
}

// Build builds the engine.
//
// Returns:
//   - *Engine: The engine.
//   - error: The first configuration error, or a missing component.
func (b *EngineBuilder) Build() (*Engine, error) {
	if b.HasError() {
		return nil, b.err
	}
	if b.engine.runner == nil {
		return nil, errdefs.InvalidArgumentf("runner not configured")
	}
	if b.engine.preprocessor == nil {
		return nil, errdefs.InvalidArgumentf("preprocessor not configured")
	}
	e := b.engine
	return &e, nil
}

// Annotate runs the whole pipeline on one image and writes the result.
//
// Order of operations:
//  1. Decode the image (missing file is errdefs.ErrNotFound).
//  2. Preprocess, optionally dumping the model input.
//  3. Run the model and validate the outputs.
//  4. Rank the scores and keep the top k.
//  5. Decode each box to original coordinates and draw it with its score.
//  6. Write the annotated image.
//
// Arguments:
//   - ctx: Cancels between stages.
//   - req: The source and destination paths.
//
// Returns:
//   - *Report: The drawn detections.
//   - error: errdefs.ErrInferenceFailure if the model fails, other kinds as above.
func (e *Engine) Annotate(ctx context.Context, req Request) (*Report, error) {
	if req.OutputPath == "" {
		return nil, errdefs.InvalidArgumentf("output path is required")
	}

	done := e.profiler.StartOperation("decode")
	src, err := images.ReadMat(req.ImagePath)
	done()
	if err != nil {
		return nil, err
	}
	defer src.Close()

	log := e.log.WithField("image", req.ImagePath)
	log.WithFields(logrus.Fields{"width": src.Cols(), "height": src.Rows()}).Debug("image decoded")

	done = e.profiler.StartOperation("preprocess")
	input, err := e.preprocessor.Preprocess(preprocess.Source{Path: req.ImagePath, Mat: &src})
	done()
	if err != nil {
		return nil, errors.Wrap(err, "preprocess")
	}
	if req.DumpPath != "" {
		if err := e.dumpInput(input, req.DumpPath); err != nil {
			return nil, err
		}
		log.WithField("path", req.DumpPath).Debug("model input written")
	}

	if err := ctx.Err(); err != nil {
		return nil, err
	}
	done = e.profiler.StartOperation("inference")
	out, err := e.runner.Run(ctx, input)
	done()
	if err != nil {
		return nil, err
	}
	if err := out.Validate(e.numAnchors); err != nil {
		return nil, err
	}

	done = e.profiler.StartOperation("postprocess")
	dets, err := e.detections(out, input.Scale)
	done()
	if err != nil {
		return nil, err
	}

	done = e.profiler.StartOperation("render")
	for i := range dets {
		drawn, err := e.renderer.Draw(&src, render.FormatScore(dets[i].Score), dets[i].Box)
		if err != nil {
			done()
			return nil, err
		}
		log.WithFields(logrus.Fields{
			"rank":   i,
			"anchor": dets[i].Anchor,
			"score":  dets[i].Score,
			"class":  dets[i].Class,
			"label":  dets[i].Label,
			"box":    dets[i].Box.String(),
			"drawn":  drawn.String(),
		}).Info("detection")
	}
	done()

	done = e.profiler.StartOperation("write")
	err = images.WriteImage(req.OutputPath, src)
	done()
	if err != nil {
		return nil, err
	}
	log.WithField("output", req.OutputPath).Info("annotated image written")

	return &Report{
		Detections: dets,
		OutputPath: req.OutputPath,
		Width:      src.Cols(),
		Height:     src.Rows(),
		Checksum:   images.Checksum(src),
	}, nil
}

// detections ranks the anchors and resolves each of the top k to a box,
// class and label.
func (e *Engine) detections(out *postprocess.DetectionOutput, scale postprocess.ScaleFactors) ([]postprocess.Detection, error) {
	top, err := postprocess.SelectTopKDense(out.Scores, e.topK)
	if err != nil {
		return nil, err
	}

	dets := make([]postprocess.Detection, 0, len(top))
	for _, t := range top {
		box, err := postprocess.DecodeBox(out.Boxes, t.Index, scale)
		if err != nil {
			return nil, err
		}
		class, err := out.ClassAt(t.Index)
		if err != nil {
			return nil, err
		}
		dets = append(dets, postprocess.Detection{
			Anchor: t.Index,
			Score:  t.Score,
			Class:  class,
			Label:  e.labels.Name(class),
			Box:    box,
		})
	}
	return dets, nil
}

func (e *Engine) dumpInput(input *preprocess.Result, path string) error {
	mat, err := input.Image(e.preConfig)
	if err != nil {
		return errors.Wrap(err, "reconstruct model input")
	}
	defer mat.Close()
	return images.WriteImage(path, mat)
}

// Close releases the runner.
func (e *Engine) Close() error {
	if e.runner == nil {
		return nil
	}
	return e.runner.Close()
}
