// Command label_image annotates an image with the top-scoring detections of
// a pretrained detection graph.
package main

import (
	"context"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/inference"
	"github.com/nvr-ai/label-image/inference/providers"
	"github.com/nvr-ai/label-image/labels"
	"github.com/nvr-ai/label-image/models"
	"github.com/nvr-ai/label-image/models/model"
	"github.com/nvr-ai/label-image/models/model/preprocess"
	"github.com/nvr-ai/label-image/models/postprocess"
	"github.com/nvr-ai/label-image/profiler"
	"github.com/nvr-ai/label-image/util"
)

const (
	// Flags.
	flagImage        = "image"
	flagGraph        = "graph"
	flagLabels       = "labels"
	flagInputWidth   = "input_width"
	flagInputHeight  = "input_height"
	flagInputMean    = "input_mean"
	flagInputStd     = "input_std"
	flagInputLayer   = "input_layer"
	flagOutputLayer  = "output_layer"
	flagRootDir      = "root_dir"
	flagSelfTest     = "self_test"
	flagTopK         = "top_k"
	flagBackend      = "backend"
	flagProvider     = "execution-provider"
	flagModelConfig  = "model-config"
	flagPreprocess   = "preprocess"
	flagOutput       = "output"
	flagDumpInput    = "dump-input"
	flagLogLevel     = "log-level"
	flagEnvFile      = "env-file"
	flagProfile      = "profile"
	defaultEnvFile   = ".env"
	defaultOutput    = "./test.png"
	envPrefix        = "LABEL_IMAGE_"
	exitCodeFailure  = 1
	appName          = "label_image"
	appDescription   = "run a detection graph on one image and draw the top-scoring boxes"
	profileListUsage = "built-in profile name or YAML file describing the model topology"
)

func env(name string) []string {
	return []string{envPrefix + strings.ToUpper(strings.ReplaceAll(name, "-", "_"))}
}

func main() {
	logger := newLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newApp(logger).RunContext(ctx, os.Args); err != nil {
		logger.WithError(err).Error("label_image failed")
		stop()
		os.Exit(exitCodeFailure)
	}
}

func newLogger() *logrus.Logger {
	log := logrus.New()
	log.SetFormatter(&logrus.TextFormatter{FullTimestamp: true})
	log.SetOutput(os.Stderr)
	return log
}

func newApp(logger *logrus.Logger) *cli.App {
	return &cli.App{
		Name:            appName,
		Usage:           appDescription,
		HideHelpCommand: true,
		Flags: []cli.Flag{
			&cli.StringFlag{Name: flagImage, Value: "data/input.jpg", Usage: "image to be processed", EnvVars: env(flagImage)},
			&cli.StringFlag{Name: flagGraph, Value: "data/squeezedet.pb", Usage: "graph to be executed (.pb or .onnx)", EnvVars: env(flagGraph)},
			&cli.StringFlag{Name: flagLabels, Usage: "name of file containing labels", EnvVars: env(flagLabels)},
			&cli.IntFlag{Name: flagInputWidth, Usage: "resize image to this width in pixels (0 = profile)", EnvVars: env(flagInputWidth)},
			&cli.IntFlag{Name: flagInputHeight, Usage: "resize image to this height in pixels (0 = profile)", EnvVars: env(flagInputHeight)},
			&cli.Float64Flag{Name: flagInputMean, Usage: "subtract this mean from every channel (default: profile means)", EnvVars: env(flagInputMean)},
			&cli.Float64Flag{Name: flagInputStd, Usage: "divide every channel by this std (default: profile stds)", EnvVars: env(flagInputStd)},
			&cli.StringFlag{Name: flagInputLayer, Usage: "name of input layer (default: profile)", EnvVars: env(flagInputLayer)},
			&cli.StringFlag{Name: flagOutputLayer, Usage: "output layers as `BOXES,CLASS_IDX,SCORES` (default: profile)", EnvVars: env(flagOutputLayer)},
			&cli.StringFlag{Name: flagRootDir, Usage: "interpret image, graph and label paths relative to this directory", EnvVars: env(flagRootDir)},
			&cli.BoolFlag{Name: flagSelfTest, Usage: "run a self test of ranking and box decoding and exit", EnvVars: env(flagSelfTest)},
			&cli.IntFlag{Name: flagTopK, Value: inference.DefaultTopK, Usage: "number of detections to draw", EnvVars: env(flagTopK)},
			&cli.StringFlag{Name: flagBackend, Usage: "inference backend: tensorflow or onnx (default: from graph extension)", EnvVars: env(flagBackend)},
			&cli.StringFlag{Name: flagProvider, Value: string(providers.CPUExecutionProvider), Usage: "onnx execution provider: cpu, cuda, coreml or openvino", EnvVars: env(flagProvider)},
			&cli.StringFlag{Name: flagModelConfig, Value: string(models.NameSqueezeDet), Usage: profileListUsage, EnvVars: env(flagModelConfig)},
			&cli.StringFlag{Name: flagPreprocess, Value: string(preprocess.KindGoCV), Usage: "preprocessing backend: gocv, native or graph", EnvVars: env(flagPreprocess)},
			&cli.StringFlag{Name: flagOutput, Value: defaultOutput, Usage: "annotated image destination (.png or .webp)", EnvVars: env(flagOutput)},
			&cli.StringFlag{Name: flagDumpInput, Usage: "also write the resized model input to `FILE`", EnvVars: env(flagDumpInput)},
			&cli.StringFlag{Name: flagLogLevel, Value: logrus.InfoLevel.String(), Usage: "log level", EnvVars: env(flagLogLevel)},
			&cli.StringFlag{Name: flagEnvFile, Value: defaultEnvFile, Usage: "load flag defaults from this dotenv `FILE`"},
			&cli.BoolFlag{Name: flagProfile, Usage: "report per-stage timings", EnvVars: env(flagProfile)},
		},
		Before: func(c *cli.Context) error {
			if err := applyEnvFile(c); err != nil {
				return err
			}
			level, err := logrus.ParseLevel(c.String(flagLogLevel))
			if err != nil {
				return errdefs.InvalidArgumentf("log level %q", c.String(flagLogLevel))
			}
			logger.SetLevel(level)
			return nil
		},
		Action: func(c *cli.Context) error {
			if c.Bool(flagSelfTest) {
				return selfTest(logger)
			}
			return annotate(c, logger)
		},
	}
}

// applyEnvFile loads the dotenv file and fills every flag the command line
// and process environment left unset. The default file may be absent.
func applyEnvFile(c *cli.Context) error {
	path := c.String(flagEnvFile)
	if path == "" {
		return nil
	}
	if err := godotenv.Load(path); err != nil {
		if os.IsNotExist(err) && !c.IsSet(flagEnvFile) {
			return nil
		}
		if os.IsNotExist(err) {
			return errdefs.NotFoundf("env file %s", path)
		}
		return errors.Wrapf(err, "load env file %s", path)
	}

	for _, f := range c.App.Flags {
		withEnv, ok := f.(interface{ GetEnvVars() []string })
		if !ok {
			continue
		}
		name := f.Names()[0]
		if c.IsSet(name) {
			continue
		}
		for _, key := range withEnv.GetEnvVars() {
			if v, found := os.LookupEnv(key); found {
				if err := c.Set(name, v); err != nil {
					return errdefs.InvalidArgumentf("%s=%q: %v", key, v, err)
				}
				break
			}
		}
	}
	return nil
}

func selfTest(logger logrus.FieldLogger) error {
	dets, err := postprocess.SelfTest()
	if err != nil {
		return err
	}
	for i, d := range dets {
		logger.WithFields(logrus.Fields{
			"rank":   i,
			"anchor": d.Anchor,
			"score":  d.Score,
			"box":    d.Box.String(),
		}).Info("self test detection")
	}
	logger.Info("self test passed")
	return nil
}

// buildProfile resolves the model profile and applies the command-line
// overrides on top of it.
func buildProfile(c *cli.Context) (*model.Profile, error) {
	profile, err := models.Resolve(c.String(flagModelConfig))
	if err != nil {
		return nil, err
	}
	if w := c.Int(flagInputWidth); w > 0 {
		profile.InputWidth = w
	}
	if h := c.Int(flagInputHeight); h > 0 {
		profile.InputHeight = h
	}
	if c.IsSet(flagInputMean) {
		m := float32(c.Float64(flagInputMean))
		profile.Mean = []float32{m, m, m}
	}
	if c.IsSet(flagInputStd) {
		s := float32(c.Float64(flagInputStd))
		profile.Std = []float32{s, s, s}
	}
	if layer := c.String(flagInputLayer); layer != "" {
		profile.Inputs.Image = layer
	}
	if layer := c.String(flagOutputLayer); layer != "" {
		if err := profile.WithOutputLayer(layer); err != nil {
			return nil, err
		}
	}
	if err := profile.Validate(); err != nil {
		return nil, err
	}
	return profile, nil
}

func annotate(c *cli.Context, logger *logrus.Logger) error {
	root := c.String(flagRootDir)
	imagePath := util.ResolvePath(root, c.String(flagImage))
	graphPath := util.ResolvePath(root, c.String(flagGraph))
	labelsPath := util.ResolvePath(root, c.String(flagLabels))

	if err := util.RequireFile("image", imagePath); err != nil {
		return err
	}
	if err := util.RequireFile("graph", graphPath); err != nil {
		return err
	}

	profile, err := buildProfile(c)
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"profile": profile.Name,
		"input":   []int{profile.InputWidth, profile.InputHeight},
		"anchors": profile.NumAnchors,
	}).Debug("model profile")

	var classNames *labels.List
	if labelsPath != "" {
		if classNames, err = labels.ReadFile(labelsPath); err != nil {
			return err
		}
		logger.WithFields(logrus.Fields{"path": labelsPath, "found": classNames.Found}).Debug("labels loaded")
	} else if names, err := models.ClassNames(profile.Name); err == nil {
		classNames = labels.Pad(names)
	}

	preConfig := preprocess.ConfigFromProfile(profile)
	pre, err := preprocess.New(preprocess.Kind(c.String(flagPreprocess)), preConfig)
	if err != nil {
		return err
	}

	prof := profiler.New()
	done := prof.StartOperation("load")
	runner, err := providers.NewRunner(graphPath, profile, providers.Options{
		Backend:           providers.Backend(c.String(flagBackend)),
		ExecutionProvider: providers.ExecutionProvider(c.String(flagProvider)),
		Logger:            logger,
	})
	done()
	if err != nil {
		return err
	}

	engine, err := inference.NewEngineBuilder().
		WithRunner(runner).
		WithPreprocessor(pre, preConfig).
		WithLabels(classNames).
		WithLogger(logger).
		WithProfiler(prof).
		WithTopK(c.Int(flagTopK)).
		WithNumAnchors(profile.NumAnchors).
		Build()
	if err != nil {
		runner.Close()
		return err
	}
	defer engine.Close()

	report, err := engine.Annotate(c.Context, inference.Request{
		ImagePath:  imagePath,
		OutputPath: c.String(flagOutput),
		DumpPath:   c.String(flagDumpInput),
	})
	if err != nil {
		return err
	}
	logger.WithFields(logrus.Fields{
		"detections": len(report.Detections),
		"output":     report.OutputPath,
		"checksum":   report.Checksum,
	}).Info("done")

	level := logrus.DebugLevel
	if c.Bool(flagProfile) {
		level = logrus.InfoLevel
	}
	prof.Report(logger, level)
	return nil
}
