package main

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/sirupsen/logrus/hooks/test"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/urfave/cli/v2"

	"github.com/nvr-ai/label-image/errdefs"
	"github.com/nvr-ai/label-image/models/model"
)

func run(t *testing.T, args ...string) (*test.Hook, error) {
	t.Helper()
	logger, hook := test.NewNullLogger()
	err := newApp(logger).Run(append([]string{appName, "--" + flagEnvFile, ""}, args...))
	return hook, err
}

func TestSelfTestFlag(t *testing.T) {
	hook, err := run(t, "--"+flagSelfTest)
	require.NoError(t, err)
	require.NotNil(t, hook.LastEntry())
	assert.Equal(t, "self test passed", hook.LastEntry().Message)
}

func TestMissingFilesAreNotFound(t *testing.T) {
	dir := t.TempDir()
	_, err := run(t, "--"+flagRootDir, dir, "--"+flagImage, "missing.jpg")
	assert.True(t, errdefs.IsNotFound(err), "missing image: %v", err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "in.jpg"), []byte("x"), 0o644))
	_, err = run(t, "--"+flagRootDir, dir, "--"+flagImage, "in.jpg", "--"+flagGraph, "nope.pb")
	assert.True(t, errdefs.IsNotFound(err), "missing graph: %v", err)
}

func TestInvalidLogLevel(t *testing.T) {
	_, err := run(t, "--"+flagLogLevel, "loud", "--"+flagSelfTest)
	assert.True(t, errdefs.IsInvalidArgument(err))
}

// captureProfile runs the app with an action that only builds the profile.
func captureProfile(t *testing.T, args ...string) (*model.Profile, error) {
	t.Helper()
	app := newApp(logrus.New())
	var profile *model.Profile
	var buildErr error
	app.Action = func(c *cli.Context) error {
		profile, buildErr = buildProfile(c)
		return nil
	}
	require.NoError(t, app.Run(append([]string{appName, "--" + flagEnvFile, ""}, args...)))
	return profile, buildErr
}

func TestBuildProfileOverrides(t *testing.T) {
	p, err := captureProfile(t)
	require.NoError(t, err)
	assert.Equal(t, 624, p.InputWidth)
	assert.InDelta(t, 103.939, p.Mean[0], 1e-4)

	p, err = captureProfile(t,
		"--"+flagInputWidth, "320",
		"--"+flagInputHeight, "192",
		"--"+flagInputMean, "127.5",
		"--"+flagInputStd, "2",
		"--"+flagInputLayer, "input",
		"--"+flagOutputLayer, "b,c,s",
	)
	require.NoError(t, err)
	assert.Equal(t, 320, p.InputWidth)
	assert.Equal(t, 192, p.InputHeight)
	assert.Equal(t, []float32{127.5, 127.5, 127.5}, p.Mean)
	assert.Equal(t, []float32{2, 2, 2}, p.Std)
	assert.Equal(t, "input", p.Inputs.Image)
	assert.Equal(t, []string{"b", "c", "s"}, p.Outputs.Names())

	_, err = captureProfile(t, "--"+flagInputStd, "0")
	assert.True(t, errdefs.IsInvalidArgument(err))

	_, err = captureProfile(t, "--"+flagOutputLayer, "only")
	assert.True(t, errdefs.IsInvalidArgument(err))
}

func TestEnvFileFillsUnsetFlags(t *testing.T) {
	envFile := filepath.Join(t.TempDir(), "test.env")
	require.NoError(t, os.WriteFile(envFile, []byte("LABEL_IMAGE_INPUT_WIDTH=100\nLABEL_IMAGE_INPUT_HEIGHT=50\n"), 0o644))
	t.Cleanup(func() {
		os.Unsetenv("LABEL_IMAGE_INPUT_WIDTH")
		os.Unsetenv("LABEL_IMAGE_INPUT_HEIGHT")
	})

	app := newApp(logrus.New())
	var p *model.Profile
	app.Action = func(c *cli.Context) error {
		var err error
		p, err = buildProfile(c)
		return err
	}
	require.NoError(t, app.Run([]string{appName, "--" + flagEnvFile, envFile, "--" + flagInputHeight, "60"}))
	assert.Equal(t, 100, p.InputWidth, "unset flag comes from the env file")
	assert.Equal(t, 60, p.InputHeight, "command line wins over the env file")
}

func TestMissingExplicitEnvFile(t *testing.T) {
	app := newApp(logrus.New())
	err := app.Run([]string{appName, "--" + flagEnvFile, filepath.Join(t.TempDir(), "none.env"), "--" + flagSelfTest})
	assert.True(t, errdefs.IsNotFound(err))
}
