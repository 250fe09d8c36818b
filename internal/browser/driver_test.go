package browser

import (
	"context"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

// fakeDriver writes a shell script that records its arguments and then
// blocks, standing in for chromedriver.
func fakeDriver(t *testing.T, body string) (bin, argsFile string) {
	t.Helper()
	if runtime.GOOS == "windows" {
		t.Skip("shell script drivers need a POSIX shell")
	}
	dir := t.TempDir()
	argsFile = filepath.Join(dir, "args")
	bin = filepath.Join(dir, "chromedriver")
	script := "#!/bin/sh\necho \"$@\" > " + argsFile + "\n" + body + "\n"
	require.NoError(t, os.WriteFile(bin, []byte(script), 0o755))
	return bin, argsFile
}

func TestStartDriverPassesPortAndStops(t *testing.T) {
	bin, argsFile := fakeDriver(t, "exec sleep 60")

	p, err := startDriver(DriverConfig{Binary: bin, Args: []string{"--verbose"}}, 9515)
	require.NoError(t, err)

	require.Eventually(t, func() bool {
		data, err := os.ReadFile(argsFile)
		return err == nil && strings.TrimSpace(string(data)) == "--port=9515 --verbose"
	}, 5*time.Second, 10*time.Millisecond)
	assert.False(t, p.Exited())

	p.Stop()
	assert.True(t, p.Exited())
	p.Stop()
}

func TestStartDriverMissingBinary(t *testing.T) {
	_, err := startDriver(DriverConfig{Binary: filepath.Join(t.TempDir(), "nope")}, 9515)
	require.Error(t, err)

	_, err = startDriver(DriverConfig{Binary: "definitely-not-a-driver-binary"}, 9515)
	require.Error(t, err)

	_, err = startDriver(DriverConfig{Binary: "bad\x00name"}, 9515)
	assert.ErrorIs(t, err, ErrInvalidPath)
}

func TestLaunchKillsDriverThatNeverGetsReady(t *testing.T) {
	bin, argsFile := fakeDriver(t, "exec sleep 60")

	opts := DefaultOptions()
	opts.Driver = DriverConfig{Binary: bin, StartTimeout: 200 * time.Millisecond}
	opts.Browser = BrowserConfig{}

	start := time.Now()
	_, err := Launch(context.Background(), opts)
	require.Error(t, err)
	assert.Less(t, time.Since(start), 5*time.Second)

	data, readErr := os.ReadFile(argsFile)
	require.NoError(t, readErr)
	assert.True(t, strings.HasPrefix(string(data), "--port="))
}
