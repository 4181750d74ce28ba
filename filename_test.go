package wdcap

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"pgregory.net/rapid"
)

func testConfig() *Config {
	return &Config{
		InputURI:   "int:eth0",
		Template:   "/traces/%P-%m-%s",
		Interval:   60,
		Threads:    2,
		MonitorID:  "telescope1",
		FileFormat: "pcapfile",
		PidFile:    "/tmp/wdcap.pid",
	}
}

func TestRenderFilenameCustomTokens(t *testing.T) {
	cfg := testConfig()
	name, err := renderFilename(cfg, 1700000000, -1, false, extNone)
	require.NoError(t, err)
	assert.Contains(t, name, "wdcap-telescope1-1700000000")
}

func TestRenderFilenameThreadSuffix(t *testing.T) {
	cfg := testConfig()
	name, err := renderFilename(cfg, 1700000000, 3, true, extNone)
	require.NoError(t, err)
	assert.True(t, strings.HasPrefix(name, "pcapfile:"))
	assert.True(t, strings.HasSuffix(name, "--3"))
}

func TestRenderFilenameSentinelSuffix(t *testing.T) {
	cfg := testConfig()
	done, err := renderFilename(cfg, 1700000000, -1, false, extDone)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(done, ".done"))

	stats, err := renderFilename(cfg, 1700000000, -1, false, extStats)
	require.NoError(t, err)
	assert.True(t, strings.HasSuffix(stats, ".stats"))
}

func TestRenderFilenameOverflow(t *testing.T) {
	cfg := testConfig()
	cfg.Template = strings.Repeat("%m", 6000)
	cfg.MonitorID = strings.Repeat("x", 10)
	_, err := renderFilename(cfg, 1700000000, -1, false, extNone)
	assert.ErrorIs(t, err, ErrFilenameOverflow)
}

func TestRenderFilenameUnknownTokenLeftForStrftime(t *testing.T) {
	cfg := testConfig()
	cfg.Template = "/traces/%Y/%m-token-%P"
	name, err := renderFilename(cfg, 1700000000, -1, false, extNone)
	require.NoError(t, err)
	// %m is a custom token (monitor id), so it must not reach strftime as
	// "minutes"; %Y is untouched by pass one and must be expanded by the
	// strftime pass into a four digit year.
	assert.Contains(t, name, "telescope1-token-wdcap")
	assert.NotContains(t, name, "%Y")
}

// Rendering the same interval start twice must always produce the same
// filename: the algorithm is a pure function of its inputs.
func TestRenderFilenameIsDeterministic(t *testing.T) {
	rapid.Check(t, func(rt *rapid.T) {
		cfg := testConfig()
		cfg.Template = rapid.SampledFrom([]string{
			"/traces/%P-%s", "/traces/%m/%Y%m%d-%s", "/traces/%X/%s.%X",
		}).Draw(rt, "template")
		ts := rapid.Uint32Range(0, 2000000000).Draw(rt, "ts")
		threadID := rapid.IntRange(-1, 7).Draw(rt, "thread")

		a, errA := renderFilename(cfg, ts, threadID, false, extNone)
		b, errB := renderFilename(cfg, ts, threadID, false, extNone)
		if errA != nil || errB != nil {
			return
		}
		assert.Equal(rt, a, b)
	})
}
