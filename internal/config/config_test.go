package config

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestParseEnvFileOverridesDefaults(t *testing.T) {
	cfg := &LinkConfig{Channel: 80, DataRate: "2M", LinkTimeout: 500 * time.Millisecond, LinkAttempts: 5}

	content := "CRTP_URI=radio://0/80/2M/E7E7E7E7E7\n" +
		"# a comment\n" +
		"CRTP_CHANNEL=100\n" +
		"CRTP_SAFE_LINK=true\n" +
		"CRTP_LINK_TIMEOUT_MS=750\n"

	parseEnvFile(content, cfg)

	assert.Equal(t, "radio://0/80/2M/E7E7E7E7E7", cfg.URI)
	assert.Equal(t, 100, cfg.Channel)
	assert.True(t, cfg.SafeLink)
	assert.Equal(t, 750*time.Millisecond, cfg.LinkTimeout)
	assert.Equal(t, "2M", cfg.DataRate)
}

func TestParseEnvFileIgnoresMalformedLines(t *testing.T) {
	cfg := &LinkConfig{}
	parseEnvFile("not-a-valid-line\nCRTP_URI=radio://0/80/2M\n\n", cfg)
	assert.Equal(t, "radio://0/80/2M", cfg.URI)
}

func TestIsTruthy(t *testing.T) {
	assert.True(t, isTruthy("true"))
	assert.True(t, isTruthy("YES"))
	assert.True(t, isTruthy("1"))
	assert.False(t, isTruthy("false"))
	assert.False(t, isTruthy(""))
}
