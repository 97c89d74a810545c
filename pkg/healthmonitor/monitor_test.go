package healthmonitor

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseHealthCheck(t *testing.T) {
	spec := map[string]any{
		"health_check": map[string]any{
			"type": "http",
			"path": "/wp-admin/install.php",
			"port": float64(80),
		},
	}
	hc := parseHealthCheck(spec)
	assert.Equal(t, "http", hc.Type)
	assert.Equal(t, "/wp-admin/install.php", hc.Path)
	assert.Equal(t, 80, hc.Port)
}

func TestParseHealthCheckMissingBlock(t *testing.T) {
	hc := parseHealthCheck(map[string]any{"name": "web"})
	assert.Equal(t, "", hc.Type)
	assert.Equal(t, 0, hc.Port)
}

func TestResolvePortExplicit(t *testing.T) {
	ports := map[string]string{"80/tcp": "127.0.0.1:34567", "443/tcp": "127.0.0.1:34568"}
	addr, ok := resolvePort(ports, 80)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:34567", addr)

	_, ok = resolvePort(ports, 9000)
	assert.False(t, ok)
}

func TestResolvePortSingleMapping(t *testing.T) {
	ports := map[string]string{"3306/tcp": "127.0.0.1:34569"}
	addr, ok := resolvePort(ports, 0)
	assert.True(t, ok)
	assert.Equal(t, "127.0.0.1:34569", addr)
}

func TestResolvePortNoMappings(t *testing.T) {
	_, ok := resolvePort(map[string]string{}, 0)
	assert.False(t, ok)
}

func TestToInt(t *testing.T) {
	assert.Equal(t, 80, toInt(float64(80)))
	assert.Equal(t, 443, toInt("443"))
	assert.Equal(t, 0, toInt("not-a-number"))
	assert.Equal(t, 0, toInt(nil))
}

func TestSplitCommand(t *testing.T) {
	assert.Nil(t, splitCommand(""))
	assert.Equal(t, []string{"/bin/sh", "-c", "curl -f localhost"}, splitCommand("curl -f localhost"))
}

func TestResultLabel(t *testing.T) {
	assert.Equal(t, "healthy", resultLabel(true))
	assert.Equal(t, "unhealthy", resultLabel(false))
}
