package transfer

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestConfigDefaults(t *testing.T) {
	var c Config
	assert.Equal(t, defaultConnectionsPerHost, c.connectionsPerHost())
	assert.Equal(t, defaultInitialSegments, c.initialSegments())
	assert.Equal(t, defaultRequestTimeout, c.requestTimeout())
	assert.Equal(t, defaultMaxRetries, c.maxRetries())
	assert.Equal(t, defaultAdaptInterval, c.adaptInterval())
	assert.Equal(t, int64(defaultChunkSize), c.chunkSize())
}

func TestConfigConnectionsPerHostRespectsHardCap(t *testing.T) {
	c := Config{ConnectionsPerHost: 1000}
	assert.Equal(t, hardConnectionsPerHostCap, c.connectionsPerHost())
}

func TestConfigUnsafeCapRaisesCeiling(t *testing.T) {
	c := Config{ConnectionsPerHost: 48, UnsafeCap: 64}
	assert.Equal(t, 48, c.connectionsPerHost())

	c2 := Config{ConnectionsPerHost: 1000, UnsafeCap: 64}
	assert.Equal(t, 64, c2.connectionsPerHost())
}

func TestConfigExplicitOverrides(t *testing.T) {
	c := Config{
		RequestTimeout: 5 * time.Second,
		MaxRetries:     2,
		AdaptInterval:  time.Second,
		ChunkSize:      1024,
	}
	assert.Equal(t, 5*time.Second, c.requestTimeout())
	assert.Equal(t, 2, c.maxRetries())
	assert.Equal(t, time.Second, c.adaptInterval())
	assert.Equal(t, int64(1024), c.chunkSize())
}
