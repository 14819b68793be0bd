package logger

import (
	"bytes"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewRejectsUnknownLevel(t *testing.T) {
	_, err := New(Config{Level: "loud", Format: "json", Output: "stdout"})
	assert.Error(t, err)
}

func TestComponentLoggerCarriesFields(t *testing.T) {
	log, err := New(Config{Level: "debug", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	log.BalancerLogger("orders").WithField("nodes", 2).Info("installed")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	assert.Equal(t, "balancer", entry["component"])
	assert.Equal(t, "orders", entry["balancer_id"])
	assert.Equal(t, float64(2), entry["nodes"])
	assert.Equal(t, "installed", entry["msg"])
}

func TestWithFieldDoesNotLeakIntoParent(t *testing.T) {
	log, err := New(Config{Level: "info", Format: "json", Output: "stdout"})
	require.NoError(t, err)

	var buf bytes.Buffer
	log.SetOutput(&buf)

	_ = log.WithField("child", true)
	log.Info("parent")

	var entry map[string]interface{}
	require.NoError(t, json.Unmarshal(buf.Bytes(), &entry))
	_, ok := entry["child"]
	assert.False(t, ok)
}

func TestWithNilErrorIsNoop(t *testing.T) {
	log := Discard()
	assert.Same(t, log, log.WithError(nil))
}
