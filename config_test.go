package munin

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestConfig_Defaults(t *testing.T) {
	cfg := NewConfig()
	assert.Equal(t, 512, cfg.GetInt("vm.stack_depth"))
	assert.Equal(t, 128, cfg.GetInt("vm.frame_depth"))
	assert.Equal(t, 256, cfg.GetInt("vm.mark_depth"))
	assert.Equal(t, 4096, cfg.GetInt("gc.threshold"))
	assert.False(t, cfg.GetBool("vm.trace"))
}

func TestConfig_SetOverridesDefault(t *testing.T) {
	cfg := NewConfig()
	cfg.SetInt("gc.threshold", 10)
	assert.Equal(t, 10, cfg.GetInt("gc.threshold"))
}

func TestConfig_TypeMismatchPanics(t *testing.T) {
	cfg := NewConfig()
	assert.Panics(t, func() {
		cfg.GetString("vm.trace")
	})
}

func TestConfig_MissingKeyPanics(t *testing.T) {
	cfg := NewConfig()
	assert.Panics(t, func() {
		cfg.GetInt("no.such.key")
	})
}

func TestConfig_ReassignDifferentTypePanics(t *testing.T) {
	cfg := NewConfig()
	(*cfg)["custom"] = &cfgVal{}
	(*cfg)["custom"].assignType(cfgValType_Int)
	assert.Panics(t, func() {
		(*cfg)["custom"].assignType(cfgValType_String)
	})
}
