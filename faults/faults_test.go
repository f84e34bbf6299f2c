package faults

import (
	"testing"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
)

func TestKindOf(t *testing.T) {
	assert.Equal(t, KindConfig, KindOf(Configf("missing classes file")))
	assert.Equal(t, KindData, KindOf(Dataf("bad annotation line %d", 3)))
	assert.Equal(t, KindFramework, KindOf(Frameworkf("fit loop failed")))
	assert.Equal(t, KindInference, KindOf(Inferencef("bad image")))
	assert.Equal(t, KindUnknown, KindOf(errors.New("plain")))
	assert.Equal(t, KindUnknown, KindOf(nil))
}

func TestWrapKeepsKindThroughLayers(t *testing.T) {
	inner := Dataf("unreadable image")
	outer := Wrap(KindData, inner, "loading sample")

	assert.Equal(t, KindData, KindOf(outer))
	assert.Contains(t, outer.Error(), "loading sample")

	assert.Nil(t, Wrap(KindConfig, nil, "ignored"))
}

func TestIsFatal(t *testing.T) {
	assert.True(t, IsFatal(Configf("x")))
	assert.True(t, IsFatal(Frameworkf("x")))
	assert.False(t, IsFatal(Dataf("x")))
	assert.False(t, IsFatal(Inferencef("x")))
	assert.False(t, IsFatal(errors.New("x")))
}
