package core

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestAddTag_Idempotent(t *testing.T) {
	tags, changed := AddTag(nil, "bruteforce")
	assert.True(t, changed)
	assert.Equal(t, []string{"bruteforce"}, tags)

	// add(add(x)) == add(x)
	again, changed := AddTag(tags, "bruteforce")
	assert.False(t, changed)
	assert.Equal(t, tags, again)
}

func TestRemoveTag_Idempotent(t *testing.T) {
	tags := []string{"a", "b", "c"}

	out, changed := RemoveTag(tags, "b")
	assert.True(t, changed)
	assert.Equal(t, []string{"a", "c"}, out)

	// remove(remove(x)) == remove(x)
	again, changed := RemoveTag(out, "b")
	assert.False(t, changed)
	assert.Equal(t, out, again)
}

func TestRemoveTag_AbsentIsNoOp(t *testing.T) {
	tags := []string{"a"}
	out, changed := RemoveTag(tags, "zzz")
	assert.False(t, changed)
	assert.Equal(t, tags, out)
}

func TestAddTag_EmptyIsNoOp(t *testing.T) {
	out, changed := AddTag([]string{"a"}, "")
	assert.False(t, changed)
	assert.Equal(t, []string{"a"}, out)
}

func TestHasTag(t *testing.T) {
	assert.True(t, HasTag([]string{"x", "y"}, "y"))
	assert.False(t, HasTag(nil, "y"))
}
