package main

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestIsRemote(t *testing.T) {
	t.Parallel()

	remote := []string{"/flash", "/sdcard", "/flash/apps", "/sdcard/data/log.txt"}
	for _, p := range remote {
		assert.True(t, isRemote(p), p)
	}

	local := []string{"/flashy", "/sdcards", "/home/user/flash", "flash", "./flash", "/"}
	for _, p := range local {
		assert.False(t, isRemote(p), p)
	}
}
