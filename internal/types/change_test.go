package types

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestChangeClassString(t *testing.T) {
	assert.Equal(t, "full", FullReload.String())
	assert.Equal(t, "style", StylePatch.String())
	assert.Equal(t, "unknown", ChangeClass(42).String())
}

func TestParseChangeClass(t *testing.T) {
	testCases := []struct {
		input    string
		expected ChangeClass
		wantErr  bool
	}{
		{"full", FullReload, false},
		{"Style", StylePatch, false},
		{"css", StylePatch, false},
		{"patch", FullReload, true},
	}

	for _, tc := range testCases {
		t.Run(tc.input, func(t *testing.T) {
			class, err := ParseChangeClass(tc.input)
			if tc.wantErr {
				assert.Error(t, err)
				return
			}
			assert.NoError(t, err)
			assert.Equal(t, tc.expected, class)
		})
	}
}

func TestClassForFile(t *testing.T) {
	assert.Equal(t, StylePatch, ClassForFile("index.css"))
	assert.Equal(t, StylePatch, ClassForFile("styles/App.CSS"))
	assert.Equal(t, FullReload, ClassForFile("index.html"))
	assert.Equal(t, FullReload, ClassForFile("bundle.js"))
}

func TestChangeEventFile(t *testing.T) {
	ev := NewChangeEvent(StylePatch, "style")
	assert.Equal(t, "index.css", ev.File())
	assert.False(t, ev.Time.IsZero())

	assert.Equal(t, "index.html", ChangeEvent{Class: FullReload}.File())
	assert.Equal(t, "app.css", ChangeEvent{Class: StylePatch, Path: "app.css"}.File())
}
