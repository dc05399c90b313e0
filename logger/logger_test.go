package logger

import (
	"bytes"
	"strings"
	"testing"

	"github.com/sirupsen/logrus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLineFormatterRendersSortedFields(t *testing.T) {
	var out bytes.Buffer
	l := build(Config{Level: "debug"}, &out, &bytes.Buffer{})

	l.WithFields(logrus.Fields{"path": "/a.txt", "op": "write"}).Info("applied")

	line := out.String()
	require.Contains(t, line, "INFO applied")
	assert.Less(t, strings.Index(line, "op=write"), strings.Index(line, "path=/a.txt"))
	assert.True(t, strings.HasSuffix(line, "\n"))
}

func TestErrorMirrorDuplicatesOnlyErrorEntries(t *testing.T) {
	var out, errOut bytes.Buffer
	l := build(Config{}, &out, &errOut)

	l.Info("quiet line")
	l.Error("loud line")

	assert.Contains(t, out.String(), "quiet line")
	assert.Contains(t, out.String(), "loud line")
	assert.Contains(t, errOut.String(), "loud line")
	assert.NotContains(t, errOut.String(), "quiet line")
}

func TestParseLevelFallsBackToInfo(t *testing.T) {
	assert.Equal(t, logrus.InfoLevel, parseLevel(""))
	assert.Equal(t, logrus.InfoLevel, parseLevel("bogus"))
	assert.Equal(t, logrus.DebugLevel, parseLevel("debug"))
}
