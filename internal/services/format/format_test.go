package format_test

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/radio-aktywne/mantis/internal/services/format"
)

func TestLookupKnownContentType(t *testing.T) {
	tag, err := format.Lookup("audio/ogg")
	require.NoError(t, err)
	assert.Equal(t, "ogg", tag)
}

func TestLookupUnknownContentType(t *testing.T) {
	_, err := format.Lookup("audio/flac")
	require.Error(t, err)

	var unexpected *format.UnexpectedFormatError
	require.ErrorAs(t, err, &unexpected)
	assert.Equal(t, "audio/flac", unexpected.ContentType)
}
