// Package format maps a download's Content-Type to the short format tag
// the stream operation passes on to the reserver and to ffmpeg's -f flag.
// Grounded on the calendar/records/prerecordings trio all returning raw
// audio with a Content-Type header and nothing else to go on.
package format

import "fmt"

// UnexpectedFormatError is returned by Lookup when contentType has no
// known tag.
type UnexpectedFormatError struct{ ContentType string }

func (e *UnexpectedFormatError) Error() string {
	return fmt.Sprintf("unexpected content type %q", e.ContentType)
}

var byContentType = map[string]string{
	"audio/ogg": "ogg",
}

// Lookup resolves a MIME content type to a format tag.
func Lookup(contentType string) (string, error) {
	tag, ok := byContentType[contentType]
	if !ok {
		return "", &UnexpectedFormatError{ContentType: contentType}
	}
	return tag, nil
}
