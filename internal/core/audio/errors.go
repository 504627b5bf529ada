package audio

import (
	"errors"
	"fmt"
)

// ErrTranscodeBusy means the transcode missed its deadline while the session was still live.
var ErrTranscodeBusy = errors.New("audio: transcode deadline exceeded")

// UnsupportedCodecError reports a conversion with no mapping on either side.
// It is never retried.
type UnsupportedCodecError struct {
	From Format
	To   Format
}

func (e *UnsupportedCodecError) Error() string {
	return fmt.Sprintf("audio: unsupported conversion %s -> %s", e.From, e.To)
}

func IsUnsupported(err error) bool {
	var uc *UnsupportedCodecError
	return errors.As(err, &uc)
}
