package sourcebuffer

import "errors"

var errUnknownTrackID = errors.New("media segment references an unconfigured track")
