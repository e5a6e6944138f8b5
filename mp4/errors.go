package mp4

import "errors"

var (
	errShortBox           = errors.New("box payload truncated")
	errMalformedBox       = errors.New("malformed box header")
	errNoSPS              = errors.New("avcC contains no SPS")
	errBadSampleRate      = errors.New("unsupported AAC sample rate index")
	errNoASC              = errors.New("esds contains no AudioSpecificConfig")
	errMissingBox         = errors.New("required box missing")
	errNoTracks           = errors.New("moov contains no tracks")
	errUnsupportedHandler = errors.New("unsupported track handler type")
	errUnknownTrack       = errors.New("traf references unknown track ID")
	errSampleOverrun      = errors.New("trun sample data overruns mdat")
)
