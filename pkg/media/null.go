package media

// NullVideo is a VideoStreamer for consoles without video hardware.
type NullVideo struct{}

func (NullVideo) StartVideo(string, Endpoint, Endpoint) error { return nil }
func (NullVideo) StopVideo(string)                            {}
func (NullVideo) SetPreview(bool)                             {}

// NullSink discards incoming audio. Used when no playback device is bound.
type NullSink struct{}

func (NullSink) PlayFrame(string, []byte) {}
