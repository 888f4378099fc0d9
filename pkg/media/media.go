package media

import "fmt"

// Endpoint is one side of an RTP stream: network address plus the optional
// media encryption key. A zero Port means the endpoint is absent.
type Endpoint struct {
	Addr string
	Port int
	Key  []byte
}

// IsZero reports whether the endpoint is unset.
func (e Endpoint) IsZero() bool { return e.Port == 0 }

func (e Endpoint) String() string {
	return fmt.Sprintf("%s:%d", e.Addr, e.Port)
}

// Stats is a periodic RTP stream statistics sample.
type Stats struct {
	PacketsIn  uint64
	PacketsOut uint64
	BytesIn    uint64
	BytesOut   uint64
}

// StatsFunc receives periodic stream statistics.
type StatsFunc func(party string, stats Stats)

// AudioRouter binds call sessions to the audio device plane. Exactly one
// stream per party; the floor controller guarantees at most one stream has
// outgoing audio enabled.
type AudioRouter interface {
	StartRTP(party string, local, remote Endpoint, stats StatsFunc) error
	StopRTP(party string)
	SetActiveIn(party string, enabled bool)
	SetActiveOut(party string, enabled bool)
	HasActiveAudio() bool
}

// VideoStreamer is the analogous collaborator for video-capable calls.
type VideoStreamer interface {
	StartVideo(party string, local, remote Endpoint) error
	StopVideo(party string)
	SetPreview(enabled bool)
}

// DeviceSink receives decoded incoming audio payloads for playback.
type DeviceSink interface {
	PlayFrame(party string, payload []byte)
}
