package media

import (
	"fmt"
	"net/url"

	"github.com/pion/sdp/v3"
)

// BuildDescription renders the local audio/video endpoints as an SDP body
// for outbound setup and connect requests. Pass a zero video endpoint for
// audio-only calls.
func BuildDescription(sessionName string, audio, video Endpoint) (string, error) {
	if audio.IsZero() {
		return "", fmt.Errorf("media: audio endpoint required")
	}
	desc := sdp.SessionDescription{
		Origin: sdp.Origin{
			Username:       "-",
			SessionID:      1,
			SessionVersion: 1,
			NetworkType:    "IN",
			AddressType:    "IP4",
			UnicastAddress: audio.Addr,
		},
		SessionName: sdp.SessionName(sessionName),
		ConnectionInformation: &sdp.ConnectionInformation{
			NetworkType: "IN",
			AddressType: "IP4",
			Address:     &sdp.Address{Address: audio.Addr},
		},
		TimeDescriptions: []sdp.TimeDescription{{}},
	}
	desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
		MediaName: sdp.MediaName{
			Media:   "audio",
			Port:    sdp.RangedPort{Value: audio.Port},
			Protos:  []string{"RTP", "AVP"},
			Formats: []string{"0"},
		},
	})
	if !video.IsZero() {
		desc.MediaDescriptions = append(desc.MediaDescriptions, &sdp.MediaDescription{
			MediaName: sdp.MediaName{
				Media:   "video",
				Port:    sdp.RangedPort{Value: video.Port},
				Protos:  []string{"RTP", "AVP"},
				Formats: []string{"96"},
			},
		})
	}
	body, err := desc.Marshal()
	if err != nil {
		return "", err
	}
	return string(body), nil
}

// ParseDescription extracts the remote audio/video endpoints from an SDP
// body carried in a connect event. Absent media sections yield zero
// endpoints, not errors.
func ParseDescription(body string) (audio, video Endpoint, err error) {
	if body == "" {
		return Endpoint{}, Endpoint{}, nil
	}
	var desc sdp.SessionDescription
	if err = desc.UnmarshalString(body); err != nil {
		return Endpoint{}, Endpoint{}, fmt.Errorf("media: parse description: %w", err)
	}

	addr := ""
	if desc.ConnectionInformation != nil && desc.ConnectionInformation.Address != nil {
		addr = desc.ConnectionInformation.Address.Address
	}

	for _, m := range desc.MediaDescriptions {
		mediaAddr := addr
		if m.ConnectionInformation != nil && m.ConnectionInformation.Address != nil {
			mediaAddr = m.ConnectionInformation.Address.Address
		}
		ep := Endpoint{Addr: mediaAddr, Port: m.MediaName.Port.Value}
		switch m.MediaName.Media {
		case "audio":
			audio = ep
		case "video":
			video = ep
		}
	}
	return audio, video, nil
}

// EndpointURI renders an endpoint as an rtp:// URI for logging and records.
func EndpointURI(e Endpoint) string {
	u := url.URL{Scheme: "rtp", Host: e.String()}
	return u.String()
}
