package signaling

import (
	"errors"

	"github.com/sirupsen/logrus"
)

// Handle is the positive context handle returned by the session layer for an
// accepted outbound request.
type Handle int64

var (
	// ErrNoTransport means the network session layer is not available.
	ErrNoTransport = errors.New("signaling: transport unavailable")
	// ErrRejected means the session layer rejected the request locally.
	ErrRejected = errors.New("signaling: request rejected")
)

// SetupRequest carries the parameters of an outgoing call setup.
type SetupRequest struct {
	CalledParty Party
	Priority    int
	Duplex      bool
	Hook        bool
	E2EE        bool
	LocalSDP    string // local RTP endpoint description
}

// Requester sends outbound signaling requests. Implemented by the network
// session layer; requests are fire-and-forget, responses arrive later as
// inbound Events.
type Requester interface {
	SetupIndividual(req SetupRequest) (Handle, error)
	SetupGroup(req SetupRequest) (Handle, error)
	SetupBroadcast(req SetupRequest) (Handle, error)
	SetupAmbience(req SetupRequest) (Handle, error)

	// Connect answers an inbound call.
	Connect(callID uint32, localSDP string) (Handle, error)

	TxDemand(callID uint32, priority int) (Handle, error)
	TxCeased(callID uint32) (Handle, error)

	Disconnect(callID uint32, cause Cause) (Handle, error)

	ListenConnect(target Party) (Handle, error)
	ListenDisconnect(callID uint32) (Handle, error)

	SsicInvoke(group Party) (Handle, error)
	SsicDisconnect(callID uint32) (Handle, error)
}

// LogRequests wraps a Requester so every outbound request is logged.
func LogRequests(next Requester) Requester {
	return &loggingRequester{next: next}
}

type loggingRequester struct {
	next Requester
}

func (l *loggingRequester) log(op string, fields logrus.Fields, h Handle, err error) {
	entry := logrus.WithFields(fields).WithField("op", op)
	if err != nil {
		entry.WithError(err).Warn("Outbound signaling request failed")
		return
	}
	entry.WithField("handle", int64(h)).Debug("Outbound signaling request sent")
}

func (l *loggingRequester) SetupIndividual(req SetupRequest) (Handle, error) {
	h, err := l.next.SetupIndividual(req)
	l.log("setup_individual", logrus.Fields{"called": req.CalledParty.String(), "priority": req.Priority}, h, err)
	return h, err
}

func (l *loggingRequester) SetupGroup(req SetupRequest) (Handle, error) {
	h, err := l.next.SetupGroup(req)
	l.log("setup_group", logrus.Fields{"called": req.CalledParty.String(), "priority": req.Priority}, h, err)
	return h, err
}

func (l *loggingRequester) SetupBroadcast(req SetupRequest) (Handle, error) {
	h, err := l.next.SetupBroadcast(req)
	l.log("setup_broadcast", logrus.Fields{"called": req.CalledParty.String(), "priority": req.Priority}, h, err)
	return h, err
}

func (l *loggingRequester) SetupAmbience(req SetupRequest) (Handle, error) {
	h, err := l.next.SetupAmbience(req)
	l.log("setup_ambience", logrus.Fields{"called": req.CalledParty.String()}, h, err)
	return h, err
}

func (l *loggingRequester) Connect(callID uint32, localSDP string) (Handle, error) {
	h, err := l.next.Connect(callID, localSDP)
	l.log("connect", logrus.Fields{"call_id": callID}, h, err)
	return h, err
}

func (l *loggingRequester) TxDemand(callID uint32, priority int) (Handle, error) {
	h, err := l.next.TxDemand(callID, priority)
	l.log("tx_demand", logrus.Fields{"call_id": callID, "priority": priority}, h, err)
	return h, err
}

func (l *loggingRequester) TxCeased(callID uint32) (Handle, error) {
	h, err := l.next.TxCeased(callID)
	l.log("tx_ceased", logrus.Fields{"call_id": callID}, h, err)
	return h, err
}

func (l *loggingRequester) Disconnect(callID uint32, cause Cause) (Handle, error) {
	h, err := l.next.Disconnect(callID, cause)
	l.log("disconnect", logrus.Fields{"call_id": callID, "cause": string(cause)}, h, err)
	return h, err
}

func (l *loggingRequester) ListenConnect(target Party) (Handle, error) {
	h, err := l.next.ListenConnect(target)
	l.log("listen_connect", logrus.Fields{"target": target.String()}, h, err)
	return h, err
}

func (l *loggingRequester) ListenDisconnect(callID uint32) (Handle, error) {
	h, err := l.next.ListenDisconnect(callID)
	l.log("listen_disconnect", logrus.Fields{"call_id": callID}, h, err)
	return h, err
}

func (l *loggingRequester) SsicInvoke(group Party) (Handle, error) {
	h, err := l.next.SsicInvoke(group)
	l.log("ssic_invoke", logrus.Fields{"group": group.String()}, h, err)
	return h, err
}

func (l *loggingRequester) SsicDisconnect(callID uint32) (Handle, error) {
	h, err := l.next.SsicDisconnect(callID)
	l.log("ssic_disconnect", logrus.Fields{"call_id": callID}, h, err)
	return h, err
}
