package signaling

import (
	"bufio"
	"encoding/json"
	"net"
	"sync"
	"time"

	"github.com/sirupsen/logrus"
)

// frame is the wire envelope: one JSON object per line.
type frame struct {
	Kind string          `json:"kind"`
	Body json.RawMessage `json:"body"`
}

// request is the outbound envelope carrying the context handle.
type request struct {
	Kind   string      `json:"kind"`
	Handle Handle      `json:"handle"`
	Body   interface{} `json:"body"`
}

// Link is the network session layer: a line-delimited JSON connection to
// the switch. Outbound requests implement Requester; inbound frames are
// decoded into Events and handed to the sink. A broken connection fires
// the down callback exactly once.
type Link struct {
	conn net.Conn

	mu         sync.Mutex
	enc        *json.Encoder
	nextHandle Handle
	closed     bool

	onEvent func(Event)
	onDown  func()
}

// Dial connects to the switch and starts the read loop.
func Dial(addr string, timeout time.Duration, onEvent func(Event), onDown func()) (*Link, error) {
	conn, err := net.DialTimeout("tcp", addr, timeout)
	if err != nil {
		return nil, err
	}
	l := NewLink(conn, onEvent, onDown)
	logrus.WithField("addr", addr).Info("Signaling link established")
	return l, nil
}

// NewLink wraps an established connection (tests use net.Pipe).
func NewLink(conn net.Conn, onEvent func(Event), onDown func()) *Link {
	l := &Link{
		conn:    conn,
		enc:     json.NewEncoder(conn),
		onEvent: onEvent,
		onDown:  onDown,
	}
	go l.readLoop()
	return l
}

// Close tears the connection down without firing the down callback.
func (l *Link) Close() error {
	l.mu.Lock()
	l.closed = true
	l.mu.Unlock()
	return l.conn.Close()
}

func (l *Link) readLoop() {
	scanner := bufio.NewScanner(l.conn)
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := scanner.Bytes()
		if len(line) == 0 {
			continue
		}
		ev, err := decodeEvent(line)
		if err != nil {
			logrus.WithError(err).Warn("Undecodable signaling frame dropped")
			continue
		}
		l.onEvent(ev)
	}

	l.mu.Lock()
	wasClosed := l.closed
	l.closed = true
	l.mu.Unlock()
	if !wasClosed {
		logrus.WithError(scanner.Err()).Warn("Signaling link lost")
		if l.onDown != nil {
			l.onDown()
		}
	}
}

func decodeEvent(line []byte) (Event, error) {
	var f frame
	if err := json.Unmarshal(line, &f); err != nil {
		return nil, err
	}

	var ev Event
	switch f.Kind {
	case "CallSetup":
		ev = &CallSetup{}
	case "CallProceeding":
		ev = &CallProceeding{}
	case "CallAlert":
		ev = &CallAlert{}
	case "CallConnect":
		ev = &CallConnect{}
	case "CallInfo":
		ev = &CallInfo{}
	case "CallTxGranted":
		ev = &CallTxGranted{}
	case "CallTxCeased":
		ev = &CallTxCeased{}
	case "CallRelease":
		ev = &CallRelease{}
	case "MonSetup":
		ev = &MonSetup{}
	case "MonConnect":
		ev = &MonConnect{}
	case "MonDisconnect":
		ev = &MonDisconnect{}
	case "SsicIncl":
		ev = &SsicIncl{}
	case "SsicRelease":
		ev = &SsicRelease{}
	case "ListenConnect":
		ev = &ListenConnect{}
	case "ListenRelease":
		ev = &ListenRelease{}
	default:
		return nil, &UnknownKindError{Kind: f.Kind}
	}
	if err := json.Unmarshal(f.Body, ev); err != nil {
		return nil, err
	}
	return deref(ev), nil
}

// deref returns the value event so the dispatcher can type-switch on
// concrete structs.
func deref(ev Event) Event {
	switch e := ev.(type) {
	case *CallSetup:
		return *e
	case *CallProceeding:
		return *e
	case *CallAlert:
		return *e
	case *CallConnect:
		return *e
	case *CallInfo:
		return *e
	case *CallTxGranted:
		return *e
	case *CallTxCeased:
		return *e
	case *CallRelease:
		return *e
	case *MonSetup:
		return *e
	case *MonConnect:
		return *e
	case *MonDisconnect:
		return *e
	case *SsicIncl:
		return *e
	case *SsicRelease:
		return *e
	case *ListenConnect:
		return *e
	case *ListenRelease:
		return *e
	default:
		return ev
	}
}

// UnknownKindError reports an unrecognized frame kind.
type UnknownKindError struct {
	Kind string
}

func (e *UnknownKindError) Error() string {
	return "signaling: unknown frame kind " + e.Kind
}

func (l *Link) send(kind string, body interface{}) (Handle, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.closed {
		return 0, ErrNoTransport
	}
	l.nextHandle++
	h := l.nextHandle
	if err := l.enc.Encode(request{Kind: kind, Handle: h, Body: body}); err != nil {
		return 0, err
	}
	return h, nil
}

type callRef struct {
	CallID uint32 `json:"callId"`
}

type txDemandBody struct {
	CallID   uint32 `json:"callId"`
	Priority int    `json:"priority"`
}

type connectBody struct {
	CallID   uint32 `json:"callId"`
	LocalSDP string `json:"localSdp"`
}

type disconnectBody struct {
	CallID uint32 `json:"callId"`
	Cause  Cause  `json:"cause"`
}

type partyBody struct {
	Party Party `json:"party"`
}

func (l *Link) SetupIndividual(req SetupRequest) (Handle, error) {
	return l.send("SetupIndividual", req)
}

func (l *Link) SetupGroup(req SetupRequest) (Handle, error) {
	return l.send("SetupGroup", req)
}

func (l *Link) SetupBroadcast(req SetupRequest) (Handle, error) {
	return l.send("SetupBroadcast", req)
}

func (l *Link) SetupAmbience(req SetupRequest) (Handle, error) {
	return l.send("SetupAmbience", req)
}

func (l *Link) Connect(callID uint32, localSDP string) (Handle, error) {
	return l.send("Connect", connectBody{CallID: callID, LocalSDP: localSDP})
}

func (l *Link) TxDemand(callID uint32, priority int) (Handle, error) {
	return l.send("TxDemand", txDemandBody{CallID: callID, Priority: priority})
}

func (l *Link) TxCeased(callID uint32) (Handle, error) {
	return l.send("TxCeased", callRef{CallID: callID})
}

func (l *Link) Disconnect(callID uint32, cause Cause) (Handle, error) {
	return l.send("Disconnect", disconnectBody{CallID: callID, Cause: cause})
}

func (l *Link) ListenConnect(target Party) (Handle, error) {
	return l.send("ListenConnect", partyBody{Party: target})
}

func (l *Link) ListenDisconnect(callID uint32) (Handle, error) {
	return l.send("ListenDisconnect", callRef{CallID: callID})
}

func (l *Link) SsicInvoke(group Party) (Handle, error) {
	return l.send("SsicInvoke", partyBody{Party: group})
}

func (l *Link) SsicDisconnect(callID uint32) (Handle, error) {
	return l.send("SsicDisconnect", callRef{CallID: callID})
}
