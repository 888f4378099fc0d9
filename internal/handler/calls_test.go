package handlers

import (
	"bytes"
	"context"
	"encoding/json"
	"io"
	"log"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	glog "gorm.io/gorm/logger"

	"github.com/code-100-precent/TrunkEcho/internal/models"
	"github.com/code-100-precent/TrunkEcho/pkg/call"
	"github.com/code-100-precent/TrunkEcho/pkg/events"
	"github.com/code-100-precent/TrunkEcho/pkg/media"
	"github.com/code-100-precent/TrunkEcho/pkg/signaling"
)

// nullRequester accepts every outbound request.
type nullRequester struct{ next signaling.Handle }

func (n *nullRequester) ok() (signaling.Handle, error) {
	n.next++
	return n.next, nil
}

func (n *nullRequester) SetupIndividual(signaling.SetupRequest) (signaling.Handle, error) {
	return n.ok()
}
func (n *nullRequester) SetupGroup(signaling.SetupRequest) (signaling.Handle, error) {
	return n.ok()
}
func (n *nullRequester) SetupBroadcast(signaling.SetupRequest) (signaling.Handle, error) {
	return n.ok()
}
func (n *nullRequester) SetupAmbience(signaling.SetupRequest) (signaling.Handle, error) {
	return n.ok()
}
func (n *nullRequester) Connect(uint32, string) (signaling.Handle, error)  { return n.ok() }
func (n *nullRequester) TxDemand(uint32, int) (signaling.Handle, error)    { return n.ok() }
func (n *nullRequester) TxCeased(uint32) (signaling.Handle, error)         { return n.ok() }
func (n *nullRequester) Disconnect(uint32, signaling.Cause) (signaling.Handle, error) {
	return n.ok()
}
func (n *nullRequester) ListenConnect(signaling.Party) (signaling.Handle, error) { return n.ok() }
func (n *nullRequester) ListenDisconnect(uint32) (signaling.Handle, error)       { return n.ok() }
func (n *nullRequester) SsicInvoke(signaling.Party) (signaling.Handle, error)    { return n.ok() }
func (n *nullRequester) SsicDisconnect(uint32) (signaling.Handle, error)         { return n.ok() }

func setupTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	silentLogger := glog.New(
		log.New(io.Discard, "", log.LstdFlags),
		glog.Config{LogLevel: glog.Silent, IgnoreRecordNotFoundError: true},
	)
	db, err := gorm.Open(sqlite.Open(":memory:"), &gorm.Config{Logger: silentLogger})
	require.NoError(t, err)
	require.NoError(t, db.AutoMigrate(&models.CallHistory{}, &models.PTTSegment{}))
	return db
}

func setupRouter(t *testing.T) (*gin.Engine, *gorm.DB) {
	t.Helper()
	gin.SetMode(gin.TestMode)

	db := setupTestDB(t)
	bus := events.NewBus()
	sub := call.NewSubsystem("console-1", &nullRequester{}, noopAudio{}, nil,
		models.NewDBRecorder(db), bus, call.Tunables{})
	dispatcher := call.NewDispatcher(sub, nil)

	ctx, cancel := context.WithCancel(context.Background())
	go dispatcher.Run(ctx)
	t.Cleanup(cancel)

	r := gin.New()
	NewHandlers(db, dispatcher, bus, t.TempDir()).RegisterRoutes(r, "/api", "/monitor")
	return r, db
}

// noopAudio satisfies the audio router without touching the network.
type noopAudio struct{}

func (noopAudio) StartRTP(party string, local, remote media.Endpoint, stats media.StatsFunc) error {
	return nil
}
func (noopAudio) StopRTP(party string)                  {}
func (noopAudio) SetActiveIn(party string, on bool)     {}
func (noopAudio) SetActiveOut(party string, on bool)    {}
func (noopAudio) HasActiveAudio() bool                  { return false }

func TestHealthCheck(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/healthz", nil)
	r.ServeHTTP(w, req)

	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "healthy")
}

func TestStartCallAndListActive(t *testing.T) {
	r, _ := setupRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"party":  "alpha-1",
		"class":  "individual_out",
		"duplex": true,
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calls", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Code int `json:"code"`
		Data struct {
			ID uint64 `json:"id"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	assert.Zero(t, resp.Code)
	assert.NotZero(t, resp.Data.ID)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/calls", nil)
	r.ServeHTTP(w, req)
	assert.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "individual_out")
}

func TestStartCallRejectsUnknownClass(t *testing.T) {
	r, _ := setupRouter(t)

	body, _ := json.Marshal(map[string]interface{}{
		"party": "alpha-1",
		"class": "no_such_class",
	})
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calls", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown call class")
}

func TestCallHistoryEndpoint(t *testing.T) {
	r, db := setupRouter(t)

	rec := models.NewDBRecorder(db)
	require.NoError(t, rec.RecordCall(call.CompletedCall{
		Class:            call.ClassGroupOut,
		CallingPartyName: "console-1",
		CalledPartyName:  "tg-9",
		Duration:         12 * time.Second,
		PTTHistory:       []call.Segment{{TxParty: "console-1", Duration: 2.5}},
	}))

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodGet, "/api/history?party=tg-9", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "group_out")
	assert.Contains(t, w.Body.String(), `"total":1`)

	w = httptest.NewRecorder()
	req = httptest.NewRequest(http.MethodGet, "/api/history/1", nil)
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "console-1")
}

func TestAttachmentUploadRoundTrip(t *testing.T) {
	r, _ := setupRouter(t)

	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	fw, err := mw.CreateFormFile("file", "clip.wav")
	require.NoError(t, err)
	_, err = fw.Write([]byte("RIFF fake audio"))
	require.NoError(t, err)
	require.NoError(t, mw.Close())

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calls/1/attachments", &buf)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	r.ServeHTTP(w, req)
	require.Equal(t, http.StatusOK, w.Code)

	var resp struct {
		Data struct {
			JobID string `json:"jobId"`
		} `json:"data"`
	}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &resp))
	require.NotEmpty(t, resp.Data.JobID)

	// Poll until the worker finishes the copy.
	deadline := time.Now().Add(2 * time.Second)
	for {
		w = httptest.NewRecorder()
		req = httptest.NewRequest(http.MethodGet, "/api/attachments/"+resp.Data.JobID, nil)
		r.ServeHTTP(w, req)
		require.Equal(t, http.StatusOK, w.Code)
		if !bytes.Contains(w.Body.Bytes(), []byte(`"running"`)) {
			assert.Contains(t, w.Body.String(), `"done"`)
			assert.Contains(t, w.Body.String(), "clip.wav")
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("transfer did not finish: %s", w.Body.String())
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestHangupUnknownSession(t *testing.T) {
	r, _ := setupRouter(t)

	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/api/calls/999/hangup", nil)
	r.ServeHTTP(w, req)

	require.Equal(t, http.StatusOK, w.Code)
	assert.Contains(t, w.Body.String(), "unknown session")
}
