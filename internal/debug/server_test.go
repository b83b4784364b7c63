package debug

import (
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/roach88/oplog/internal/model"
	"github.com/roach88/oplog/internal/testutil"
)

type rawResponse struct {
	JSONRPC string          `json:"jsonrpc"`
	ID      json.RawMessage `json:"id"`
	Result  json.RawMessage `json:"result"`
	Error   *RPCError       `json:"error"`
}

func dial(t *testing.T, ts *httptest.Server) *websocket.Conn {
	t.Helper()
	url := "ws" + strings.TrimPrefix(ts.URL, "http") + Path
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { _ = conn.Close() })
	return conn
}

func call(t *testing.T, conn *websocket.Conn, id int, method string, params any) rawResponse {
	t.Helper()
	req := map[string]any{"jsonrpc": "2.0", "id": id, "method": method}
	if params != nil {
		req["params"] = params
	}
	require.NoError(t, conn.WriteJSON(req))

	var resp rawResponse
	require.NoError(t, conn.ReadJSON(&resp))
	assert.Equal(t, "2.0", resp.JSONRPC)
	assert.JSONEq(t, strings.TrimSpace(string(mustJSON(t, id))), string(resp.ID))
	return resp
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	data, err := json.Marshal(v)
	require.NoError(t, err)
	return data
}

func newTestServer(t *testing.T) (*httptest.Server, *Debugger, *testutil.Entries) {
	t.Helper()
	live := newLiveService(t)
	b := testutil.NewEntries()
	seed(t, live, b, testutil.Worker("debuggee"), invocations(b)...)

	d := NewDebugger(live, NewSessions())
	ts := httptest.NewServer(NewServer(d, testutil.Environment).Handler())
	t.Cleanup(ts.Close)
	return ts, d, b
}

func TestServer_Session(t *testing.T) {
	ts, d, b := newTestServer(t)
	conn := dial(t, ts)

	resp := call(t, conn, 1, "current_oplog_index", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInternalError, resp.Error.Code)

	resp = call(t, conn, 2, "connect", map[string]any{"worker_id": "test-component:debuggee"})
	require.Nil(t, resp.Error)
	var connected ConnectResult
	require.NoError(t, json.Unmarshal(resp.Result, &connected))
	assert.Equal(t, "test-component:debuggee", connected.WorkerID)

	override, err := model.EncodeEntry(b.Log("patched"))
	require.NoError(t, err)
	resp = call(t, conn, 3, "playback", map[string]any{
		"target_index": 5,
		"overrides":    []map[string]any{{"index": 8, "oplog": json.RawMessage(override)}},
	})
	require.Nil(t, resp.Error)
	var played PlaybackResult
	require.NoError(t, json.Unmarshal(resp.Result, &played))
	assert.Equal(t, model.OplogIndex(5), played.CurrentIndex)

	resp = call(t, conn, 4, "current_oplog_index", nil)
	require.Nil(t, resp.Error)
	assert.Equal(t, "5", string(resp.Result))

	resp = call(t, conn, 5, "rewind", map[string]any{"target_index": 9})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeValidation, resp.Error.Code)

	resp = call(t, conn, 6, "fork", map[string]any{"target_worker_id": "test-component:copy", "oplog_index_cut_off": 4})
	require.Nil(t, resp.Error)

	resp = call(t, conn, 7, "connect", map[string]any{"worker_id": "test-component:debuggee"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeConflict, resp.Error.Code)

	require.Equal(t, 1, d.sessions.Len())
	require.NoError(t, conn.Close())
	assert.Eventually(t, func() bool { return d.sessions.Len() == 0 }, 2*time.Second, 10*time.Millisecond)
}

func TestServer_ProtocolErrors(t *testing.T) {
	ts, _, _ := newTestServer(t)
	conn := dial(t, ts)

	resp := call(t, conn, 1, "no_such_method", nil)
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeMethodNotFound, resp.Error.Code)

	resp = call(t, conn, 2, "connect", map[string]any{"worker_id": "no-colon"})
	require.NotNil(t, resp.Error)
	assert.Equal(t, CodeInvalidParams, resp.Error.Code)

	require.NoError(t, conn.WriteMessage(websocket.TextMessage, []byte("{not json")))
	var raw rawResponse
	require.NoError(t, conn.ReadJSON(&raw))
	require.NotNil(t, raw.Error)
	assert.Equal(t, CodeParseError, raw.Error.Code)
}
