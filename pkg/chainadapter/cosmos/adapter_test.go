package cosmos

import (
	"encoding/base64"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/timewave-computer/almanac-sub002/pkg/event"
)

func newTestServer(t *testing.T) *httptest.Server {
	t.Helper()
	mux := http.NewServeMux()
	mux.HandleFunc("/status", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"sync_info":{"latest_block_height":"42"}}}`))
	})
	mux.HandleFunc("/block", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte(`{"result":{"block_id":{"hash":"H42"},"block":{"header":{"height":"42","time":"2024-01-01T00:00:00Z"},"last_commit":{"block_id":{"hash":"H41"}}}}}`))
	})
	mux.HandleFunc("/block_results", func(w http.ResponseWriter, r *http.Request) {
		key := base64.StdEncoding.EncodeToString([]byte("recipient"))
		value := base64.StdEncoding.EncodeToString([]byte("noble1abc"))
		w.Write([]byte(`{"result":{"height":"42","txs_results":[{"events":[{"type":"transfer","attributes":[{"key":"` + key + `","value":"` + value + `","index":true}]}]}]}}`))
	})
	return httptest.NewServer(mux)
}

func TestGetLatestBlock(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	a := New(Config{ChainID: "noble-1", RPCURL: srv.URL})
	block, err := a.GetLatestBlock(t.Context())
	require.NoError(t, err)
	require.Equal(t, uint64(42), block.Number)
	require.Equal(t, "H42", block.Hash)
	require.Equal(t, "H41", block.ParentHash)
}

func TestGetEventsDecodesBase64Attributes(t *testing.T) {
	srv := newTestServer(t)
	defer srv.Close()

	a := New(Config{ChainID: "noble-1", RPCURL: srv.URL})
	events, err := a.GetEvents(t.Context(), event.Filter{BlockRange: &[2]uint64{42, 42}})
	require.NoError(t, err)
	require.Len(t, events, 1)

	ev := events[0]
	require.Equal(t, "token_transfer", ev.EventType)

	payload, ok := ev.Payload.(event.CosmosPayload)
	require.True(t, ok)
	require.Equal(t, "recipient", payload.Attributes[0].Key)
	require.Equal(t, "noble1abc", payload.Attributes[0].Value)
}
