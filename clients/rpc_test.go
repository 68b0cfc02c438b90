package clients

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
)

// rpcHandler answers one JSON-RPC method. Returning nil yields a null result.
type rpcHandler func(params json.RawMessage) (any, *rpcError)

type rpcError struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

type fakeNode struct {
	mu       sync.Mutex
	handlers map[string]rpcHandler
	calls    map[string]int
}

func (n *fakeNode) count(method string) int {
	n.mu.Lock()
	defer n.mu.Unlock()
	return n.calls[method]
}

// newFakeNode serves single JSON-RPC requests from handlers keyed by method.
func newFakeNode(t *testing.T, handlers map[string]rpcHandler) (*fakeNode, *httptest.Server) {
	t.Helper()

	node := &fakeNode{handlers: handlers, calls: map[string]int{}}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var req struct {
			ID     json.RawMessage `json:"id"`
			Method string          `json:"method"`
			Params json.RawMessage `json:"params"`
		}
		if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}

		node.mu.Lock()
		node.calls[req.Method]++
		node.mu.Unlock()

		resp := map[string]any{"jsonrpc": "2.0", "id": req.ID}
		h, ok := handlers[req.Method]
		if !ok {
			resp["error"] = rpcError{Code: -32601, Message: "method not found: " + req.Method}
		} else if result, rerr := h(req.Params); rerr != nil {
			resp["error"] = rerr
		} else {
			resp["result"] = result
		}

		w.Header().Set("Content-Type", "application/json")
		_ = json.NewEncoder(w).Encode(resp)
	}))
	t.Cleanup(srv.Close)

	return node, srv
}

func static(result any) rpcHandler {
	return func(json.RawMessage) (any, *rpcError) { return result, nil }
}
