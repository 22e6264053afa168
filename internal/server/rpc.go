package server

import (
	"encoding/json"
	"net/http"

	apperrors "github.com/copyleftdev/nmrmix/internal/errors"
)

// JSON-RPC 2.0 error codes.
const (
	codeParseError     = -32700
	codeInvalidRequest = -32600
	codeMethodNotFound = -32601
	codeInvalidParams  = -32602
	codeServerError    = -32000
)

type rpcRequest struct {
	JSONRPC string            `json:"jsonrpc"`
	ID      interface{}       `json:"id"`
	Method  string            `json:"method"`
	Params  []json.RawMessage `json:"params,omitempty"`
}

// handleJSONRPC handles JSON-RPC 2.0 requests
func (s *Server) handleJSONRPC(w http.ResponseWriter, r *http.Request) {
	var request rpcRequest
	if err := json.NewDecoder(r.Body).Decode(&request); err != nil {
		s.respondWithError(w, codeParseError, "Parse error", nil, nil)
		return
	}

	// Validate JSON-RPC 2.0 request
	if request.JSONRPC != "2.0" {
		s.respondWithError(w, codeInvalidRequest, "Invalid Request", request.ID, nil)
		return
	}

	// Route to appropriate handler
	var result interface{}
	var err error

	switch request.Method {
	case "optimization.start":
		result, err = s.rpcStart(request.Params)
	case "optimization.status":
		result, err = s.rpcWithID(request.Params, func(id string) (interface{}, error) {
			return s.optimizationStatus(id)
		})
	case "optimization.results":
		result, err = s.rpcWithID(request.Params, func(id string) (interface{}, error) {
			return s.optimizationResults(r.Context(), id)
		})
	case "optimization.cancel":
		result, err = s.rpcWithID(request.Params, func(id string) (interface{}, error) {
			if err := s.cancelOptimization(id); err != nil {
				return nil, err
			}
			return map[string]string{"status": "cancellation requested"}, nil
		})
	default:
		s.respondWithError(w, codeMethodNotFound, "Method not found", request.ID, nil)
		return
	}

	if err != nil {
		code := codeServerError
		if apperrors.KindOf(err) == apperrors.KindInvalid {
			code = codeInvalidParams
		}
		s.respondWithError(w, code, "Server error", request.ID, map[string]interface{}{
			"message": err.Error(),
			"kind":    apperrors.KindOf(err).String(),
		})
		return
	}

	// Send successful response
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"id":      request.ID,
		"result":  result,
	})
}

func (s *Server) rpcStart(params []json.RawMessage) (interface{}, error) {
	if len(params) == 0 {
		return nil, apperrors.New(apperrors.KindInvalid, "missing start request")
	}
	var req StartRequest
	if err := json.Unmarshal(params[0], &req); err != nil {
		return nil, apperrors.Wrap(apperrors.WithKind(err, apperrors.KindInvalid), "invalid start request")
	}
	return s.startOptimization(req)
}

// rpcWithID decodes an optimization id from the first positional parameter.
func (s *Server) rpcWithID(params []json.RawMessage, fn func(id string) (interface{}, error)) (interface{}, error) {
	if len(params) == 0 {
		return nil, apperrors.New(apperrors.KindInvalid, "missing optimization ID")
	}
	var id string
	if err := json.Unmarshal(params[0], &id); err != nil || id == "" {
		return nil, apperrors.New(apperrors.KindInvalid, "invalid optimization ID")
	}
	return fn(id)
}

// respondWithError sends a JSON-RPC 2.0 error response
func (s *Server) respondWithError(w http.ResponseWriter, code int, message string, id interface{}, data interface{}) {
	s.logger.Error("Request error", map[string]interface{}{
		"status":  code,
		"message": message,
	})

	rpcErr := map[string]interface{}{
		"code":    code,
		"message": message,
	}
	if data != nil {
		rpcErr["data"] = data
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"jsonrpc": "2.0",
		"error":   rpcErr,
		"id":      id,
	})
}
