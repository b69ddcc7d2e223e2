package rpc

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"

	apperrors "github.com/paralink-network/paralink-node/internal/errors"
)

const version = "2.0"

type request struct {
	Method       string
	Params       json.RawMessage
	ID           json.RawMessage
	notification bool
}

type response struct {
	JSONRPC string          `json:"jsonrpc"`
	Result  json.RawMessage `json:"result,omitempty"`
	Error   *errorObject    `json:"error,omitempty"`
	ID      json.RawMessage `json:"id"`
}

type errorObject struct {
	Code    int    `json:"code"`
	Message string `json:"message"`
}

// method handles one JSON-RPC method and returns its string result.
type method func(ctx context.Context, params json.RawMessage) (string, error)

func rpcError(code apperrors.ErrorCode, format string, args ...interface{}) *apperrors.ServiceError {
	return &apperrors.ServiceError{Code: code, Message: fmt.Sprintf(format, args...)}
}

// toErrorObject exposes ServiceErrors verbatim and hides everything else
// behind an internal error.
func toErrorObject(err error) *errorObject {
	if se := apperrors.GetServiceError(err); se != nil {
		return &errorObject{Code: int(se.Code), Message: se.Message}
	}
	return &errorObject{Code: int(apperrors.CodeInternal), Message: "internal error"}
}

// decodeRequest validates one envelope. The id is echoed even when the rest
// of the envelope is invalid.
func decodeRequest(raw json.RawMessage) (request, error) {
	var fields map[string]json.RawMessage
	if err := json.Unmarshal(raw, &fields); err != nil {
		return request{}, rpcError(apperrors.CodeInvalidRequest, "request must be an object")
	}

	req := request{Params: fields["params"]}
	id, hasID := fields["id"]
	req.ID = id
	req.notification = !hasID

	var v string
	if err := json.Unmarshal(fields["jsonrpc"], &v); err != nil || v != version {
		return req, rpcError(apperrors.CodeInvalidRequest, "jsonrpc must be %q", version)
	}
	if err := json.Unmarshal(fields["method"], &req.Method); err != nil || req.Method == "" {
		return req, rpcError(apperrors.CodeInvalidRequest, "method must be a non-empty string")
	}
	return req, nil
}

// bindParams accepts params by position or by name and returns them in the
// order of names.
func bindParams(raw json.RawMessage, names ...string) ([]json.RawMessage, error) {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 {
		return nil, rpcError(apperrors.CodeInvalidParams, "expected %d params", len(names))
	}
	switch raw[0] {
	case '[':
		var list []json.RawMessage
		if err := json.Unmarshal(raw, &list); err != nil {
			return nil, rpcError(apperrors.CodeInvalidParams, "invalid params: %v", err)
		}
		if len(list) != len(names) {
			return nil, rpcError(apperrors.CodeInvalidParams, "expected %d params, got %d", len(names), len(list))
		}
		return list, nil
	case '{':
		var named map[string]json.RawMessage
		if err := json.Unmarshal(raw, &named); err != nil {
			return nil, rpcError(apperrors.CodeInvalidParams, "invalid params: %v", err)
		}
		out := make([]json.RawMessage, len(names))
		for i, name := range names {
			v, ok := named[name]
			if !ok {
				return nil, rpcError(apperrors.CodeInvalidParams, "missing param %q", name)
			}
			out[i] = v
		}
		return out, nil
	default:
		return nil, rpcError(apperrors.CodeInvalidParams, "params must be an array or an object")
	}
}

func stringParam(raw json.RawMessage, name string) (string, error) {
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return "", rpcError(apperrors.CodeInvalidParams, "param %q must be a string", name)
	}
	return s, nil
}

// dispatch runs one envelope. A nil response means a notification.
func (s *Server) dispatch(ctx context.Context, raw json.RawMessage) *response {
	req, err := decodeRequest(raw)
	if err != nil {
		return &response{JSONRPC: version, Error: toErrorObject(err), ID: req.ID}
	}

	resp := &response{JSONRPC: version, ID: req.ID}
	m, ok := s.methods[req.Method]
	if !ok {
		resp.Error = toErrorObject(rpcError(apperrors.CodeRPCMethod, "method %q not found", req.Method))
	} else if result, err := m(ctx, req.Params); err != nil {
		entry := s.log.WithField("method", req.Method).WithError(err)
		if apperrors.GetServiceError(err) == nil {
			entry.Error("rpc call failed")
		} else {
			entry.Info("rpc call rejected")
		}
		resp.Error = toErrorObject(err)
	} else {
		resp.Result, _ = json.Marshal(result)
	}

	if req.notification {
		return nil
	}
	return resp
}

// handle processes a single or batch body and returns the bytes to write,
// or nil when nothing must be written.
func (s *Server) handle(ctx context.Context, body []byte) ([]byte, error) {
	body = bytes.TrimSpace(body)
	if !json.Valid(body) {
		return json.Marshal(response{
			JSONRPC: version,
			Error:   toErrorObject(rpcError(apperrors.CodeParseRequest, "parse error")),
		})
	}

	if len(body) > 0 && body[0] == '[' {
		var batch []json.RawMessage
		if err := json.Unmarshal(body, &batch); err != nil || len(batch) == 0 {
			return json.Marshal(response{
				JSONRPC: version,
				Error:   toErrorObject(rpcError(apperrors.CodeInvalidRequest, "empty batch")),
			})
		}
		out := make([]*response, 0, len(batch))
		for _, raw := range batch {
			if resp := s.dispatch(ctx, raw); resp != nil {
				out = append(out, resp)
			}
		}
		if len(out) == 0 {
			return nil, nil
		}
		return json.Marshal(out)
	}

	resp := s.dispatch(ctx, body)
	if resp == nil {
		return nil, nil
	}
	return json.Marshal(resp)
}
