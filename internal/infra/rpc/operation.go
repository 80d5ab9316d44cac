package rpc

import (
	"net/http"
	"net/url"

	"github.com/vietddude/chainscan/internal/infra/rpc/provider"
)

// NewHTTPOperation creates an Operation for a JSON-RPC 2.0 call.
func NewHTTPOperation(method string, params ...any) Operation {
	if params == nil {
		params = []any{}
	}
	return provider.Operation{
		Name:   method,
		Params: params,
	}
}

// NewRESTOperation creates an Operation for a REST call with a JSON body.
func NewRESTOperation(path string, method string, body any) Operation {
	return provider.Operation{
		Name:       path,
		Params:     body,
		IsREST:     true,
		RESTMethod: method,
	}
}

// NewGETOperation creates a REST GET with query parameters.
func NewGETOperation(path string, query url.Values) Operation {
	return provider.Operation{
		Name:       path,
		Query:      query,
		IsREST:     true,
		RESTMethod: http.MethodGet,
	}
}
