package api

import "strings"

// Operation is a single named GraphQL query or mutation. It is serialized
// verbatim as the request body.
type Operation struct {
	OperationName string         `json:"operationName"`
	Query         string         `json:"query"`
	Variables     map[string]any `json:"variables"`
}

// Type returns "mutation" or "query" based on the leading keyword of Query.
func (o Operation) Type() string {
	if strings.HasPrefix(strings.TrimSpace(o.Query), "mutation") {
		return "mutation"
	}

	return "query"
}

// Result is a decoded JSON object returned by the API. A Result may still
// carry GraphQL errors; Send does not inspect them.
type Result map[string]any

// Data returns the "data" object, or nil when absent or not an object.
func (r Result) Data() map[string]any {
	data, _ := r["data"].(map[string]any)
	return data
}

// unknownErrorMessage is used for error entries that carry no message.
const unknownErrorMessage = "Unknown error occurred"

// GraphQLError is one entry of a GraphQL "errors" array.
type GraphQLError struct {
	Message string
}

func (e GraphQLError) Error() string {
	return "api: server reported error: " + e.Message
}

// Errors returns the entries of the "errors" array. ok is true whenever an
// "errors" array is present, even an empty one.
func (r Result) Errors() (errs []GraphQLError, ok bool) {
	raw, ok := r["errors"].([]any)
	if !ok {
		return nil, false
	}

	errs = make([]GraphQLError, 0, len(raw))

	for _, entry := range raw {
		msg := unknownErrorMessage

		if obj, isObj := entry.(map[string]any); isObj {
			if m, isStr := obj["message"].(string); isStr && m != "" {
				msg = m
			}
		}

		errs = append(errs, GraphQLError{Message: msg})
	}

	return errs, true
}
