// Package observability provides metrics, tracing, and logging utilities.
package observability

import (
	"fmt"
	"strings"

	"go.opentelemetry.io/otel/attribute"
)

// Attribute keys
const (
	attrMethod = "method"
	attrPath   = "path"
	attrStatus = "status"
	attrResult = "result"
	attrReason = "reason"
)

func methodAttr(method string) attribute.KeyValue {
	return attribute.String(attrMethod, method)
}

func pathAttr(path string) attribute.KeyValue {
	return attribute.String(attrPath, normalizePath(path))
}

func statusAttr(code int) attribute.KeyValue {
	// Group status codes to reduce cardinality
	// 200-299 -> 2xx, 400-499 -> 4xx, 500-599 -> 5xx
	group := fmt.Sprintf("%dxx", code/100)
	return attribute.String(attrStatus, group)
}

func resultAttr(result string) attribute.KeyValue {
	return attribute.String(attrResult, result)
}

func reasonAttr(reason string) attribute.KeyValue {
	return attribute.String(attrReason, reason)
}

// normalizePath collapses unknown paths to keep metric cardinality low.
// The API surface is a fixed set of routes, so anything else is noise.
func normalizePath(path string) string {
	switch {
	case path == "/v1/jobs/run",
		path == "/v1/jobs/stop",
		path == "/v1/jobs/result",
		path == "/v1/jobs/status",
		path == "/v1/jobs/status/stream",
		path == "/livez",
		path == "/readyz":
		return path
	case strings.HasPrefix(path, "/v1/"):
		return "/v1/{other}"
	default:
		return "{other}"
	}
}
