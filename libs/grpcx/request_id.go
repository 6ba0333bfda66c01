package grpcx

import (
	"github.com/md-rashed-zaman/clinicslots/libs/httpx"
)

// RequestIDMetadataKey is the canonical key used for request id propagation over gRPC metadata.
// Lowercase is required by gRPC metadata conventions.
const RequestIDMetadataKey = "x-request-id"

// Request ids share the HTTP context key so logs correlate across both servers.
var (
	RequestIDFromContext = httpx.RequestIDFromContext
	WithRequestID        = httpx.ContextWithRequestID
)
