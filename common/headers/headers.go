package headers

// Request identification
const (
	// HeaderXRequestID uniquely identifies a single inbound call. Generated at the edge
	// when absent and forwarded on every downstream call.
	HeaderXRequestID = "x-request-id"

	// HeaderXTraceID carries the tracer trace id back to callers.
	HeaderXTraceID = "x-trace-id"

	// HeaderXSpanID carries the tracer span id back to callers.
	HeaderXSpanID = "x-span-id"
)

// Authentication
const (
	// HeaderAuthorization carries the caller credential as "<scheme> <token>".
	HeaderAuthorization = "authorization"
)

// Client identification
const (
	// HeaderClientTaggingHeader names the upstream service issuing a call.
	HeaderClientTaggingHeader = "x-client-id"
)

// GetHeadersToForward lists the headers propagated from an inbound call to outbound calls.
func GetHeadersToForward() []string {
	return []string{
		HeaderXRequestID,
		HeaderAuthorization,
	}
}
