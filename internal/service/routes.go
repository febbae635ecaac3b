package service

// Route names.
const (
	RouteStatus      = "status"
	RoutePackets     = "packets"
	RouteDecode      = "decode"
	RouteFilterCheck = "filtercheck"
	RouteFields      = "fields"
)

// Route describes one relay endpoint. Path is both the inbound path and the
// path appended to the upstream base URL.
type Route struct {
	Name string
	Path string

	// FixedQuery is emitted verbatim at the start of the outbound query.
	FixedQuery string
	// EmbedParam names a caller parameter re-embedded after FixedQuery.
	EmbedParam string
	// Browser sends the configured browser identity headers.
	Browser bool
	// NotFoundIsError turns an upstream 404 into ErrResourceNotFound.
	NotFoundIsError bool
}

// newRoutes returns the relay route table for the given capture.
func newRoutes(captureID string) []Route {
	capture := capturePath(captureID)
	return []Route{
		{Name: RouteStatus, Path: capture + "/tf/status"},
		{Name: RoutePackets, Path: capture + "/tf/packets", FixedQuery: "filter=&start=0&count=1000"},
		{Name: RouteDecode, Path: capture + "/tf/decode", FixedQuery: "frame=1&prev_frame=0"},
		{Name: RouteFilterCheck, Path: capture + "/tf/filtercheck", EmbedParam: "f"},
		{Name: RouteFields, Path: "/autocomplete/fields", EmbedParam: "q", Browser: true, NotFoundIsError: true},
	}
}

// capturePath returns the capture page path. The relay routes hang off it.
func capturePath(captureID string) string {
	return "/captures/" + captureID
}
