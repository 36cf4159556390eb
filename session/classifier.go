package session

import (
	"net/url"
	"strings"

	"payment-sessions-service/models"
)

// URL substrings that mark a gateway redirect as a declined payment. Matching
// is case-insensitive.
var failureURLMarkers = []string{"/cancel", "/error", "/failed"}

// FailedNavigation reports whether a checkout navigation URL indicates a
// terminal payment failure.
func FailedNavigation(rawURL string) bool {
	url := strings.ToLower(rawURL)
	for _, marker := range failureURLMarkers {
		if strings.Contains(url, marker) {
			return true
		}
	}
	return strings.Contains(url, "payment") && strings.Contains(url, "status=failed")
}

// ExternalNavigation reports whether a navigation target is a non-web scheme
// (upi://, intent://, tez://) that the embedded view cannot render. Such URLs
// are handed to the OS instead of loaded in the view.
func ExternalNavigation(rawURL string) bool {
	u, err := url.Parse(rawURL)
	if err != nil || u.Scheme == "" {
		return false
	}
	switch strings.ToLower(u.Scheme) {
	case "http", "https", "about":
		return false
	}
	return true
}

// BlockedNavigation reports whether a navigation event looks like an
// infrastructure-level block (gateway/firewall) rather than a decline: the
// view settled on about:blank with no title. about:blank is also visited
// transiently during normal redirects, so callers must treat this as
// edge-triggered.
func BlockedNavigation(ev models.NavigationEvent) bool {
	return ev.URL == "about:blank" && ev.Title == "" && !ev.Loading
}

// Error codes the embedded view reports for connectivity-flavored load
// failures: NSURLError timeouts / host failures on iOS, net::ERR_* codes on
// Android.
var networkErrorCodes = map[int]bool{
	-1001: true, // timed out
	-1003: true, // cannot find host
	-1004: true, // cannot connect to host
	-1005: true, // network connection lost
	-1009: true, // not connected to internet
	-2:    true, // ERR_INTERNET_DISCONNECTED
	-6:    true, // ERR_CONNECTION_REFUSED
	-7:    true, // ERR_TIMED_OUT
	-8:    true, // ERR_CONNECTION_TIMED_OUT
	-105:  true, // ERR_NAME_NOT_RESOLVED
}

var networkErrorSubstrings = []string{
	"timed out",
	"timeout",
	"host",
	"unreachable",
	"offline",
	"internet",
	"network",
	"dns",
	"disconnected",
	"connection",
}

// NetworkLoadError reports whether a view load error is connectivity-flavored
// and should be swallowed (delegated to the reload-on-restore policy) rather
// than surfaced.
func NetworkLoadError(e models.LoadError) bool {
	if networkErrorCodes[e.Code] {
		return true
	}
	desc := strings.ToLower(e.Description)
	for _, s := range networkErrorSubstrings {
		if strings.Contains(desc, s) {
			return true
		}
	}
	return false
}

// NetworkHTTPStatus reports whether an HTTP status error is network-flavored.
// Status 0 (no response) and 5xx are swallowed; 4xx surfaces as a dismissible
// advisory. Neither terminates the session.
func NetworkHTTPStatus(status int) bool {
	return status == 0 || status >= 500
}

// Channel error payloads that indicate a pure connectivity problem. These are
// swallowed; the reload-on-restore policy handles recovery.
var connectivityChannelErrors = map[string]bool{
	"Disconnected":     true,
	"Connection Error": true,
}

// ConnectivityChannelError reports whether a channel error event is a pure
// connectivity error.
func ConnectivityChannelError(message string) bool {
	return connectivityChannelErrors[message]
}
