package annotator

import (
	"errors"
	"net"
	"regexp"
	"strconv"
	"syscall"
)

func isUnreachable(err error) bool {
	if errors.Is(err, syscall.ECONNREFUSED) || errors.Is(err, syscall.ECONNRESET) || errors.Is(err, syscall.EHOSTUNREACH) {
		return true
	}
	var dnsErr *net.DNSError
	if errors.As(err, &dnsErr) {
		return true
	}
	var opErr *net.OpError
	if errors.As(err, &opErr) && opErr.Op == "dial" {
		return true
	}
	return false
}

func isNetTimeout(err error) bool {
	var ne net.Error
	return errors.As(err, &ne) && ne.Timeout()
}

// Some client libraries only surface the HTTP status inside the message text.
var statusCodeRe = regexp.MustCompile(`(?i)status code:?\s*(\d{3})`)

// StatusFromMessage extracts an HTTP status code embedded in an error message.
func StatusFromMessage(msg string) (int, bool) {
	m := statusCodeRe.FindStringSubmatch(msg)
	if m == nil {
		return 0, false
	}
	code, err := strconv.Atoi(m[1])
	if err != nil {
		return 0, false
	}
	return code, true
}

// KindForStatus maps an HTTP status returned by a model backend to a failure kind.
func KindForStatus(code int) Kind {
	switch {
	case code == 408 || code == 504:
		return KindTimeout
	case code == 429 || code/100 == 5:
		return KindUnavailable
	default:
		return KindGeneration
	}
}
