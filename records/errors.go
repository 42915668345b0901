package records

import (
	"errors"
	"fmt"

	"github.com/samber/oops"
)

// AlertDescription is a TLS alert description code, restricted here to
// the four fatal alerts the record layer itself can raise. Values
// match RFC 8446 §6 so a handshake layer can forward them verbatim.
type AlertDescription uint8

const (
	AlertBadRecordMAC    AlertDescription = 20
	AlertRecordOverflow  AlertDescription = 22
	AlertDecodeError     AlertDescription = 50
	AlertProtocolVersion AlertDescription = 70
)

func (a AlertDescription) String() string {
	switch a {
	case AlertBadRecordMAC:
		return "bad_record_mac"
	case AlertRecordOverflow:
		return "record_overflow"
	case AlertDecodeError:
		return "decode_error"
	case AlertProtocolVersion:
		return "protocol_version"
	default:
		return fmt.Sprintf("alert(%d)", uint8(a))
	}
}

// AlertError is a TLS fatal alert raised by the record layer. Callers
// on the TLS read path (and write path callers passing oversized
// input) must treat it as fatal and close the connection with this
// alert. The DTLS read path never returns one: every condition that
// would raise it there is instead translated into a silent drop.
type AlertError struct {
	Description AlertDescription
	reason      string
}

func newAlertError(d AlertDescription, reason string) error {
	return oops.Errorf("records: %w", &AlertError{Description: d, reason: reason})
}

func (e *AlertError) Error() string {
	if e.reason != "" {
		return fmt.Sprintf("%s: %s", e.Description, e.reason)
	}
	return e.Description.String()
}

// IsAlert reports whether err is (or wraps) an AlertError with the
// given description.
func IsAlert(err error, d AlertDescription) bool {
	var ae *AlertError
	if !errors.As(err, &ae) {
		return false
	}
	return ae.Description == d
}
