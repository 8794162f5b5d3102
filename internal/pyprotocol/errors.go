package pyprotocol

import (
	"errors"
	"fmt"

	"github.com/mterenzi/pysync-go/internal/pytransport"
)

// errMalformed wraps pytransport.ErrMiscommunication for verb-grammar
// violations: this package only ever raises the transport's session-fatal
// sentinel, never a distinct error type.
var errMalformed = fmt.Errorf("%w: malformed verb", pytransport.ErrMiscommunication)

// ErrUnexpectedVerb names the unexpected-reply case. The session drivers
// do not return it: an unexpected reply surfaces as a wrapped
// pytransport.ErrMiscommunication.
var ErrUnexpectedVerb = errors.New("pysync: unexpected verb")
