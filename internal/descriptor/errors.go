package descriptor

import (
	"fmt"

	"github.com/NikoleTW/VPNBot/internal/domain"
)

// FormatError reports an import string or payload that cannot be parsed.
type FormatError struct {
	Protocol domain.Protocol
	Reason   string
	Err      error
}

func (e *FormatError) Error() string {
	prefix := "invalid import string"
	if e.Protocol != "" {
		prefix = fmt.Sprintf("invalid %s import string", e.Protocol)
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", prefix, e.Reason, e.Err)
	}
	return fmt.Sprintf("%s: %s", prefix, e.Reason)
}

func (e *FormatError) Unwrap() error { return e.Err }

type UnsupportedProtocolError struct {
	Protocol string
}

func (e *UnsupportedProtocolError) Error() string {
	return fmt.Sprintf("unsupported protocol %q", e.Protocol)
}
