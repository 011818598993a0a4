package mailapi

import (
	"context"
	"errors"
	"fmt"
	"net"
	"net/http"
	"strconv"
	"strings"

	"github.com/customeros/draftsync/internal/enum"
	"github.com/customeros/draftsync/internal/utils"
)

// APIError is a non-2xx answer from the mail API.
type APIError struct {
	StatusCode   int
	Code         int
	Message      string
	Retryable    bool
	SendingError enum.SendingError
}

func (e *APIError) Error() string {
	if e.Code != 0 {
		return fmt.Sprintf("mail api error %d (code %d): %s", e.StatusCode, e.Code, e.Message)
	}
	return fmt.Sprintf("mail api error %d: %s", e.StatusCode, e.Message)
}

// Classification is how a job should treat a failed call.
type Classification struct {
	Retryable    bool
	SendingError enum.SendingError
	Reason       string
}

// Classify maps any error returned by the client. Network failures and
// timeouts are transient and API errors carry their own classification.
// Anything else (a request that cannot be encoded) is terminal.
func Classify(err error) Classification {
	if err == nil {
		return Classification{}
	}
	var apiErr *APIError
	if errors.As(err, &apiErr) {
		return Classification{Retryable: apiErr.Retryable, SendingError: apiErr.SendingError, Reason: apiErr.Error()}
	}
	if errors.Is(err, context.Canceled) {
		return Classification{Retryable: true, Reason: err.Error()}
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return Classification{Retryable: true, Reason: "timeout: " + err.Error()}
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return Classification{Retryable: true, Reason: err.Error()}
	}
	return Classification{Retryable: false, Reason: err.Error()}
}

func retryableStatus(status int) bool {
	return status >= http.StatusInternalServerError ||
		status == http.StatusTooManyRequests ||
		status == http.StatusRequestTimeout
}

// SendingErrorCodes maps server error codes to the recognized conflicts.
type SendingErrorCodes map[int]enum.SendingError

// ParseSendingErrorCodes reads "code:SendingError" pairs separated by commas.
func ParseSendingErrorCodes(raw string) (SendingErrorCodes, error) {
	codes := make(SendingErrorCodes)
	for _, pair := range utils.StringToSlice(raw) {
		parts := strings.SplitN(pair, ":", 2)
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid sending error mapping %q", pair)
		}
		code, err := strconv.Atoi(strings.TrimSpace(parts[0]))
		if err != nil {
			return nil, fmt.Errorf("invalid sending error code %q: %w", parts[0], err)
		}
		sendingError := enum.SendingError(strings.TrimSpace(parts[1]))
		if !sendingError.IsValid() {
			return nil, fmt.Errorf("unknown sending error %q", parts[1])
		}
		codes[code] = sendingError
	}
	return codes, nil
}
