package pipeline

import "fmt"

// DeliveryError reports that only Sent of Total chunks reached the chat.
type DeliveryError struct {
	Sent  int
	Total int
	Err   error
}

func (e *DeliveryError) Error() string {
	return fmt.Sprintf("deliver digest: sent %d of %d chunks: %v", e.Sent, e.Total, e.Err)
}

func (e *DeliveryError) Unwrap() error {
	return e.Err
}
