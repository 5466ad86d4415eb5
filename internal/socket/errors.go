package socket

import "fmt"

// ErrorMessage extracts a best-effort human-readable message from the
// heterogeneous error shapes that cross the wire: plain strings, Go
// errors, decoded JSON objects with a "message" field, or anything
// else. It never panics regardless of shape.
func ErrorMessage(v any) (msg string) {
	// A typed-nil error or Stringer would panic on method call.
	defer func() {
		if r := recover(); r != nil {
			msg = fmt.Sprintf("%v", v)
		}
	}()

	switch e := v.(type) {
	case nil:
		return ""
	case string:
		return e
	case error:
		if e == nil {
			return ""
		}
		return e.Error()
	case map[string]any:
		if msg, ok := e["message"].(string); ok {
			return msg
		}
		if msg, ok := e["error"].(string); ok {
			return msg
		}
		return fmt.Sprintf("%v", e)
	case fmt.Stringer:
		return e.String()
	default:
		return fmt.Sprintf("%v", e)
	}
}
