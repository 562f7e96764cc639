package tools

import (
	"encoding/json"
	"fmt"
)

// Tool results are JSON payload strings handed back to the model as tool
// message content. Every payload carries a "success" flag so the model can
// tell a failed lookup from an empty one and keep reasoning.

// Success marshals fields into a payload with "success": true.
func Success(fields map[string]interface{}) string {
	out := make(map[string]interface{}, len(fields)+1)
	for k, v := range fields {
		out[k] = v
	}
	out["success"] = true

	data, err := json.Marshal(out)
	if err != nil {
		return Failuref("encode result: %v", err)
	}
	return string(data)
}

// Failuref formats a failure payload the model can read and recover from.
func Failuref(format string, args ...interface{}) string {
	data, err := json.Marshal(map[string]interface{}{
		"success": false,
		"error":   fmt.Sprintf(format, args...),
	})
	if err != nil {
		// Marshalling two scalar fields cannot realistically fail; keep a
		// hand-built payload as the escape hatch.
		return `{"success":false,"error":"internal error"}`
	}
	return string(data)
}

// NotConfigured is the failure payload for tools whose integration has no
// credentials. The model treats it as "this avenue is unavailable".
func NotConfigured(provider string) string {
	return Failuref("%s not configured", provider)
}
