package upstream

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
)

// StatusReport is a vendor status message reduced to the three fields the
// delivery path cares about. It is produced both by push callbacks and by
// status polls.
type StatusReport struct {
	ExternalTaskID string `json:"external_task_id"`
	RawStatus      string `json:"raw_status"`
	ResultRef      string `json:"result_ref,omitempty"`
}

var ErrMissingTaskID = errors.New("payload has no task id")

var (
	taskIDKeys = []string{"external_task_id", "task_id", "taskId", "id"}
	statusKeys = []string{"raw_status", "status", "state", "task_status", "taskStatus"}
	resultKeys = []string{"result_ref", "result_url", "resultUrl", "output_url", "url", "output", "result_urls", "resultUrls", "result"}
)

// DecodeReport parses a vendor payload. Fields may sit at the top level or
// inside a "data" envelope; results may be a string, a list of strings, or
// a JSON-encoded "resultJson" document.
func DecodeReport(body []byte) (StatusReport, error) {
	var top map[string]json.RawMessage
	if err := json.Unmarshal(body, &top); err != nil {
		return StatusReport{}, fmt.Errorf("decode payload: %w", err)
	}

	fields := top
	if data, ok := top["data"]; ok && bytes.HasPrefix(bytes.TrimSpace(data), []byte("{")) {
		var inner map[string]json.RawMessage
		if err := json.Unmarshal(data, &inner); err == nil {
			fields = inner
			// keep top-level values the envelope does not repeat
			for k, v := range top {
				if _, dup := fields[k]; !dup && k != "data" {
					fields[k] = v
				}
			}
		}
	}

	rep := StatusReport{
		ExternalTaskID: firstString(fields, taskIDKeys),
		RawStatus:      firstString(fields, statusKeys),
		ResultRef:      firstString(fields, resultKeys),
	}
	if rep.ResultRef == "" {
		if nested, ok := fields["resultJson"]; ok {
			rep.ResultRef = resultFromJSONString(nested)
		}
	}
	if rep.ExternalTaskID == "" {
		return rep, ErrMissingTaskID
	}
	return rep, nil
}

func firstString(fields map[string]json.RawMessage, keys []string) string {
	for _, k := range keys {
		raw, ok := fields[k]
		if !ok {
			continue
		}
		if s := stringValue(raw); s != "" {
			return s
		}
	}
	return ""
}

// stringValue accepts a JSON string, number, or array whose first element is
// a string.
func stringValue(raw json.RawMessage) string {
	raw = bytes.TrimSpace(raw)
	if len(raw) == 0 || bytes.Equal(raw, []byte("null")) {
		return ""
	}
	switch raw[0] {
	case '"':
		var s string
		if json.Unmarshal(raw, &s) == nil {
			return strings.TrimSpace(s)
		}
	case '[':
		var list []json.RawMessage
		if json.Unmarshal(raw, &list) == nil {
			for _, item := range list {
				if s := stringValue(item); s != "" {
					return s
				}
			}
		}
	case '{':
		return ""
	default:
		var n json.Number
		if json.Unmarshal(raw, &n) == nil {
			return n.String()
		}
	}
	return ""
}

func resultFromJSONString(raw json.RawMessage) string {
	var encoded string
	if err := json.Unmarshal(raw, &encoded); err != nil || strings.TrimSpace(encoded) == "" {
		return ""
	}
	var doc map[string]json.RawMessage
	if err := json.Unmarshal([]byte(encoded), &doc); err != nil {
		return ""
	}
	return firstString(doc, resultKeys)
}
