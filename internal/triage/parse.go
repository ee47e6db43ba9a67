package triage

import (
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"slices"
	"strings"
)

type output struct {
	TriageVersion string  `json:"triage_version"`
	Reason        string  `json:"reason"`
	Confidence    float64 `json:"confidence"`
	Summary       string  `json:"summary,omitempty"`
}

var errInvalidOutput = fmt.Errorf("invalid gemini JSON output")

func parseOutput(raw string) (output, error) {
	dec := json.NewDecoder(bytes.NewBufferString(strings.TrimSpace(raw)))
	dec.DisallowUnknownFields()
	var out output
	if err := dec.Decode(&out); err != nil {
		return output{}, errInvalidOutput
	}
	if err := dec.Decode(&struct{}{}); err != io.EOF {
		return output{}, errInvalidOutput
	}
	if out.TriageVersion != outputVersion {
		return output{}, errInvalidOutput
	}
	if !slices.Contains(Reasons, out.Reason) {
		return output{}, errInvalidOutput
	}
	if out.Confidence < 0 || out.Confidence > 1 {
		return output{}, errInvalidOutput
	}
	return out, nil
}
