package report

import (
	"bytes"
	"encoding/json"
)

// DoshaAnalysis 三种体质的评估结果。
type DoshaAnalysis struct {
	Vata  string `json:"vata"`
	Pitta string `json:"pitta"`
	Kapha string `json:"kapha"`
}

// Report is the structured result of one analysis cycle.
type Report struct {
	Disease       string        `json:"disease"`
	DoshaAnalysis DoshaAnalysis `json:"dosha_analysis"`
	Observations  []string      `json:"observations"`

	// raw keeps the service payload verbatim for chat priming.
	raw json.RawMessage
}

// Parse decodes a report payload and remembers the original bytes.
func Parse(data []byte) (*Report, error) {
	var r Report
	if err := json.Unmarshal(data, &r); err != nil {
		return nil, err
	}
	r.raw = append(json.RawMessage(nil), data...)
	return &r, nil
}

// Serialized returns the compact JSON form embedded in the priming message.
// The service payload is preferred so unknown fields survive.
func (r *Report) Serialized() string {
	if len(r.raw) > 0 {
		var buf bytes.Buffer
		if err := json.Compact(&buf, r.raw); err == nil {
			return buf.String()
		}
		return string(r.raw)
	}
	data, err := json.Marshal(r)
	if err != nil {
		return "{}"
	}
	return string(data)
}

// Clone returns a deep copy safe to hand out of the session store.
func (r *Report) Clone() *Report {
	if r == nil {
		return nil
	}
	c := *r
	c.Observations = append([]string(nil), r.Observations...)
	c.raw = append(json.RawMessage(nil), r.raw...)
	return &c
}
