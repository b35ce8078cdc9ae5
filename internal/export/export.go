// Package export handles the operator's export request. Requests are
// validated against a JSON schema and the matching records counted; no file
// is encoded.
package export

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/xeipuuv/gojsonschema"
)

const requestSchema = `{
  "type": "object",
  "required": ["format", "fields"],
  "additionalProperties": false,
  "properties": {
    "format": {"type": "string", "enum": ["csv", "json"]},
    "fields": {
      "type": "object",
      "additionalProperties": false,
      "properties": {
        "personalInfo": {"type": "boolean"},
        "cardInfo": {"type": "boolean"},
        "status": {"type": "boolean"},
        "timestamps": {"type": "boolean"}
      }
    }
  }
}`

// Fields are the column groups the operator toggled on.
type Fields struct {
	PersonalInfo bool `json:"personalInfo"`
	CardInfo     bool `json:"cardInfo"`
	Status       bool `json:"status"`
	Timestamps   bool `json:"timestamps"`
}

// Request is a validated export request.
type Request struct {
	Format string `json:"format"`
	Fields Fields `json:"fields"`
}

// DefaultRequest is CSV with every field group selected.
func DefaultRequest() Request {
	return Request{Format: "csv", Fields: Fields{PersonalInfo: true, CardInfo: true, Status: true, Timestamps: true}}
}

// Result reports what an export covered.
type Result struct {
	Format string   `json:"format"`
	Count  int      `json:"count"`
	Fields []string `json:"fields"`
}

// ValidationError lists every schema violation of a request.
type ValidationError struct {
	Problems []string
}

func (e *ValidationError) Error() string {
	return "invalid export request: " + strings.Join(e.Problems, "; ")
}

// Exporter validates requests and reports their outcome as notices.
type Exporter struct {
	schema  *gojsonschema.Schema
	notices notice.Notifier
}

// NewExporter compiles the request schema.
func NewExporter(notices notice.Notifier) (*Exporter, error) {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(requestSchema))
	if err != nil {
		return nil, fmt.Errorf("invalid export schema: %w", err)
	}
	return &Exporter{schema: schema, notices: notices}, nil
}

// Decode validates raw JSON and decodes it into a Request.
func (e *Exporter) Decode(raw []byte) (Request, error) {
	result, err := e.schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return Request{}, fmt.Errorf("validation error: %w", err)
	}
	if !result.Valid() {
		var problems []string
		for _, desc := range result.Errors() {
			problems = append(problems, desc.String())
		}
		return Request{}, &ValidationError{Problems: problems}
	}

	var req Request
	if err := json.Unmarshal(raw, &req); err != nil {
		return Request{}, fmt.Errorf("decode export request: %w", err)
	}
	return req, nil
}

// Run exports records under req.
func (e *Exporter) Run(req Request, records []model.Notification) Result {
	res := Result{Format: req.Format, Count: len(records), Fields: req.Fields.names()}
	e.notices.Notify(notice.LevelSuccess, "Export complete",
		fmt.Sprintf("Exported %d notifications as %s", res.Count, strings.ToUpper(req.Format)))
	return res
}

func (f Fields) names() []string {
	out := []string{}
	if f.PersonalInfo {
		out = append(out, "personalInfo")
	}
	if f.CardInfo {
		out = append(out, "cardInfo")
	}
	if f.Status {
		out = append(out, "status")
	}
	if f.Timestamps {
		out = append(out, "timestamps")
	}
	return out
}
