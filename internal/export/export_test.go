package export_test

import (
	"testing"

	"github.com/a96363877/zain-js-lohan/internal/export"
	"github.com/a96363877/zain-js-lohan/internal/model"
	"github.com/a96363877/zain-js-lohan/internal/notice"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newExporter(t *testing.T) (*export.Exporter, *notice.Queue) {
	t.Helper()
	q := notice.NewQueue(0)
	e, err := export.NewExporter(q)
	require.NoError(t, err)
	return e, q
}

func TestDecodeValidRequest(t *testing.T) {
	t.Parallel()

	e, _ := newExporter(t)
	req, err := e.Decode([]byte(`{"format":"json","fields":{"personalInfo":true,"cardInfo":false}}`))
	require.NoError(t, err)
	assert.Equal(t, export.Request{Format: "json", Fields: export.Fields{PersonalInfo: true}}, req)
}

func TestDecodeRejects(t *testing.T) {
	t.Parallel()

	e, _ := newExporter(t)
	tests := map[string]string{
		"unknown format": `{"format":"xlsx","fields":{}}`,
		"missing fields": `{"format":"csv"}`,
		"unknown field":  `{"format":"csv","fields":{"cvv":true}}`,
		"wrong type":     `{"format":"csv","fields":{"status":"yes"}}`,
	}
	for name, body := range tests {
		_, err := e.Decode([]byte(body))
		var verr *export.ValidationError
		assert.ErrorAs(t, err, &verr, name)
	}

	_, err := e.Decode([]byte(`{`))
	assert.Error(t, err)
}

func TestRunCountsAndNotifies(t *testing.T) {
	t.Parallel()

	e, q := newExporter(t)
	res := e.Run(export.DefaultRequest(), []model.Notification{{ID: "a"}, {ID: "b"}})

	assert.Equal(t, 2, res.Count)
	assert.Equal(t, []string{"personalInfo", "cardInfo", "status", "timestamps"}, res.Fields)

	recent := q.Recent(1)
	require.Len(t, recent, 1)
	assert.Equal(t, "Exported 2 notifications as CSV", recent[0].Message)
}
