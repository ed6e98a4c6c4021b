package app

import (
	"bytes"
	"encoding/json"
	"errors"
	"strconv"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"
	"golang.org/x/text/language"
	"golang.org/x/text/message"

	"github.com/jsamuelsen/quotekeeper/internal/domain"
)

const importSchemaURL = "quotekeeper://schemas/quotes.json"

// importSchema describes an export file: an array of {text, category}
// records, each with at least one non-space character. Extra keys are ignored.
const importSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "array",
  "items": {
    "type": "object",
    "required": ["text", "category"],
    "properties": {
      "text":     {"type": "string", "pattern": "\\S"},
      "category": {"type": "string", "pattern": "\\S"}
    }
  }
}`

// ImportValidator checks import payloads against the export schema.
type ImportValidator struct {
	schema  *jsonschema.Schema
	printer *message.Printer
}

// NewImportValidator compiles the import schema.
func NewImportValidator() (*ImportValidator, error) {
	doc, err := jsonschema.UnmarshalJSON(strings.NewReader(importSchema))
	if err != nil {
		return nil, err
	}

	c := jsonschema.NewCompiler()
	if err := c.AddResource(importSchemaURL, doc); err != nil {
		return nil, err
	}

	schema, err := c.Compile(importSchemaURL)
	if err != nil {
		return nil, err
	}

	return &ImportValidator{schema: schema, printer: message.NewPrinter(language.English)}, nil
}

// MustImportValidator is NewImportValidator for the built-in schema, which always compiles.
func MustImportValidator() *ImportValidator {
	v, err := NewImportValidator()
	if err != nil {
		panic("app: compiling import schema: " + err.Error())
	}

	return v
}

// Parse validates data and returns the trimmed records in file order.
// Any invalid element rejects the whole payload with a MalformedImportError.
func (v *ImportValidator) Parse(data []byte) ([]domain.Quote, error) {
	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return nil, domain.NewMalformedImportError(-1, "not valid JSON")
	}

	if err := v.schema.Validate(inst); err != nil {
		var ve *jsonschema.ValidationError
		if errors.As(err, &ve) {
			return nil, v.describe(ve)
		}

		return nil, domain.NewMalformedImportError(-1, err.Error())
	}

	var records []domain.Quote
	if err := json.Unmarshal(data, &records); err != nil {
		return nil, domain.NewMalformedImportError(-1, err.Error())
	}

	out := make([]domain.Quote, 0, len(records))
	for i, r := range records {
		q, err := domain.NewQuote(r.Text, r.Category)
		if err != nil {
			return nil, domain.NewMalformedImportError(i, err.Error())
		}

		out = append(out, q)
	}

	return out, nil
}

// describe reduces a schema failure to its first leaf cause.
func (v *ImportValidator) describe(ve *jsonschema.ValidationError) error {
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}

	reason := leaf.ErrorKind.LocalizedString(v.printer)

	loc := leaf.InstanceLocation
	if len(loc) == 0 {
		return domain.NewMalformedImportError(-1, reason)
	}

	index, err := strconv.Atoi(loc[0])
	if err != nil {
		return domain.NewMalformedImportError(-1, reason)
	}

	if len(loc) > 1 {
		reason = strings.Join(loc[1:], "/") + ": " + reason
	}

	return domain.NewMalformedImportError(index, reason)
}
