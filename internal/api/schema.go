package api

import (
	"bytes"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"

	"github.com/santhosh-tekuri/jsonschema/v6"

	"github.com/Divas-Gupta30/workflow-builder/internal/apperr"
)

//go:embed schemas/*.json
var schemaFS embed.FS

const schemaBase = "https://workflow-builder.local/schemas/"

// Payload schema names.
const (
	schemaWorkflow = "workflow.json"
	schemaRun      = "run.json"
	schemaSave     = "save.json"
)

const maxBodyBytes = 1 << 20

type payloadSchemas map[string]*jsonschema.Schema

func compileSchemas() (payloadSchemas, error) {
	c := jsonschema.NewCompiler()
	names := []string{schemaWorkflow, schemaRun, schemaSave}
	for _, name := range names {
		raw, err := schemaFS.ReadFile("schemas/" + name)
		if err != nil {
			return nil, err
		}
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
		if err != nil {
			return nil, fmt.Errorf("unmarshal schema %s: %w", name, err)
		}
		if err := c.AddResource(schemaBase+name, doc); err != nil {
			return nil, fmt.Errorf("add schema %s: %w", name, err)
		}
	}
	out := make(payloadSchemas, len(names))
	for _, name := range names {
		sch, err := c.Compile(schemaBase + name)
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = sch
	}
	return out, nil
}

// decode reads a JSON body, checks it against the named schema and decodes
// it into v.
func (p payloadSchemas) decode(w http.ResponseWriter, r *http.Request, name string, v any) error {
	raw, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxBodyBytes))
	if err != nil {
		var tooBig *http.MaxBytesError
		if errors.As(err, &tooBig) {
			return apperr.Newf(apperr.CodeInvalidRequest, "request body exceeds %d bytes", tooBig.Limit)
		}
		return apperr.New(apperr.CodeInvalidRequest, "cannot read request body").WithCause(err)
	}
	doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return apperr.New(apperr.CodeInvalidRequest, "malformed JSON body").WithCause(err)
	}
	if err := p[name].Validate(doc); err != nil {
		return schemaError(err)
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return apperr.New(apperr.CodeInvalidRequest, "malformed JSON body").WithCause(err)
	}
	return nil
}

func schemaError(err error) error {
	var verr *jsonschema.ValidationError
	if !errors.As(err, &verr) {
		return apperr.New(apperr.CodeInvalidRequest, err.Error())
	}
	violations := collectViolations(verr)
	msg := "request does not match schema"
	if len(violations) == 1 {
		msg = violations[0]
	}
	return apperr.New(apperr.CodeInvalidRequest, msg).WithDetails(map[string]any{"violations": violations})
}

func collectViolations(verr *jsonschema.ValidationError) []string {
	if len(verr.Causes) == 0 {
		return []string{fmt.Sprintf("/%s: %s", strings.Join(verr.InstanceLocation, "/"), verr.Error())}
	}
	var out []string
	for _, c := range verr.Causes {
		out = append(out, collectViolations(c)...)
	}
	return out
}
