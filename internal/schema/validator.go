// internal/schema/validator.go
// Package schema provides JSON schema validation for incoming catalog documents.
// Payloads are checked before any store access.
package schema

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
)

// Document kinds with a registered schema.
const (
	KindCogIngest       = "cog.ingest"
	KindSatelliteCreate = "satellite.create"
	KindProductCreate   = "product.create"
)

const coordSchema = `{"type":"array","minItems":2,"maxItems":3,"items":{"type":"number"}}`

var cogIngestSchema = `{
	"type":"object",
	"required":["satelliteId","processingLevel","productCode","filepath","aquisition_datetime","type"],
	"properties":{
		"satelliteId":{"type":"string","minLength":1},
		"processingLevel":{"type":"string","minLength":1},
		"productCode":{"type":"string","minLength":1},
		"productDisplayName":{"type":"string"},
		"filename":{"type":"string"},
		"filepath":{"type":"string","minLength":1},
		"aquisition_datetime":{"type":["integer","string"]},
		"type":{"type":"string","minLength":1},
		"version":{"type":"string"},
		"revision":{"type":"string"},
		"resolution":{"type":"string"},
		"coverage":{"type":"object","properties":{
			"lat1":{"type":"number"},"lat2":{"type":"number"},"lon1":{"type":"number"},"lon2":{"type":"number"}}},
		"size":{"type":"object","properties":{"width":{"type":"integer","minimum":0},"height":{"type":"integer","minimum":0}}},
		"cornerCoords":{"type":"object","properties":{
			"upperLeft":` + coordSchema + `,"upperRight":` + coordSchema + `,
			"lowerLeft":` + coordSchema + `,"lowerRight":` + coordSchema + `,"center":` + coordSchema + `}},
		"bands":{"type":"array","items":{"type":"object","properties":{
			"bandId":{"type":"integer"},"description":{"type":"string"},
			"min":{"type":"number"},"max":{"type":"number"},"mean":{"type":"number"},"stdDev":{"type":"number"},
			"noDataValue":{"type":["number","null"]}}}}
	}
}`

const satelliteCreateSchema = `{"type":"object","required":["satelliteId","name"],"properties":{
	"satelliteId":{"type":"string","minLength":1,"maxLength":64},
	"name":{"type":"string","minLength":1,"maxLength":256},
	"manufacturer":{"type":"string"},
	"orbit":{"type":"string"}}}`

const productCreateSchema = `{"type":"object","required":["productId","satelliteId","processingLevel"],"properties":{
	"productId":{"type":"string","minLength":1},
	"satelliteId":{"type":"string","minLength":1},
	"processingLevel":{"type":"string","minLength":1},
	"productDisplayName":{"type":"string"},
	"isVisible":{"type":"boolean"}}}`

// Validator validates documents against compiled JSON schemas.
type Validator struct {
	schemas map[string]*gojsonschema.Schema
}

// NewValidator compiles every registered schema.
func NewValidator() (*Validator, error) {
	v := &Validator{schemas: make(map[string]*gojsonschema.Schema)}
	for kind, src := range map[string]string{
		KindCogIngest:       cogIngestSchema,
		KindSatelliteCreate: satelliteCreateSchema,
		KindProductCreate:   productCreateSchema,
	} {
		if err := v.loadSchema(kind, src); err != nil {
			return nil, err
		}
	}
	return v, nil
}

func (v *Validator) loadSchema(kind, schemaJSON string) error {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(schemaJSON))
	if err != nil {
		return fmt.Errorf("invalid schema for %s: %w", kind, err)
	}
	v.schemas[kind] = schema
	return nil
}

// Validate checks a raw JSON document. Violations are returned as a CAT_SCHEMA_REJECT
// error whose details list every failing field.
func (v *Validator) Validate(kind string, document []byte) error {
	schema, exists := v.schemas[kind]
	if !exists {
		return fmt.Errorf("schema not found for %s", kind)
	}

	result, err := schema.Validate(gojsonschema.NewBytesLoader(document))
	if err != nil {
		return apperrors.Invalid(apperrors.CAT_BAD_REQUEST, "request body is not valid JSON")
	}
	if result.Valid() {
		return nil
	}

	errs := make([]string, 0, len(result.Errors()))
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	e := apperrors.Invalid(apperrors.CAT_SCHEMA_REJECT, "validation failed: %s", strings.Join(errs, "; "))
	e.Details = errs
	return e
}
