package schema

import (
	"testing"

	apperrors "github.com/trinetra-eo/cogcatalog/internal/errors"
)

func TestValidateCogIngest(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	valid := `{"satelliteId":"3R","processingLevel":"L1B","productCode":"IMG_HMK","filepath":"/data/a.tif",
		"aquisition_datetime":1743660000000,"type":"VIS",
		"cornerCoords":{"upperLeft":[70,30],"upperRight":[90,30],"lowerLeft":[70,8],"lowerRight":[90,8]},
		"bands":[{"description":"IMG_VIS","min":0,"max":1023,"noDataValue":null}]}`
	if err := v.Validate(KindCogIngest, []byte(valid)); err != nil {
		t.Errorf("Validate() unexpected error = %v", err)
	}

	isoDate := `{"satelliteId":"3R","processingLevel":"L1B","productCode":"HMK","filepath":"/a.tif",
		"aquisition_datetime":"2025-04-03T06:00:00Z","type":"VIS"}`
	if err := v.Validate(KindCogIngest, []byte(isoDate)); err != nil {
		t.Errorf("Validate() with string datetime error = %v", err)
	}
}

func TestValidateRejects(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}

	tests := []struct {
		name string
		doc  string
		code apperrors.ErrorCode
	}{
		{"missing filepath", `{"satelliteId":"3R","processingLevel":"L1B","productCode":"HMK","aquisition_datetime":1,"type":"VIS"}`, apperrors.CAT_SCHEMA_REJECT},
		{"boolean datetime", `{"satelliteId":"3R","processingLevel":"L1B","productCode":"HMK","filepath":"/a","aquisition_datetime":true,"type":"VIS"}`, apperrors.CAT_SCHEMA_REJECT},
		{"short corner", `{"satelliteId":"3R","processingLevel":"L1B","productCode":"HMK","filepath":"/a","aquisition_datetime":1,"type":"VIS","cornerCoords":{"upperLeft":[1]}}`, apperrors.CAT_SCHEMA_REJECT},
		{"not json", `{"satelliteId":`, apperrors.CAT_BAD_REQUEST},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := v.Validate(KindCogIngest, []byte(tt.doc))
			e, ok := apperrors.As(err)
			if !ok {
				t.Fatalf("Validate() error = %v, want *errors.Error", err)
			}
			if e.Code != tt.code {
				t.Errorf("Validate() code = %v, want %v", e.Code, tt.code)
			}
		})
	}
}

func TestValidateSatellite(t *testing.T) {
	v, err := NewValidator()
	if err != nil {
		t.Fatalf("NewValidator() error = %v", err)
	}
	if err := v.Validate(KindSatelliteCreate, []byte(`{"satelliteId":"3R","name":"INSAT-3DR"}`)); err != nil {
		t.Errorf("Validate() error = %v", err)
	}
	if err := v.Validate(KindSatelliteCreate, []byte(`{"name":"INSAT-3DR"}`)); err == nil {
		t.Error("Validate() expected error for missing satelliteId")
	}
}
