package photos

import (
	"encoding/json"
	"strconv"
)

// fieldValue is one field of a CloudKit record. The value shape depends on
// the field: string, number, or a nested object such as an asset resource.
type fieldValue struct {
	Value json.RawMessage `json:"value"`
	Type  string          `json:"type,omitempty"`
}

// record is a CloudKit record as the photo zone returns it. Listing pages
// interleave CPLMaster and CPLAsset records; the master carries the media
// resources, the asset carries dates and the change tag.
type record struct {
	RecordName      string                `json:"recordName"`
	RecordType      string                `json:"recordType"`
	RecordChangeTag string                `json:"recordChangeTag"`
	Fields          map[string]fieldValue `json:"fields"`
}

// assetRef is the value of a `<prefix>Res` field: one downloadable resource
// of a master record.
type assetRef struct {
	FileChecksum      string `json:"fileChecksum"`
	ReferenceChecksum string `json:"referenceChecksum,omitempty"`
	WrappingKey       string `json:"wrappingKey,omitempty"`
	Size              int64  `json:"size"`
	DownloadURL       string `json:"downloadURL"`
}

func (r record) stringField(name string) string {
	f, ok := r.Fields[name]
	if !ok {
		return ""
	}

	var s string
	if json.Unmarshal(f.Value, &s) == nil {
		return s
	}

	return ""
}

func (r record) int64Field(name string) (int64, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return 0, false
	}

	var n json.Number
	if json.Unmarshal(f.Value, &n) != nil {
		return 0, false
	}

	v, err := n.Int64()
	if err != nil {
		return 0, false
	}

	return v, true
}

func (r record) assetField(name string) (assetRef, bool) {
	f, ok := r.Fields[name]
	if !ok {
		return assetRef{}, false
	}

	var ref assetRef
	if json.Unmarshal(f.Value, &ref) != nil {
		return assetRef{}, false
	}

	return ref, ok && ref.DownloadURL != ""
}

// referenceField reads a REFERENCE value ({"recordName": ...}), used by
// CPLAsset.masterRef to point at its CPLMaster.
func (r record) referenceField(name string) string {
	f, ok := r.Fields[name]
	if !ok {
		return ""
	}

	var ref struct {
		RecordName string `json:"recordName"`
	}
	if json.Unmarshal(f.Value, &ref) != nil {
		return ""
	}

	return ref.RecordName
}

// numberValue builds an outbound numeric field value.
func numberValue(n int64) fieldValue {
	return fieldValue{Value: json.RawMessage(strconv.FormatInt(n, 10))}
}

// zoneID names the CloudKit zone. The primary photo library lives in
// PrimarySync.
type zoneID struct {
	ZoneName string `json:"zoneName"`
}

var primaryZone = zoneID{ZoneName: "PrimarySync"}

// filterValue is the typed operand of a query filter.
type filterValue struct {
	Type  string `json:"type"`
	Value any    `json:"value"`
}

type queryFilter struct {
	FieldName  string      `json:"fieldName"`
	Comparator string      `json:"comparator"`
	FieldValue filterValue `json:"fieldValue"`
}

// queryBody is the POST body of records/query.
type queryBody struct {
	Query        querySpec `json:"query"`
	ResultsLimit int       `json:"resultsLimit,omitempty"`
	DesiredKeys  []string  `json:"desiredKeys,omitempty"`
	ZoneID       zoneID    `json:"zoneID"`
}

type querySpec struct {
	FilterBy   []queryFilter `json:"filterBy,omitempty"`
	RecordType string        `json:"recordType"`
}

type queryResponse struct {
	Records []record `json:"records"`
}

// batchBody is the POST body of records/query/batch, used for the index
// count lookup. Its filterBy is a single object, not a list.
type batchBody struct {
	Batch []batchQuery `json:"batch"`
}

type batchQuery struct {
	ResultsLimit int       `json:"resultsLimit"`
	Query        batchSpec `json:"query"`
	ZoneWide     bool      `json:"zoneWide"`
	ZoneID       zoneID    `json:"zoneID"`
}

type batchSpec struct {
	FilterBy   queryFilter `json:"filterBy"`
	RecordType string      `json:"recordType"`
}

type batchResponse struct {
	Batch []queryResponse `json:"batch"`
}

// modifyBody is the POST body of records/modify. Soft delete is an update
// operation setting isDeleted on the CPLAsset record.
type modifyBody struct {
	Operations []modifyOperation `json:"operations"`
	ZoneID     zoneID            `json:"zoneID"`
	Atomic     bool              `json:"atomic"`
}

type modifyOperation struct {
	OperationType string       `json:"operationType"`
	Record        modifyRecord `json:"record"`
}

type modifyRecord struct {
	RecordName      string                `json:"recordName"`
	RecordType      string                `json:"recordType"`
	RecordChangeTag string                `json:"recordChangeTag"`
	Fields          map[string]fieldValue `json:"fields"`
}
