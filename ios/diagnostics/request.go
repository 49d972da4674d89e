package diagnostics

import (
	"errors"
	"fmt"

	plist "howett.net/plist"
)

var (
	// ErrUnknownRequest means the relay does not know the requested key.
	ErrUnknownRequest = errors.New("diagnostics relay: unknown request")
	// ErrRequestFailed means the relay answered with a status other than Success.
	ErrRequestFailed = errors.New("diagnostics relay: request failed")
)

// Document is the dynamically typed tree found under the Diagnostics key of a reply.
type Document = map[string]interface{}

// Query is one request the relay can answer. Plain queries only carry a Key,
// IORegistry queries may narrow the registry entry.
type Query struct {
	Key          string
	CurrentPlane string
	EntryName    string
	EntryClass   string
}

// KeyQuery returns a plain query like "All" or "GasGauge".
func KeyQuery(key string) Query {
	return Query{Key: key}
}

// IORegistryQuery returns a query for the registry entry of the given class.
func IORegistryQuery(entryClass string) Query {
	return Query{Key: "IORegistry", EntryClass: entryClass}
}

// String is the name printed in progress notices.
func (q Query) String() string {
	switch {
	case q.EntryClass != "":
		return q.EntryClass
	case q.EntryName != "":
		return q.EntryName
	default:
		return q.Key
	}
}

func (q Query) request() map[string]interface{} {
	req := map[string]interface{}{"Request": q.Key}
	if q.CurrentPlane != "" {
		req["CurrentPlane"] = q.CurrentPlane
	}
	if q.EntryName != "" {
		req["EntryName"] = q.EntryName
	}
	if q.EntryClass != "" {
		req["EntryClass"] = q.EntryClass
	}
	return req
}

func goodbyeRequest() map[string]interface{} {
	return map[string]interface{}{"Request": "Goodbye"}
}

type relayResponse struct {
	Status      string
	Diagnostics Document
}

func responseFromBytes(plistBytes []byte) (relayResponse, error) {
	var resp relayResponse
	_, err := plist.Unmarshal(plistBytes, &resp)
	if err != nil {
		return relayResponse{}, fmt.Errorf("failed decoding diagnostics relay response: %w", err)
	}
	return resp, nil
}

func (r relayResponse) err() error {
	switch r.Status {
	case "Success":
		return nil
	case "UnknownRequest":
		return ErrUnknownRequest
	default:
		return fmt.Errorf("%w: status '%s'", ErrRequestFailed, r.Status)
	}
}
