package batteryinfo

import (
	"encoding/json"

	ios "github.com/batterymanager/batteryinfo/ios"
	"github.com/batterymanager/batteryinfo/ios/diagnostics"
)

// Renderer turns the chosen diagnostics document into the bytes written to the output.
type Renderer interface {
	Render(doc diagnostics.Document) ([]byte, error)
}

// RendererFunc adapts a function to Renderer.
type RendererFunc func(doc diagnostics.Document) ([]byte, error)

func (fn RendererFunc) Render(doc diagnostics.Document) ([]byte, error) {
	return fn(doc)
}

// XMLRenderer prints the document as an XML property list.
type XMLRenderer struct{}

func (XMLRenderer) Render(doc diagnostics.Document) ([]byte, error) {
	return ios.ToXMLPlist(doc)
}

// SummaryRenderer prints the BatterySummary of the document as JSON.
type SummaryRenderer struct{}

func (SummaryRenderer) Render(doc diagnostics.Document) ([]byte, error) {
	return marshalJSON(Summarize(doc))
}

func marshalJSON(v interface{}) ([]byte, error) {
	b, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return nil, err
	}
	return append(b, '\n'), nil
}
