// Package batteryinfo fetches battery diagnostics from an attached device. It finds the
// device, starts a lockdown session and the diagnostics relay, asks the relay for a fixed
// list of keys and writes the first non-empty answer.
package batteryinfo

import (
	"errors"
	"fmt"
	"io"
	"os"

	"github.com/batterymanager/batteryinfo/ios/diagnostics"
	"github.com/google/uuid"
	log "github.com/sirupsen/logrus"
	"golang.org/x/exp/maps"
	"golang.org/x/exp/slices"
)

// ClientLabel identifies this tool to lockdownd.
const ClientLabel = "get_battery_info"

// ErrNoDiagnostics is returned when no query produced a non-empty document.
var ErrNoDiagnostics = errors.New("no diagnostics query returned data")

// DefaultQueries are tried in order until one of them answers with data.
var DefaultQueries = []diagnostics.Query{
	diagnostics.KeyQuery("All"),
	diagnostics.KeyQuery("GasGauge"),
	diagnostics.KeyQuery("IORegistry"),
}

// Outcome classifies how a run ended.
type Outcome int

const (
	// Success means a document was written to the output.
	Success Outcome = iota
	// SoftFailure means every resource was acquired but nothing usable came back.
	SoftFailure
	// Fatal means device discovery, the session, the service or the relay client failed.
	Fatal
)

func (o Outcome) String() string {
	switch o {
	case Success:
		return "success"
	case SoftFailure:
		return "soft failure"
	case Fatal:
		return "fatal"
	default:
		return fmt.Sprintf("Outcome(%d)", int(o))
	}
}

// ExitCode is the process status for the outcome. Only fatal failures exit non-zero.
func (o Outcome) ExitCode() int {
	if o == Fatal {
		return 1
	}
	return 0
}

// Fetcher runs the pipeline against a Backend. A Fetcher can be run more than once.
type Fetcher struct {
	backend  Backend
	udid     string
	label    string
	queries  []diagnostics.Query
	renderer Renderer
	output   io.Writer
	notices  *log.Logger
}

// Option configures a Fetcher.
type Option func(*Fetcher)

// WithUDID selects the device. Empty means the only attached device.
func WithUDID(udid string) Option {
	return func(f *Fetcher) {
		f.udid = udid
	}
}

// WithLabel sets the client label sent with StartSession.
func WithLabel(label string) Option {
	return func(f *Fetcher) {
		f.label = label
	}
}

// WithQueries replaces DefaultQueries.
func WithQueries(queries ...diagnostics.Query) Option {
	return func(f *Fetcher) {
		f.queries = append([]diagnostics.Query(nil), queries...)
	}
}

// WithRenderer sets how the chosen document is turned into output bytes.
func WithRenderer(renderer Renderer) Option {
	return func(f *Fetcher) {
		f.renderer = renderer
	}
}

// WithOutput sets where the rendered document goes, os.Stdout by default.
func WithOutput(w io.Writer) Option {
	return func(f *Fetcher) {
		f.output = w
	}
}

// WithNotices sets the logger for progress and error notices, see NewNoticeLogger.
func WithNotices(notices *log.Logger) Option {
	return func(f *Fetcher) {
		f.notices = notices
	}
}

// NewFetcher returns a Fetcher that queries DefaultQueries and prints XML plists.
func NewFetcher(backend Backend, opts ...Option) *Fetcher {
	f := &Fetcher{
		backend:  backend,
		label:    ClientLabel,
		queries:  DefaultQueries,
		renderer: XMLRenderer{},
		output:   os.Stdout,
	}
	for _, opt := range opts {
		opt(f)
	}
	if f.notices == nil {
		f.notices = NewNoticeLogger(os.Stderr)
	}
	return f
}

// Run executes the whole pipeline once. Resources are released in reverse order of
// acquisition on every path. The returned error is nil only for Success.
func (f *Fetcher) Run() (Outcome, error) {
	logger := log.WithFields(log.Fields{"run": uuid.New().String(), "label": f.label})

	device, err := f.backend.FindDevice(f.udid)
	if err != nil {
		f.notices.WithError(err).Error("No device found")
		return Fatal, fmt.Errorf("device discovery: %w", err)
	}
	defer release(logger, "device", device.Release)
	logger = logger.WithField("udid", device.UDID())

	session, err := f.backend.StartSession(device, f.label)
	if err != nil {
		f.notices.WithError(err).Error("Could not connect to lockdownd")
		return Fatal, fmt.Errorf("lockdown session: %w", err)
	}
	defer release(logger, "session", session.Close)

	service, err := session.StartService(diagnostics.ServiceName)
	if err != nil {
		f.notices.WithError(err).Error("Could not start diagnostics relay service")
		return Fatal, fmt.Errorf("start %s: %w", diagnostics.ServiceName, err)
	}
	defer release(logger, "service", service.Release)
	logger.WithField("port", service.Port()).Debug("diagnostics relay started")

	client, err := f.backend.NewDiagnosticsClient(device, service)
	if err != nil {
		f.notices.WithError(err).Error("Could not create diagnostics relay client")
		return Fatal, fmt.Errorf("diagnostics relay client: %w", err)
	}
	defer release(logger, "diagnostics client", func() error {
		err := client.Goodbye()
		if err != nil {
			logger.WithError(err).Debug("diagnostics relay goodbye failed")
		}
		return client.Close()
	})

	doc, query, err := f.query(logger, client)
	if err != nil {
		f.notices.Error("Failed to request battery diagnostics")
		return SoftFailure, err
	}

	out, err := f.renderer.Render(doc)
	if err != nil {
		f.notices.WithError(err).Errorf("Failed to render response from '%s'", query)
		return SoftFailure, fmt.Errorf("render '%s': %w", query, err)
	}
	_, err = f.output.Write(out)
	if err != nil {
		f.notices.WithError(err).Error("Failed to write output")
		return SoftFailure, fmt.Errorf("write output: %w", err)
	}
	return Success, nil
}

// query tries the queries in order and returns the first non-empty document.
func (f *Fetcher) query(logger *log.Entry, client DiagnosticsClient) (diagnostics.Document, diagnostics.Query, error) {
	for _, q := range f.queries {
		f.notices.Infof("Trying '%s'...", q)
		doc, err := client.Request(q)
		if err != nil {
			logger.WithError(err).WithField("query", q.String()).Debug("diagnostics request failed")
			continue
		}
		if len(doc) == 0 {
			logger.WithField("query", q.String()).Debug("diagnostics request returned no data")
			continue
		}
		f.notices.Infof("SUCCESS: Got response from '%s'", q)
		logger.WithFields(log.Fields{"query": q.String(), "keys": sortedKeys(doc)}).Debug("using diagnostics response")
		return doc, q, nil
	}
	return nil, diagnostics.Query{}, ErrNoDiagnostics
}

func release(logger *log.Entry, what string, fn func() error) {
	err := fn()
	if err != nil {
		logger.WithError(err).Debugf("releasing %s failed", what)
		return
	}
	logger.Tracef("released %s", what)
}

func sortedKeys(doc diagnostics.Document) []string {
	keys := maps.Keys(doc)
	slices.Sort(keys)
	return keys
}
