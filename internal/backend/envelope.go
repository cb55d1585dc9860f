package backend

import (
	"bytes"
	"encoding/xml"
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/yourorg/erp-loader/internal/types"
)

const nsSOAPEnv = "http://schemas.xmlsoap.org/soap/envelope/"

// envelopeSpec names the elements of one bulk request.
type envelopeSpec struct {
	Namespace string
	Entity    string // document element, e.g. ServiceEntrySheet
	ItemsName string
	Now       time.Time
}

func (s envelopeSpec) bulkElement() string         { return s.Entity + "BulkRequest" }
func (s envelopeSpec) requestElement() string      { return s.Entity + "Request" }
func (s envelopeSpec) confirmationElement() string { return s.Entity + "Confirmation" }
func (s envelopeSpec) bulkConfirmation() string    { return s.Entity + "BulkConfirmation" }

// buildEnvelope writes the SOAP envelope for docs. Every document gets its
// own request block and message id; fields are written in name order and
// nil values are skipped.
func buildEnvelope(spec envelopeSpec, docs []types.Document) ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteString(xml.Header)
	enc := xml.NewEncoder(&buf)
	w := &xmlWriter{enc: enc}

	w.start("soapenv:Envelope",
		xml.Attr{Name: xml.Name{Local: "xmlns:soapenv"}, Value: nsSOAPEnv},
		xml.Attr{Name: xml.Name{Local: "xmlns:n0"}, Value: spec.Namespace})
	w.start("soapenv:Header")
	w.end("soapenv:Header")
	w.start("soapenv:Body")
	w.start("n0:" + spec.bulkElement())
	w.messageHeader(spec.Now)
	for _, doc := range docs {
		w.start(spec.requestElement())
		w.messageHeader(spec.Now)
		w.start(spec.Entity)
		w.fields(doc.Header)
		for _, s := range doc.Sections {
			w.start(s.Name)
			w.fields(s.Fields)
			w.end(s.Name)
		}
		for _, it := range doc.Items {
			w.start(spec.ItemsName)
			w.fields(it.Fields)
			for _, s := range it.Sections {
				w.start(s.Name)
				w.fields(s.Fields)
				w.end(s.Name)
			}
			w.end(spec.ItemsName)
		}
		w.end(spec.Entity)
		w.end(spec.requestElement())
	}
	w.end("n0:" + spec.bulkElement())
	w.end("soapenv:Body")
	w.end("soapenv:Envelope")

	if w.err == nil {
		w.err = enc.Flush()
	}
	if w.err != nil {
		return nil, fmt.Errorf("encode envelope: %w", w.err)
	}
	return buf.Bytes(), nil
}

// xmlWriter keeps the first encoding error.
type xmlWriter struct {
	enc *xml.Encoder
	err error
}

func (w *xmlWriter) token(t xml.Token) {
	if w.err == nil {
		w.err = w.enc.EncodeToken(t)
	}
}

func (w *xmlWriter) start(name string, attrs ...xml.Attr) {
	w.token(xml.StartElement{Name: xml.Name{Local: name}, Attr: attrs})
}

func (w *xmlWriter) end(name string) {
	w.token(xml.EndElement{Name: xml.Name{Local: name}})
}

func (w *xmlWriter) leaf(name, value string) {
	w.start(name)
	w.token(xml.CharData(value))
	w.end(name)
}

func (w *xmlWriter) messageHeader(now time.Time) {
	w.start("MessageHeader")
	w.leaf("ID", strings.ReplaceAll(uuid.NewString(), "-", ""))
	w.leaf("CreationDateTime", now.UTC().Format(time.RFC3339))
	w.end("MessageHeader")
}

func (w *xmlWriter) fields(f types.Fields) {
	keys := make([]string, 0, len(f))
	for k := range f {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		v := f[k]
		if v == nil {
			continue
		}
		w.leaf(k, fmt.Sprint(v))
	}
}
