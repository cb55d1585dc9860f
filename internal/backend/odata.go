package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/response"
	"github.com/yourorg/erp-loader/internal/types"
)

// ODataConfig addresses one entity set of an OData service.
type ODataConfig struct {
	Conn
	Service         string   // e.g. /sap/opu/odata/sap/API_MATERIAL_DOCUMENT_SRV
	Entity          string   // e.g. A_MaterialDocumentHeader
	ItemsName       string   // navigation property holding the line items
	ReferenceFields []string // joined with "/" into the outcome reference
	FetchToken      bool     // perform a CSRF handshake before each POST
}

// ODataAdapter creates documents with one deep-insert POST each.
type ODataAdapter struct {
	cfg ODataConfig
}

func NewODataAdapter(cfg ODataConfig) *ODataAdapter {
	cfg.Conn = cfg.Conn.withDefaults()
	return &ODataAdapter{cfg: cfg}
}

func (a *ODataAdapter) Name() string { return "odata" }

func (a *ODataAdapter) entityURL() string {
	return a.cfg.url(strings.TrimRight(a.cfg.Service, "/") + "/" + a.cfg.Entity)
}

func (a *ODataAdapter) SubmitDocument(ctx context.Context, doc types.Document) (types.Outcome, error) {
	body, err := json.Marshal(Payload(doc, a.cfg.ItemsName))
	if err != nil {
		return types.Outcome{}, fmt.Errorf("marshal document %s: %w", doc.Key, err)
	}

	var token string
	if a.cfg.FetchToken {
		if token, err = a.cfg.fetchToken(ctx, a.cfg.url(a.cfg.Service)+"/"); err != nil {
			return types.Outcome{}, err
		}
	}

	req, err := a.cfg.newRequest(ctx, http.MethodPost, a.entityURL(), body)
	if err != nil {
		return types.Outcome{}, err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Accept", "application/json")
	if token != "" {
		req.Header.Set(headerCSRF, token)
	}

	raw, err := a.cfg.do(req, a.Name())
	if err != nil {
		return types.Outcome{}, fmt.Errorf("post document %s: %w", doc.Key, err)
	}
	p := response.Parse(raw)
	if unreadable(raw, p) {
		return types.Outcome{}, &HTTPError{StatusCode: raw.StatusCode, Body: response.Snippet(raw.Body)}
	}
	if p.IsError {
		out := errorOutcome(doc, p)
		a.cfg.Logger.Debug("document rejected",
			zap.String("key", doc.Key), zap.String("code", out.Code), zap.String("message", out.Message))
		return out, nil
	}
	return types.Outcome{
		Status:    types.StatusSuccess,
		Reference: reference(p, a.cfg.ReferenceFields),
		Details:   details(p.Items),
		Records:   doc.Records,
	}, nil
}

// reference joins the non-empty reference fields of the response header.
func reference(p response.Parsed, fields []string) string {
	var parts []string
	for _, f := range fields {
		if v := p.String(f); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "/")
}

// Payload renders a document as a deep-insert body: header fields at the
// top, header sections as nested objects and items as an array under
// itemsName, each item carrying its sections as one-element collections.
func Payload(doc types.Document, itemsName string) map[string]any {
	out := make(map[string]any, len(doc.Header)+len(doc.Sections)+1)
	for k, v := range doc.Header {
		out[k] = v
	}
	for _, s := range doc.Sections {
		out[s.Name] = map[string]any(s.Fields.Clone())
	}
	if len(doc.Items) == 0 || itemsName == "" {
		return out
	}
	items := make([]map[string]any, len(doc.Items))
	for i, it := range doc.Items {
		m := make(map[string]any, len(it.Fields)+len(it.Sections))
		for k, v := range it.Fields {
			m[k] = v
		}
		for _, s := range it.Sections {
			m[s.Name] = []map[string]any{s.Fields.Clone()}
		}
		items[i] = m
	}
	out[itemsName] = items
	return out
}
