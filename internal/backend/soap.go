package backend

import (
	"context"
	"fmt"
	"net/http"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/yourorg/erp-loader/internal/response"
	"github.com/yourorg/erp-loader/internal/types"
)

// SOAPConfig addresses one asynchronous-style SOAP bulk service.
type SOAPConfig struct {
	Conn
	Service         string // service path; also used for the token handshake
	Namespace       string
	Entity          string // document element, e.g. ServiceEntrySheet
	ItemsName       string
	ReferenceFields []string // looked up inside each confirmation block
	SOAPAction      string
}

// SOAPAdapter sends documents as one bulk envelope and reads back one
// confirmation block per document, in submission order.
type SOAPAdapter struct {
	cfg SOAPConfig
	now func() time.Time
}

func NewSOAPAdapter(cfg SOAPConfig) *SOAPAdapter {
	cfg.Conn = cfg.Conn.withDefaults()
	if len(cfg.ReferenceFields) == 0 {
		cfg.ReferenceFields = []string{cfg.Entity}
	}
	return &SOAPAdapter{cfg: cfg, now: time.Now}
}

func (a *SOAPAdapter) Name() string { return "soap" }

func (a *SOAPAdapter) SubmitDocument(ctx context.Context, doc types.Document) (types.Outcome, error) {
	out, err := a.SubmitEnvelope(ctx, []types.Document{doc})
	if err != nil {
		return types.Outcome{}, err
	}
	return out[0], nil
}

// SubmitEnvelope fetches a fresh token, posts one envelope for docs and maps
// the confirmations back. A SOAP fault rejects every document with the
// fault message.
func (a *SOAPAdapter) SubmitEnvelope(ctx context.Context, docs []types.Document) ([]types.Outcome, error) {
	if len(docs) == 0 {
		return nil, nil
	}
	spec := envelopeSpec{Namespace: a.cfg.Namespace, Entity: a.cfg.Entity, ItemsName: a.cfg.ItemsName, Now: a.now()}
	body, err := buildEnvelope(spec, docs)
	if err != nil {
		return nil, err
	}

	url := a.cfg.url(a.cfg.Service)
	token, err := a.cfg.fetchToken(ctx, url)
	if err != nil {
		a.cfg.Logger.Warn("token handshake failed", zap.Error(err))
		return nil, err
	}

	req, err := a.cfg.newRequest(ctx, http.MethodPost, url, body)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Content-Type", "text/xml; charset=utf-8")
	req.Header.Set(headerCSRF, token)
	if a.cfg.SOAPAction != "" {
		req.Header.Set("SOAPAction", a.cfg.SOAPAction)
	}

	raw, err := a.cfg.do(req, a.Name())
	if err != nil {
		return nil, fmt.Errorf("post envelope: %w", err)
	}
	p := response.Parse(raw)
	if p.Tree == nil && raw.StatusCode >= 400 {
		return nil, &HTTPError{StatusCode: raw.StatusCode, Body: response.Snippet(raw.Body)}
	}
	if p.Tree == nil || p.IsError {
		out := make([]types.Outcome, len(docs))
		for i, d := range docs {
			out[i] = errorOutcome(d, p)
		}
		return out, nil
	}
	return a.confirmations(p.Tree, docs), nil
}

// confirmations matches confirmation blocks to documents by position. Log
// items outside any block apply to every document. Any error-severity log
// item makes the document an Error; the issued id is kept as reference.
func (a *SOAPAdapter) confirmations(root *response.Node, docs []types.Document) []types.Outcome {
	spec := envelopeSpec{Entity: a.cfg.Entity}
	blocks := root.FindAll(spec.confirmationElement())

	var global []response.Item
	if bulk := root.Find(spec.bulkConfirmation()); bulk != nil {
		for _, c := range bulk.Children {
			if strings.EqualFold(c.Local(), "Log") {
				global = append(global, logItems(c)...)
			}
		}
	}

	out := make([]types.Outcome, len(docs))
	for i, doc := range docs {
		items := append([]response.Item(nil), global...)
		var ref string
		if i < len(blocks) {
			ref = a.reference(blocks[i])
			for _, l := range blocks[i].FindAll("Log") {
				items = append(items, logItems(l)...)
			}
		} else {
			items = append(items, response.Item{Severity: "error", Message: ErrNoConfirmation.Error()})
		}
		out[i] = outcomeFromLog(doc, ref, items)
	}
	return out
}

func (a *SOAPAdapter) reference(block *response.Node) string {
	var parts []string
	for _, f := range a.cfg.ReferenceFields {
		if v := leafText(block, f); v != "" {
			parts = append(parts, v)
		}
	}
	return strings.Join(parts, "/")
}

// leafText returns the text of the first element named local that has no
// children. Wrapper elements often share the name of the id they contain.
func leafText(n *response.Node, local string) string {
	if n == nil {
		return ""
	}
	if len(n.Children) == 0 {
		if strings.EqualFold(n.Local(), local) {
			return n.Text
		}
		return ""
	}
	for _, c := range n.Children {
		if v := leafText(c, local); v != "" {
			return v
		}
	}
	return ""
}

// logItems reads <Log><Item><TypeID/><SeverityCode/><Note/></Item></Log>.
func logItems(log *response.Node) []response.Item {
	var out []response.Item
	for _, it := range log.FindAll("Item") {
		note := it.ChildText("Note")
		if note == "" {
			continue
		}
		sev := it.ChildText("SeverityCode")
		if sev == "" {
			sev = it.ChildText("Severity")
		}
		out = append(out, response.Item{
			Code:     it.ChildText("TypeID"),
			Severity: sev,
			Message:  note,
			Target:   it.ChildText("WebURI"),
		})
	}
	return out
}

func outcomeFromLog(doc types.Document, ref string, items []response.Item) types.Outcome {
	out := types.Outcome{
		Status:    types.StatusSuccess,
		Reference: ref,
		Details:   details(items),
		Records:   doc.Records,
	}
	for _, it := range items {
		if response.IsErrorSeverity(it.Severity) {
			out.Status = types.StatusError
			out.Code = it.Code
			out.Message = it.Message
			break
		}
	}
	return out
}
