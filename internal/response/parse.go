// Package response normalizes backend response bodies into a header plus a
// flat list of message items. JSON envelopes (OData V2 and V4), XML
// documents (SOAP faults, OData XML errors, arbitrary trees) and bodies that
// embed either inside surrounding text are supported, as are messages sent
// in the sap-message header.
package response

import (
	"bytes"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"
)

const (
	// CodeParseError marks the synthetic item produced for unreadable bodies.
	CodeParseError = "PARSE_ERROR"
	// HeaderMessage carries additional backend messages as JSON.
	HeaderMessage = "sap-message"

	snippetLen = 200
)

// Raw is an HTTP response as received.
type Raw struct {
	StatusCode  int
	Header      http.Header
	Body        []byte
	ContentType string
}

// Item is one normalized message. Message is always set.
type Item struct {
	Code      string `json:"code,omitempty"`
	Message   string `json:"message"`
	Severity  string `json:"severity,omitempty"`
	Target    string `json:"target,omitempty"`
	Reference string `json:"reference,omitempty"`
}

// Parsed is the normalized response.
type Parsed struct {
	Header  map[string]any
	Items   []Item
	IsError bool
	Tree    *Node // set for XML bodies
}

// String renders a header field as text, "" when absent.
func (p Parsed) String(field string) string {
	v, ok := p.Header[field]
	if !ok || v == nil {
		return ""
	}
	if s, isStr := v.(string); isStr {
		return s
	}
	return fmt.Sprint(v)
}

// ErrorItems returns the items with error severity.
func (p Parsed) ErrorItems() []Item {
	var out []Item
	for _, it := range p.Items {
		if IsErrorSeverity(it.Severity) {
			out = append(out, it)
		}
	}
	return out
}

// IsErrorSeverity reports whether a backend severity marker denotes an error.
// Single letters follow the ABAP message types, digits the SOAP log codes.
func IsErrorSeverity(s string) bool {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "e", "a", "x", "3", "error", "abort", "fatal":
		return true
	}
	return false
}

// Parse never panics. Bodies that cannot be read yield exactly one synthetic
// error item.
func Parse(raw Raw) (p Parsed) {
	defer func() {
		if r := recover(); r != nil {
			p = unparseable(raw, fmt.Sprintf("parser panic: %v", r))
		}
	}()

	body := bytes.TrimSpace(raw.Body)
	if len(body) == 0 {
		p = Parsed{Header: map[string]any{}}
		if failed(raw.StatusCode) {
			p.IsError = true
			p.Items = []Item{httpItem(raw.StatusCode, "")}
		}
		return withHeaderMessages(p, raw.Header)
	}

	var ok bool
	switch sniff(raw.ContentType, body) {
	case kindJSON:
		if p, ok = parseJSONBody(string(body)); !ok {
			p, ok = parseXMLBody(body)
		}
	default:
		if p, ok = parseXMLBody(body); !ok {
			p, ok = parseJSONBody(string(body))
		}
	}
	if !ok {
		return unparseable(raw, "response body is neither JSON nor XML")
	}
	if failed(raw.StatusCode) && !p.IsError {
		p.IsError = true
		if len(p.ErrorItems()) == 0 {
			p.Items = append([]Item{httpItem(raw.StatusCode, "")}, p.Items...)
		}
	}
	return withHeaderMessages(p, raw.Header)
}

func failed(status int) bool { return status >= 400 }

type kind int

const (
	kindJSON kind = iota
	kindXML
)

func sniff(contentType string, body []byte) kind {
	ct := strings.ToLower(contentType)
	switch {
	case strings.Contains(ct, "json"):
		return kindJSON
	case strings.Contains(ct, "xml"):
		return kindXML
	}
	if body[0] == '<' {
		return kindXML
	}
	return kindJSON
}

func unparseable(raw Raw, reason string) Parsed {
	it := Item{Code: CodeParseError, Severity: "error", Message: reason}
	if failed(raw.StatusCode) {
		it = httpItem(raw.StatusCode, Snippet(raw.Body))
	} else if s := Snippet(raw.Body); s != "" {
		it.Message = fmt.Sprintf("%s: %s", reason, s)
	}
	return Parsed{Header: map[string]any{}, Items: []Item{it}, IsError: true}
}

func httpItem(status int, detail string) Item {
	msg := fmt.Sprintf("HTTP %d %s", status, http.StatusText(status))
	if detail != "" {
		msg += ": " + detail
	}
	return Item{Code: fmt.Sprintf("HTTP_%d", status), Severity: "error", Message: strings.TrimSpace(msg)}
}

// Snippet collapses whitespace in b and truncates it for log and error text.
func Snippet(b []byte) string {
	s := strings.Join(strings.Fields(string(b)), " ")
	if len(s) > snippetLen {
		s = s[:snippetLen] + "..."
	}
	return s
}

// parseJSONBody tries the whole body first, then every embedded object.
func parseJSONBody(body string) (Parsed, bool) {
	if v, err := decodeJSON(body); err == nil {
		if p, ok := fromJSON(v); ok {
			return p, true
		}
	}
	for next := 0; next < len(body); {
		payload, n, found := ExtractJSON(body, next)
		if !found {
			break
		}
		next = n
		v, err := decodeJSON(payload)
		if err != nil {
			continue
		}
		if p, ok := fromJSON(v); ok {
			return p, true
		}
	}
	return Parsed{}, false
}

func decodeJSON(s string) (any, error) {
	dec := json.NewDecoder(strings.NewReader(s))
	dec.UseNumber()
	var v any
	if err := dec.Decode(&v); err != nil {
		return nil, err
	}
	if dec.More() {
		return nil, fmt.Errorf("trailing data after JSON value")
	}
	return v, nil
}

func fromJSON(v any) (Parsed, bool) {
	obj, ok := v.(map[string]any)
	if !ok {
		if arr, isArr := v.([]any); isArr {
			return Parsed{Header: map[string]any{"results": arr}}, true
		}
		return Parsed{}, false
	}
	if e, isErr := obj["error"].(map[string]any); isErr {
		return Parsed{Header: map[string]any{}, Items: jsonErrorItems(e), IsError: true}, true
	}
	if d, isV2 := obj["d"].(map[string]any); isV2 {
		return Parsed{Header: d}, true
	}
	return Parsed{Header: obj}, true
}

// jsonErrorItems flattens an OData error object: the top-level entry first,
// then details and inner error details not repeating it.
func jsonErrorItems(e map[string]any) []Item {
	top := Item{
		Code:     text(e["code"]),
		Message:  messageText(e["message"]),
		Severity: "error",
		Target:   text(e["target"]),
	}
	if top.Message == "" {
		top.Message = "backend reported an error without message"
	}
	items := []Item{top}
	seen := map[string]bool{top.Code + "\x00" + top.Message: true}

	var details []any
	if d, ok := e["details"].([]any); ok {
		details = append(details, d...)
	}
	if inner, ok := e["innererror"].(map[string]any); ok {
		if d, ok := inner["errordetails"].([]any); ok {
			details = append(details, d...)
		}
	}
	for _, raw := range details {
		d, ok := raw.(map[string]any)
		if !ok {
			continue
		}
		it := Item{
			Code:     text(d["code"]),
			Message:  messageText(d["message"]),
			Severity: text(d["severity"]),
			Target:   text(d["target"]),
		}
		if it.Message == "" {
			continue
		}
		if it.Severity == "" {
			it.Severity = "error"
		}
		key := it.Code + "\x00" + it.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		items = append(items, it)
	}
	return items
}

// messageText accepts both "text" and the V2 form {"lang":..,"value":"text"}.
func messageText(v any) string {
	switch t := v.(type) {
	case map[string]any:
		return text(t["value"])
	default:
		return text(v)
	}
}

func text(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return strings.TrimSpace(t)
	default:
		return strings.TrimSpace(fmt.Sprint(t))
	}
}

func parseXMLBody(body []byte) (Parsed, bool) {
	root, err := ParseXMLTree(body)
	if err != nil {
		start := xmlStart(string(body))
		if start <= 0 {
			return Parsed{}, false
		}
		if root, err = ParseXMLTree(body[start:]); err != nil {
			return Parsed{}, false
		}
	}
	return fromXML(root), true
}

func fromXML(root *Node) Parsed {
	p := Parsed{Header: map[string]any{}, Tree: root}
	if fault := root.Find("Fault"); fault != nil {
		p.IsError = true
		p.Items = []Item{faultItem(fault)}
		return p
	}
	if strings.EqualFold(root.Local(), "error") {
		p.IsError = true
		p.Items = xmlErrorItems(root)
		return p
	}
	// header: leaf children of the first element carrying data, e.g. the
	// entry properties or the response message body.
	for _, c := range payloadRoot(root).Children {
		if len(c.Children) == 0 {
			p.Header[c.Local()] = c.Text
		}
	}
	return p
}

func payloadRoot(root *Node) *Node {
	if body := root.Find("Body"); body != nil && len(body.Children) > 0 {
		return body.Children[0]
	}
	if props := root.Find("properties"); props != nil {
		return props
	}
	return root
}

// faultItem reads SOAP 1.1 (faultcode/faultstring) and 1.2 (Code/Reason).
func faultItem(f *Node) Item {
	it := Item{Severity: "error", Code: f.ChildText("faultcode"), Message: f.ChildText("faultstring")}
	if code := f.Child("Code"); code != nil && it.Code == "" {
		it.Code = code.ChildText("Value")
	}
	if reason := f.Child("Reason"); reason != nil && it.Message == "" {
		it.Message = reason.ChildText("Text")
	}
	if it.Message == "" {
		it.Message = "SOAP fault without reason"
	}
	return it
}

// xmlErrorItems handles the OData V2 XML error document.
func xmlErrorItems(root *Node) []Item {
	top := Item{Severity: "error", Code: root.ChildText("code"), Message: root.ChildText("message")}
	if top.Message == "" {
		top.Message = "backend reported an error without message"
	}
	items := []Item{top}
	seen := map[string]bool{top.Code + "\x00" + top.Message: true}
	for _, d := range root.FindAll("errordetail") {
		it := Item{
			Code:     d.ChildText("code"),
			Message:  d.ChildText("message"),
			Severity: d.ChildText("severity"),
			Target:   d.ChildText("target"),
		}
		if it.Message == "" || seen[it.Code+"\x00"+it.Message] {
			continue
		}
		seen[it.Code+"\x00"+it.Message] = true
		if it.Severity == "" {
			it.Severity = "error"
		}
		items = append(items, it)
	}
	return items
}

// withHeaderMessages appends the messages of the sap-message header. Error
// severities in the header mark the response as failed.
func withHeaderMessages(p Parsed, h http.Header) Parsed {
	for _, raw := range h.Values(HeaderMessage) {
		for _, it := range HeaderItems(raw) {
			p.Items = append(p.Items, it)
			if IsErrorSeverity(it.Severity) {
				p.IsError = true
			}
		}
	}
	return p
}

// HeaderItems decodes one sap-message header value: a JSON object with
// optional nested details. Values that are not JSON become one info item.
func HeaderItems(raw string) []Item {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return nil
	}
	v, err := decodeJSON(raw)
	obj, ok := v.(map[string]any)
	if err != nil || !ok {
		return []Item{{Severity: "info", Message: raw}}
	}
	var items []Item
	add := func(m map[string]any) {
		it := Item{
			Code:     text(m["code"]),
			Message:  messageText(m["message"]),
			Severity: text(m["severity"]),
			Target:   text(m["target"]),
		}
		if it.Message != "" {
			items = append(items, it)
		}
	}
	add(obj)
	if details, ok := obj["details"].([]any); ok {
		for _, d := range details {
			if m, ok := d.(map[string]any); ok {
				add(m)
			}
		}
	}
	return items
}
