package handshake

import (
	"net/url"
	"strings"

	"github.com/luciancaetano/kephasws"
)

// Header names used by the opening handshake.
const (
	HeaderHost       = "Host"
	HeaderUpgrade    = "Upgrade"
	HeaderConnection = "Connection"
	HeaderOrigin     = "Origin"
	HeaderKey        = "Sec-WebSocket-Key"
	HeaderVersion    = "Sec-WebSocket-Version"
	HeaderProtocol   = "Sec-WebSocket-Protocol"
	HeaderExtensions = "Sec-WebSocket-Extensions"
	HeaderAccept     = "Sec-WebSocket-Accept"
	HeaderDate       = "Date"

	upgradeValue    = "websocket"
	connectionValue = "Upgrade"
)

// Field is one request header with its values. Multiple values are joined
// with ", " on the wire.
type Field struct {
	Name   string
	Values []string
}

// Request is the client opening handshake.
//
// Headers keep insertion order so the wire form is deterministic.
type Request struct {
	Method string
	Target string
	Proto  string
	URI    *url.URL
	Key    string

	fields []Field
}

// NewRequest builds the default handshake for a URI returned by ParseURI.
// Subprotocols are offered in order; an empty origin is derived from the URI.
func NewRequest(u *url.URL, subprotocols []string, originValue string) *Request {
	target := u.EscapedPath()
	if target == "" {
		target = "/"
	}
	if u.RawQuery != "" {
		target += "?" + u.RawQuery
	}
	if originValue == "" {
		originValue = origin(u)
	}

	r := &Request{
		Method: "GET",
		Target: target,
		Proto:  "HTTP/1.1",
		URI:    u,
		Key:    NewKey(),
	}
	r.Set(HeaderHost, hostHeader(u))
	r.Set(HeaderUpgrade, upgradeValue)
	r.Set(HeaderConnection, connectionValue)
	r.Set(HeaderOrigin, originValue)
	r.Set(HeaderKey, r.Key)
	r.Set(HeaderVersion, Version)
	if len(subprotocols) > 0 {
		r.Set(HeaderProtocol, subprotocols...)
	}
	return r
}

// Set replaces the values of a header, appending it if absent. Names match
// case-insensitively.
func (r *Request) Set(name string, values ...string) {
	for i := range r.fields {
		if strings.EqualFold(r.fields[i].Name, name) {
			r.fields[i].Values = values
			if strings.EqualFold(name, HeaderKey) && len(values) > 0 {
				r.Key = values[0]
			}
			return
		}
	}
	r.fields = append(r.fields, Field{Name: name, Values: values})
	if strings.EqualFold(name, HeaderKey) && len(values) > 0 {
		r.Key = values[0]
	}
}

// Add appends a value to a header.
func (r *Request) Add(name, value string) {
	for i := range r.fields {
		if strings.EqualFold(r.fields[i].Name, name) {
			r.fields[i].Values = append(r.fields[i].Values, value)
			return
		}
	}
	r.Set(name, value)
}

// Values returns the values of a header.
func (r *Request) Values(name string) []string {
	for _, f := range r.fields {
		if strings.EqualFold(f.Name, name) {
			return f.Values
		}
	}
	return nil
}

// Get returns the first value of a header or "".
func (r *Request) Get(name string) string {
	if v := r.Values(name); len(v) > 0 {
		return v[0]
	}
	return ""
}

// Fields returns the headers in wire order.
func (r *Request) Fields() []Field {
	return r.fields
}

// AddExtension offers an extension in Sec-WebSocket-Extensions.
func (r *Request) AddExtension(offer string) error {
	if offer == "" {
		return kephasws.NewError(kephasws.KindInvalidArgument, "extension offer: "+kephasws.ErrMsgMustNotBeNullOrEmpty)
	}
	r.Add(HeaderExtensions, offer)
	return nil
}

// String returns the wire form of the request.
func (r *Request) String() string {
	var sb strings.Builder
	sb.WriteString(r.Method)
	sb.WriteByte(' ')
	sb.WriteString(r.Target)
	sb.WriteByte(' ')
	sb.WriteString(r.Proto)
	sb.WriteString("\r\n")
	for _, f := range r.fields {
		if len(f.Values) == 0 {
			continue
		}
		sb.WriteString(f.Name)
		sb.WriteString(": ")
		sb.WriteString(strings.Join(f.Values, ", "))
		sb.WriteString("\r\n")
	}
	sb.WriteString("\r\n")
	return sb.String()
}
