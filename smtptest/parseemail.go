package smtptest

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"io"
	"mime"
	"mime/multipart"
	"mime/quotedprintable"
	"net/mail"
	"strings"
)

// Part is one decoded MIME part of a received email.
type Part struct {
	// Media type without parameters, e.g., "text/plain"
	ContentType string
	// "attachment", "inline", or empty
	Disposition string
	// From the Content-Disposition header, if any
	Filename string
	// With the transfer encoding removed
	Content []byte
}

// ParsedEmail is a received email broken into headers and decoded parts. A
// message that isn't multipart has exactly one part.
type ParsedEmail struct {
	Header mail.Header
	Parts  []Part
}

// ParseEmail takes a single raw email, as returned by RetrieveEmails, and
// decodes its top-level parts.
func ParseEmail(raw string) (*ParsedEmail, error) {
	msg, err := mail.ReadMessage(strings.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("can't read the email headers: %v", err)
	}

	pe := &ParsedEmail{Header: msg.Header}

	mt, params, err := mime.ParseMediaType(msg.Header.Get("Content-Type"))
	if err != nil {
		return nil, fmt.Errorf("can't parse the Content-Type header: %v", err)
	}

	if !strings.HasPrefix(mt, "multipart/") {
		b, err := io.ReadAll(msg.Body)
		if err != nil {
			return nil, fmt.Errorf("can't read the email body: %v", err)
		}
		// DATA always ends with a line break, even if the body doesn't
		b = bytes.TrimSuffix(b, []byte("\r\n"))
		p, err := decodePart(
			mt,
			msg.Header.Get("Content-Disposition"),
			msg.Header.Get("Content-Transfer-Encoding"),
			bytes.NewReader(b),
		)
		if err != nil {
			return nil, err
		}
		pe.Parts = []Part{p}
		return pe, nil
	}

	rdr := multipart.NewReader(msg.Body, params["boundary"])
	for {
		mp, err := rdr.NextPart()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, fmt.Errorf("can't read a MIME part: %v", err)
		}

		pmt, _, err := mime.ParseMediaType(mp.Header.Get("Content-Type"))
		if err != nil {
			return nil, fmt.Errorf("can't parse a part's Content-Type header: %v", err)
		}

		// multipart.Reader already removes quoted-printable encoding and the
		// header that goes with it
		p, err := decodePart(
			pmt,
			mp.Header.Get("Content-Disposition"),
			mp.Header.Get("Content-Transfer-Encoding"),
			mp,
		)
		if err != nil {
			return nil, err
		}
		pe.Parts = append(pe.Parts, p)
	}

	return pe, nil
}

func decodePart(mediaType, disposition, encoding string, r io.Reader) (Part, error) {
	p := Part{ContentType: mediaType}

	if disposition != "" {
		d, params, err := mime.ParseMediaType(disposition)
		if err != nil {
			return Part{}, fmt.Errorf("can't parse the Content-Disposition header: %v", err)
		}
		p.Disposition = d
		p.Filename = params["filename"]
	}

	switch strings.ToLower(encoding) {
	case "base64":
		r = base64.NewDecoder(base64.StdEncoding, r)
	case "quoted-printable":
		r = quotedprintable.NewReader(r)
	}

	var buf bytes.Buffer
	if _, err := io.Copy(&buf, r); err != nil {
		return Part{}, fmt.Errorf("can't decode a %v part: %v", mediaType, err)
	}
	p.Content = buf.Bytes()
	return p, nil
}

// Subject returns the decoded Subject header.
func (pe *ParsedEmail) Subject() string {
	dec := new(mime.WordDecoder)
	s := pe.Header.Get("Subject")
	d, err := dec.DecodeHeader(s)
	if err != nil {
		return s
	}
	return d
}

// Attachments returns the parts with an "attachment" disposition, in order.
func (pe *ParsedEmail) Attachments() []Part {
	var as []Part
	for _, p := range pe.Parts {
		if p.Disposition == "attachment" {
			as = append(as, p)
		}
	}
	return as
}

// Bodies returns the parts that aren't attachments, in order.
func (pe *ParsedEmail) Bodies() []Part {
	var bs []Part
	for _, p := range pe.Parts {
		if p.Disposition != "attachment" {
			bs = append(bs, p)
		}
	}
	return bs
}
