package extract

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

// parseEmail pulls the first text/plain and text/html parts out of an
// RFC 5322 message. HTML-only mail is flattened to text.
func parseEmail(data []byte) (Result, error) {
	msg, err := mail.ReadMessage(bytes.NewReader(data))
	if err != nil {
		return Result{}, fmt.Errorf("read message: %w", err)
	}

	var res Result
	dec := new(mime.WordDecoder)
	if s, err := dec.DecodeHeader(msg.Header.Get("Subject")); err == nil {
		res.Subject = s
	} else {
		res.Subject = msg.Header.Get("Subject")
	}

	if err := walkPart(&res, msg.Header.Get("Content-Type"), msg.Header.Get("Content-Transfer-Encoding"), msg.Body); err != nil {
		return Result{}, err
	}
	if strings.TrimSpace(res.Text) == "" && res.HTML != "" {
		res.Text = HTMLToText(res.HTML)
	}
	return res, nil
}

func walkPart(res *Result, contentType, encoding string, body io.Reader) error {
	if contentType == "" {
		contentType = "text/plain"
	}
	mediaType, params, err := mime.ParseMediaType(contentType)
	if err != nil {
		return fmt.Errorf("parse content type: %w", err)
	}

	if strings.HasPrefix(mediaType, "multipart/") {
		mr := multipart.NewReader(body, params["boundary"])
		for {
			p, err := mr.NextRawPart()
			if err == io.EOF {
				return nil
			}
			if err != nil {
				return fmt.Errorf("read part: %w", err)
			}
			if err := walkPart(res, p.Header.Get("Content-Type"), p.Header.Get("Content-Transfer-Encoding"), p); err != nil {
				return err
			}
		}
	}

	switch mediaType {
	case "text/plain":
		if res.Text != "" {
			return nil
		}
		b, err := decodeBody(encoding, body)
		if err != nil {
			return err
		}
		res.Text = string(b)
	case "text/html":
		if res.HTML != "" {
			return nil
		}
		b, err := decodeBody(encoding, body)
		if err != nil {
			return err
		}
		res.HTML = string(b)
	}
	return nil
}

func decodeBody(encoding string, body io.Reader) ([]byte, error) {
	switch strings.ToLower(strings.TrimSpace(encoding)) {
	case "quoted-printable":
		body = quotedprintable.NewReader(body)
	case "base64":
		body = base64.NewDecoder(base64.StdEncoding, body)
	}
	b, err := io.ReadAll(body)
	if err != nil {
		return nil, fmt.Errorf("decode %s body: %w", encoding, err)
	}
	return b, nil
}
