package gmail

import (
	"encoding/base64"
	"errors"
	"strings"
	"time"

	emaildomain "mailsync-backend/internal/email/domain"

	_ "github.com/emersion/go-message/charset"
	"github.com/emersion/go-message/mail"
	"google.golang.org/api/gmail/v1"
)

// ParseMessage normalizes a full-format Gmail message. It is pure and
// safe for concurrent use.
func ParseMessage(msg *gmail.Message) (*emaildomain.ParsedMessage, error) {
	if msg == nil {
		return nil, errors.New("parse message: nil message")
	}
	if msg.Id == "" {
		return nil, errors.New("parse message: missing id")
	}
	if msg.Payload == nil {
		return nil, errors.New("parse message " + msg.Id + ": missing payload")
	}

	h := headerIndex(msg.Payload.Headers)

	parsed := &emaildomain.ParsedMessage{
		ID:        msg.Id,
		ThreadID:  msg.ThreadId,
		Subject:   decodeSubject(h.get("subject")),
		From:      h.get("from"),
		To:        splitAddresses(h.get("to")),
		Cc:        splitAddresses(h.get("cc")),
		Bcc:       splitAddresses(h.get("bcc")),
		Date:      messageDate(h.get("date"), msg.InternalDate),
		Snippet:   msg.Snippet,
		LabelIDs:  msg.LabelIds,
		HistoryID: formatHistoryID(msg.HistoryId),
		Flags:     FlagsFromLabels(msg.LabelIds),
	}
	if parsed.ThreadID == "" {
		parsed.ThreadID = msg.Id
	}

	walkParts(msg.Payload, parsed)
	return parsed, nil
}

// FlagsFromLabels derives message flags from Gmail system labels.
func FlagsFromLabels(labels []string) emaildomain.Flags {
	set := make(map[string]bool, len(labels))
	for _, l := range labels {
		set[l] = true
	}
	return emaildomain.Flags{
		IsRead:      !set["UNREAD"],
		IsStarred:   set["STARRED"],
		IsImportant: set["IMPORTANT"],
		IsDraft:     set["DRAFT"],
		IsSent:      set["SENT"],
		IsTrash:     set["TRASH"],
	}
}

type headers map[string]string

// headerIndex keys headers by lowercased name; the first occurrence wins.
func headerIndex(hs []*gmail.MessagePartHeader) headers {
	idx := make(headers, len(hs))
	for _, h := range hs {
		if h == nil {
			continue
		}
		key := strings.ToLower(h.Name)
		if _, ok := idx[key]; !ok {
			idx[key] = h.Value
		}
	}
	return idx
}

func (h headers) get(name string) string {
	return h[strings.ToLower(name)]
}

func splitAddresses(v string) []string {
	if v == "" {
		return nil
	}
	var out []string
	for _, part := range strings.Split(v, ",") {
		if p := strings.TrimSpace(part); p != "" {
			out = append(out, p)
		}
	}
	return out
}

func decodeSubject(raw string) string {
	if raw == "" {
		return ""
	}
	var h mail.Header
	h.Set("Subject", raw)
	if s, err := h.Subject(); err == nil {
		return s
	}
	return raw
}

// messageDate uses the Date header and falls back to internalDate (ms since epoch).
func messageDate(dateHeader string, internalDate int64) time.Time {
	if dateHeader != "" {
		var h mail.Header
		h.Set("Date", dateHeader)
		if t, err := h.Date(); err == nil && !t.IsZero() {
			return t.UTC()
		}
	}
	if internalDate > 0 {
		return time.UnixMilli(internalDate).UTC()
	}
	return time.Time{}
}

// walkParts visits the MIME tree depth first. The first text/plain and the
// first text/html parts become the bodies; parts with a filename and an
// attachment id become attachment metadata.
func walkParts(part *gmail.MessagePart, out *emaildomain.ParsedMessage) {
	if part == nil {
		return
	}

	mimeType := strings.ToLower(part.MimeType)
	if part.Filename != "" && part.Body != nil && part.Body.AttachmentId != "" {
		out.Attachments = append(out.Attachments, emaildomain.ParsedAttachment{
			PartID:       part.PartId,
			AttachmentID: part.Body.AttachmentId,
			Filename:     part.Filename,
			MimeType:     part.MimeType,
			Size:         part.Body.Size,
		})
	} else if part.Body != nil && part.Body.Data != "" {
		switch {
		case mimeType == "text/plain" && out.BodyText == "":
			out.BodyText = decodeBody(part.Body.Data)
		case mimeType == "text/html" && out.BodyHTML == "":
			out.BodyHTML = decodeBody(part.Body.Data)
		}
	}

	for _, child := range part.Parts {
		walkParts(child, out)
	}
}

// decodeBody decodes Gmail's base64url body data, padded or not.
func decodeBody(data string) string {
	if b, err := base64.URLEncoding.DecodeString(data); err == nil {
		return string(b)
	}
	if b, err := base64.RawURLEncoding.DecodeString(strings.TrimRight(data, "=")); err == nil {
		return string(b)
	}
	return ""
}
