package gmail

import (
	"encoding/base64"
	"testing"

	"google.golang.org/api/gmail/v1"
)

func b64(s string) string {
	return base64.URLEncoding.EncodeToString([]byte(s))
}

func TestRawFromMessage(t *testing.T) {
	msg := &gmail.Message{
		Id:           "msg-001",
		ThreadId:     "thread-001",
		InternalDate: 1710064800000, // 2024-03-10T10:00:00Z
		Payload: &gmail.MessagePart{
			MimeType: "text/plain",
			Headers: []*gmail.MessagePartHeader{
				{Name: "From", Value: "HDFC Bank <alerts@hdfcbank.net>"},
				{Name: "To", Value: "user@example.com"},
				{Name: "Subject", Value: "You have done a UPI txn"},
				{Name: "Date", Value: "Sun, 10 Mar 2024 15:30:00 +0530"},
			},
			Body: &gmail.MessagePartBody{
				Data: b64("Rs. 500.00 has been debited from your account"),
			},
		},
	}

	raw := rawFromMessage(msg)

	if raw.ID != "msg-001" {
		t.Errorf("id: got %q, want %q", raw.ID, "msg-001")
	}
	if raw.ThreadID != "thread-001" {
		t.Errorf("thread id: got %q, want %q", raw.ThreadID, "thread-001")
	}
	if raw.From != "HDFC Bank <alerts@hdfcbank.net>" {
		t.Errorf("from: got %q, want %q", raw.From, "HDFC Bank <alerts@hdfcbank.net>")
	}
	if raw.To != "user@example.com" {
		t.Errorf("to: got %q, want %q", raw.To, "user@example.com")
	}
	if raw.Subject != "You have done a UPI txn" {
		t.Errorf("subject: got %q, want %q", raw.Subject, "You have done a UPI txn")
	}
	if raw.ReceivedAt != "2024-03-10T10:00:00Z" {
		t.Errorf("received at: got %q, want %q", raw.ReceivedAt, "2024-03-10T10:00:00Z")
	}
	if raw.BodyText != "Rs. 500.00 has been debited from your account" {
		t.Errorf("body: got %q", raw.BodyText)
	}
}

func TestRawFromMessage_NoInternalDate(t *testing.T) {
	raw := rawFromMessage(&gmail.Message{Id: "msg-002"})

	if raw.ReceivedAt != "" {
		t.Errorf("received at: got %q, want empty", raw.ReceivedAt)
	}
	if raw.BodyText != "" {
		t.Errorf("body: got %q, want empty", raw.BodyText)
	}
}

func TestExtractBody(t *testing.T) {
	tests := []struct {
		name string
		msg  *gmail.Message
		want string
	}{
		{
			name: "plain part preferred over html",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/html",
							Body:     &gmail.MessagePartBody{Data: b64("<p>INR 999 at FLIPKART</p>")},
						},
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: b64("Rs. 500 debited\r\nat AMAZON")},
						},
					},
				},
			},
			want: "Rs. 500 debited\nat AMAZON",
		},
		{
			name: "html part reduced when plain missing",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "multipart/alternative",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/html",
							Body:     &gmail.MessagePartBody{Data: b64("<html><body><p>Rs. 750 paid to Swiggy</p><style>p{color:red}</style></body></html>")},
						},
					},
				},
			},
			want: "Rs. 750 paid to Swiggy",
		},
		{
			name: "plain part nested inside mixed multipart",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "multipart/mixed",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "multipart/alternative",
							Parts: []*gmail.MessagePart{
								{
									MimeType: "text/plain",
									Body:     &gmail.MessagePartBody{Data: b64("INR 100 credited to your account")},
								},
							},
						},
						{
							MimeType: "application/pdf",
							Body:     &gmail.MessagePartBody{Data: b64("%PDF")},
						},
					},
				},
			},
			want: "INR 100 credited to your account",
		},
		{
			name: "top level plain body",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Body:     &gmail.MessagePartBody{Data: b64("Rs. 50 sent via UPI")},
				},
			},
			want: "Rs. 50 sent via UPI",
		},
		{
			name: "top level html body",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "text/html",
					Body:     &gmail.MessagePartBody{Data: b64("<p>Rs. 60 paid to Zomato</p>")},
				},
			},
			want: "Rs. 60 paid to Zomato",
		},
		{
			name: "undecodable part falls back to payload body",
			msg: &gmail.Message{
				Payload: &gmail.MessagePart{
					MimeType: "text/plain",
					Parts: []*gmail.MessagePart{
						{
							MimeType: "text/plain",
							Body:     &gmail.MessagePartBody{Data: "!!!not base64!!!"},
						},
					},
					Body: &gmail.MessagePartBody{Data: b64("fallback body text")},
				},
			},
			want: "fallback body text",
		},
		{
			name: "no payload",
			msg:  &gmail.Message{},
			want: "",
		},
	}

	for _, tc := range tests {
		t.Run(tc.name, func(t *testing.T) {
			got := extractBody(tc.msg)
			if got != tc.want {
				t.Errorf("body: got %q, want %q", got, tc.want)
			}
		})
	}
}
