package mbox

import (
	"context"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/paisatrail/paisatrail/pkg/api"
)

const sampleMbox = `From 1234567890@xxx Sun Mar 10 10:00:00 2024
From: HDFC Bank InstaAlerts <alerts@hdfcbank.net>
To: someone@example.com
Subject: =?UTF-8?Q?Alert_:_Update_on_your_HDFC_Bank_Credit_Card?=
Date: Sun, 10 Mar 2024 15:30:00 +0530
Message-ID: <msg-0001@mail.gmail.com>
Content-Type: multipart/alternative; boundary="b1"

--b1
Content-Type: text/plain; charset="UTF-8"
Content-Transfer-Encoding: quoted-printable

Rs. 1,250.00 has been debited from account *1234 to SWIGGY on 10-03-24.
Not you=3F Call the bank.
--b1
Content-Type: text/html; charset="UTF-8"

<html><body><p>Rs. 1,250.00 has been debited</p></body></html>
--b1--

From 1234567891@xxx Sun Mar 10 11:00:00 2024
From: promo@example.com
To: someone@example.com
Subject: Weekend sale
Date: Sun, 10 Mar 2024 16:30:00 +0530
Message-ID: <msg-0002@mail.gmail.com>
Content-Type: text/plain

Huge discounts this weekend only.
`

func writeSample(t *testing.T) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "takeout.mbox")
	// mbox body lines are LF-separated in Takeout exports.
	if err := os.WriteFile(path, []byte(sampleMbox), 0o600); err != nil {
		t.Fatal(err)
	}
	return path
}

func fetchAll(t *testing.T, src *Source, q api.Query) []*api.RawMessage {
	t.Helper()
	out := make(chan *api.RawMessage, 8)
	done := make(chan error, 1)
	go func() { done <- src.Fetch(context.Background(), q, out) }()

	var msgs []*api.RawMessage
	for m := range out {
		msgs = append(msgs, m)
	}
	if err := <-done; err != nil {
		t.Fatalf("Fetch: %v", err)
	}
	return msgs
}

func TestFetchParsesMessages(t *testing.T) {
	src := New(writeSample(t), nil)
	msgs := fetchAll(t, src, api.Query{})

	if len(msgs) != 2 {
		t.Fatalf("got %d messages, want 2", len(msgs))
	}

	first := msgs[0]
	if first.ID != "msg-0001@mail.gmail.com" {
		t.Errorf("ID = %q, want angle brackets stripped", first.ID)
	}
	if want := "Alert : Update on your HDFC Bank Credit Card"; first.Subject != want {
		t.Errorf("Subject = %q, want %q", first.Subject, want)
	}
	if first.ReceivedAt != "Sun, 10 Mar 2024 15:30:00 +0530" {
		t.Errorf("ReceivedAt = %q", first.ReceivedAt)
	}
	if !strings.Contains(first.BodyText, "Rs. 1,250.00 has been debited") {
		t.Errorf("BodyText = %q, want text/plain part", first.BodyText)
	}
	if !strings.Contains(first.BodyText, "Not you?") {
		t.Errorf("BodyText = %q, quoted-printable not decoded", first.BodyText)
	}
	if strings.Contains(first.BodyText, "<html>") {
		t.Errorf("BodyText contains HTML, text/plain should win")
	}
}

func TestFetchHonorsMaxResults(t *testing.T) {
	src := New(writeSample(t), nil)
	msgs := fetchAll(t, src, api.Query{MaxResults: 1})
	if len(msgs) != 1 {
		t.Fatalf("got %d messages, want 1", len(msgs))
	}
}

func TestFetchMissingFile(t *testing.T) {
	src := New(filepath.Join(t.TempDir(), "missing.mbox"), nil)
	out := make(chan *api.RawMessage)
	if err := src.Fetch(context.Background(), api.Query{}, out); err == nil {
		t.Fatal("Fetch succeeded on a missing file")
	}
}
