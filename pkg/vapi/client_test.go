package vapi

import (
	"context"
	"encoding/json"
	"io"
	"net/http"
	"strings"
	"testing"
	"time"
)

func TestCreateCallRequest(t *testing.T) {
	const expectedURL = "http://vapi.test/call/phone"
	respBody := `{"id":"call-123","assistantId":"asst-1","phoneNumberId":"pn-1","status":"queued","type":"outboundPhoneCall","createdAt":"2026-08-28T10:30:00Z"}`

	var capturedURL, capturedAuth string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedURL = req.URL.String()
		capturedAuth = req.Header.Get("Authorization")

		bodyBytes, err := io.ReadAll(req.Body)
		if err != nil {
			t.Fatalf("read request body: %v", err)
		}
		var payload map[string]any
		if err := json.Unmarshal(bodyBytes, &payload); err != nil {
			t.Fatalf("unmarshal request body: %v", err)
		}
		if payload["assistantId"] != "asst-1" {
			t.Fatalf("unexpected assistant id %v", payload["assistantId"])
		}
		customer, _ := payload["customer"].(map[string]any)
		if customer["number"] != "+919876543210" {
			t.Fatalf("expected country code prefix, got %v", customer["number"])
		}
		overrides, _ := payload["assistantOverrides"].(map[string]any)
		values, _ := overrides["variableValues"].(map[string]any)
		if values["awb"] != "AWB1" {
			t.Fatalf("metadata missing awb: %v", values)
		}

		return &http.Response{
			StatusCode: http.StatusCreated,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("secret-key",
		WithBaseURL("http://vapi.test"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	call, err := client.CreateCall(context.Background(), CreateCallRequest{
		CustomerNumber: "9876543210",
		AssistantID:    "asst-1",
		PhoneNumberID:  "pn-1",
		Variables:      map[string]string{"awb": "AWB1"},
	})
	if err != nil {
		t.Fatalf("create call: %v", err)
	}
	if capturedURL != expectedURL {
		t.Fatalf("unexpected URL %q", capturedURL)
	}
	if capturedAuth != "Bearer secret-key" {
		t.Fatalf("unexpected auth header %q", capturedAuth)
	}
	if call.ID != "call-123" {
		t.Fatalf("unexpected call id %q", call.ID)
	}
	if len(call.Raw) == 0 {
		t.Fatal("expected raw payload to be retained")
	}
}

func TestListCallsRequest(t *testing.T) {
	respBody := `[{"id":"call-1","status":"ended","endedReason":"customer-ended-call"},{"id":"call-2","status":"ended","endedReason":"busy"}]`

	var capturedQuery string
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		capturedQuery = req.URL.RawQuery
		return &http.Response{
			StatusCode: http.StatusOK,
			Body:       io.NopCloser(strings.NewReader(respBody)),
			Header:     http.Header{},
		}, nil
	})

	client, err := NewClient("secret-key",
		WithBaseURL("http://vapi.test"),
		WithHTTPClient(&http.Client{Transport: rt}),
	)
	if err != nil {
		t.Fatalf("new client: %v", err)
	}

	since := time.Date(2026, 8, 28, 0, 0, 0, 0, time.UTC)
	calls, err := client.ListCalls(context.Background(), 50, since)
	if err != nil {
		t.Fatalf("list calls: %v", err)
	}
	if !strings.Contains(capturedQuery, "limit=50") {
		t.Fatalf("limit missing from query %q", capturedQuery)
	}
	if !strings.Contains(capturedQuery, "createdAtGt=2026-08-28T00%3A00%3A00Z") {
		t.Fatalf("createdAtGt missing from query %q", capturedQuery)
	}
	if len(calls) != 2 || calls[1].EndedReason != "busy" {
		t.Fatalf("unexpected calls %+v", calls)
	}
}

func TestGetCallNotFound(t *testing.T) {
	rt := roundTripFunc(func(req *http.Request) (*http.Response, error) {
		return &http.Response{
			StatusCode: http.StatusNotFound,
			Body:       io.NopCloser(strings.NewReader(`{"message":"not found"}`)),
			Header:     http.Header{},
		}, nil
	})
	client, err := NewClient("secret-key", WithHTTPClient(&http.Client{Transport: rt}))
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	if _, err := client.GetCall(context.Background(), "missing"); err == nil {
		t.Fatal("expected not-found error")
	}
}

func TestNormalizeNumber(t *testing.T) {
	client, err := NewClient("secret-key")
	if err != nil {
		t.Fatalf("new client: %v", err)
	}
	cases := map[string]string{
		"9876543210":     "+919876543210",
		"+14155550100":   "+14155550100",
		"  9876543210  ": "+919876543210",
		"":               "",
	}
	for input, want := range cases {
		if got := client.NormalizeNumber(input); got != want {
			t.Fatalf("NormalizeNumber(%q) = %q, want %q", input, got, want)
		}
	}
}

func TestTruthyEvaluation(t *testing.T) {
	cases := []struct {
		raw  string
		want bool
	}{
		{`true`, true},
		{`"true"`, true},
		{`"TRUE"`, true},
		{`"True "`, true},
		{`false`, false},
		{`"false"`, false},
		{`"partial"`, false},
		{``, false},
		{`null`, false},
	}
	for _, tc := range cases {
		if got := TruthyEvaluation(json.RawMessage(tc.raw)); got != tc.want {
			t.Fatalf("TruthyEvaluation(%q) = %v, want %v", tc.raw, got, tc.want)
		}
	}
}

func TestWebhookEventMergesReportFields(t *testing.T) {
	body := []byte(`{"message":{"type":"end-of-call-report","endedReason":"customer-ended-call","cost":0.12,"durationSeconds":42,"analysis":{"successEvaluation":"true","summary":"confirmed"},"artifact":{"recordingUrl":"https://rec.test/a.wav","transcript":"hello"},"call":{"id":"call-9","status":"ended"}}}`)

	event, err := ParseWebhookEvent(body)
	if err != nil {
		t.Fatalf("parse webhook: %v", err)
	}
	if event.CallID() != "call-9" {
		t.Fatalf("unexpected call id %q", event.CallID())
	}

	call := event.MergedCall()
	if call.EndedReason != "customer-ended-call" {
		t.Fatalf("ended reason not merged: %q", call.EndedReason)
	}
	if call.DurationSeconds == nil || *call.DurationSeconds != 42 {
		t.Fatalf("duration not merged: %v", call.DurationSeconds)
	}
	if call.Analysis == nil || !TruthyEvaluation(call.Analysis.SuccessEvaluation) {
		t.Fatal("analysis not merged")
	}
	if call.BestRecordingURL() != "https://rec.test/a.wav" {
		t.Fatalf("unexpected recording url %q", call.BestRecordingURL())
	}
	if call.BestTranscript() != "hello" {
		t.Fatalf("unexpected transcript %q", call.BestTranscript())
	}
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(req *http.Request) (*http.Response, error) {
	return f(req)
}
